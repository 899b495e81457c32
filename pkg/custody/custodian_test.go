package custody

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var (
	program = common.HexToAddress("0x0000000000000000000000000000000000e5c40e")
	asset   = common.HexToAddress("0xA55E700000000000000000000000000000000001")
	taker   = common.HexToAddress("0xBB00000000000000000000000000000000000000")
)

func newTestCustodian(t *testing.T) *Custodian {
	c, err := NewCustodian(program, bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)
	return c
}

func TestDeriveAuthorityDeterministic(t *testing.T) {
	offer := uuid.MustParse("0f8fad5b-d9cb-469f-a165-70867728950e")

	a1 := DeriveAuthority(program, offer)
	a2 := DeriveAuthority(program, offer)
	require.Equal(t, a1, a2)
	require.NotEqual(t, common.Address{}, a1.Address)

	other := DeriveAuthority(program, uuid.New())
	require.NotEqual(t, a1.Address, other.Address)

	otherProgram := DeriveAuthority(common.HexToAddress("0x01"), offer)
	require.NotEqual(t, a1.Address, otherProgram.Address)
}

func TestAuthorizeAndVerify(t *testing.T) {
	c := newTestCustodian(t)
	a := c.Derive(uuid.New())
	tr := Transfer{Asset: asset, From: a.Address, To: taker, Amount: 2000}

	p, err := c.Authorize(a, tr)
	require.NoError(t, err)
	require.Equal(t, a.Address, p.Authority)
	require.NoError(t, c.VerifyTransfer(p, tr))

	// The proof covers exactly this transfer.
	changed := tr
	changed.Amount = 2001
	require.ErrorIs(t, c.VerifyTransfer(p, changed), ErrInvalidProof)

	changed = tr
	changed.To = common.HexToAddress("0xCC")
	require.ErrorIs(t, c.VerifyTransfer(p, changed), ErrInvalidProof)

	require.ErrorIs(t, c.VerifyTransfer(nil, tr), ErrInvalidProof)
}

func TestAuthorizeRejectsForeignSource(t *testing.T) {
	c := newTestCustodian(t)
	a := c.Derive(uuid.New())

	_, err := c.Authorize(a, Transfer{Asset: asset, From: taker, To: a.Address, Amount: 1})
	require.ErrorIs(t, err, ErrForeignSource)
}

func TestAuthorizeRejectsForgedAuthority(t *testing.T) {
	c := newTestCustodian(t)
	forged := Authority{OfferID: uuid.New(), Address: taker}

	_, err := c.Authorize(forged, Transfer{Asset: asset, From: taker, To: taker, Amount: 1})
	require.True(t, errors.Is(err, ErrUnknownAuthority))
}

func TestProofFromAnotherCustodian(t *testing.T) {
	c1 := newTestCustodian(t)
	c2, err := NewCustodian(program, bytes.Repeat([]byte{0x43}, 32))
	require.NoError(t, err)

	a := c1.Derive(uuid.New())
	tr := Transfer{Asset: asset, From: a.Address, To: taker, Amount: 10}
	p, err := c2.Authorize(a, tr)
	require.NoError(t, err)

	require.ErrorIs(t, c1.VerifyTransfer(p, tr), ErrInvalidProof)
}
