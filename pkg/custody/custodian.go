package custody

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/uhyunpark/exchangemarket/pkg/crypto"
)

var (
	ErrUnknownAuthority = errors.New("authority was not derived by this custodian")
	ErrForeignSource    = errors.New("transfer source is not owned by the authority")
	ErrInvalidProof     = errors.New("invalid custody proof")
)

// Proof authorizes exactly one Transfer out of an authority's account.
// The ledger records consumed proof ids so a proof cannot be replayed.
type Proof struct {
	ID        uuid.UUID
	Authority common.Address
	Signature []byte
}

// Custodian signs on behalf of derived authorities. Its key never leaves the process.
type Custodian struct {
	programID common.Address
	key       *crypto.BLSSigner
}

func NewCustodian(programID common.Address, seed []byte) (*Custodian, error) {
	key, err := crypto.NewBLSSignerFromSeed(seed)
	if err != nil {
		return nil, fmt.Errorf("custodian key: %w", err)
	}
	return &Custodian{programID: programID, key: key}, nil
}

func (c *Custodian) Derive(offerID uuid.UUID) Authority {
	return DeriveAuthority(c.programID, offerID)
}

// Authorize issues a one-time proof for t, which must draw from a's account.
func (c *Custodian) Authorize(a Authority, t Transfer) (*Proof, error) {
	if c.Derive(a.OfferID) != a {
		return nil, ErrUnknownAuthority
	}
	if t.From != a.Address {
		return nil, fmt.Errorf("%w: from=%s authority=%s", ErrForeignSource, t.From.Hex(), a.Address.Hex())
	}

	id := uuid.New()
	return &Proof{
		ID:        id,
		Authority: a.Address,
		Signature: c.key.Sign(t.digest(c.programID, id)),
	}, nil
}

// VerifyTransfer checks that p was issued by this custodian for exactly t.
func (c *Custodian) VerifyTransfer(p *Proof, t Transfer) error {
	if p == nil {
		return fmt.Errorf("%w: missing", ErrInvalidProof)
	}
	if p.Authority != t.From {
		return fmt.Errorf("%w: issued for %s, transfer from %s", ErrInvalidProof, p.Authority.Hex(), t.From.Hex())
	}
	if !crypto.VerifyBLS(c.key.Pubkey(), p.Signature, t.digest(c.programID, p.ID)) {
		return fmt.Errorf("%w: bad signature", ErrInvalidProof)
	}
	return nil
}
