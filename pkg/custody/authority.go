// Package custody derives the program-controlled identities that own escrow
// treasuries and produces the proofs that authorize transfers out of them.
//
// An authority address is a pure function of the program id and the offer id.
// Nobody holds a private key for it: the only way to move funds out of an
// authority's accounts is a Proof issued by the Custodian.
package custody

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"
)

const authoritySeed = "treasurer"

// Authority is the custodial identity of one offer.
type Authority struct {
	OfferID uuid.UUID
	Address common.Address
}

// DeriveAuthority returns the authority of offerID under programID.
// Address = last 20 bytes of keccak256("treasurer" || offerID || programID).
func DeriveAuthority(programID common.Address, offerID uuid.UUID) Authority {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(authoritySeed))
	h.Write(offerID[:])
	h.Write(programID.Bytes())
	sum := h.Sum(nil)
	return Authority{OfferID: offerID, Address: common.BytesToAddress(sum[12:])}
}

// Transfer describes a movement of Amount units of Asset between the token
// accounts owned by From and To.
type Transfer struct {
	Asset  common.Address
	From   common.Address
	To     common.Address
	Amount uint64
}

func (t Transfer) digest(programID common.Address, proofID uuid.UUID) []byte {
	var amount [8]byte
	binary.BigEndian.PutUint64(amount[:], t.Amount)

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte("custody-transfer"))
	h.Write(programID.Bytes())
	h.Write(proofID[:])
	h.Write(t.Asset.Bytes())
	h.Write(t.From.Bytes())
	h.Write(t.To.Bytes())
	h.Write(amount[:])
	return h.Sum(nil)
}
