package escrow

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

var (
	offerNamespace = uuid.MustParse("6f666665-722d-4e53-8000-657363726f77")
	orderNamespace = uuid.MustParse("6f726465-722d-4e53-8000-657363726f77")
)

// NewOfferID derives the id of the offer created by owner with nonce.
// Clients can compute it before submitting the instruction.
func NewOfferID(owner common.Address, nonce uint64) uuid.UUID {
	return uuid.NewSHA1(offerNamespace, idSeed(owner, nonce))
}

// NewOrderID derives the id of the order created by owner with nonce.
func NewOrderID(owner common.Address, nonce uint64) uuid.UUID {
	return uuid.NewSHA1(orderNamespace, idSeed(owner, nonce))
}

func idSeed(owner common.Address, nonce uint64) []byte {
	seed := make([]byte, common.AddressLength+8)
	copy(seed, owner.Bytes())
	binary.BigEndian.PutUint64(seed[common.AddressLength:], nonce)
	return seed
}
