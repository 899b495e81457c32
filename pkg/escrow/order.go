package escrow

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/uhyunpark/exchangemarket/pkg/ledger"
)

type OrderStatus string

const (
	OrderOpen    OrderStatus = "open"
	OrderSettled OrderStatus = "settled"
)

// Order is a taker's request against exactly one Offer.
type Order struct {
	ID        uuid.UUID      `json:"id"`
	Owner     common.Address `json:"owner"`
	Offer     uuid.UUID      `json:"offer"`
	AskAsset  common.Address `json:"ask_asset"`
	AskRate   uint64         `json:"ask_rate"`
	AskAmount uint64         `json:"ask_amount"`
	Status    OrderStatus    `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	SettledAt *time.Time     `json:"settled_at,omitempty"`
}

// AutoApprove reports whether the order's terms are identical to the offer's.
// Amount is compared first, then rate; either mismatch rejects.
func (o *Order) AutoApprove(offer *Offer) bool {
	if offer.BidTotal != o.AskAmount {
		return false
	}
	if offer.BidRate != o.AskRate {
		return false
	}
	return true
}

// Deposit funds the ask treasury with AskAmount from the taker's account.
func (o *Order) Deposit(tx Transferer, offer *Offer) error {
	from := ledger.AccountKey{Owner: o.Owner, Asset: o.AskAsset}
	if err := tx.Transfer(o.AskAsset, from, offer.Treasury(o.AskAsset), o.AskAmount, ledger.SignedBy(o.Owner)); err != nil {
		return fmt.Errorf("fund order %s: %w", o.ID, err)
	}
	return nil
}

// Settlement records one executed claim transfer.
type Settlement struct {
	OrderID   uuid.UUID      `json:"order_id"`
	OfferID   uuid.UUID      `json:"offer_id"`
	Taker     common.Address `json:"taker"`
	Asset     common.Address `json:"asset"`
	Amount    uint64         `json:"amount"`
	ProofID   uuid.UUID      `json:"proof_id"`
	SettledAt time.Time      `json:"settled_at"`
}
