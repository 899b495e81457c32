package escrow

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/google/uuid"

	"github.com/uhyunpark/exchangemarket/pkg/custody"
	"github.com/uhyunpark/exchangemarket/pkg/ledger"
)

const (
	kindOffer      ledger.Kind = "offer"
	kindOrder      ledger.Kind = "order"
	kindSettlement ledger.Kind = "settlement"
)

type OfferStatus string

const OfferActive OfferStatus = "active"

// Offer is a market maker's standing, funded terms. BidTotal and BidRate
// never change after creation.
type Offer struct {
	ID        uuid.UUID      `json:"id"`
	Owner     common.Address `json:"owner"`
	BidAsset  common.Address `json:"bid_asset"`
	BidTotal  uint64         `json:"bid_total"`
	BidRate   uint64         `json:"bid_rate"`
	Authority common.Address `json:"authority"`
	Status    OfferStatus    `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}

// Transferer moves funds inside a unit of work. *ledger.Tx implements it.
type Transferer interface {
	Transfer(asset common.Address, from, to ledger.AccountKey, amount uint64, auth ledger.Authorization) error
}

// Custodian derives offer authorities and issues their transfer proofs.
type Custodian interface {
	Derive(offerID uuid.UUID) custody.Authority
	Authorize(a custody.Authority, t custody.Transfer) (*custody.Proof, error)
}

// BidTreasury is the authority's account holding the maker's deposit.
func (o *Offer) BidTreasury() ledger.AccountKey {
	return ledger.AccountKey{Owner: o.Authority, Asset: o.BidAsset}
}

// Treasury is the authority's account for asset. An order's ask treasury is
// Treasury(order.AskAsset).
func (o *Offer) Treasury(asset common.Address) ledger.AccountKey {
	return ledger.AccountKey{Owner: o.Authority, Asset: asset}
}

// Deposit funds the bid treasury with BidTotal from the owner's account.
func (o *Offer) Deposit(tx Transferer) error {
	from := ledger.AccountKey{Owner: o.Owner, Asset: o.BidAsset}
	if err := tx.Transfer(o.BidAsset, from, o.BidTreasury(), o.BidTotal, ledger.SignedBy(o.Owner)); err != nil {
		return fmt.Errorf("fund offer %s: %w", o.ID, err)
	}
	return nil
}

// ClaimAmount is what settling order pays out of the bid treasury: twice the ask amount.
func ClaimAmount(order *Order) (uint64, error) {
	claim, overflow := math.SafeMul(order.AskAmount, 2)
	if overflow {
		return 0, fmt.Errorf("%w: claim for ask amount %d", ErrOverflow, order.AskAmount)
	}
	return claim, nil
}

// PayBuyer pays the order's taker ClaimAmount(order) of the bid asset out of
// the bid treasury, authorized by the offer's custodial authority.
func (o *Offer) PayBuyer(tx Transferer, c Custodian, order *Order) (*Settlement, error) {
	claim, err := ClaimAmount(order)
	if err != nil {
		return nil, err
	}
	to := ledger.AccountKey{Owner: order.Owner, Asset: o.BidAsset}
	proof, err := o.payOut(tx, c, o.BidAsset, to, claim)
	if err != nil {
		return nil, err
	}
	return &Settlement{
		OrderID: order.ID,
		OfferID: o.ID,
		Taker:   order.Owner,
		Asset:   o.BidAsset,
		Amount:  claim,
		ProofID: proof.ID,
	}, nil
}

// PaySeller pays the offer's owner exactly order.AskAmount of the ask asset
// out of the ask treasury, authorized by the offer's custodial authority.
// No instruction invokes it yet.
func (o *Offer) PaySeller(tx Transferer, c Custodian, order *Order) (*custody.Proof, error) {
	to := ledger.AccountKey{Owner: o.Owner, Asset: order.AskAsset}
	return o.payOut(tx, c, order.AskAsset, to, order.AskAmount)
}

func (o *Offer) payOut(tx Transferer, c Custodian, asset common.Address, to ledger.AccountKey, amount uint64) (*custody.Proof, error) {
	authority := c.Derive(o.ID)
	if authority.Address != o.Authority {
		return nil, fmt.Errorf("%w: offer %s authority %s does not match derived %s",
			ErrInvalidState, o.ID, o.Authority.Hex(), authority.Address.Hex())
	}

	from := o.Treasury(asset)
	proof, err := c.Authorize(authority, custody.Transfer{
		Asset:  asset,
		From:   from.Owner,
		To:     to.Owner,
		Amount: amount,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthorizationDenied, err)
	}
	if err := tx.Transfer(asset, from, to, amount, ledger.ByCustody(proof)); err != nil {
		return nil, fmt.Errorf("pay %d of %s from offer %s: %w", amount, asset.Hex(), o.ID, err)
	}
	return proof, nil
}
