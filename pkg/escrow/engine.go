// Package escrow implements the two-party exchange: market makers post funded
// offers, takers place orders that are approved only on an exact match of the
// offer's terms, and settlement pays the taker out of the offer's treasury
// under the offer's custodial authority.
package escrow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uhyunpark/exchangemarket/pkg/ledger"
	"github.com/uhyunpark/exchangemarket/pkg/util"
)

type CreateOfferRequest struct {
	Owner    common.Address
	BidAsset common.Address
	BidTotal uint64
	BidRate  uint64
	Nonce    uint64
	At       time.Time // zero = engine clock
}

type CreateOrderRequest struct {
	Owner     common.Address
	Offer     uuid.UUID
	AskAsset  common.Address // zero = the offer's bid asset
	AskRate   uint64
	AskAmount uint64
	Nonce     uint64
	At        time.Time
}

// SettleRequest presents an order and the offer the caller claims it references.
type SettleRequest struct {
	Caller common.Address
	Order  uuid.UUID
	Offer  uuid.UUID
	At     time.Time
}

// Engine runs escrow operations, each as a single ledger unit of work.
// The Apply variants run inside a unit of work the caller owns; a failed
// operation leaves the caller's staged writes as they were.
// Serialization of concurrent operations is the ledger's job.
type Engine struct {
	ledger    *ledger.Ledger
	custodian Custodian
	clock     util.Clock
	log       *zap.SugaredLogger
}

func NewEngine(l *ledger.Ledger, c Custodian, log *zap.SugaredLogger) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{ledger: l, custodian: c, clock: util.RealClock{}, log: log}
}

// WithClock replaces the clock used when a request carries no timestamp.
func (e *Engine) WithClock(c util.Clock) *Engine {
	e.clock = c
	return e
}

func (e *Engine) now(at time.Time) time.Time {
	if at.IsZero() {
		at = e.clock.Now()
	}
	return at.UTC()
}

// CreateOffer allocates an offer and funds its bid treasury with BidTotal.
// If funding fails nothing is persisted.
func (e *Engine) CreateOffer(req CreateOfferRequest) (*Offer, error) {
	var offer *Offer
	err := e.ledger.Update(func(tx *ledger.Tx) error {
		var err error
		offer, err = e.ApplyCreateOffer(tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return offer, nil
}

// ApplyCreateOffer runs CreateOffer inside a unit of work owned by the caller.
func (e *Engine) ApplyCreateOffer(tx *ledger.Tx, req CreateOfferRequest) (*Offer, error) {
	offer, err := e.createOffer(tx, req)
	if err != nil {
		e.log.Infow("offer_rejected", "owner", req.Owner.Hex(), "bid_total", req.BidTotal, "err", err)
		return nil, err
	}

	e.log.Infow("offer_created",
		"offer", offer.ID,
		"owner", offer.Owner.Hex(),
		"bid_asset", offer.BidAsset.Hex(),
		"bid_total", offer.BidTotal,
		"bid_rate", offer.BidRate,
		"authority", offer.Authority.Hex(),
	)
	return offer, nil
}

func (e *Engine) createOffer(tx *ledger.Tx, req CreateOfferRequest) (*Offer, error) {
	if req.BidTotal == 0 {
		return nil, fmt.Errorf("%w: bid total must be positive", ErrInvalidAmount)
	}
	if req.BidAsset == (common.Address{}) {
		return nil, fmt.Errorf("%w: missing bid asset", ErrInvalidAsset)
	}

	id := NewOfferID(req.Owner, req.Nonce)
	offer := &Offer{
		ID:        id,
		Owner:     req.Owner,
		BidAsset:  req.BidAsset,
		BidTotal:  req.BidTotal,
		BidRate:   req.BidRate,
		Authority: e.custodian.Derive(id).Address,
		Status:    OfferActive,
		CreatedAt: e.now(req.At),
	}

	err := tx.Nested(func(tx *ledger.Tx) error {
		if err := tx.CreateEntry(kindOffer, id.String(), offer); err != nil {
			return err
		}
		return offer.Deposit(tx)
	})
	if err != nil {
		return nil, err
	}
	return offer, nil
}

// CreateOrder places an order against an active offer. The order is approved
// only if its amount and rate equal the offer's; a rejected order is not
// persisted and no deposit is attempted.
func (e *Engine) CreateOrder(req CreateOrderRequest) (*Order, error) {
	var order *Order
	err := e.ledger.Update(func(tx *ledger.Tx) error {
		var err error
		order, err = e.ApplyCreateOrder(tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// ApplyCreateOrder runs CreateOrder inside a unit of work owned by the caller.
func (e *Engine) ApplyCreateOrder(tx *ledger.Tx, req CreateOrderRequest) (*Order, error) {
	order, err := e.createOrder(tx, req)
	if err != nil {
		e.log.Infow("order_rejected",
			"order", NewOrderID(req.Owner, req.Nonce),
			"offer", req.Offer,
			"owner", req.Owner.Hex(),
			"ask_amount", req.AskAmount,
			"ask_rate", req.AskRate,
			"err", err,
		)
		return nil, err
	}

	e.log.Infow("order_created",
		"order", order.ID,
		"offer", order.Offer,
		"owner", order.Owner.Hex(),
		"ask_asset", order.AskAsset.Hex(),
		"ask_amount", order.AskAmount,
	)
	return order, nil
}

func (e *Engine) createOrder(tx *ledger.Tx, req CreateOrderRequest) (*Order, error) {
	if req.AskAmount == 0 {
		return nil, fmt.Errorf("%w: ask amount must be positive", ErrInvalidAmount)
	}

	order := &Order{
		ID:        NewOrderID(req.Owner, req.Nonce),
		Owner:     req.Owner,
		Offer:     req.Offer,
		AskAsset:  req.AskAsset,
		AskRate:   req.AskRate,
		AskAmount: req.AskAmount,
		Status:    OrderOpen,
		CreatedAt: e.now(req.At),
	}

	err := tx.Nested(func(tx *ledger.Tx) error {
		var offer Offer
		if err := tx.GetEntry(kindOffer, req.Offer.String(), &offer); err != nil {
			return err
		}
		if offer.Status != OfferActive {
			return fmt.Errorf("%w: offer %s is %s", ErrInvalidState, offer.ID, offer.Status)
		}
		if order.AskAsset == (common.Address{}) {
			order.AskAsset = offer.BidAsset
		}

		if !order.AutoApprove(&offer) {
			return fmt.Errorf("%w: offer %d@%d, order %d@%d",
				ErrTermsUnmet, offer.BidTotal, offer.BidRate, order.AskAmount, order.AskRate)
		}

		if err := tx.CreateEntry(kindOrder, order.ID.String(), order); err != nil {
			return err
		}
		return order.Deposit(tx, &offer)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// Settle pays the taker twice the ask amount of the bid asset out of the
// offer's bid treasury and marks the order settled. The caller must own the
// order and present the offer it references.
func (e *Engine) Settle(req SettleRequest) (*Settlement, error) {
	var s *Settlement
	err := e.ledger.Update(func(tx *ledger.Tx) error {
		var err error
		s, err = e.ApplySettle(tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ApplySettle runs Settle inside a unit of work owned by the caller.
func (e *Engine) ApplySettle(tx *ledger.Tx, req SettleRequest) (*Settlement, error) {
	settlement, err := e.settle(tx, req)
	if err != nil {
		e.log.Infow("settlement_rejected", "order", req.Order, "offer", req.Offer, "caller", req.Caller.Hex(), "err", err)
		return nil, err
	}

	e.log.Infow("settlement_executed",
		"order", settlement.OrderID,
		"offer", settlement.OfferID,
		"taker", settlement.Taker.Hex(),
		"asset", settlement.Asset.Hex(),
		"amount", settlement.Amount,
		"proof", settlement.ProofID,
	)
	return settlement, nil
}

func (e *Engine) settle(tx *ledger.Tx, req SettleRequest) (*Settlement, error) {
	var settlement *Settlement
	err := tx.Nested(func(tx *ledger.Tx) error {
		var order Order
		if err := tx.GetEntry(kindOrder, req.Order.String(), &order); err != nil {
			return err
		}
		if order.Owner != req.Caller {
			return fmt.Errorf("%w: order %s owned by %s", ErrNotOwner, order.ID, order.Owner.Hex())
		}
		if order.Offer != req.Offer {
			return fmt.Errorf("%w: order %s references %s, got %s", ErrOfferMismatch, order.ID, order.Offer, req.Offer)
		}
		if order.Status != OrderOpen {
			return fmt.Errorf("%w: order %s is %s", ErrInvalidState, order.ID, order.Status)
		}

		var offer Offer
		if err := tx.GetEntry(kindOffer, req.Offer.String(), &offer); err != nil {
			return err
		}

		s, err := offer.PayBuyer(tx, e.custodian, &order)
		if err != nil {
			return err
		}

		at := e.now(req.At)
		s.SettledAt = at
		order.Status = OrderSettled
		order.SettledAt = &at
		if err := tx.PutEntry(kindOrder, order.ID.String(), &order); err != nil {
			return err
		}
		if err := tx.CreateEntry(kindSettlement, order.ID.String(), s); err != nil {
			return err
		}
		settlement = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settlement, nil
}

// Offer returns the offer with id
func (e *Engine) Offer(id uuid.UUID) (*Offer, error) {
	var offer Offer
	err := e.ledger.View(func(tx *ledger.Tx) error {
		return tx.GetEntry(kindOffer, id.String(), &offer)
	})
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

// Offers returns all offers ordered by id
func (e *Engine) Offers() ([]*Offer, error) {
	var out []*Offer
	err := e.ledger.View(func(tx *ledger.Tx) error {
		return tx.ScanEntries(kindOffer, func(_ string, raw json.RawMessage) error {
			var o Offer
			if err := json.Unmarshal(raw, &o); err != nil {
				return fmt.Errorf("decode offer: %w", err)
			}
			out = append(out, &o)
			return nil
		})
	})
	return out, err
}

// Order returns the order with id
func (e *Engine) Order(id uuid.UUID) (*Order, error) {
	var order Order
	err := e.ledger.View(func(tx *ledger.Tx) error {
		return tx.GetEntry(kindOrder, id.String(), &order)
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// Settlement returns the settlement of the order with id
func (e *Engine) Settlement(orderID uuid.UUID) (*Settlement, error) {
	var s Settlement
	err := e.ledger.View(func(tx *ledger.Tx) error {
		return tx.GetEntry(kindSettlement, orderID.String(), &s)
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// TreasuryBalance returns the balance the offer's authority holds in asset
func (e *Engine) TreasuryBalance(offer *Offer, asset common.Address) (uint64, error) {
	return e.ledger.Balance(offer.Treasury(asset))
}
