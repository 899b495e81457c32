package escrow

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/uhyunpark/exchangemarket/pkg/custody"
	"github.com/uhyunpark/exchangemarket/pkg/ledger"
	"github.com/uhyunpark/exchangemarket/pkg/util"
)

var (
	maker = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	taker = common.HexToAddress("0xBB00000000000000000000000000000000000000")
	other = common.HexToAddress("0xCC00000000000000000000000000000000000000")

	usdc = common.HexToAddress("0x00000000000000000000000000000000000000C1")
	wbtc = common.HexToAddress("0x00000000000000000000000000000000000000B7")

	programID = common.HexToAddress("0x0000000000000000000000000000000000e5c40e")
)

type harness struct {
	t         *testing.T
	ledger    *ledger.Ledger
	custodian *custody.Custodian
	engine    *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	c, err := custody.NewCustodian(programID, []byte("escrow-test-custody-seed-0123456789"))
	require.NoError(t, err)
	l, err := ledger.OpenInMemory(c, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	e := NewEngine(l, c, zaptest.NewLogger(t).Sugar()).
		WithClock(util.FixedClock{T: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)})
	return &harness{t: t, ledger: l, custodian: c, engine: e}
}

func (h *harness) fund(owner, asset common.Address, amount uint64) {
	h.t.Helper()
	require.NoError(h.t, h.ledger.Deposit(ledger.AccountKey{Owner: owner, Asset: asset}, amount))
}

func (h *harness) balance(owner, asset common.Address) uint64 {
	h.t.Helper()
	bal, err := h.ledger.Balance(ledger.AccountKey{Owner: owner, Asset: asset})
	require.NoError(h.t, err)
	return bal
}

func (h *harness) offer(total, rate uint64, nonce uint64) *Offer {
	h.t.Helper()
	offer, err := h.engine.CreateOffer(CreateOfferRequest{
		Owner: maker, BidAsset: usdc, BidTotal: total, BidRate: rate, Nonce: nonce,
	})
	require.NoError(h.t, err)
	return offer
}

func TestConcreteScenario(t *testing.T) {
	h := newHarness(t)
	h.fund(maker, usdc, 1000)
	h.fund(taker, usdc, 5000)

	offer := h.offer(1000, 5, 1)
	require.Equal(t, uint64(0), h.balance(maker, usdc))
	require.Equal(t, uint64(1000), h.balance(offer.Authority, usdc))

	// 999 against 1000 is rejected and nothing is deposited
	_, err := h.engine.CreateOrder(CreateOrderRequest{
		Owner: taker, Offer: offer.ID, AskRate: 5, AskAmount: 999, Nonce: 1,
	})
	require.ErrorIs(t, err, ErrTermsUnmet)
	require.Equal(t, CodeTermsUnmet, Code(err))
	require.Equal(t, uint64(5000), h.balance(taker, usdc))
	require.Equal(t, uint64(1000), h.balance(offer.Authority, usdc))

	order, err := h.engine.CreateOrder(CreateOrderRequest{
		Owner: taker, Offer: offer.ID, AskRate: 5, AskAmount: 1000, Nonce: 2,
	})
	require.NoError(t, err)
	require.Equal(t, usdc, order.AskAsset, "ask asset defaults to the bid asset")
	require.Equal(t, OrderOpen, order.Status)
	require.Equal(t, uint64(4000), h.balance(taker, usdc))
	require.Equal(t, uint64(2000), h.balance(offer.Authority, usdc))

	s, err := h.engine.Settle(SettleRequest{Caller: taker, Order: order.ID, Offer: offer.ID})
	require.NoError(t, err)
	require.Equal(t, uint64(2000), s.Amount)
	require.Equal(t, usdc, s.Asset)
	require.Equal(t, taker, s.Taker)
	require.Equal(t, uint64(6000), h.balance(taker, usdc))
	require.Equal(t, uint64(0), h.balance(offer.Authority, usdc))

	stored, err := h.engine.Order(order.ID)
	require.NoError(t, err)
	require.Equal(t, OrderSettled, stored.Status)
	require.NotNil(t, stored.SettledAt)

	rec, err := h.engine.Settlement(order.ID)
	require.NoError(t, err)
	require.Equal(t, s.ProofID, rec.ProofID)
}

func TestExactMatchApproval(t *testing.T) {
	tests := []struct {
		bidTotal, bidRate, askAmount, askRate uint64
		approved                              bool
	}{
		{1000, 5, 1000, 5, true},
		{1000, 0, 1000, 0, true},
		{1, math.MaxUint64, 1, math.MaxUint64, true},
		{1000, 5, 999, 5, false},
		{1000, 5, 1001, 5, false},
		{1000, 5, 1000, 4, false},
		{1000, 5, 1000, 6, false},
		{1000, 5, 999, 4, false},
		{1000, 0, 1000, 1, false},
	}
	for _, tt := range tests {
		name := fmt.Sprintf("%d@%d vs %d@%d", tt.bidTotal, tt.bidRate, tt.askAmount, tt.askRate)
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.fund(maker, usdc, tt.bidTotal)
			h.fund(taker, usdc, tt.askAmount)
			offer := h.offer(tt.bidTotal, tt.bidRate, 1)

			_, err := h.engine.CreateOrder(CreateOrderRequest{
				Owner: taker, Offer: offer.ID, AskRate: tt.askRate, AskAmount: tt.askAmount,
			})
			if tt.approved {
				require.NoError(t, err)
				require.Zero(t, h.balance(taker, usdc))
			} else {
				require.ErrorIs(t, err, ErrTermsUnmet)
				require.Equal(t, tt.askAmount, h.balance(taker, usdc))
				require.Equal(t, tt.bidTotal, h.balance(offer.Authority, usdc))
			}
		})
	}
}

func TestAutoApproveChecksFieldsIndependently(t *testing.T) {
	offer := &Offer{BidTotal: 10, BidRate: 3}
	require.True(t, (&Order{AskAmount: 10, AskRate: 3}).AutoApprove(offer))
	require.False(t, (&Order{AskAmount: 10, AskRate: 4}).AutoApprove(offer))
	require.False(t, (&Order{AskAmount: 11, AskRate: 3}).AutoApprove(offer))
}

func TestCreateOfferAtomicFunding(t *testing.T) {
	h := newHarness(t)
	h.fund(maker, usdc, 999)

	_, err := h.engine.CreateOffer(CreateOfferRequest{Owner: maker, BidAsset: usdc, BidTotal: 1000, BidRate: 5, Nonce: 1})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.Equal(t, CodeInsufficientFunds, Code(err))

	offers, err := h.engine.Offers()
	require.NoError(t, err)
	require.Empty(t, offers)

	_, err = h.engine.Offer(NewOfferID(maker, 1))
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, uint64(999), h.balance(maker, usdc))
}

func TestCreateOrderAtomicFunding(t *testing.T) {
	h := newHarness(t)
	h.fund(maker, usdc, 1000)
	h.fund(taker, usdc, 500)
	offer := h.offer(1000, 5, 1)

	_, err := h.engine.CreateOrder(CreateOrderRequest{Owner: taker, Offer: offer.ID, AskRate: 5, AskAmount: 1000, Nonce: 7})
	require.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = h.engine.Order(NewOrderID(taker, 7))
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, uint64(500), h.balance(taker, usdc))
	require.Equal(t, uint64(1000), h.balance(offer.Authority, usdc))
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t)
	h.fund(maker, usdc, 10)

	_, err := h.engine.CreateOffer(CreateOfferRequest{Owner: maker, BidAsset: usdc, BidTotal: 0})
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = h.engine.CreateOffer(CreateOfferRequest{Owner: maker, BidTotal: 10})
	require.ErrorIs(t, err, ErrInvalidAsset)

	offer := h.offer(5, 1, 1)
	_, err = h.engine.CreateOffer(CreateOfferRequest{Owner: maker, BidAsset: usdc, BidTotal: 5, BidRate: 1, Nonce: 1})
	require.ErrorIs(t, err, ErrDuplicate)
	require.Equal(t, uint64(5), h.balance(maker, usdc))

	_, err = h.engine.CreateOrder(CreateOrderRequest{Owner: taker, Offer: offer.ID, AskAmount: 0, AskRate: 1})
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = h.engine.CreateOrder(CreateOrderRequest{Owner: taker, Offer: uuid.New(), AskAmount: 5, AskRate: 1})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSettleLinkageRejection(t *testing.T) {
	h := newHarness(t)
	h.fund(maker, usdc, 2000)
	h.fund(taker, usdc, 1000)

	offerA := h.offer(1000, 5, 1)
	offerB := h.offer(1000, 5, 2)
	order, err := h.engine.CreateOrder(CreateOrderRequest{Owner: taker, Offer: offerA.ID, AskRate: 5, AskAmount: 1000})
	require.NoError(t, err)

	before := []uint64{
		h.balance(taker, usdc),
		h.balance(offerA.Authority, usdc),
		h.balance(offerB.Authority, usdc),
	}

	_, err = h.engine.Settle(SettleRequest{Caller: taker, Order: order.ID, Offer: offerB.ID})
	require.ErrorIs(t, err, ErrOfferMismatch)

	_, err = h.engine.Settle(SettleRequest{Caller: other, Order: order.ID, Offer: offerA.ID})
	require.ErrorIs(t, err, ErrNotOwner)

	after := []uint64{
		h.balance(taker, usdc),
		h.balance(offerA.Authority, usdc),
		h.balance(offerB.Authority, usdc),
	}
	require.Equal(t, before, after, "rejected settlement must not move funds")

	stored, err := h.engine.Order(order.ID)
	require.NoError(t, err)
	require.Equal(t, OrderOpen, stored.Status)
}

func TestSettleTwiceRejected(t *testing.T) {
	h := newHarness(t)
	h.fund(maker, usdc, 1000)
	h.fund(taker, usdc, 1000)
	offer := h.offer(1000, 5, 1)
	order, err := h.engine.CreateOrder(CreateOrderRequest{Owner: taker, Offer: offer.ID, AskRate: 5, AskAmount: 1000})
	require.NoError(t, err)

	// top up the treasury so only the status guard can stop a second claim
	h.fund(offer.Authority, usdc, 5000)

	_, err = h.engine.Settle(SettleRequest{Caller: taker, Order: order.ID, Offer: offer.ID})
	require.NoError(t, err)
	_, err = h.engine.Settle(SettleRequest{Caller: taker, Order: order.ID, Offer: offer.ID})
	require.ErrorIs(t, err, ErrInvalidState)
	require.Equal(t, uint64(2000), h.balance(taker, usdc))
	require.Equal(t, uint64(5000), h.balance(offer.Authority, usdc))
}

func TestSettleUnderfundedTreasury(t *testing.T) {
	h := newHarness(t)
	h.fund(maker, usdc, 1000)
	h.fund(taker, wbtc, 1000)
	offer := h.offer(1000, 5, 1)

	// ask side lands in a separate wbtc treasury, so the usdc treasury only holds 1000
	order, err := h.engine.CreateOrder(CreateOrderRequest{
		Owner: taker, Offer: offer.ID, AskAsset: wbtc, AskRate: 5, AskAmount: 1000,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1000), h.balance(offer.Authority, wbtc))

	_, err = h.engine.Settle(SettleRequest{Caller: taker, Order: order.ID, Offer: offer.ID})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.Equal(t, uint64(1000), h.balance(offer.Authority, usdc))
	require.Zero(t, h.balance(taker, usdc))

	stored, err := h.engine.Order(order.ID)
	require.NoError(t, err)
	require.Equal(t, OrderOpen, stored.Status)
	_, err = h.engine.Settlement(order.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSettleOverflow(t *testing.T) {
	h := newHarness(t)
	huge := uint64(math.MaxUint64/2 + 1)
	h.fund(maker, usdc, huge)
	h.fund(taker, wbtc, huge)
	offer := h.offer(huge, 1, 1)

	order, err := h.engine.CreateOrder(CreateOrderRequest{
		Owner: taker, Offer: offer.ID, AskAsset: wbtc, AskRate: 1, AskAmount: huge,
	})
	require.NoError(t, err)

	_, err = h.engine.Settle(SettleRequest{Caller: taker, Order: order.ID, Offer: offer.ID})
	require.ErrorIs(t, err, ErrOverflow)
	require.Equal(t, CodeOverflow, Code(err))
	require.Equal(t, huge, h.balance(offer.Authority, usdc))
	require.Zero(t, h.balance(taker, usdc))
}

func TestClaimAmount(t *testing.T) {
	claim, err := ClaimAmount(&Order{AskAmount: 21})
	require.NoError(t, err)
	require.Equal(t, uint64(42), claim)

	claim, err = ClaimAmount(&Order{AskAmount: math.MaxUint64 / 2})
	require.NoError(t, err)
	require.Equal(t, uint64(math.MaxUint64-1), claim)

	_, err = ClaimAmount(&Order{AskAmount: math.MaxUint64/2 + 1})
	require.ErrorIs(t, err, ErrOverflow)
}

func TestPaySeller(t *testing.T) {
	h := newHarness(t)
	h.fund(maker, usdc, 1000)
	h.fund(taker, wbtc, 300)
	offer := h.offer(1000, 5, 1)

	order := &Order{ID: uuid.New(), Owner: taker, Offer: offer.ID, AskAsset: wbtc, AskAmount: 300, AskRate: 5}
	err := h.ledger.Update(func(tx *ledger.Tx) error {
		if err := order.Deposit(tx, offer); err != nil {
			return err
		}
		_, err := offer.PaySeller(tx, h.custodian, order)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, uint64(300), h.balance(maker, wbtc))
	require.Zero(t, h.balance(offer.Authority, wbtc))
	require.Equal(t, uint64(1000), h.balance(offer.Authority, usdc))
}

func TestPayOutRejectsForeignAuthority(t *testing.T) {
	h := newHarness(t)
	offer := &Offer{ID: uuid.New(), Owner: maker, BidAsset: usdc, Authority: other}
	err := h.ledger.Update(func(tx *ledger.Tx) error {
		_, err := offer.PayBuyer(tx, h.custodian, &Order{Owner: taker, AskAmount: 1})
		return err
	})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestAuthorityIsDerivedFromOfferID(t *testing.T) {
	h := newHarness(t)
	h.fund(maker, usdc, 10)
	offer := h.offer(10, 1, 3)
	require.Equal(t, NewOfferID(maker, 3), offer.ID)
	require.Equal(t, custody.DeriveAuthority(programID, offer.ID).Address, offer.Authority)
}

func TestCode(t *testing.T) {
	require.Equal(t, CodeOK, Code(nil))
	require.Equal(t, CodeInternal, Code(errors.New("disk on fire")))
	require.Equal(t, CodeNotOwner, Code(fmt.Errorf("wrapped: %w", ErrNotOwner)))
	require.Equal(t, CodeOverflow, Code(ledger.ErrBalanceOverflow))
	require.Equal(t, CodeAuthorizationDenied, Code(ledger.ErrAuthorizationDenied))
}

func TestIDsAreDeterministic(t *testing.T) {
	require.Equal(t, NewOfferID(maker, 1), NewOfferID(maker, 1))
	require.NotEqual(t, NewOfferID(maker, 1), NewOfferID(maker, 2))
	require.NotEqual(t, NewOfferID(maker, 1), NewOfferID(taker, 1))
	require.NotEqual(t, NewOfferID(maker, 1), NewOrderID(maker, 1))
}
