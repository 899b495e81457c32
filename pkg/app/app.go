// Package app sequences signed escrow instructions into blocks and applies
// them: signature, then nonce, then the escrow operation, each instruction
// leaving a receipt whether it succeeded or not. A block commits as one
// ledger unit of work.
package app

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uhyunpark/exchangemarket/pkg/escrow"
	"github.com/uhyunpark/exchangemarket/pkg/events"
	"github.com/uhyunpark/exchangemarket/pkg/ledger"
	"github.com/uhyunpark/exchangemarket/pkg/mempool"
	"github.com/uhyunpark/exchangemarket/pkg/transaction"
	"github.com/uhyunpark/exchangemarket/pkg/util"
)

const (
	kindReceipt ledger.Kind = "receipt"
	kindMeta    ledger.Kind = "meta"

	metaLastBlock = "last_block"
)

var (
	// ErrTxKnown is returned by PushTx for a tx that is pending or already finalized.
	ErrTxKnown = errors.New("transaction already known")

	errNonceTooLow = errors.New("nonce too low")
)

type Config struct {
	MaxBlockBytes int64
	EnableFaucet  bool
}

type App struct {
	ledger    *ledger.Ledger
	engine    *escrow.Engine
	mempool   *mempool.Mempool
	verifier  *transaction.Verifier
	publisher events.Publisher
	clock     util.Clock
	log       *zap.SugaredLogger
	cfg       Config

	mu      sync.Mutex // serializes block application
	height  uint64
	appHash common.Hash
}

type lastBlock struct {
	Height  uint64      `json:"height"`
	AppHash common.Hash `json:"appHash"`
}

// New wires an App and restores the last committed height from the ledger.
func New(
	l *ledger.Ledger,
	engine *escrow.Engine,
	verifier *transaction.Verifier,
	publisher events.Publisher,
	cfg Config,
	log *zap.SugaredLogger,
) (*App, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	a := &App{
		ledger:    l,
		engine:    engine,
		mempool:   mempool.NewMempool(),
		verifier:  verifier,
		publisher: publisher,
		clock:     util.RealClock{},
		log:       log,
		cfg:       cfg,
	}

	var last lastBlock
	err := l.View(func(tx *ledger.Tx) error {
		return tx.GetEntry(kindMeta, metaLastBlock, &last)
	})
	switch {
	case errors.Is(err, ledger.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load last block: %w", err)
	default:
		a.height, a.appHash = last.Height, last.AppHash
		log.Infow("app_restored", "height", last.Height, "app_hash", last.AppHash.Hex())
	}
	return a, nil
}

// WithClock replaces the clock used to timestamp produced blocks.
func (a *App) WithClock(c util.Clock) *App {
	a.clock = c
	return a
}

func (a *App) Engine() *escrow.Engine { return a.engine }
func (a *App) Ledger() *ledger.Ledger { return a.ledger }

// Height returns the last finalized block height
func (a *App) Height() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.height
}

func (a *App) AppHash() common.Hash {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.appHash
}

func (a *App) PendingTxs() int { return a.mempool.Len() }

// PushTx checks the envelope structure and queues raw for the next block.
// Signatures are checked when the block is applied. A tx that is already
// pending or already has a receipt is rejected with ErrTxKnown.
func (a *App) PushTx(raw []byte) (common.Hash, error) {
	if _, err := transaction.ParseTransaction(raw); err != nil {
		return common.Hash{}, err
	}
	hash := transaction.Hash(raw)
	known, err := a.hasReceipt(hash)
	if err != nil {
		return common.Hash{}, err
	}
	if known || !a.mempool.PushRaw(raw) {
		return hash, fmt.Errorf("%w: %s", ErrTxKnown, hash.Hex())
	}
	return hash, nil
}

func (a *App) hasReceipt(hash common.Hash) (bool, error) {
	err := a.ledger.View(func(tx *ledger.Tx) error {
		return tx.GetEntry(kindReceipt, hash.Hex(), &Receipt{})
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ledger.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// ProduceBlock drains the mempool into a new block. Returns nil if nothing is pending.
// If the block cannot be committed its txs go back to the mempool.
func (a *App) ProduceBlock(ctx context.Context) (*BlockResult, error) {
	txs := a.mempool.SelectForProposal(a.cfg.MaxBlockBytes)
	if len(txs) == 0 {
		return nil, nil
	}
	res, err := a.FinalizeBlock(ctx, a.Height()+1, a.clock.Now(), txs)
	if err != nil {
		for _, raw := range txs {
			a.mempool.PushRaw(raw)
		}
		a.log.Warnw("block_requeued", "txs", len(txs), "err", err)
		return nil, err
	}
	return res, nil
}

// FinalizeBlock applies txs in order at height. Escrow state, nonces,
// receipts and the block height commit together or not at all.
// Txs that already have a receipt, or repeat within the block, are skipped.
func (a *App) FinalizeBlock(ctx context.Context, height uint64, ts time.Time, txs [][]byte) (*BlockResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if height != a.height+1 {
		return nil, fmt.Errorf("finalize height %d, expected %d", height, a.height+1)
	}
	ts = ts.UTC()

	res := &BlockResult{Height: height, Timestamp: ts, Receipts: make([]*Receipt, 0, len(txs))}
	var evs []events.Event
	err := a.ledger.Update(func(tx *ledger.Tx) error {
		seen := make(map[common.Hash]struct{}, len(txs))
		for _, raw := range txs {
			hash := transaction.Hash(raw)
			if _, dup := seen[hash]; dup {
				a.log.Infow("tx_skipped_duplicate", "tx", hash.Hex(), "height", height)
				continue
			}
			seen[hash] = struct{}{}
			err := tx.GetEntry(kindReceipt, hash.Hex(), &Receipt{})
			if err == nil {
				a.log.Infow("tx_skipped_known", "tx", hash.Hex(), "height", height)
				continue
			}
			if !errors.Is(err, ledger.ErrNotFound) {
				return err
			}

			r, ev, err := a.applyTx(tx, height, ts, len(res.Receipts), raw)
			if err != nil {
				return err
			}
			if err := tx.CreateEntry(kindReceipt, hash.Hex(), r); err != nil {
				return err
			}
			res.Receipts = append(res.Receipts, r)
			evs = append(evs, ev)
		}
		res.AppHash = computeAppHash(height, ts, res.Receipts)
		return tx.PutEntry(kindMeta, metaLastBlock, lastBlock{Height: height, AppHash: res.AppHash})
	})
	if err != nil {
		return nil, fmt.Errorf("commit block %d: %w", height, err)
	}
	a.height, a.appHash = height, res.AppHash

	for _, ev := range evs {
		// sinks log their own failures
		_ = a.publisher.Publish(ctx, ev)
	}

	if len(res.Receipts) > 0 {
		a.log.Infow("block_finalized", "height", height, "txs", len(res.Receipts), "app_hash", res.AppHash.Hex())
	}
	return res, nil
}

// Receipt returns the receipt of a finalized transaction
func (a *App) Receipt(hash common.Hash) (*Receipt, error) {
	var r Receipt
	err := a.ledger.View(func(tx *ledger.Tx) error {
		return tx.GetEntry(kindReceipt, hash.Hex(), &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// applyTx runs one tx inside the block's unit of work. Instruction failures
// end up in the receipt; the returned error is reserved for storage failures
// that must abort the block.
func (a *App) applyTx(tx *ledger.Tx, height uint64, ts time.Time, index int, raw []byte) (*Receipt, events.Event, error) {
	r := &Receipt{
		TxHash:    transaction.Hash(raw),
		Height:    height,
		Index:     index,
		Status:    StatusSuccess,
		Code:      escrow.CodeOK,
		Timestamp: ts,
	}
	failed := func() (*Receipt, events.Event, error) {
		a.log.Infow("tx_failed", "tx", r.TxHash.Hex(), "type", r.Type, "code", r.Code, "err", r.Error)
		return r, events.Event{
			Type: events.TxFailed, Height: height, TxHash: r.TxHash,
			OfferID: r.OfferID, OrderID: r.OrderID, Owner: r.Signer, Code: r.Code, Timestamp: ts,
		}, nil
	}

	stx, err := transaction.ParseTransaction(raw)
	if err != nil {
		r.fail(CodeMalformed, err)
		return failed()
	}
	r.Type = stx.Type

	v, err := a.verifier.Verify(stx)
	if err != nil {
		r.fail(CodeBadSignature, err)
		return failed()
	}
	r.Signer = v.Signer

	nonce, err := toUint64("nonce", v.Nonce)
	if err != nil {
		r.fail(CodeBadNonce, err)
		return failed()
	}
	r.Nonce = nonce
	if err := consumeNonce(tx, v.Signer, nonce); err != nil {
		if !errors.Is(err, errNonceTooLow) {
			return nil, events.Event{}, err
		}
		r.fail(CodeBadNonce, err)
		return failed()
	}

	// the nonce stays spent if the instruction fails
	ev, err := a.execute(tx, v, nonce, ts, r)
	if err != nil {
		r.fail(escrow.Code(err), err)
		return failed()
	}
	ev.Height, ev.TxHash, ev.Timestamp = height, r.TxHash, ts
	return r, ev, nil
}

func consumeNonce(tx *ledger.Tx, signer common.Address, nonce uint64) error {
	last, err := tx.Nonce(signer)
	if err != nil {
		return err
	}
	if nonce <= last {
		return fmt.Errorf("%w: got %d, last %d", errNonceTooLow, nonce, last)
	}
	return tx.SetNonce(signer, nonce)
}

func (a *App) execute(tx *ledger.Tx, v *transaction.Verified, nonce uint64, ts time.Time, r *Receipt) (events.Event, error) {
	switch v.Type {
	case transaction.TxTypeCreateOffer:
		total, err := toUint64("bid_total", v.Offer.BidTotal)
		if err != nil {
			return events.Event{}, err
		}
		rate, err := toUint64("bid_rate", v.Offer.BidRate)
		if err != nil {
			return events.Event{}, err
		}
		r.OfferID = escrow.NewOfferID(v.Signer, nonce).String()
		offer, err := a.engine.ApplyCreateOffer(tx, escrow.CreateOfferRequest{
			Owner: v.Signer, BidAsset: v.Offer.BidAsset, BidTotal: total, BidRate: rate, Nonce: nonce, At: ts,
		})
		if err != nil {
			return events.Event{}, err
		}
		r.Amount = offer.BidTotal
		return events.Event{
			Type: events.OfferCreated, OfferID: r.OfferID, Owner: offer.Owner, Asset: offer.BidAsset, Amount: offer.BidTotal,
		}, nil

	case transaction.TxTypeCreateOrder:
		offerID, err := uuid.Parse(v.Order.Offer)
		if err != nil {
			return events.Event{}, fmt.Errorf("%w: offer id: %v", escrow.ErrNotFound, err)
		}
		rate, err := toUint64("ask_rate", v.Order.AskRate)
		if err != nil {
			return events.Event{}, err
		}
		amount, err := toUint64("ask_amount", v.Order.AskAmount)
		if err != nil {
			return events.Event{}, err
		}
		r.OfferID = offerID.String()
		r.OrderID = escrow.NewOrderID(v.Signer, nonce).String()
		order, err := a.engine.ApplyCreateOrder(tx, escrow.CreateOrderRequest{
			Owner: v.Signer, Offer: offerID, AskAsset: v.Order.AskAsset,
			AskRate: rate, AskAmount: amount, Nonce: nonce, At: ts,
		})
		if err != nil {
			return events.Event{}, err
		}
		r.Amount = order.AskAmount
		return events.Event{
			Type: events.OrderCreated, OfferID: r.OfferID, OrderID: r.OrderID,
			Owner: order.Owner, Asset: order.AskAsset, Amount: order.AskAmount,
		}, nil

	case transaction.TxTypeSettle:
		orderID, err := uuid.Parse(v.Settle.Order)
		if err != nil {
			return events.Event{}, fmt.Errorf("%w: order id: %v", escrow.ErrNotFound, err)
		}
		offerID, err := uuid.Parse(v.Settle.Offer)
		if err != nil {
			return events.Event{}, fmt.Errorf("%w: offer id: %v", escrow.ErrNotFound, err)
		}
		r.OfferID, r.OrderID = offerID.String(), orderID.String()
		s, err := a.engine.ApplySettle(tx, escrow.SettleRequest{Caller: v.Signer, Order: orderID, Offer: offerID, At: ts})
		if err != nil {
			return events.Event{}, err
		}
		r.Amount = s.Amount
		return events.Event{
			Type: events.SettlementExecuted, OfferID: r.OfferID, OrderID: r.OrderID,
			Owner: s.Taker, Asset: s.Asset, Amount: s.Amount,
		}, nil
	}
	return events.Event{}, fmt.Errorf("unsupported transaction type: %s", v.Type)
}

func toUint64(field string, v *big.Int) (uint64, error) {
	if v == nil || v.Sign() < 0 || !v.IsUint64() {
		return 0, fmt.Errorf("%w: %s out of range", escrow.ErrInvalidAmount, field)
	}
	return v.Uint64(), nil
}

// computeAppHash commits to the block's outcome.
//
// State components hashed (in order):
//  1. Block height (8 bytes, big-endian)
//  2. Block timestamp (8 bytes, big-endian unix nanoseconds)
//  3. Receipt hashes in transaction order
func computeAppHash(height uint64, ts time.Time, receipts []*Receipt) common.Hash {
	buf := make([]byte, 16, 16+len(receipts)*common.HashLength)
	binary.BigEndian.PutUint64(buf[:8], height)
	binary.BigEndian.PutUint64(buf[8:16], uint64(ts.UnixNano()))
	for _, r := range receipts {
		h := r.Hash()
		buf = append(buf, h[:]...)
	}
	return ethCrypto.Keccak256Hash(buf)
}
