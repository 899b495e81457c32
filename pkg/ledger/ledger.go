// Package ledger is the token-account state of the escrow: balances keyed by
// (owner, asset), typed entries, instruction nonces, and consumed custody proofs.
//
// All mutations run inside Update. A unit of work either commits every staged
// write in one pebble batch or, if the callback returns an error, none of them.
package ledger

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/exchangemarket/pkg/custody"
)

// ProofVerifier checks custody proofs presented for transfers out of authority accounts.
type ProofVerifier interface {
	VerifyTransfer(p *custody.Proof, t custody.Transfer) error
}

// Ledger serializes units of work over a Store
type Ledger struct {
	mu       sync.RWMutex
	store    *Store
	verifier ProofVerifier
	log      *zap.SugaredLogger
}

// Open opens (or creates) a ledger at dbPath
func Open(dbPath string, verifier ProofVerifier, log *zap.SugaredLogger) (*Ledger, error) {
	store, err := NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	return New(store, verifier, log), nil
}

// OpenInMemory opens a ledger that lives only as long as the process
func OpenInMemory(verifier ProofVerifier, log *zap.SugaredLogger) (*Ledger, error) {
	store, err := NewMemStore()
	if err != nil {
		return nil, err
	}
	return New(store, verifier, log), nil
}

func New(store *Store, verifier ProofVerifier, log *zap.SugaredLogger) *Ledger {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Ledger{store: store, verifier: verifier, log: log}
}

// Close closes the underlying Pebble database
func (l *Ledger) Close() error {
	return l.store.Close()
}

// Update runs fn as one atomic unit of work.
func (l *Ledger) Update(fn func(tx *Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := newTx(l.store, l.verifier, false)
	if err := fn(tx); err != nil {
		if n := len(tx.writes); n > 0 {
			l.log.Debugw("ledger_rollback", "staged", n, "err", err)
		}
		return err
	}
	if err := l.store.commit(tx.writes); err != nil {
		l.log.Errorw("ledger_commit_failed", "staged", len(tx.writes), "err", err)
		return err
	}
	return nil
}

// View runs fn against a consistent read-only view. Mutations inside fn fail with ErrReadOnly.
func (l *Ledger) View(fn func(tx *Tx) error) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return fn(newTx(l.store, l.verifier, true))
}

// Balance returns the balance of a token account (0 if it does not exist)
func (l *Ledger) Balance(key AccountKey) (uint64, error) {
	var bal uint64
	err := l.View(func(tx *Tx) error {
		var err error
		bal, err = tx.Balance(key)
		return err
	})
	return bal, err
}

// Accounts returns all token accounts held by owner
func (l *Ledger) Accounts(owner common.Address) ([]TokenAccount, error) {
	var out []TokenAccount
	err := l.View(func(tx *Tx) error {
		var err error
		out, err = tx.Accounts(owner)
		return err
	})
	return out, err
}

// Deposit credits amount of an asset to an account (bridge in / faucet)
func (l *Ledger) Deposit(key AccountKey, amount uint64) error {
	err := l.Update(func(tx *Tx) error {
		return tx.Mint(key, amount)
	})
	if err != nil {
		return fmt.Errorf("deposit to %s: %w", key, err)
	}
	l.log.Infow("deposit", "account", key.String(), "amount", amount)
	return nil
}

// Nonce returns the last accepted instruction nonce of addr
func (l *Ledger) Nonce(addr common.Address) (uint64, error) {
	var n uint64
	err := l.View(func(tx *Tx) error {
		var err error
		n, err = tx.Nonce(addr)
		return err
	})
	return n, err
}
