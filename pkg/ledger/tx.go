package ledger

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/uhyunpark/exchangemarket/pkg/custody"
)

// Authorization is what a caller presents to move funds out of an account:
// either the owner's own (already verified) signature, or a custody proof
// for accounts owned by a custodial authority.
type Authorization struct {
	Signer common.Address
	Proof  *custody.Proof
}

// SignedBy authorizes a transfer out of signer's own account.
func SignedBy(signer common.Address) Authorization {
	return Authorization{Signer: signer}
}

// ByCustody authorizes a transfer out of an authority account.
func ByCustody(p *custody.Proof) Authorization {
	return Authorization{Proof: p}
}

// Tx is a unit of work. Reads see the committed state plus this unit's own staged writes.
type Tx struct {
	store    *Store
	verifier ProofVerifier
	readOnly bool
	writes   map[string][]byte
	parent   *Tx
}

func newTx(store *Store, verifier ProofVerifier, readOnly bool) *Tx {
	return &Tx{
		store:    store,
		verifier: verifier,
		readOnly: readOnly,
		writes:   make(map[string][]byte),
	}
}

// Nested runs fn as a child unit of work on top of tx. The child's writes are
// folded into tx only if fn returns nil; otherwise tx is left as it was.
func (tx *Tx) Nested(fn func(tx *Tx) error) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	child := newTx(tx.store, tx.verifier, false)
	child.parent = tx
	if err := fn(child); err != nil {
		return err
	}
	for k, v := range child.writes {
		tx.writes[k] = v
	}
	return nil
}

func (tx *Tx) get(key []byte) ([]byte, bool, error) {
	if v, ok := tx.writes[string(key)]; ok {
		return v, true, nil
	}
	if tx.parent != nil {
		return tx.parent.get(key)
	}
	return tx.store.get(key)
}

func (tx *Tx) put(key, value []byte) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	tx.writes[string(key)] = value
	return nil
}

// scan visits committed and staged keys under prefix in key order, staged values winning.
func (tx *Tx) scan(prefix []byte, fn func(key string, value []byte) error) error {
	merged := make(map[string][]byte)
	var err error
	if tx.parent != nil {
		err = tx.parent.scan(prefix, func(k string, v []byte) error {
			merged[k] = v
			return nil
		})
	} else {
		err = tx.store.scan(prefix, func(k, v []byte) error {
			merged[string(k)] = v
			return nil
		})
	}
	if err != nil {
		return err
	}
	p := string(prefix)
	for k, v := range tx.writes {
		if strings.HasPrefix(k, p) {
			merged[k] = v
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn(k, merged[k]); err != nil {
			return err
		}
	}
	return nil
}

func (tx *Tx) loadAccount(key AccountKey) (*TokenAccount, error) {
	data, ok, err := tx.get(balanceKey(key))
	if err != nil {
		return nil, err
	}
	if !ok {
		return &TokenAccount{Owner: key.Owner, Asset: key.Asset}, nil
	}
	var acc TokenAccount
	if err := json.Unmarshal(data, &acc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account %s: %w", key, err)
	}
	return &acc, nil
}

func (tx *Tx) saveAccount(acc *TokenAccount) error {
	if err := acc.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}
	return tx.put(balanceKey(acc.Key()), data)
}

// Balance returns the balance of key (0 for an account never credited)
func (tx *Tx) Balance(key AccountKey) (uint64, error) {
	acc, err := tx.loadAccount(key)
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

// Accounts lists the token accounts of owner, ordered by asset.
func (tx *Tx) Accounts(owner common.Address) ([]TokenAccount, error) {
	var out []TokenAccount
	err := tx.scan(balancePrefix(owner), func(_ string, v []byte) error {
		var acc TokenAccount
		if err := json.Unmarshal(v, &acc); err != nil {
			return fmt.Errorf("failed to unmarshal account: %w", err)
		}
		out = append(out, acc)
		return nil
	})
	return out, err
}

// Mint credits amount out of thin air. Used for bridge deposits and the devnet faucet.
func (tx *Tx) Mint(key AccountKey, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	acc, err := tx.loadAccount(key)
	if err != nil {
		return err
	}
	bal, overflow := math.SafeAdd(acc.Balance, amount)
	if overflow {
		return fmt.Errorf("%w: %s", ErrBalanceOverflow, key)
	}
	acc.Balance = bal
	return tx.saveAccount(acc)
}

// Burn debits amount. Used for bridge withdrawals.
func (tx *Tx) Burn(key AccountKey, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	acc, err := tx.loadAccount(key)
	if err != nil {
		return err
	}
	if acc.Balance < amount {
		return fmt.Errorf("%w: %s has %d, need %d", ErrInsufficientFunds, key, acc.Balance, amount)
	}
	acc.Balance -= amount
	return tx.saveAccount(acc)
}

// Transfer moves amount units of asset from one token account to another.
//
// Both accounts must hold asset. Accounts owned by a key pair require auth to
// be signed by that owner; authority accounts require a custody proof issued
// for exactly this transfer. A proof is consumed on success and never accepted again.
func (tx *Tx) Transfer(asset common.Address, from, to AccountKey, amount uint64, auth Authorization) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	if from.Asset != asset || to.Asset != asset {
		return fmt.Errorf("%w: transfer of %s from %s to %s", ErrWrongAsset, asset.Hex(), from, to)
	}
	if err := tx.authorize(asset, from, to, amount, auth); err != nil {
		return err
	}

	src, err := tx.loadAccount(from)
	if err != nil {
		return err
	}
	if src.Balance < amount {
		return fmt.Errorf("%w: %s has %d, need %d", ErrInsufficientFunds, from, src.Balance, amount)
	}

	if from != to {
		dst, err := tx.loadAccount(to)
		if err != nil {
			return err
		}
		bal, overflow := math.SafeAdd(dst.Balance, amount)
		if overflow {
			return fmt.Errorf("%w: %s", ErrBalanceOverflow, to)
		}
		src.Balance -= amount
		dst.Balance = bal
		if err := tx.saveAccount(src); err != nil {
			return err
		}
		if err := tx.saveAccount(dst); err != nil {
			return err
		}
	}

	if auth.Proof != nil {
		return tx.put(proofKey(auth.Proof.ID), []byte{1})
	}
	return nil
}

func (tx *Tx) authorize(asset common.Address, from, to AccountKey, amount uint64, auth Authorization) error {
	if auth.Proof == nil {
		if auth.Signer != from.Owner {
			return fmt.Errorf("%w: %s cannot move funds of %s", ErrAuthorizationDenied, auth.Signer.Hex(), from.Owner.Hex())
		}
		return nil
	}

	if tx.verifier == nil {
		return fmt.Errorf("%w: no custody verifier", ErrAuthorizationDenied)
	}
	_, used, err := tx.get(proofKey(auth.Proof.ID))
	if err != nil {
		return err
	}
	if used {
		return fmt.Errorf("%w: proof %s already used", ErrAuthorizationDenied, auth.Proof.ID)
	}
	t := custody.Transfer{Asset: asset, From: from.Owner, To: to.Owner, Amount: amount}
	if err := tx.verifier.VerifyTransfer(auth.Proof, t); err != nil {
		return fmt.Errorf("%w: %v", ErrAuthorizationDenied, err)
	}
	return nil
}

// CreateEntry stores v under (kind, id). Fails with ErrEntryExists if the id is taken.
func (tx *Tx) CreateEntry(kind Kind, id string, v any) error {
	_, exists, err := tx.get(entryKey(kind, id))
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s %s", ErrEntryExists, kind, id)
	}
	return tx.PutEntry(kind, id, v)
}

// PutEntry stores v under (kind, id), replacing any previous value.
func (tx *Tx) PutEntry(kind Kind, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", kind, err)
	}
	return tx.put(entryKey(kind, id), data)
}

// GetEntry decodes the entry (kind, id) into v. Returns ErrNotFound if absent.
func (tx *Tx) GetEntry(kind Kind, id string, v any) error {
	data, ok, err := tx.get(entryKey(kind, id))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s %s: %w", kind, id, err)
	}
	return nil
}

// ScanEntries calls fn with the id and raw JSON of every entry of kind, ordered by id.
func (tx *Tx) ScanEntries(kind Kind, fn func(id string, raw json.RawMessage) error) error {
	prefix := entryPrefix(kind)
	return tx.scan(prefix, func(k string, v []byte) error {
		return fn(k[len(prefix):], json.RawMessage(bytes.Clone(v)))
	})
}

// Nonce returns the last accepted nonce of addr (0 if none)
func (tx *Tx) Nonce(addr common.Address) (uint64, error) {
	data, ok, err := tx.get(nonceKey(addr))
	if err != nil || !ok {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt nonce for %s", addr.Hex())
	}
	return binary.BigEndian.Uint64(data), nil
}

func (tx *Tx) SetNonce(addr common.Address, nonce uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	return tx.put(nonceKey(addr), buf[:])
}
