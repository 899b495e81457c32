package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Pebble key schema
//
//	bal:{owner}:{asset}  -> TokenAccount
//	ent:{kind}:{id}      -> entry (JSON, kind-specific)
//	nonce:{address}      -> last accepted instruction nonce
//	proof:{id}           -> consumed custody proof marker
const (
	prefixBalance = "bal:"
	prefixEntry   = "ent:"
	prefixNonce   = "nonce:"
	prefixProof   = "proof:"
)

// Kind names a family of entries (offers, orders, receipts, ...).
type Kind string

// balanceKey returns the key for a token account
// Example: "bal:0x742d35cc...:0xA55E7..."
func balanceKey(k AccountKey) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, k.Owner.Hex(), k.Asset.Hex()))
}

// balancePrefix returns the prefix for all token accounts of an owner
func balancePrefix(owner common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixBalance, owner.Hex()))
}

func entryKey(kind Kind, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixEntry, kind, id))
}

func entryPrefix(kind Kind) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixEntry, kind))
}

func nonceKey(addr common.Address) []byte {
	return []byte(prefixNonce + addr.Hex())
}

func proofKey(id uuid.UUID) []byte {
	return []byte(prefixProof + id.String())
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
// Example: prefix "ent:offer:" -> upper bound "ent:offer;"
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
