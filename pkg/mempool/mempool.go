package mempool

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"
)

// TxType classifies transactions into sequencing buckets.
type TxType int

const (
	TxOffer TxType = iota
	TxOrder
	TxSettle
)

func (t TxType) String() string {
	switch t {
	case TxOffer:
		return "offer"
	case TxOrder:
		return "order"
	default:
		return "settle"
	}
}

// envelope holds the fields the mempool sequences on. Payload fields are
// unverified here; the application checks signatures when applying.
type envelope struct {
	Type   string  `json:"type"`
	Offer  *sender `json:"offer"`
	Order  *sender `json:"order"`
	Settle *sender `json:"settle"`
}

type sender struct {
	Owner string `json:"owner"`
	Nonce string `json:"nonce"`
}

func parseEnvelope(b []byte) (envelope, bool) {
	var env envelope
	if len(b) == 0 || b[0] != '{' {
		return env, false
	}
	if err := json.Unmarshal(b, &env); err != nil {
		return env, false
	}
	return env, true
}

// ClassifyRaw classifies a raw transaction by parsing its JSON envelope.
//
//	{"type": "create_offer", ...} -> TxOffer
//	{"type": "create_order", ...} -> TxOrder
//	{"type": "settle", ...}       -> TxSettle
//
// Anything else lands in the last bucket; the application rejects it with a receipt.
func ClassifyRaw(b []byte) TxType {
	env, ok := parseEnvelope(b)
	if !ok {
		return TxSettle
	}
	switch env.Type {
	case "create_offer":
		return TxOffer
	case "create_order":
		return TxOrder
	default:
		return TxSettle
	}
}

type pendingTx struct {
	raw    []byte
	hash   common.Hash
	signer string // lowercased owner, empty when unparseable
	nonce  uint64
}

func newPendingTx(b []byte) *pendingTx {
	p := &pendingTx{raw: b, hash: ethCrypto.Keccak256Hash(b)}
	env, ok := parseEnvelope(b)
	if !ok {
		return p
	}
	var s *sender
	switch env.Type {
	case "create_offer":
		s = env.Offer
	case "create_order":
		s = env.Order
	case "settle":
		s = env.Settle
	}
	if s == nil || s.Owner == "" {
		return p
	}
	n, err := strconv.ParseUint(s.Nonce, 10, 64)
	if err != nil {
		return p
	}
	p.signer, p.nonce = strings.ToLower(s.Owner), n
	return p
}

// Mempool keeps three FIFO queues drained in the order offers -> orders -> settles,
// so an offer and an order against it can land in the same block.
// A signer's own transactions are always released in nonce order, whatever
// their buckets, since the application spends nonces strictly increasing.
type Mempool struct {
	mu      sync.Mutex
	offers  []*pendingTx
	orders  []*pendingTx
	settles []*pendingTx
	pending map[common.Hash]struct{}
}

func NewMempool() *Mempool {
	return &Mempool{pending: make(map[common.Hash]struct{})}
}

// PushRaw classifies and enqueues a tx. Returns false if the same bytes are
// already pending.
func (m *Mempool) PushRaw(b []byte) bool {
	p := newPendingTx(append([]byte(nil), b...))
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.pending[p.hash]; dup {
		return false
	}
	m.pending[p.hash] = struct{}{}
	switch ClassifyRaw(b) {
	case TxOffer:
		m.offers = append(m.offers, p)
	case TxOrder:
		m.orders = append(m.orders, p)
	default:
		m.settles = append(m.settles, p)
	}
	return true
}

// Has reports whether a tx with hash is pending.
func (m *Mempool) Has(hash common.Hash) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[hash]
	return ok
}

// SelectForProposal returns up to maxBytes worth of txs in sequencing order,
// removing selected txs from the mempool. maxBytes <= 0 means no cap.
// Selection stops at the first tx that does not fit.
func (m *Mempool) SelectForProposal(maxBytes int64) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	queue := make([]*pendingTx, 0, len(m.offers)+len(m.orders)+len(m.settles))
	queue = append(queue, m.offers...)
	queue = append(queue, m.orders...)
	queue = append(queue, m.settles...)
	orderBySigner(queue)

	var out [][]byte
	var used int64
	taken := make(map[*pendingTx]struct{})
	for _, p := range queue {
		n := int64(len(p.raw))
		if maxBytes > 0 && used+n > maxBytes {
			break
		}
		out = append(out, p.raw)
		used += n
		taken[p] = struct{}{}
		delete(m.pending, p.hash)
	}

	m.offers = without(m.offers, taken)
	m.orders = without(m.orders, taken)
	m.settles = without(m.settles, taken)
	return out
}

// orderBySigner sorts each signer's txs by nonce within the slots that signer
// already occupies, leaving the interleaving between signers untouched.
func orderBySigner(queue []*pendingTx) {
	slots := make(map[string][]int)
	for i, p := range queue {
		if p.signer != "" {
			slots[p.signer] = append(slots[p.signer], i)
		}
	}
	for _, idx := range slots {
		if len(idx) < 2 {
			continue
		}
		txs := make([]*pendingTx, len(idx))
		for j, i := range idx {
			txs[j] = queue[i]
		}
		sort.SliceStable(txs, func(a, b int) bool { return txs[a].nonce < txs[b].nonce })
		for j, i := range idx {
			queue[i] = txs[j]
		}
	}
}

func without(q []*pendingTx, taken map[*pendingTx]struct{}) []*pendingTx {
	out := q[:0]
	for _, p := range q {
		if _, ok := taken[p]; !ok {
			out = append(out, p)
		}
	}
	return out
}

// Len returns total pending txs.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.offers) + len(m.orders) + len(m.settles)
}
