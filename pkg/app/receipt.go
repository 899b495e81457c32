package app

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/exchangemarket/pkg/transaction"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Codes for failures that happen before the escrow engine runs.
// Engine failures use escrow.Code.
const (
	CodeMalformed    = "malformed"
	CodeBadSignature = "bad_signature"
	CodeBadNonce     = "nonce_too_low"
)

// Receipt is the stored outcome of one transaction in a block.
type Receipt struct {
	TxHash    common.Hash        `json:"txHash"`
	Height    uint64             `json:"height"`
	Index     int                `json:"index"`
	Type      transaction.TxType `json:"type,omitempty"`
	Signer    common.Address     `json:"signer"`
	Nonce     uint64             `json:"nonce,omitempty"`
	Status    Status             `json:"status"`
	Code      string             `json:"code"`
	Error     string             `json:"error,omitempty"`
	OfferID   string             `json:"offerId,omitempty"`
	OrderID   string             `json:"orderId,omitempty"`
	Amount    uint64             `json:"amount,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

func (r *Receipt) fail(code string, err error) *Receipt {
	r.Status = StatusFailed
	r.Code = code
	r.Error = err.Error()
	return r
}

// Hash is keccak256 of the receipt's JSON encoding
func (r *Receipt) Hash() common.Hash {
	b, _ := json.Marshal(r)
	return ethCrypto.Keccak256Hash(b)
}

// BlockResult is what FinalizeBlock commits.
type BlockResult struct {
	Height    uint64      `json:"height"`
	Timestamp time.Time   `json:"timestamp"`
	Receipts  []*Receipt  `json:"receipts"`
	AppHash   common.Hash `json:"appHash"`
}
