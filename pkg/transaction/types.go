package transaction

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/uhyunpark/exchangemarket/pkg/crypto"
)

// TxType represents the type of transaction
type TxType string

const (
	TxTypeCreateOffer TxType = "create_offer" // Maker posts and funds an offer
	TxTypeCreateOrder TxType = "create_order" // Taker places and funds an order
	TxTypeSettle      TxType = "settle"       // Taker claims an approved order
)

// SignedTransaction is the wire envelope of an escrow instruction.
// Exactly one payload is set, matching Type.
type SignedTransaction struct {
	Type      TxType         `json:"type"`
	Offer     *OfferPayload  `json:"offer,omitempty"`
	Order     *OrderPayload  `json:"order,omitempty"`
	Settle    *SettlePayload `json:"settle,omitempty"`
	Signature string         `json:"signature"` // Hex-encoded signature (0x...)
}

// OfferPayload contains create_offer data for EIP-712 signing
type OfferPayload struct {
	BidAsset string `json:"bid_asset"` // asset address (0x...)
	BidTotal string `json:"bid_total"` // BigInt as string, smallest unit
	BidRate  string `json:"bid_rate"`  // BigInt as string
	Nonce    string `json:"nonce"`     // BigInt as string
	Owner    string `json:"owner"`     // Ethereum address (0x...)
}

// OrderPayload contains create_order data for EIP-712 signing
type OrderPayload struct {
	Offer     string `json:"offer"`               // offer id (uuid)
	AskAsset  string `json:"ask_asset,omitempty"` // empty = offer's bid asset
	AskRate   string `json:"ask_rate"`
	AskAmount string `json:"ask_amount"`
	Nonce     string `json:"nonce"`
	Owner     string `json:"owner"`
}

// SettlePayload contains settle data for EIP-712 signing
type SettlePayload struct {
	Order string `json:"order"` // order id (uuid)
	Offer string `json:"offer"` // offer id the order references
	Nonce string `json:"nonce"`
	Owner string `json:"owner"`
}

func parseBig(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s: %q", field, s)
	}
	return v, nil
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid %s: %q", field, s)
	}
	return common.HexToAddress(s), nil
}

func parseID(field, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("invalid %s: %w", field, err)
	}
	return id, nil
}

// ToEIP712 converts OfferPayload to crypto.OfferEIP712 for signing/verification
func (p *OfferPayload) ToEIP712() (*crypto.OfferEIP712, error) {
	asset, err := parseAddress("bid_asset", p.BidAsset)
	if err != nil {
		return nil, err
	}
	total, err := parseBig("bid_total", p.BidTotal)
	if err != nil {
		return nil, err
	}
	rate, err := parseBig("bid_rate", p.BidRate)
	if err != nil {
		return nil, err
	}
	nonce, err := parseBig("nonce", p.Nonce)
	if err != nil {
		return nil, err
	}
	owner, err := parseAddress("owner", p.Owner)
	if err != nil {
		return nil, err
	}
	return &crypto.OfferEIP712{BidAsset: asset, BidTotal: total, BidRate: rate, Nonce: nonce, Owner: owner}, nil
}

// FromEIP712Offer converts crypto.OfferEIP712 to OfferPayload
func FromEIP712Offer(o *crypto.OfferEIP712) *OfferPayload {
	return &OfferPayload{
		BidAsset: o.BidAsset.Hex(),
		BidTotal: o.BidTotal.String(),
		BidRate:  o.BidRate.String(),
		Nonce:    o.Nonce.String(),
		Owner:    o.Owner.Hex(),
	}
}

func (p *OrderPayload) ToEIP712() (*crypto.OrderEIP712, error) {
	if _, err := parseID("offer", p.Offer); err != nil {
		return nil, err
	}
	var askAsset common.Address
	if p.AskAsset != "" {
		a, err := parseAddress("ask_asset", p.AskAsset)
		if err != nil {
			return nil, err
		}
		askAsset = a
	}
	rate, err := parseBig("ask_rate", p.AskRate)
	if err != nil {
		return nil, err
	}
	amount, err := parseBig("ask_amount", p.AskAmount)
	if err != nil {
		return nil, err
	}
	nonce, err := parseBig("nonce", p.Nonce)
	if err != nil {
		return nil, err
	}
	owner, err := parseAddress("owner", p.Owner)
	if err != nil {
		return nil, err
	}
	return &crypto.OrderEIP712{
		Offer:     p.Offer,
		AskAsset:  askAsset,
		AskRate:   rate,
		AskAmount: amount,
		Nonce:     nonce,
		Owner:     owner,
	}, nil
}

func FromEIP712Order(o *crypto.OrderEIP712) *OrderPayload {
	p := &OrderPayload{
		Offer:     o.Offer,
		AskRate:   o.AskRate.String(),
		AskAmount: o.AskAmount.String(),
		Nonce:     o.Nonce.String(),
		Owner:     o.Owner.Hex(),
	}
	if o.AskAsset != (common.Address{}) {
		p.AskAsset = o.AskAsset.Hex()
	}
	return p
}

func (p *SettlePayload) ToEIP712() (*crypto.SettleEIP712, error) {
	if _, err := parseID("order", p.Order); err != nil {
		return nil, err
	}
	if _, err := parseID("offer", p.Offer); err != nil {
		return nil, err
	}
	nonce, err := parseBig("nonce", p.Nonce)
	if err != nil {
		return nil, err
	}
	owner, err := parseAddress("owner", p.Owner)
	if err != nil {
		return nil, err
	}
	return &crypto.SettleEIP712{Order: p.Order, Offer: p.Offer, Nonce: nonce, Owner: owner}, nil
}

func FromEIP712Settle(s *crypto.SettleEIP712) *SettlePayload {
	return &SettlePayload{Order: s.Order, Offer: s.Offer, Nonce: s.Nonce.String(), Owner: s.Owner.Hex()}
}

// Serialize converts SignedTransaction to JSON bytes
func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Deserialize parses JSON bytes into SignedTransaction
func Deserialize(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}
	return &tx, nil
}

// Hash identifies raw transaction bytes: keccak256 of the envelope as submitted.
func Hash(raw []byte) common.Hash {
	return ethCrypto.Keccak256Hash(raw)
}

// Validate performs basic validation on transaction structure
func (tx *SignedTransaction) Validate() error {
	if tx.Type == "" {
		return fmt.Errorf("missing transaction type")
	}
	if tx.Signature == "" {
		return fmt.Errorf("missing signature")
	}

	set := 0
	for _, present := range []bool{tx.Offer != nil, tx.Order != nil, tx.Settle != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("expected exactly one payload, got %d", set)
	}

	switch tx.Type {
	case TxTypeCreateOffer:
		if tx.Offer == nil {
			return fmt.Errorf("create_offer requires offer payload")
		}
		if tx.Offer.Owner == "" {
			return fmt.Errorf("missing offer owner")
		}
	case TxTypeCreateOrder:
		if tx.Order == nil {
			return fmt.Errorf("create_order requires order payload")
		}
		if tx.Order.Offer == "" {
			return fmt.Errorf("missing order offer")
		}
		if tx.Order.Owner == "" {
			return fmt.Errorf("missing order owner")
		}
	case TxTypeSettle:
		if tx.Settle == nil {
			return fmt.Errorf("settle requires settle payload")
		}
		if tx.Settle.Order == "" || tx.Settle.Offer == "" {
			return fmt.Errorf("settle requires order and offer")
		}
		if tx.Settle.Owner == "" {
			return fmt.Errorf("missing settle owner")
		}
	default:
		return fmt.Errorf("unknown transaction type: %s", tx.Type)
	}
	return nil
}

// ParseTransaction parses and structurally validates a JSON envelope
func ParseTransaction(data []byte) (*SignedTransaction, error) {
	tx, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transaction: %w", err)
	}
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}
	return tx, nil
}

// Example envelope:
//   {
//     "type": "create_order",
//     "order": {
//       "offer": "0b5f3c9e-7c3d-5a8e-9f54-2d0c0e8f6a11",
//       "ask_rate": "5",
//       "ask_amount": "1000",
//       "nonce": "2",
//       "owner": "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0"
//     },
//     "signature": "0x1234567890abcdef..."
//   }
