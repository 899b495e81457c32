package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain represents the domain separator for EIP-712 typed data
// This prevents replay attacks across different chains/programs
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address // escrow program id
}

// DefaultDomain returns the devnet domain.
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:              "ExchangeMarket",
		Version:           "1",
		ChainID:           big.NewInt(1337),
		VerifyingContract: common.HexToAddress("0x0000000000000000000000000000000000e5c40e"),
	}
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// TypedMessage is an escrow instruction that users sign with eth_signTypedData_v4.
type TypedMessage interface {
	primaryType() string
	fields() []apitypes.Type
	message() apitypes.TypedDataMessage
	signer() common.Address
}

// OfferEIP712 is a maker's create_offer instruction.
type OfferEIP712 struct {
	BidAsset common.Address
	BidTotal *big.Int
	BidRate  *big.Int
	Nonce    *big.Int
	Owner    common.Address
}

func (o *OfferEIP712) primaryType() string { return "CreateOffer" }

func (o *OfferEIP712) fields() []apitypes.Type {
	return []apitypes.Type{
		{Name: "bidAsset", Type: "address"},
		{Name: "bidTotal", Type: "uint256"},
		{Name: "bidRate", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "owner", Type: "address"},
	}
}

func (o *OfferEIP712) message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"bidAsset": o.BidAsset.Hex(),
		"bidTotal": o.BidTotal.String(),
		"bidRate":  o.BidRate.String(),
		"nonce":    o.Nonce.String(),
		"owner":    o.Owner.Hex(),
	}
}

func (o *OfferEIP712) signer() common.Address { return o.Owner }

// OrderEIP712 is a taker's create_order instruction against one offer.
type OrderEIP712 struct {
	Offer     string         // offer id (uuid)
	AskAsset  common.Address // zero = the offer's bid asset
	AskRate   *big.Int
	AskAmount *big.Int
	Nonce     *big.Int
	Owner     common.Address
}

func (o *OrderEIP712) primaryType() string { return "CreateOrder" }

func (o *OrderEIP712) fields() []apitypes.Type {
	return []apitypes.Type{
		{Name: "offer", Type: "string"},
		{Name: "askAsset", Type: "address"},
		{Name: "askRate", Type: "uint256"},
		{Name: "askAmount", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "owner", Type: "address"},
	}
}

func (o *OrderEIP712) message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"offer":     o.Offer,
		"askAsset":  o.AskAsset.Hex(),
		"askRate":   o.AskRate.String(),
		"askAmount": o.AskAmount.String(),
		"nonce":     o.Nonce.String(),
		"owner":     o.Owner.Hex(),
	}
}

func (o *OrderEIP712) signer() common.Address { return o.Owner }

// SettleEIP712 is the taker's claim against an approved order.
type SettleEIP712 struct {
	Order string
	Offer string
	Nonce *big.Int
	Owner common.Address
}

func (s *SettleEIP712) primaryType() string { return "Settle" }

func (s *SettleEIP712) fields() []apitypes.Type {
	return []apitypes.Type{
		{Name: "order", Type: "string"},
		{Name: "offer", Type: "string"},
		{Name: "nonce", Type: "uint256"},
		{Name: "owner", Type: "address"},
	}
}

func (s *SettleEIP712) message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"order": s.Order,
		"offer": s.Offer,
		"nonce": s.Nonce.String(),
		"owner": s.Owner.Hex(),
	}
}

func (s *SettleEIP712) signer() common.Address { return s.Owner }

// EIP712Signer handles EIP-712 typed data hashing and signing for escrow instructions
type EIP712Signer struct {
	domain EIP712Domain
}

// NewEIP712Signer creates a new EIP-712 signer with given domain
func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

func (e *EIP712Signer) typedData(m TypedMessage) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain":  domainType,
			m.primaryType(): m.fields(),
		},
		PrimaryType: m.primaryType(),
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: m.message(),
	}
}

// Hash returns the digest that should be signed for m.
func (e *EIP712Signer) Hash(m TypedMessage) ([]byte, error) {
	typedData := e.typedData(m)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	// keccak256("\x19\x01" || domainSeparator || typedDataHash)
	rawData := make([]byte, 0, 2+len(domainSeparator)+len(typedDataHash))
	rawData = append(rawData, 0x19, 0x01)
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, typedDataHash...)
	return crypto.Keccak256(rawData), nil
}

// Sign hashes m and signs it with signer.
func (e *EIP712Signer) Sign(signer *Signer, m TypedMessage) ([]byte, error) {
	hash, err := e.Hash(m)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", m.primaryType(), err)
	}
	return signer.Sign(hash)
}

// Recover returns the address that produced signature over m.
func (e *EIP712Signer) Recover(m TypedMessage, signature []byte) (common.Address, error) {
	hash, err := e.Hash(m)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash %s: %w", m.primaryType(), err)
	}
	return RecoverAddress(hash, signature)
}

// Verify reports whether signature over m was produced by the message owner.
func (e *EIP712Signer) Verify(m TypedMessage, signature []byte) (bool, error) {
	recovered, err := e.Recover(m, signature)
	if err != nil {
		return false, err
	}
	return recovered == m.signer(), nil
}

// ToJSON renders m in the eth_signTypedData_v4 format wallets expect.
func (e *EIP712Signer) ToJSON(m TypedMessage) (string, error) {
	jsonBytes, err := json.MarshalIndent(e.typedData(m), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(jsonBytes), nil
}
