package transaction

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/exchangemarket/pkg/crypto"
)

// Verified is a transaction whose signature has been checked against its owner.
// Exactly one of Offer, Order, Settle is set.
type Verified struct {
	Type   TxType
	Signer common.Address
	Nonce  *big.Int

	Offer  *crypto.OfferEIP712
	Order  *crypto.OrderEIP712
	Settle *crypto.SettleEIP712
}

// Verifier handles transaction signature verification
type Verifier struct {
	eip712Signer *crypto.EIP712Signer
}

// NewVerifier creates a new transaction verifier
func NewVerifier(domain crypto.EIP712Domain) *Verifier {
	return &Verifier{eip712Signer: crypto.NewEIP712Signer(domain)}
}

// Verify dispatches on tx.Type and returns the verified instruction
func (v *Verifier) Verify(tx *SignedTransaction) (*Verified, error) {
	switch tx.Type {
	case TxTypeCreateOffer:
		return v.VerifyOfferTransaction(tx)
	case TxTypeCreateOrder:
		return v.VerifyOrderTransaction(tx)
	case TxTypeSettle:
		return v.VerifySettleTransaction(tx)
	default:
		return nil, fmt.Errorf("unknown transaction type: %s", tx.Type)
	}
}

// VerifyOfferTransaction verifies a signed create_offer transaction
func (v *Verifier) VerifyOfferTransaction(tx *SignedTransaction) (*Verified, error) {
	if tx.Type != TxTypeCreateOffer || tx.Offer == nil {
		return nil, fmt.Errorf("not a create_offer transaction")
	}
	offer, err := tx.Offer.ToEIP712()
	if err != nil {
		return nil, fmt.Errorf("invalid offer format: %w", err)
	}
	if err := v.check(offer, offer.Owner, tx.Signature); err != nil {
		return nil, err
	}
	return &Verified{Type: tx.Type, Signer: offer.Owner, Nonce: offer.Nonce, Offer: offer}, nil
}

// VerifyOrderTransaction verifies a signed create_order transaction
func (v *Verifier) VerifyOrderTransaction(tx *SignedTransaction) (*Verified, error) {
	if tx.Type != TxTypeCreateOrder || tx.Order == nil {
		return nil, fmt.Errorf("not a create_order transaction")
	}
	order, err := tx.Order.ToEIP712()
	if err != nil {
		return nil, fmt.Errorf("invalid order format: %w", err)
	}
	if err := v.check(order, order.Owner, tx.Signature); err != nil {
		return nil, err
	}
	return &Verified{Type: tx.Type, Signer: order.Owner, Nonce: order.Nonce, Order: order}, nil
}

// VerifySettleTransaction verifies a signed settle transaction
func (v *Verifier) VerifySettleTransaction(tx *SignedTransaction) (*Verified, error) {
	if tx.Type != TxTypeSettle || tx.Settle == nil {
		return nil, fmt.Errorf("not a settle transaction")
	}
	settle, err := tx.Settle.ToEIP712()
	if err != nil {
		return nil, fmt.Errorf("invalid settle format: %w", err)
	}
	if err := v.check(settle, settle.Owner, tx.Signature); err != nil {
		return nil, err
	}
	return &Verified{Type: tx.Type, Signer: settle.Owner, Nonce: settle.Nonce, Settle: settle}, nil
}

func (v *Verifier) check(m crypto.TypedMessage, owner common.Address, signature string) error {
	sigBytes, err := crypto.DecodeSignature(signature)
	if err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}
	recovered, err := v.eip712Signer.Recover(m, sigBytes)
	if err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	if recovered != owner {
		return fmt.Errorf("signature invalid: signed by %s, owner %s", recovered.Hex(), owner.Hex())
	}
	return nil
}

// Sign builds a signed envelope for m. Used by clients and tests.
func Sign(domain crypto.EIP712Domain, signer *crypto.Signer, m crypto.TypedMessage) (*SignedTransaction, error) {
	sig, err := crypto.NewEIP712Signer(domain).Sign(signer, m)
	if err != nil {
		return nil, err
	}
	tx := &SignedTransaction{Signature: crypto.EncodeSignature(sig)}
	switch msg := m.(type) {
	case *crypto.OfferEIP712:
		tx.Type, tx.Offer = TxTypeCreateOffer, FromEIP712Offer(msg)
	case *crypto.OrderEIP712:
		tx.Type, tx.Order = TxTypeCreateOrder, FromEIP712Order(msg)
	case *crypto.SettleEIP712:
		tx.Type, tx.Settle = TxTypeSettle, FromEIP712Settle(msg)
	default:
		return nil, fmt.Errorf("unsupported message %T", m)
	}
	return tx, nil
}
