package escrow

import (
	"errors"

	"github.com/uhyunpark/exchangemarket/pkg/ledger"
)

var (
	ErrOverflow      = errors.New("arithmetic overflow")
	ErrTermsUnmet    = errors.New("not enough balance: order terms do not match offer")
	ErrNotOwner      = errors.New("caller is not the order owner")
	ErrOfferMismatch = errors.New("order does not reference the presented offer")
	ErrInvalidState  = errors.New("invalid state")
	ErrInvalidAsset  = errors.New("invalid asset")

	// Collaborator errors, re-exported so callers only import escrow.
	ErrInvalidAmount       = ledger.ErrInvalidAmount
	ErrInsufficientFunds   = ledger.ErrInsufficientFunds
	ErrWrongAsset          = ledger.ErrWrongAsset
	ErrAuthorizationDenied = ledger.ErrAuthorizationDenied
	ErrNotFound            = ledger.ErrNotFound
	ErrDuplicate           = ledger.ErrEntryExists
)

// Error codes stored in receipts and returned by the API.
const (
	CodeOK                  = "ok"
	CodeOverflow            = "overflow"
	CodeTermsUnmet          = "terms_unmet"
	CodeInsufficientFunds   = "insufficient_funds"
	CodeWrongAsset          = "wrong_asset"
	CodeAuthorizationDenied = "authorization_denied"
	CodeNotOwner            = "not_owner"
	CodeOfferMismatch       = "offer_mismatch"
	CodeInvalidState        = "invalid_state"
	CodeInvalidAmount       = "invalid_amount"
	CodeInvalidAsset        = "invalid_asset"
	CodeNotFound            = "not_found"
	CodeDuplicate           = "duplicate"
	CodeInternal            = "internal"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrOverflow, CodeOverflow},
	{ErrTermsUnmet, CodeTermsUnmet},
	{ErrNotOwner, CodeNotOwner},
	{ErrOfferMismatch, CodeOfferMismatch},
	{ErrInvalidState, CodeInvalidState},
	{ErrInvalidAsset, CodeInvalidAsset},
	{ErrInvalidAmount, CodeInvalidAmount},
	{ErrInsufficientFunds, CodeInsufficientFunds},
	{ErrWrongAsset, CodeWrongAsset},
	{ErrAuthorizationDenied, CodeAuthorizationDenied},
	{ErrNotFound, CodeNotFound},
	{ErrDuplicate, CodeDuplicate},
	{ledger.ErrBalanceOverflow, CodeOverflow},
}

// Code maps err to a stable string code. nil maps to CodeOK and unknown errors to CodeInternal.
func Code(err error) string {
	if err == nil {
		return CodeOK
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}
