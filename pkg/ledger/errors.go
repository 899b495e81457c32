package ledger

import "errors"

var (
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrWrongAsset          = errors.New("wrong asset")
	ErrAuthorizationDenied = errors.New("authorization denied")
	ErrBalanceOverflow     = errors.New("balance overflow")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrEntryExists         = errors.New("entry already exists")
	ErrNotFound            = errors.New("not found")
	ErrReadOnly            = errors.New("read-only unit of work")
)
