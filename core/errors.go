package core

import "errors"

var (
	// ErrSenderNotFound is returned when a debit references an address with no
	// account state.
	ErrSenderNotFound = errors.New("sender account not found")
	// ErrInsufficientBalance is returned when a debit exceeds the spendable
	// balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrBalanceOverflow is returned when a credit would push a balance past
	// the unsigned 128-bit range.
	ErrBalanceOverflow = errors.New("balance overflow")
	// ErrInvalidAmount is returned for nil, negative or out-of-range amounts.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrWrongChain is returned when a transaction targets another chain id.
	ErrWrongChain = errors.New("transaction chain id mismatch")
	// ErrNonceMismatch is returned when a transaction's nonce does not match
	// the sender account. The rejection consumes nothing.
	ErrNonceMismatch = errors.New("transaction nonce mismatch")
	// ErrInsufficientReserved is returned when an unstake exceeds the locked
	// deposit.
	ErrInsufficientReserved = errors.New("insufficient reserved balance")
)
