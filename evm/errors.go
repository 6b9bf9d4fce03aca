package evm

import "errors"

var (
	// ErrInsufficientBalance aborts a dispatch before execution when the
	// caller cannot cover the transferred value plus the fee upper bound.
	ErrInsufficientBalance = errors.New("evm: insufficient balance")
	// ErrNonceMismatch rejects a dispatch whose declared nonce does not
	// match the caller's account nonce.
	ErrNonceMismatch = errors.New("evm: nonce mismatch")
	// ErrValueOverflow rejects amounts outside the unsigned 256-bit range
	// the virtual machine operates on.
	ErrValueOverflow = errors.New("evm: value out of range")
	// ErrInvalidAddress rejects byte strings that do not map onto a
	// 160-bit machine address.
	ErrInvalidAddress = errors.New("evm: invalid address")
)
