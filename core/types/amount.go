package types

import (
	"errors"
	"math/big"
)

// Balances and asset amounts are unsigned 128-bit quantities. All arithmetic
// on them is checked: overflow and underflow surface as errors instead of
// wrapping.
var maxAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

var (
	// ErrAmountRange marks a value outside the unsigned 128-bit range.
	ErrAmountRange = errors.New("amount outside unsigned 128-bit range")
	// ErrAmountOverflow marks a checked addition that would exceed the range.
	ErrAmountOverflow = errors.New("amount addition overflows")
	// ErrAmountUnderflow marks a checked subtraction below zero.
	ErrAmountUnderflow = errors.New("amount subtraction underflows")
)

// ValidAmount reports whether x is a representable amount.
func ValidAmount(x *big.Int) bool {
	return x != nil && x.Sign() >= 0 && x.Cmp(maxAmount) <= 0
}

// CheckedAdd returns a+b or ErrAmountOverflow when the sum leaves the range.
func CheckedAdd(a, b *big.Int) (*big.Int, error) {
	if !ValidAmount(a) || !ValidAmount(b) {
		return nil, ErrAmountRange
	}
	sum := new(big.Int).Add(a, b)
	if sum.Cmp(maxAmount) > 0 {
		return nil, ErrAmountOverflow
	}
	return sum, nil
}

// CheckedSub returns a-b or ErrAmountUnderflow when b exceeds a.
func CheckedSub(a, b *big.Int) (*big.Int, error) {
	if !ValidAmount(a) || !ValidAmount(b) {
		return nil, ErrAmountRange
	}
	if a.Cmp(b) < 0 {
		return nil, ErrAmountUnderflow
	}
	return new(big.Int).Sub(a, b), nil
}
