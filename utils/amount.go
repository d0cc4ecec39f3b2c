// Package utils holds small conversion and validation helpers shared by
// the safepay packages and their callers.
package utils

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ParseAtomicAmount parses a decimal-string integer amount (the only
// form amounts cross the package boundary in) into a big.Int. Floats
// and negatives are rejected.
func ParseAtomicAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer amount %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("amount cannot be negative")
	}
	return v, nil
}

// ToDisplayAmount converts an atomic-unit amount into a human decimal
// using the token's decimals, e.g. 1500000 with 6 decimals → "1.5".
func ToDisplayAmount(atomic *big.Int, decimals int) string {
	return decimal.NewFromBigInt(atomic, -int32(decimals)).String()
}

// FromDisplayAmount converts a human decimal amount into atomic units.
// Amounts with more fractional digits than the token carries are
// rejected rather than rounded.
func FromDisplayAmount(display string, decimals int) (*big.Int, error) {
	d, err := decimal.NewFromString(display)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", display, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount cannot be negative")
	}

	atomic := d.Shift(int32(decimals))
	if !atomic.IsInteger() {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", display, decimals)
	}
	return atomic.BigInt(), nil
}
