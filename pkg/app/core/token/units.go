package token

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("invalid amount")

// Units converts whole tokens to base units: n * 10^decimals
func Units(n uint64, decimals uint8) (*uint256.Int, error) {
	if decimals > 77 {
		return nil, fmt.Errorf("%w: 10^%d does not fit 256 bits", ErrOverflow, decimals)
	}
	scale := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals)))
	out, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(n), scale)
	if overflow {
		return nil, fmt.Errorf("%w: %d tokens at %d decimals", ErrOverflow, n, decimals)
	}
	return out, nil
}

// ParseUnits parses a human amount like "1.5" into base units.
// More fractional digits than decimals is an error, not a rounding.
func ParseUnits(s string, decimals uint8) (*uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: negative amount %q", ErrInvalidAmount, s)
	}
	shifted := d.Shift(int32(decimals))
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidAmount, s, decimals)
	}
	out, overflow := uint256.FromBig(shifted.BigInt())
	if overflow {
		return nil, fmt.Errorf("%w: %q", ErrOverflow, s)
	}
	return out, nil
}

// FormatUnits renders base units as a human amount, trailing zeros trimmed
func FormatUnits(x *uint256.Int, decimals uint8) string {
	return ToDecimal(x, decimals).String()
}

// ToDecimal converts base units to a decimal number of whole tokens
func ToDecimal(x *uint256.Int, decimals uint8) decimal.Decimal {
	if x == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(x.ToBig(), -int32(decimals))
}
