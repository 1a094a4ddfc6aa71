package asset

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// MaxDecimals caps the unit exponent accepted by ParseUnits and FormatUnits.
const MaxDecimals = 77

// ParseUnits converts a human-unit value such as "0.1" into base units using
// decimals (18 for "0.1" ether yields 100000000000000000). The value must be
// non-negative and exactly representable in base units.
func ParseUnits(raw string, decimals int32) (Amount, error) {
	if decimals < 0 || decimals > MaxDecimals {
		return Amount{}, fmt.Errorf("decimals out of range: %d", decimals)
	}
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return Amount{}, fmt.Errorf("parse units %q: %w", raw, err)
	}
	if value.IsNegative() {
		return Amount{}, fmt.Errorf("parse units %q: value is negative", raw)
	}
	scaled := value.Shift(decimals)
	if !scaled.IsInteger() {
		return Amount{}, fmt.Errorf("parse units %q: more than %d fractional digits", raw, decimals)
	}
	out, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return Amount{}, fmt.Errorf("parse units %q: exceeds 256 bits", raw)
	}
	return *out, nil
}

// ParseUnitsList parses a comma-separated list of human-unit values.
func ParseUnitsList(raw string, decimals int32) ([]Amount, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]Amount, 0, len(parts))
	for _, part := range parts {
		amount, err := ParseUnits(part, decimals)
		if err != nil {
			return nil, err
		}
		out = append(out, amount)
	}
	return out, nil
}

// FormatUnits renders base units as a human-unit decimal string without
// trailing zeros.
func FormatUnits(amount *Amount, decimals int32) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount.ToBig(), -decimals).String()
}
