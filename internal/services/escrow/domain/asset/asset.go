// Package asset defines the asset reference used as the key for all per-asset
// escrow state, plus unit conversion helpers.
package asset

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Amount is an unsigned 256-bit quantity in the asset's base unit.
type Amount = uint256.Int

// NativeSymbol is the display name of the native currency.
const NativeSymbol = "native"

// Asset distinguishes the native currency from a specific fungible-token
// contract. The zero token address is the native currency.
//
// Asset is comparable and safe to use as a map key.
type Asset struct {
	Token common.Address
}

// Native returns the native currency reference.
func Native() Asset {
	return Asset{}
}

// Fungible returns a reference to the token contract at addr.
func Fungible(addr common.Address) Asset {
	return Asset{Token: addr}
}

// IsNative reports whether a refers to the native currency.
func (a Asset) IsNative() bool {
	return a.Token == (common.Address{})
}

// String returns "native" or the checksummed token address.
func (a Asset) String() string {
	if a.IsNative() {
		return NativeSymbol
	}
	return a.Token.Hex()
}

// Parse accepts "native", an empty string, or a hex token address.
func Parse(raw string) (Asset, error) {
	value := strings.TrimSpace(raw)
	if value == "" || strings.EqualFold(value, NativeSymbol) {
		return Native(), nil
	}
	if !strings.HasPrefix(value, "0x") && !strings.HasPrefix(value, "0X") {
		value = "0x" + value
	}
	if !common.IsHexAddress(value) {
		return Asset{}, fmt.Errorf("invalid asset address: %q", raw)
	}
	return Fungible(common.HexToAddress(value)), nil
}

// NewAmount returns an Amount holding v.
func NewAmount(v uint64) Amount {
	return *uint256.NewInt(v)
}

// ParseAmount parses a base-10 or 0x-prefixed base-16 amount string.
func ParseAmount(raw string) (Amount, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return Amount{}, fmt.Errorf("amount is required")
	}
	var (
		parsed *uint256.Int
		err    error
	)
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		parsed, err = uint256.FromHex(value)
	} else {
		parsed, err = uint256.FromDecimal(value)
	}
	if err != nil {
		return Amount{}, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	return *parsed, nil
}
