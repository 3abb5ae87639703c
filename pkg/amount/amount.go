// Package amount formats and parses escrow amounts in integer atomic units.
//
// One nominal coin is 10^12 atomic units, matching the fixed-point precision
// of the wallet-RPC daemons this coordinator drives.
package amount

import (
	"fmt"
	"math/big"
)

// Decimals is the fixed number of decimal places atomic units represent.
const Decimals = 12

// Format renders an amount in atomic units as a decimal string.
func Format(atomicUnits uint64) string {
	amountBig := new(big.Int).SetUint64(atomicUnits)
	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

	whole := new(big.Int).Div(amountBig, divisor)
	frac := new(big.Int).Mod(amountBig, divisor)

	if frac.Sign() == 0 {
		return whole.String()
	}

	fracStr := fmt.Sprintf("%0*d", Decimals, frac)
	for len(fracStr) > 0 && fracStr[len(fracStr)-1] == '0' {
		fracStr = fracStr[:len(fracStr)-1]
	}

	return fmt.Sprintf("%s.%s", whole.String(), fracStr)
}

// Parse converts a decimal string to atomic units. Rejects anything that
// does not round-trip through Format, overflows uint64, or is non-numeric.
func Parse(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty amount string")
	}

	var wholeStr, fracStr string
	found := false
	for i, c := range s {
		if c == '.' {
			wholeStr = s[:i]
			fracStr = s[i+1:]
			found = true
			break
		}
	}
	if !found {
		wholeStr = s
	}

	for _, c := range wholeStr {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid character in amount: %c", c)
		}
	}
	for _, c := range fracStr {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid character in amount: %c", c)
		}
	}

	for len(fracStr) < Decimals {
		fracStr += "0"
	}
	if len(fracStr) > Decimals {
		return 0, fmt.Errorf("amount has more than %d decimal places: %s", Decimals, s)
	}

	combined := wholeStr + fracStr
	val := new(big.Int)
	if _, ok := val.SetString(combined, 10); !ok {
		return 0, fmt.Errorf("invalid amount: %s", s)
	}
	if !val.IsUint64() {
		return 0, fmt.Errorf("amount overflow: %s", s)
	}

	return val.Uint64(), nil
}

// ValidateBoundary enforces the HTTP-boundary rule: zero and negative
// amounts are rejected. It takes an int64 because negative values cannot be
// represented by the uint64 atomic-unit type used internally.
func ValidateBoundary(raw int64) error {
	if raw <= 0 {
		return fmt.Errorf("amount must be positive, got %d", raw)
	}
	return nil
}
