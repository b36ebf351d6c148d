// Package fixedpoint converts between human decimal strings and integer
// base-unit amounts at a configurable precision. All arithmetic uses
// math/big: monetary amounts routinely exceed 53 bits.
package fixedpoint

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// ErrInvalidAmount indicates a decimal string that cannot be parsed.
var ErrInvalidAmount = errors.New("fixedpoint: invalid amount")

// Parse converts a decimal string into integer base units at the given
// precision. Both "." and "," are accepted as the decimal separator. A
// missing integer part is treated as zero; excess fractional digits are
// truncated, not rounded.
func Parse(input string, decimals int) (*big.Int, error) {
	if decimals < 0 {
		return nil, fmt.Errorf("%w: negative precision %d", ErrInvalidAmount, decimals)
	}
	s := strings.TrimSpace(input)
	if s == "" {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidAmount)
	}
	s = strings.ReplaceAll(s, ",", ".")

	// The sign is handled before splitting: big.Int.SetString drops it on
	// "-0", which would flip a negative fractional amount positive.
	neg := strings.HasPrefix(s, "-")
	if neg || strings.HasPrefix(s, "+") {
		s = s[1:]
	}
	if strings.Count(s, ".") > 1 || strings.ContainsAny(s, "+-") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, input)
	}

	intPart, fracPart, _ := strings.Cut(s, ".")
	if intPart == "" && fracPart == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, input)
	}
	if intPart == "" {
		intPart = "0"
	}

	whole, ok := new(big.Int).SetString(intPart, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, input)
	}

	// Right-pad the fraction to full precision, then truncate.
	if len(fracPart) < decimals {
		fracPart += strings.Repeat("0", decimals-len(fracPart))
	} else {
		fracPart = fracPart[:decimals]
	}

	scale := pow10(decimals)
	whole.Mul(whole, scale)
	if fracPart != "" {
		frac, ok := new(big.Int).SetString(fracPart, 10)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, input)
		}
		whole.Add(whole, frac)
	}
	if neg {
		whole.Neg(whole)
	}
	return whole, nil
}

// ParseUint64 is Parse constrained to amounts that fit the wire's u64
// scalar encoding.
func ParseUint64(input string, decimals int) (uint64, error) {
	v, err := Parse(input, decimals)
	if err != nil {
		return 0, err
	}
	if v.Sign() < 0 || !v.IsUint64() {
		return 0, fmt.Errorf("%w: %q out of u64 range", ErrInvalidAmount, input)
	}
	return v.Uint64(), nil
}

// Format renders integer base units as a decimal string at the given
// precision. Format and Parse round-trip: Parse(Format(x, d), d) == x for
// every nonnegative x.
func Format(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	if decimals <= 0 {
		return amount.String()
	}
	v := new(big.Int).Abs(amount)
	quo, rem := new(big.Int).QuoRem(v, pow10(decimals), new(big.Int))
	sign := ""
	if amount.Sign() < 0 {
		sign = "-"
	}
	return fmt.Sprintf("%s%s.%0*s", sign, quo.String(), decimals, rem.String())
}

// FormatUint64 is Format for wire-scalar amounts.
func FormatUint64(amount uint64, decimals int) string {
	return Format(new(big.Int).SetUint64(amount), decimals)
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
