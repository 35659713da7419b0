// Package core holds the budget-tracking domain: entities, validation, the
// aggregation configuration and math, and activity diffing. It depends on
// nothing outside the standard library so adapters stay one-way.
package core

import (
	"strconv"
	"strings"
	"unicode"
)

// ParseAmountToCentavos converts a decimal peso string to centavos with
// half-up rounding on the third decimal place. Both dot and comma decimal
// separators are accepted. Negative and signed values are rejected.
//
// Examples:
//
//	ParseAmountToCentavos("1250.50") -> 125050, nil
//	ParseAmountToCentavos("1250,505") -> 125051, nil (rounds up)
func ParseAmountToCentavos(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, ErrInvalidAmount
	}
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, ErrInvalidAmount
	}
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if intPart == "" {
		intPart = "0"
	}
	for _, r := range intPart {
		if !unicode.IsDigit(r) {
			return 0, ErrInvalidAmount
		}
	}
	for _, r := range fracPart {
		if !unicode.IsDigit(r) {
			return 0, ErrInvalidAmount
		}
	}
	iv, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	// Guard the *100 below.
	const maxSafe = (1<<63 - 1) / 100
	if iv > maxSafe {
		return 0, ErrInvalidAmount
	}
	var frac int64
	if len(fracPart) > 0 {
		frac = int64(fracPart[0]-'0') * 10
		if len(fracPart) > 1 {
			frac += int64(fracPart[1] - '0')
			if len(fracPart) > 2 && fracPart[2] >= '5' {
				frac++
			}
		}
	}
	return iv*100 + frac, nil
}

// Pesos returns the peso value as float64 for display. Use centavos for
// arithmetic.
func (m Money) Pesos() float64 {
	return float64(m.Centavos) / 100.0
}
