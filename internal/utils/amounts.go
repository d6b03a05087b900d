package utils

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseBRAmount parses an amount with decimal comma and optional thousands
// dots, e.g. "1.234,56" or "-0,01".
func ParseBRAmount(value string) (decimal.Decimal, error) {
	normalized := strings.TrimSpace(value)
	normalized = strings.ReplaceAll(normalized, ".", "")
	normalized = strings.ReplaceAll(normalized, ",", ".")
	if normalized == "" {
		return decimal.Zero, nil
	}

	amount, err := decimal.NewFromString(normalized)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	return amount, nil
}

// FormatBRAmount renders d with two decimal places and a decimal comma,
// e.g. "1234,56". No thousands separator.
func FormatBRAmount(d decimal.Decimal) string {
	return strings.Replace(d.StringFixed(2), ".", ",", 1)
}
