package postgres

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// parseNumeric converts a NUMERIC column value scanned as text into an
// exact decimal. Money never passes through float64.
func parseNumeric(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty numeric string")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return d, nil
}

// numericString renders a decimal for a NUMERIC column parameter.
func numericString(d decimal.Decimal) string {
	return d.String()
}
