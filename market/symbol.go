package market

import (
	"fmt"
	"strings"
)

// NormalizeSymbol trims and upper-cases a ticker such as "btc/usd".
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// ValidateSymbol rejects empty symbols and symbols carrying whitespace.
func ValidateSymbol(s string) error {
	if s == "" {
		return fmt.Errorf("symbol is required")
	}
	if strings.ContainsAny(s, " \t\r\n") {
		return fmt.Errorf("symbol %q contains whitespace", s)
	}
	return nil
}
