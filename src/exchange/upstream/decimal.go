package upstream

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// ParsePrice parses an exchange decimal string ("64123.10000000").
func ParsePrice(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("bad decimal %q: %w", s, err)
	}
	return d.InexactFloat64(), nil
}

// ParseField parses a JSON value that is either a decimal string or a number.
func ParseField(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return ParsePrice(s)
	}
	var d decimal.Decimal
	if err := json.Unmarshal(raw, &d); err != nil {
		return 0, fmt.Errorf("bad number %s: %w", raw, err)
	}
	return d.InexactFloat64(), nil
}

// ParseInt parses a JSON integer that may be quoted.
func ParseInt(raw json.RawMessage) (int64, error) {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("bad integer %s", raw)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("bad integer %q", s)
	}
	return d.IntPart(), nil
}
