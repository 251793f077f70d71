package models

import (
	"fmt"
	"strings"
)

// MSubscriptionKey identifies one upstream feed and its rolling buffer.
// It is comparable and used directly as a map key.
type MSubscriptionKey struct {
	Exchange  string `json:"exchange"`
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
}

// NewSubscriptionKey normalizes the three fields so that
// "BTC/USDT", "btc-usdt" and "btcusdt" map to the same key.
func NewSubscriptionKey(exchange, symbol, timeframe string) MSubscriptionKey {
	return MSubscriptionKey{
		Exchange:  strings.ToLower(strings.TrimSpace(exchange)),
		Symbol:    NormalizeSymbol(symbol),
		Timeframe: strings.ToLower(strings.TrimSpace(timeframe)),
	}
}

// NormalizeSymbol upper-cases a symbol and strips pair separators.
func NormalizeSymbol(symbol string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '-', '_', ':', ' ', '.':
			return -1
		}
		if r >= 'a' && r <= 'z' {
			return r - 'a' + 'A'
		}
		return r
	}, symbol)
}

func (k MSubscriptionKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Exchange, k.Symbol, k.Timeframe)
}

// IsZero reports whether any field is missing.
func (k MSubscriptionKey) IsZero() bool {
	return k.Exchange == "" || k.Symbol == "" || k.Timeframe == ""
}

// -----------------------------------------------------------------------------

// MSubscribeAck is returned to a client after a successful subscribe.
type MSubscribeAck struct {
	Key        MSubscriptionKey `json:"key"`
	Indicators []string         `json:"indicators"`
	RefCount   int              `json:"ref_count"`
	Seq        uint64           `json:"seq"`
	State      string           `json:"state"`
}
