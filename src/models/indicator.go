package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Indicator kinds understood by the engine.
const (
	IndicatorSMA       = "sma"
	IndicatorEMA       = "ema"
	IndicatorRSI       = "rsi"
	IndicatorBollinger = "bollinger"
	IndicatorMACD      = "macd"
)

// MIndicatorSpec is an indicator type plus its parameters, e.g. SMA(20).
type MIndicatorSpec struct {
	Kind       string  `json:"kind"`
	Period     int     `json:"period"`
	Multiplier float64 `json:"multiplier,omitempty"` // bollinger band width in stddevs
	Fast       int     `json:"fast,omitempty"`       // macd
	Slow       int     `json:"slow,omitempty"`       // macd
	Signal     int     `json:"signal,omitempty"`     // macd
}

// ID is the canonical textual form, also accepted by ParseIndicatorSpec.
func (s MIndicatorSpec) ID() string {
	switch s.Kind {
	case IndicatorBollinger:
		return fmt.Sprintf("%s:%d:%s", s.Kind, s.Period, strconv.FormatFloat(s.Multiplier, 'f', -1, 64))
	case IndicatorMACD:
		return fmt.Sprintf("%s:%d:%d:%d", s.Kind, s.Fast, s.Slow, s.Signal)
	default:
		return fmt.Sprintf("%s:%d", s.Kind, s.Period)
	}
}

// Lookback is the number of closed candles needed before a value exists.
func (s MIndicatorSpec) Lookback() int {
	switch s.Kind {
	case IndicatorRSI:
		return s.Period + 1
	case IndicatorMACD:
		return s.Slow + s.Signal - 1
	default:
		return s.Period
	}
}

// ParseIndicatorSpec parses "sma:20", "rsi", "bb:20:2", "macd:12:26:9".
// Missing parameters take the usual chart defaults.
func ParseIndicatorSpec(raw string) (MIndicatorSpec, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(raw)), ":")
	kind := parts[0]
	args := make([]float64, 0, len(parts)-1)
	for _, p := range parts[1:] {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return MIndicatorSpec{}, fmt.Errorf("indicator %q: bad parameter %q", raw, p)
		}
		args = append(args, v)
	}
	arg := func(i int, def float64) float64 {
		if i < len(args) {
			return args[i]
		}
		return def
	}

	switch kind {
	case "sma", "ma":
		return MIndicatorSpec{Kind: IndicatorSMA, Period: int(arg(0, 20))}, nil
	case "ema":
		return MIndicatorSpec{Kind: IndicatorEMA, Period: int(arg(0, 20))}, nil
	case "rsi":
		return MIndicatorSpec{Kind: IndicatorRSI, Period: int(arg(0, 14))}, nil
	case "bollinger", "bb", "bands":
		return MIndicatorSpec{Kind: IndicatorBollinger, Period: int(arg(0, 20)), Multiplier: arg(1, 2)}, nil
	case "macd":
		fast, slow, signal := int(arg(0, 12)), int(arg(1, 26)), int(arg(2, 9))
		return MIndicatorSpec{Kind: IndicatorMACD, Period: slow, Fast: fast, Slow: slow, Signal: signal}, nil
	case "":
		return MIndicatorSpec{}, fmt.Errorf("empty indicator")
	default:
		return MIndicatorSpec{}, fmt.Errorf("unknown indicator %q", kind)
	}
}

// ParseIndicatorList parses a list of specs, dropping duplicates.
func ParseIndicatorList(raw []string) ([]MIndicatorSpec, error) {
	seen := make(map[string]struct{}, len(raw))
	specs := make([]MIndicatorSpec, 0, len(raw))
	for _, r := range raw {
		if strings.TrimSpace(r) == "" {
			continue
		}
		spec, err := ParseIndicatorSpec(r)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[spec.ID()]; dup {
			continue
		}
		seen[spec.ID()] = struct{}{}
		specs = append(specs, spec)
	}
	return specs, nil
}

// -----------------------------------------------------------------------------

// MIndicatorPoint is one indicator value aligned to a candle.
// Value holds the main line (SMA/EMA/RSI, bollinger middle, macd line).
type MIndicatorPoint struct {
	Time        int64   `json:"time"`
	Value       float64 `json:"value"`
	Upper       float64 `json:"upper,omitempty"`
	Lower       float64 `json:"lower,omitempty"`
	Signal      float64 `json:"signal,omitempty"`
	Histogram   float64 `json:"histogram,omitempty"`
	Provisional bool    `json:"provisional,omitempty"`
}

// MIndicatorUpdate is the payload of an "indicator" frame.
type MIndicatorUpdate struct {
	ID    string          `json:"id"`
	Point MIndicatorPoint `json:"point"`
}
