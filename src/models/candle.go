package models

import "time"

// MCandle represents an OHLCV bar for one timeframe bucket.
// OpenTime is the bucket start in unix milliseconds (UTC, aligned to the timeframe).
type MCandle struct {
	OpenTime   int64   `json:"time"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	Volume     float64 `json:"volume"`
	Closed     bool    `json:"closed"`
	Backfilled bool    `json:"backfilled,omitempty"` // fetched over REST to repair a gap
}

// Time returns the bucket start as a UTC time.
func (c MCandle) Time() time.Time {
	return time.UnixMilli(c.OpenTime).UTC()
}

// Normalize widens High/Low so that they bound Open and Close.
func (c *MCandle) Normalize() {
	c.High = max(c.High, c.Open, c.Close)
	if c.Low <= 0 {
		c.Low = min(c.Open, c.Close)
	} else {
		c.Low = min(c.Low, c.Open, c.Close)
	}
}

// -----------------------------------------------------------------------------

// MTick is a normalized upstream update for the bucket containing Time.
// Volume is cumulative for the bucket; Open is zero when the exchange does not report it.
type MTick struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open,omitempty"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
	Final  bool    `json:"final,omitempty"`
}

// MCandleRecord pairs a closed candle with the stream it belongs to.
type MCandleRecord struct {
	Key    MSubscriptionKey `json:"key"`
	Candle MCandle          `json:"candle"`
}
