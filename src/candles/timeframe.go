package candles

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// -----------------------------------------------------------------------------

// ParseTimeframe converts "1m", "5m", "1h", "4h", "1d" into a duration.
// Weeks and months are not bucketed on the epoch, so they are rejected.
func ParseTimeframe(tf string) (time.Duration, error) {
	tf = strings.ToLower(strings.TrimSpace(tf))
	if len(tf) < 2 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	var unit time.Duration
	switch tf[len(tf)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	default:
		return 0, fmt.Errorf("unsupported timeframe unit in %q", tf)
	}
	return time.Duration(n) * unit, nil
}

// -----------------------------------------------------------------------------

// TimeframeMillis is ParseTimeframe in milliseconds.
func TimeframeMillis(tf string) (int64, error) {
	d, err := ParseTimeframe(tf)
	if err != nil {
		return 0, err
	}
	return d.Milliseconds(), nil
}

// -----------------------------------------------------------------------------

// BucketStart aligns a unix-ms timestamp to the start of its bucket.
func BucketStart(ts, tfMs int64) int64 {
	if tfMs <= 0 {
		return ts
	}
	b := ts - ts%tfMs
	if ts < 0 && ts%tfMs != 0 {
		b -= tfMs
	}
	return b
}
