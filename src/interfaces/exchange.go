package interfaces

import (
	"context"

	"market-stream/src/models"
)

// -----------------------------------------------------------------------------
// IExchange is one upstream venue: a streaming kline socket plus REST history.
// -----------------------------------------------------------------------------

type IExchange interface {

	// Name returns the configured exchange identifier (e.g. "binance").
	Name() string

	// -----------------------------------------------------------------------------

	// Dial opens a kline stream for key. The returned connection is already
	// subscribed; the caller owns it and must Close it.
	Dial(ctx context.Context, key models.MSubscriptionKey) (IUpstreamConn, error)

	// -----------------------------------------------------------------------------

	// FetchCandles returns closed candles with OpenTime in [start, end],
	// oldest first, at most limit. start == 0 means "the most recent limit".
	FetchCandles(ctx context.Context, key models.MSubscriptionKey, start, end int64, limit int) ([]models.MCandle, error)
}

// -----------------------------------------------------------------------------
// IUpstreamConn is a live exchange stream for one key.
// -----------------------------------------------------------------------------

type IUpstreamConn interface {

	// Read blocks for the next message and returns the ticks it carried.
	// Control messages yield no ticks. Malformed input yields a ProtocolError
	// and the connection stays usable; any other error means the stream is dead.
	Read() ([]models.MTick, error)

	// -----------------------------------------------------------------------------

	// Ping sends the exchange-specific heartbeat.
	Ping() error

	// -----------------------------------------------------------------------------

	// OnPong registers a callback fired for every heartbeat answer.
	OnPong(fn func())

	// -----------------------------------------------------------------------------

	// SetReadDeadline bounds the next Read.
	SetReadDeadline(unixMilli int64) error

	// -----------------------------------------------------------------------------

	Close() error
}
