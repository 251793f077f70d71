package interfaces

import (
	"context"

	"market-stream/src/models"
)

// -----------------------------------------------------------------------------
// ICandleSink receives batches of closed candles.
// -----------------------------------------------------------------------------

type ICandleSink interface {
	WriteCandles(ctx context.Context, records []models.MCandleRecord) error
}

// -----------------------------------------------------------------------------
// ICandleRepository is the bounded candle journal used to warm-start feeds.
// -----------------------------------------------------------------------------

type ICandleRepository interface {
	ICandleSink

	// Initialize sets up the schema.
	Initialize() error

	// -----------------------------------------------------------------------------

	// LoadRecent returns up to limit most recent candles for key, oldest first.
	LoadRecent(ctx context.Context, key models.MSubscriptionKey, limit int) ([]models.MCandle, error)

	// -----------------------------------------------------------------------------

	// Trim keeps only the newest keep candles per key and returns rows removed.
	Trim(ctx context.Context, keep int) (int64, error)

	// -----------------------------------------------------------------------------

	Close() error
}
