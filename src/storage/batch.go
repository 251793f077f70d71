package storage

import (
	"context"
	"sync"
	"time"

	"market-stream/src/interfaces"
	"market-stream/src/logger"
	"market-stream/src/models"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 2 * time.Second
	maxPendingBatches    = 20
)

// -----------------------------------------------------------------------------
// BatchWriter buffers closed candles from the pipeline and flushes them to
// every sink by size or interval. Add never blocks the caller; when the
// sinks fall far behind the oldest records are discarded.
// -----------------------------------------------------------------------------

type BatchWriter struct {
	sinks    []interfaces.ICandleSink
	size     int
	interval time.Duration
	logger   *logger.Logger

	mu      sync.Mutex
	pending []models.MCandleRecord
	dropped int64
	written int64

	flush  chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// -----------------------------------------------------------------------------

func NewBatchWriter(size int, interval time.Duration, log *logger.Logger, sinks ...interfaces.ICandleSink) *BatchWriter {
	if size <= 0 {
		size = defaultBatchSize
	}
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	return &BatchWriter{
		sinks:    sinks,
		size:     size,
		interval: interval,
		logger:   log,
		flush:    make(chan struct{}, 1),
	}
}

// -----------------------------------------------------------------------------

func (b *BatchWriter) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	b.wg.Add(1)
	go b.loop(ctx)
}

// -----------------------------------------------------------------------------

// Stop ends the flush loop and writes whatever is still buffered using ctx.
func (b *BatchWriter) Stop(ctx context.Context) {
	if b.cancel != nil {
		b.cancel()
		b.wg.Wait()
	}
	b.flushPending(ctx)
}

// -----------------------------------------------------------------------------

func (b *BatchWriter) Add(records ...models.MCandleRecord) {
	if len(records) == 0 {
		return
	}

	b.mu.Lock()
	b.pending = append(b.pending, records...)
	if over := len(b.pending) - b.size*maxPendingBatches; over > 0 {
		b.pending = append(b.pending[:0], b.pending[over:]...)
		b.dropped += int64(over)
	}
	full := len(b.pending) >= b.size
	b.mu.Unlock()

	if full {
		select {
		case b.flush <- struct{}{}:
		default:
		}
	}
}

// -----------------------------------------------------------------------------

// Stats returns records written and records discarded so far.
func (b *BatchWriter) Stats() (written, dropped int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.written, b.dropped
}

// -----------------------------------------------------------------------------

func (b *BatchWriter) loop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.flushPending(ctx)
		case <-b.flush:
			b.flushPending(ctx)
		}
	}
}

// -----------------------------------------------------------------------------

func (b *BatchWriter) flushPending(ctx context.Context) {
	for {
		b.mu.Lock()
		n := min(len(b.pending), b.size)
		if n == 0 {
			b.mu.Unlock()
			return
		}
		batch := make([]models.MCandleRecord, n)
		copy(batch, b.pending[:n])
		b.pending = append(b.pending[:0], b.pending[n:]...)
		b.mu.Unlock()

		for _, sink := range b.sinks {
			if err := sink.WriteCandles(ctx, batch); err != nil {
				b.logger.Warning("Flushing %d candles failed: %v", len(batch), err)
			}
		}

		b.mu.Lock()
		b.written += int64(n)
		b.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
	}
}
