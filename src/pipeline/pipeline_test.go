package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"market-stream/src/logger"
	"market-stream/src/models"
)

type recorder struct {
	mu     sync.Mutex
	frames []models.MFrame
}

func (r *recorder) Publish(key models.MSubscriptionKey, f models.MFrame) {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []models.MFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.MFrame(nil), r.frames...)
}

type sinkRecorder struct {
	mu      sync.Mutex
	records []models.MCandleRecord
}

func (s *sinkRecorder) Add(records ...models.MCandleRecord) {
	s.mu.Lock()
	s.records = append(s.records, records...)
	s.mu.Unlock()
}

func newTestStream(t *testing.T, pub *recorder, sink ClosedCandleSink) *Stream {
	t.Helper()
	key := models.NewSubscriptionKey("simulated", "BTC/USDT", "1m")
	s, err := NewStream(key, 50, 50, pub, sink, logger.NewLogger(nil, "test"))
	if err != nil {
		t.Fatalf("new stream: %v", err)
	}
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestStreamPublishesInSeqOrder(t *testing.T) {
	pub := &recorder{}
	sink := &sinkRecorder{}
	s := newTestStream(t, pub, sink)
	spec, _ := models.ParseIndicatorSpec("sma:2")
	if err := s.AddIndicator(spec); err != nil {
		t.Fatalf("add indicator: %v", err)
	}

	for i := int64(0); i < 4; i++ {
		s.Apply(models.MFeedEvent{Kind: models.FeedEventTick, Tick: models.MTick{Time: i * 60_000, Close: float64(100 + i)}})
	}

	frames := pub.snapshot()
	for i, f := range frames {
		if f.Seq != uint64(i+1) {
			t.Fatalf("frame %d has seq %d", i, f.Seq)
		}
	}
	if len(sink.records) != 3 {
		t.Fatalf("sealed candles sent to sink = %d, want 3", len(sink.records))
	}

	snap := s.Snapshot(nil)
	if snap.Seq != frames[len(frames)-1].Seq {
		t.Fatalf("snapshot seq %d, last frame %d", snap.Seq, frames[len(frames)-1].Seq)
	}
	if len(snap.Candles) != 4 || len(snap.Indicators["sma:2"]) != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if _, ok := snap.Provisional["sma:2"]; !ok {
		t.Fatal("expected provisional sma for in-progress candle")
	}
	select {
	case <-s.Ready():
	default:
		t.Fatal("stream not ready after candles")
	}
}

func TestPipelineKeepsPerKeyOrder(t *testing.T) {
	pub := &recorder{}
	s := newTestStream(t, pub, nil)
	p := New(4, 8, logger.NewLogger(nil, "test"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	const n = 500
	for i := 0; i < n; i++ {
		ev := models.MFeedEvent{Kind: models.FeedEventTick, Tick: models.MTick{Time: int64(i) * 1_000, Close: float64(i + 1)}}
		if err := p.Submit(ctx, s, ev); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	waitFor(t, func() bool {
		processed, _, _ := p.Stats()
		return processed == n
	})

	last, _ := s.store.Last()
	if last.Close != n {
		t.Fatalf("last close = %v, events applied out of order", last.Close)
	}
}

func TestSubmitAfterStop(t *testing.T) {
	p := New(1, 1, logger.NewLogger(nil, "test"))
	p.Start(context.Background())
	p.Stop()
	s := newTestStream(t, &recorder{}, nil)
	if err := p.Submit(context.Background(), s, models.MFeedEvent{}); err != ErrStopped {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}
