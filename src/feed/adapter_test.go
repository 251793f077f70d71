package feed

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"market-stream/src/helpers"
	"market-stream/src/interfaces"
	"market-stream/src/logger"
	"market-stream/src/models"
)

const minute = int64(60_000)

func init() {
	logger.SetOutput(io.Discard)
}

// -----------------------------------------------------------------------------

type fakeConn struct {
	ticks  chan []models.MTick
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	pings  int
	onPong func()
	pong   bool
}

func newFakeConn(pong bool) *fakeConn {
	return &fakeConn{ticks: make(chan []models.MTick, 16), closed: make(chan struct{}), pong: pong}
}

func (c *fakeConn) Read() ([]models.MTick, error) {
	select {
	case t := <-c.ticks:
		if t == nil {
			return nil, helpers.NewProtocolError(nil, "garbage")
		}
		return t, nil
	case <-c.closed:
		return nil, helpers.NewConnectionError(nil, "closed")
	}
}

func (c *fakeConn) Ping() error {
	c.mu.Lock()
	c.pings++
	fn, pong := c.onPong, c.pong
	c.mu.Unlock()
	if pong && fn != nil {
		fn()
	}
	return nil
}

func (c *fakeConn) OnPong(fn func()) {
	c.mu.Lock()
	c.onPong = fn
	c.mu.Unlock()
}

func (c *fakeConn) SetReadDeadline(int64) error { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// -----------------------------------------------------------------------------

type fetchCall struct {
	start, end int64
	limit      int
}

type fakeExchange struct {
	mu      sync.Mutex
	conns   []*fakeConn
	dials   int
	calls   []fetchCall
	history []models.MCandle
	fail    error
	pong    bool
}

func (e *fakeExchange) Name() string { return "fake" }

func (e *fakeExchange) Dial(ctx context.Context, key models.MSubscriptionKey) (interfaces.IUpstreamConn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dials++
	c := newFakeConn(e.pong)
	e.conns = append(e.conns, c)
	return c, nil
}

func (e *fakeExchange) FetchCandles(ctx context.Context, key models.MSubscriptionKey, start, end int64, limit int) ([]models.MCandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, fetchCall{start, end, limit})
	if e.fail != nil {
		return nil, e.fail
	}
	var out []models.MCandle
	for _, c := range e.history {
		if c.OpenTime < start || (end > 0 && c.OpenTime > end) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (e *fakeExchange) conn(i int) *fakeConn {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i >= len(e.conns) {
		return nil
	}
	return e.conns[i]
}

func (e *fakeExchange) fetches() []fetchCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]fetchCall(nil), e.calls...)
}

func (e *fakeExchange) dialCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dials
}

// -----------------------------------------------------------------------------

type recorder struct {
	mu     sync.Mutex
	events []models.MFeedEvent
}

func (r *recorder) sink(ctx context.Context, ev models.MFeedEvent) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recorder) snapshot() []models.MFeedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.MFeedEvent(nil), r.events...)
}

func (r *recorder) statuses() []string {
	var out []string
	for _, ev := range r.snapshot() {
		if ev.Kind == models.FeedEventStatus {
			out = append(out, ev.Status.State)
		}
	}
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func testConfig() models.MFeedConfig {
	return models.MFeedConfig{
		BufferCapacity:           50,
		HeartbeatIntervalMs:      0,
		MissedHeartbeats:         3,
		BackoffInitialMs:         5,
		BackoffMaxMs:             20,
		BackoffResetMs:           30_000,
		BackfillFailureThreshold: 3,
	}
}

func closedHistory(from int64, n int) []models.MCandle {
	out := make([]models.MCandle, n)
	for i := range out {
		p := 100 + float64(i)
		out[i] = models.MCandle{OpenTime: from + int64(i)*minute, Open: p, High: p + 1, Low: p - 1, Close: p, Volume: 1, Closed: true}
	}
	return out
}

func newTestAdapter(t *testing.T, ex *fakeExchange, cfg models.MFeedConfig) (*Adapter, *recorder) {
	t.Helper()
	rec := &recorder{}
	key := models.NewSubscriptionKey("fake", "BTCUSDT", "1m")
	a, err := New(key, ex, cfg, rec.sink, logger.NewLogger(nil, "test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(a.Stop)
	return a, rec
}

// -----------------------------------------------------------------------------

func TestAdapterBackfillsBeforeStreaming(t *testing.T) {
	base := int64(1_700_000_000_000) / minute * minute
	ex := &fakeExchange{history: closedHistory(base, 10)}
	a, rec := newTestAdapter(t, ex, testConfig())

	a.Start(context.Background())
	waitFor(t, time.Second, func() bool {
		s, _, _ := a.State()
		return s == models.StateStreaming
	})

	ex.conn(0).ticks <- []models.MTick{{Time: base + 10*minute + 5, Close: 111, High: 111, Low: 111, Volume: 1}}
	waitFor(t, time.Second, func() bool { return len(rec.snapshot()) >= 5 })

	events := rec.snapshot()
	want := []models.MFeedEventKind{models.FeedEventStatus, models.FeedEventStatus, models.FeedEventCandles, models.FeedEventStatus, models.FeedEventTick}
	for i, k := range want {
		if events[i].Kind != k {
			t.Fatalf("event %d kind = %v, want %v", i, events[i].Kind, k)
		}
	}
	if got := rec.statuses(); got[0] != models.StateConnecting || got[1] != models.StateBackfilling || got[2] != models.StateStreaming {
		t.Fatalf("statuses = %v", got)
	}
	if len(events[2].Candles) != 10 || events[2].Candles[0].Backfilled {
		t.Fatalf("initial history = %d candles, backfilled=%v", len(events[2].Candles), events[2].Candles[0].Backfilled)
	}
	if calls := ex.fetches(); calls[0].start != 0 || calls[0].limit != 50 {
		t.Fatalf("initial fetch = %+v", calls[0])
	}
}

// -----------------------------------------------------------------------------

func TestAdapterFillsGapBeforeTick(t *testing.T) {
	base := int64(1_700_000_000_000) / minute * minute
	ex := &fakeExchange{history: closedHistory(base, 20)}
	a, rec := newTestAdapter(t, ex, testConfig())

	// Serve five candles at start so the last known bucket is base+4m.
	ex.mu.Lock()
	full := ex.history
	ex.history = full[:5]
	ex.mu.Unlock()

	a.Start(context.Background())
	waitFor(t, time.Second, func() bool {
		s, _, _ := a.State()
		return s == models.StateStreaming
	})

	ex.mu.Lock()
	ex.history = full
	ex.mu.Unlock()

	ex.conn(0).ticks <- []models.MTick{{Time: base + 9*minute, Close: 109, High: 109, Low: 109, Volume: 1}}
	waitFor(t, time.Second, func() bool {
		ev := rec.snapshot()
		return ev[len(ev)-1].Kind == models.FeedEventTick
	})

	events := rec.snapshot()
	gap := events[len(events)-2]
	if gap.Kind != models.FeedEventCandles {
		t.Fatalf("expected backfilled candles before the tick, got kind %v", gap.Kind)
	}
	if len(gap.Candles) != 4 || gap.Candles[0].OpenTime != base+5*minute || gap.Candles[3].OpenTime != base+8*minute {
		t.Fatalf("gap candles = %+v", gap.Candles)
	}
	for _, c := range gap.Candles {
		if !c.Backfilled {
			t.Fatal("gap candles must be marked backfilled")
		}
	}
}

// -----------------------------------------------------------------------------

func TestAdapterGapFailureDegrades(t *testing.T) {
	base := int64(1_700_000_000_000) / minute * minute
	ex := &fakeExchange{history: closedHistory(base, 3)}
	a, rec := newTestAdapter(t, ex, testConfig())

	a.Start(context.Background())
	waitFor(t, time.Second, func() bool {
		s, _, _ := a.State()
		return s == models.StateStreaming
	})

	ex.mu.Lock()
	ex.fail = errors.New("rest down")
	ex.mu.Unlock()

	ex.conn(0).ticks <- []models.MTick{{Time: base + 10*minute, Close: 1, High: 1, Low: 1}}
	waitFor(t, time.Second, func() bool {
		_, degraded, _ := a.State()
		return degraded
	})

	state, _, _ := a.State()
	if state != models.StateStreaming {
		t.Fatalf("gap failure must keep streaming, state = %s", state)
	}
	waitFor(t, time.Second, func() bool {
		ev := rec.snapshot()
		return ev[len(ev)-1].Kind == models.FeedEventTick
	})
}

// -----------------------------------------------------------------------------

func TestAdapterReconnectBackfillsSinceLastBucket(t *testing.T) {
	base := time.Now().UnixMilli()/minute*minute - 10*minute
	ex := &fakeExchange{history: closedHistory(base, 5)}
	a, _ := newTestAdapter(t, ex, testConfig())

	a.Start(context.Background())
	waitFor(t, time.Second, func() bool {
		s, _, _ := a.State()
		return s == models.StateStreaming
	})

	a.Restart()
	waitFor(t, time.Second, func() bool { return ex.dialCount() >= 2 && len(ex.fetches()) >= 2 })

	if got := ex.fetches()[1].start; got != base+4*minute {
		t.Fatalf("reconnect backfill start = %d, want %d", got, base+4*minute)
	}
	waitFor(t, time.Second, func() bool { return a.Reconnects() == 1 })
}

// -----------------------------------------------------------------------------

func TestAdapterMissedHeartbeatsReconnect(t *testing.T) {
	base := int64(1_700_000_000_000) / minute * minute
	ex := &fakeExchange{history: closedHistory(base, 3)}
	cfg := testConfig()
	cfg.HeartbeatIntervalMs = 5
	a, _ := newTestAdapter(t, ex, cfg)

	a.Start(context.Background())
	waitFor(t, 2*time.Second, func() bool { return ex.dialCount() >= 2 })

	first := ex.conn(0)
	first.mu.Lock()
	pings := first.pings
	first.mu.Unlock()
	if pings != 3 {
		t.Fatalf("pings before drop = %d, want 3", pings)
	}
}

func TestAdapterAnsweredHeartbeatsKeepConnection(t *testing.T) {
	base := int64(1_700_000_000_000) / minute * minute
	ex := &fakeExchange{history: closedHistory(base, 3), pong: true}
	cfg := testConfig()
	cfg.HeartbeatIntervalMs = 5
	a, _ := newTestAdapter(t, ex, cfg)

	a.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	if n := ex.dialCount(); n != 1 {
		t.Fatalf("dials = %d, want 1", n)
	}
}

// -----------------------------------------------------------------------------

func TestAdapterBackfillThresholdDegrades(t *testing.T) {
	ex := &fakeExchange{fail: errors.New("rest down")}
	a, _ := newTestAdapter(t, ex, testConfig())

	a.Start(context.Background())
	waitFor(t, 2*time.Second, func() bool {
		s, degraded, _ := a.State()
		return s == models.StateStreaming && degraded
	})
	if n := len(ex.fetches()); n != 3 {
		t.Fatalf("fetches before degrading = %d, want 3", n)
	}
}

// -----------------------------------------------------------------------------

func TestAdapterDropsMalformedMessages(t *testing.T) {
	base := int64(1_700_000_000_000) / minute * minute
	ex := &fakeExchange{history: closedHistory(base, 3)}
	a, rec := newTestAdapter(t, ex, testConfig())

	a.Start(context.Background())
	waitFor(t, time.Second, func() bool {
		s, _, _ := a.State()
		return s == models.StateStreaming
	})

	ex.conn(0).ticks <- nil
	ex.conn(0).ticks <- []models.MTick{{Time: base + 3*minute, Close: 5, High: 5, Low: 5}}
	waitFor(t, time.Second, func() bool {
		ev := rec.snapshot()
		return ev[len(ev)-1].Kind == models.FeedEventTick
	})
	if ex.dialCount() != 1 {
		t.Fatal("a malformed message must not drop the connection")
	}
}

// -----------------------------------------------------------------------------

func TestAdapterStopIsIdempotent(t *testing.T) {
	ex := &fakeExchange{history: closedHistory(60_000, 2)}
	a, _ := newTestAdapter(t, ex, testConfig())

	a.Stop() // before Start
	a.Start(context.Background())
	a.Stop()

	if n := ex.dialCount(); n != 0 {
		t.Fatalf("Start after Stop dialed %d times", n)
	}

	b, _ := newTestAdapter(t, ex, testConfig())
	b.Start(context.Background())
	waitFor(t, time.Second, func() bool { return ex.dialCount() == 1 })
	b.Stop()
	b.Stop()
	if s, _, _ := b.State(); s != models.StateDisconnected {
		t.Fatalf("state after Stop = %s", s)
	}
}
