package feed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"market-stream/src/candles"
	"market-stream/src/helpers"
	"market-stream/src/interfaces"
	"market-stream/src/logger"
	"market-stream/src/models"
	"market-stream/src/utils"
)

// Sink receives normalized feed events in order. A non-nil error stops the
// adapter's current connection.
type Sink func(ctx context.Context, ev models.MFeedEvent) error

// -----------------------------------------------------------------------------
// Adapter keeps one upstream kline stream alive for a subscription key.
//
// States: disconnected -> connecting -> backfilling -> streaming, and back to
// disconnected on any connection failure. Every (re)connect backfills history
// over REST before live ticks are forwarded, so consumers see an ordered,
// gap-checked sequence of candles and ticks.
// -----------------------------------------------------------------------------

type Adapter struct {
	// Repository is the optional candle journal used for warm start.
	Repository interfaces.ICandleRepository
	// Calendar suppresses backfill of gaps the venue was closed for.
	Calendar *utils.SessionCalendar

	key      models.MSubscriptionKey
	exchange interfaces.IExchange
	cfg      models.MFeedConfig
	sink     Sink
	logger   *logger.Logger
	tfMs     int64

	mu       sync.Mutex
	state    string
	degraded bool
	reason   string
	conn     interfaces.IUpstreamConn

	// Owned by the run goroutine.
	lastBucket       int64
	backfillFailures int

	reconnects  atomic.Int64
	lastMessage atomic.Int64

	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// -----------------------------------------------------------------------------

func New(key models.MSubscriptionKey, ex interfaces.IExchange, cfg models.MFeedConfig, sink Sink, log *logger.Logger) (*Adapter, error) {
	tfMs, err := candles.TimeframeMillis(key.Timeframe)
	if err != nil {
		return nil, helpers.NewConfigurationError("%v", err)
	}
	return &Adapter{
		key:      key,
		exchange: ex,
		cfg:      cfg,
		sink:     sink,
		logger:   log.With("key", key.String()),
		tfMs:     tfMs,
		state:    models.StateDisconnected,
		done:     make(chan struct{}),
	}, nil
}

// -----------------------------------------------------------------------------

// Start launches the adapter goroutine. Calling it again is a no-op.
func (a *Adapter) Start(ctx context.Context) {
	a.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		a.mu.Lock()
		a.cancel = cancel
		a.mu.Unlock()
		go a.run(ctx)
	})
}

// -----------------------------------------------------------------------------

// Stop closes the upstream connection and waits for the adapter to exit.
// Safe to call more than once and before Start.
func (a *Adapter) Stop() {
	a.stopOnce.Do(func() {
		started := true
		a.startOnce.Do(func() { started = false })

		a.mu.Lock()
		cancel, conn := a.cancel, a.conn
		a.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if conn != nil {
			conn.Close()
		}
		if started {
			<-a.done
		}
	})
}

// -----------------------------------------------------------------------------

// Restart drops the current connection; the adapter reconnects and backfills.
func (a *Adapter) Restart() {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn != nil {
		a.logger.Info("Restart requested, closing upstream connection")
		conn.Close()
	}
}

// -----------------------------------------------------------------------------

func (a *Adapter) Key() models.MSubscriptionKey { return a.key }

// State returns the current state, degraded flag and reason.
func (a *Adapter) State() (string, bool, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state, a.degraded, a.reason
}

func (a *Adapter) Reconnects() int64 { return a.reconnects.Load() }

// LastMessage is the unix-ms time of the last upstream message, 0 if none.
func (a *Adapter) LastMessage() int64 { return a.lastMessage.Load() }

// -----------------------------------------------------------------------------

func (a *Adapter) run(ctx context.Context) {
	defer close(a.done)
	defer a.setConn(nil)

	backoff := helpers.NewBackoff(a.cfg.BackoffInitial(), a.cfg.BackoffMax(), a.cfg.BackoffJitter)
	for ctx.Err() == nil {
		started, err := a.session(ctx)
		if ctx.Err() != nil {
			break
		}
		if !started.IsZero() && time.Since(started) >= a.cfg.BackoffReset() {
			backoff.Reset()
		}
		if !started.IsZero() {
			a.reconnects.Add(1)
		}

		reason := ""
		if err != nil {
			reason = err.Error()
		}
		a.logger.Warning("Upstream session ended: %v", err)
		a.setState(ctx, models.StateDisconnected, a.isDegraded(), reason)
		if !backoff.Sleep(ctx.Done()) {
			break
		}
	}

	a.mu.Lock()
	a.state = models.StateDisconnected
	a.mu.Unlock()
	a.logger.Debug("Adapter stopped")
}

// -----------------------------------------------------------------------------

// session runs one connect/backfill/stream cycle. It returns when streaming
// started (zero if it never did) and why the session ended.
func (a *Adapter) session(ctx context.Context) (time.Time, error) {
	a.setState(ctx, models.StateConnecting, a.isDegraded(), "")

	conn, err := a.exchange.Dial(ctx, a.key)
	if err != nil {
		return time.Time{}, err
	}
	a.setConn(conn)
	defer func() {
		a.setConn(nil)
		conn.Close()
	}()

	// Ticks queue up on the socket while history is fetched.
	a.setState(ctx, models.StateBackfilling, a.isDegraded(), "")
	degraded, reason := false, ""
	if err := a.backfill(ctx); err != nil {
		if ctx.Err() != nil {
			return time.Time{}, ctx.Err()
		}
		a.backfillFailures++
		a.logger.Warning("Backfill failed (%d in a row): %v", a.backfillFailures, err)
		if a.backfillFailures < a.cfg.BackfillFailureThreshold {
			return time.Time{}, err
		}
		degraded, reason = true, "backfill failing: "+err.Error()
		a.setState(ctx, models.StateBackfilling, degraded, reason)
		if a.lastBucket == 0 {
			a.logger.Warning("Streaming without history after %d failed backfills", a.backfillFailures)
		}
	} else {
		a.backfillFailures = 0
	}

	started := time.Now()
	a.setState(ctx, models.StateStreaming, degraded, reason)

	stopBeat := make(chan struct{})
	defer close(stopBeat)
	go a.heartbeat(conn, stopBeat)

	return started, a.stream(ctx, conn)
}

// -----------------------------------------------------------------------------

func (a *Adapter) stream(ctx context.Context, conn interfaces.IUpstreamConn) error {
	timeout := a.readTimeout()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if timeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(timeout).UnixMilli()); err != nil {
				return helpers.NewConnectionError(err, "set read deadline")
			}
		}

		ticks, err := conn.Read()
		if err != nil {
			if helpers.IsProtocolError(err) {
				a.logger.Warning("Dropping malformed message: %v", err)
				continue
			}
			return err
		}
		a.lastMessage.Store(time.Now().UnixMilli())

		for _, t := range ticks {
			if err := a.forwardTick(ctx, t); err != nil {
				return err
			}
		}
	}
}

// -----------------------------------------------------------------------------

func (a *Adapter) forwardTick(ctx context.Context, t models.MTick) error {
	bucket := candles.BucketStart(t.Time, a.tfMs)
	if a.lastBucket != 0 && bucket > a.lastBucket+a.tfMs {
		if err := a.fillGap(ctx, a.lastBucket, bucket); err != nil {
			return err
		}
	}
	if bucket > a.lastBucket {
		a.lastBucket = bucket
	}
	return a.sink(ctx, models.MFeedEvent{Kind: models.FeedEventTick, Tick: t})
}

// -----------------------------------------------------------------------------

// fillGap fetches the closed buckets strictly between last and next. A failed
// fetch degrades the stream but keeps it running; only sink errors propagate.
func (a *Adapter) fillGap(ctx context.Context, last, next int64) error {
	if a.Calendar.ExpectedGap(last, next, a.tfMs) {
		a.logger.Debug("Gap %d..%d falls outside trading sessions", last, next)
		return nil
	}

	missing := int((next-last)/a.tfMs) - 1
	limit := min(missing, a.capacity())
	a.logger.Info("Gap of %d candles detected, backfilling", missing)

	fetched, err := a.exchange.FetchCandles(ctx, a.key, next-int64(limit)*a.tfMs, next-a.tfMs, limit)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.logger.Warning("Gap backfill failed: %v", err)
		return a.setState(ctx, models.StateStreaming, true, "gap backfill failed")
	}

	if err := a.emitCandles(ctx, fetched, true); err != nil {
		return err
	}
	if a.isDegraded() {
		return a.setState(ctx, models.StateStreaming, false, "")
	}
	return nil
}

// -----------------------------------------------------------------------------

// backfill loads history before streaming: the journal on a cold start, then
// REST for everything newer than the last known bucket.
func (a *Adapter) backfill(ctx context.Context) error {
	capacity := a.capacity()

	if a.lastBucket == 0 && a.Repository != nil {
		journal, err := a.Repository.LoadRecent(ctx, a.key, capacity)
		if err != nil {
			a.logger.Warning("Journal warm start failed: %v", err)
		} else if err := a.emitCandles(ctx, journal, false); err != nil {
			return err
		}
	}

	recovering := a.lastBucket != 0
	start := int64(0)
	if recovering {
		now := candles.BucketStart(time.Now().UnixMilli(), a.tfMs)
		if (now-a.lastBucket)/a.tfMs < int64(capacity) {
			start = a.lastBucket
		}
	}

	fetched, err := a.exchange.FetchCandles(ctx, a.key, start, 0, capacity)
	if err != nil {
		return helpers.NewBackfillError(err, "fetch %s", a.key)
	}
	if err := a.emitCandles(ctx, fetched, recovering); err != nil {
		return err
	}
	if a.lastBucket == 0 {
		return helpers.NewBackfillError(nil, "no history for %s", a.key)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (a *Adapter) emitCandles(ctx context.Context, list []models.MCandle, backfilled bool) error {
	if len(list) == 0 {
		return nil
	}
	out := make([]models.MCandle, len(list))
	for i, c := range list {
		c.Backfilled = c.Backfilled || backfilled
		out[i] = c
		if bucket := candles.BucketStart(c.OpenTime, a.tfMs); bucket > a.lastBucket {
			a.lastBucket = bucket
		}
	}
	return a.sink(ctx, models.MFeedEvent{Kind: models.FeedEventCandles, Candles: out})
}

// -----------------------------------------------------------------------------

// heartbeat pings every interval and closes conn once MissedHeartbeats pings
// in a row went unanswered. The blocked Read then fails and the adapter
// reconnects.
func (a *Adapter) heartbeat(conn interfaces.IUpstreamConn, stop <-chan struct{}) {
	interval := a.cfg.HeartbeatInterval()
	if interval <= 0 {
		return
	}
	var outstanding atomic.Int32
	conn.OnPong(func() { outstanding.Store(0) })

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if int(outstanding.Load()) >= max(a.cfg.MissedHeartbeats, 1) {
				a.logger.Warning("%d heartbeats unanswered, dropping connection", outstanding.Load())
				conn.Close()
				return
			}
			if err := conn.Ping(); err != nil {
				a.logger.Warning("Heartbeat failed: %v", err)
				conn.Close()
				return
			}
			outstanding.Add(1)
		}
	}
}

// -----------------------------------------------------------------------------

func (a *Adapter) readTimeout() time.Duration {
	return a.cfg.HeartbeatInterval() * time.Duration(max(a.cfg.MissedHeartbeats, 1))
}

func (a *Adapter) capacity() int {
	return max(a.cfg.BufferCapacity, 1)
}

func (a *Adapter) setConn(conn interfaces.IUpstreamConn) {
	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
}

func (a *Adapter) isDegraded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.degraded
}

// -----------------------------------------------------------------------------

// setState records the new state and forwards it as a status event when it
// differs from the previous one.
func (a *Adapter) setState(ctx context.Context, state string, degraded bool, reason string) error {
	a.mu.Lock()
	changed := a.state != state || a.degraded != degraded || a.reason != reason
	a.state, a.degraded, a.reason = state, degraded, reason
	a.mu.Unlock()

	if !changed {
		return nil
	}
	a.logger.Debug("State %s (degraded=%v) %s", state, degraded, reason)
	err := a.sink(ctx, models.MFeedEvent{
		Kind:   models.FeedEventStatus,
		Status: models.MStatus{State: state, Degraded: degraded, Reason: reason, Time: time.Now().UnixMilli()},
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Debug("Status not delivered: %v", err)
	}
	return err
}
