package simulated

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"market-stream/src/candles"
	"market-stream/src/helpers"
	"market-stream/src/interfaces"
	"market-stream/src/models"
)

const historySize = 1000

// -----------------------------------------------------------------------------
// Exchange is an in-process random-walk venue. Every key gets a market seeded
// from its name, with generated history and a live feed that keeps moving.
// -----------------------------------------------------------------------------

type Exchange struct {
	name         string
	tickInterval time.Duration
	now          func() time.Time

	mu      sync.Mutex
	markets map[models.MSubscriptionKey]*market
}

// -----------------------------------------------------------------------------

func New(cfg models.MExchangeConfig, tickInterval time.Duration) *Exchange {
	if tickInterval <= 0 {
		tickInterval = time.Second
	}
	return &Exchange{
		name:         cfg.Name,
		tickInterval: tickInterval,
		now:          time.Now,
		markets:      make(map[models.MSubscriptionKey]*market),
	}
}

func (e *Exchange) Name() string { return e.name }

// -----------------------------------------------------------------------------

func (e *Exchange) market(key models.MSubscriptionKey) (*market, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if m, ok := e.markets[key]; ok {
		return m, nil
	}
	tfMs, err := candles.TimeframeMillis(key.Timeframe)
	if err != nil {
		return nil, helpers.NewConfigurationError("%v", err)
	}
	m := newMarket(key, tfMs, e.now().UnixMilli())
	e.markets[key] = m
	return m, nil
}

// -----------------------------------------------------------------------------

func (e *Exchange) Dial(ctx context.Context, key models.MSubscriptionKey) (interfaces.IUpstreamConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, helpers.NewConnectionError(err, "dial simulated")
	}
	m, err := e.market(key)
	if err != nil {
		return nil, err
	}
	return &conn{
		market: m,
		now:    e.now,
		ticker: time.NewTicker(e.tickInterval),
		done:   make(chan struct{}),
	}, nil
}

// -----------------------------------------------------------------------------

func (e *Exchange) FetchCandles(ctx context.Context, key models.MSubscriptionKey, start, end int64, limit int) ([]models.MCandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, helpers.NewBackfillError(err, "simulated history %s", key)
	}
	m, err := e.market(key)
	if err != nil {
		return nil, err
	}
	return m.history(e.now().UnixMilli(), start, end, limit), nil
}

// -----------------------------------------------------------------------------
// market
// -----------------------------------------------------------------------------

type market struct {
	mu         sync.Mutex
	tfMs       int64
	rnd        *rand.Rand
	volatility float64
	closed     []models.MCandle
	current    models.MCandle
}

// basePrice follows the usual mock levels: BTC, ETH, everything else.
func basePrice(symbol string) (price, volatility float64) {
	switch {
	case strings.Contains(symbol, "BTC"):
		return 65000, 1200
	case strings.Contains(symbol, "ETH"):
		return 3200, 180
	default:
		return 100, 5
	}
}

func newMarket(key models.MSubscriptionKey, tfMs, nowMs int64) *market {
	h := fnv.New64a()
	h.Write([]byte(key.String()))
	price, vol := basePrice(key.Symbol)

	m := &market{
		tfMs:       tfMs,
		rnd:        rand.New(rand.NewSource(int64(h.Sum64()))),
		volatility: vol,
	}

	first := candles.BucketStart(nowMs, tfMs) - historySize*tfMs
	last := price
	for i := int64(0); i < historySize; i++ {
		c := m.candle(first+i*tfMs, last)
		m.closed = append(m.closed, c)
		last = c.Close
	}
	m.current = m.open(candles.BucketStart(nowMs, tfMs), last)
	return m
}

// candle generates one closed bar starting at open.
func (m *market) candle(openTime int64, open float64) models.MCandle {
	closePrice := math.Max(open+m.rnd.NormFloat64()*m.volatility*0.01, m.volatility*0.01)
	wick := math.Abs(m.rnd.NormFloat64() * m.volatility * 0.008)
	return models.MCandle{
		OpenTime: openTime,
		Open:     open,
		High:     math.Max(open, closePrice) + wick,
		Low:      math.Max(math.Min(open, closePrice)-wick, 0),
		Close:    closePrice,
		Volume:   m.rnd.Float64() * 100,
		Closed:   true,
	}
}

func (m *market) open(openTime int64, price float64) models.MCandle {
	return models.MCandle{OpenTime: openTime, Open: price, High: price, Low: price, Close: price}
}

// catchUp seals the current bar and generates any whole bars missed since.
// Caller holds mu.
func (m *market) catchUp(nowMs int64) {
	bucket := candles.BucketStart(nowMs, m.tfMs)
	if bucket <= m.current.OpenTime {
		return
	}
	m.current.Closed = true
	m.push(m.current)
	last := m.current.Close
	for t := m.current.OpenTime + m.tfMs; t < bucket; t += m.tfMs {
		c := m.candle(t, last)
		m.push(c)
		last = c.Close
	}
	m.current = m.open(bucket, last)
}

func (m *market) push(c models.MCandle) {
	m.closed = append(m.closed, c)
	if len(m.closed) > historySize {
		m.closed = append(m.closed[:0], m.closed[len(m.closed)-historySize:]...)
	}
}

// -----------------------------------------------------------------------------

func (m *market) step(nowMs int64) models.MTick {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.catchUp(nowMs)
	c := &m.current
	c.Close = math.Max(c.Close+m.rnd.NormFloat64()*m.volatility*0.001, m.volatility*0.01)
	c.High = math.Max(c.High, c.Close)
	c.Low = math.Min(c.Low, c.Close)
	c.Volume += m.rnd.Float64()
	return models.MTick{Time: nowMs, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume}
}

// -----------------------------------------------------------------------------

func (m *market) history(nowMs, start, end int64, limit int) []models.MCandle {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.catchUp(nowMs)
	out := make([]models.MCandle, 0, len(m.closed))
	for _, c := range m.closed {
		if c.OpenTime < start || (end > 0 && c.OpenTime > end) {
			continue
		}
		out = append(out, c)
	}
	if limit > 0 && len(out) > limit {
		if start > 0 {
			out = out[:limit]
		} else {
			out = out[len(out)-limit:]
		}
	}
	return out
}

// -----------------------------------------------------------------------------
// conn
// -----------------------------------------------------------------------------

type conn struct {
	market *market
	now    func() time.Time
	ticker *time.Ticker

	mu          sync.Mutex
	onPong      func()
	pongPending bool
	deadline    time.Time

	done      chan struct{}
	closeOnce sync.Once
}

func (c *conn) Read() ([]models.MTick, error) {
	c.mu.Lock()
	pong, fn, deadline := c.pongPending, c.onPong, c.deadline
	c.pongPending = false
	c.mu.Unlock()
	if pong && fn != nil {
		fn()
	}

	var expire <-chan time.Time
	if !deadline.IsZero() {
		t := time.NewTimer(time.Until(deadline))
		defer t.Stop()
		expire = t.C
	}

	select {
	case <-c.done:
		return nil, helpers.NewConnectionError(nil, "simulated connection closed")
	case <-expire:
		return nil, helpers.NewConnectionError(nil, "simulated read timeout")
	case <-c.ticker.C:
		return []models.MTick{c.market.step(c.now().UnixMilli())}, nil
	}
}

func (c *conn) Ping() error {
	select {
	case <-c.done:
		return helpers.NewConnectionError(nil, "simulated connection closed")
	default:
	}
	c.mu.Lock()
	c.pongPending = true
	c.mu.Unlock()
	return nil
}

func (c *conn) OnPong(fn func()) {
	c.mu.Lock()
	c.onPong = fn
	c.mu.Unlock()
}

func (c *conn) SetReadDeadline(unixMilli int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if unixMilli == 0 {
		c.deadline = time.Time{}
	} else {
		c.deadline = time.UnixMilli(unixMilli)
	}
	return nil
}

func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.ticker.Stop()
		close(c.done)
	})
	return nil
}
