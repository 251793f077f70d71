package analysis

import (
	"market-stream/src/analysis/core"
	"market-stream/src/helpers"
	"market-stream/src/models"
)

// -----------------------------------------------------------------------------
// Indicator is an incrementally maintained technical indicator.
//
// Update is called exactly once per closed candle, in order. Peek evaluates
// the indicator as if c were the next closed candle without changing state;
// it backs provisional values for the in-progress candle. Both return false
// while the indicator is still warming up.
// -----------------------------------------------------------------------------

type Indicator interface {
	Spec() models.MIndicatorSpec
	Update(c models.MCandle) (models.MIndicatorPoint, bool)
	Peek(c models.MCandle) (models.MIndicatorPoint, bool)
}

// -----------------------------------------------------------------------------

// ValidateSpec rejects parameters the engine cannot honour with a window of
// capacity candles.
func ValidateSpec(spec models.MIndicatorSpec, capacity int) error {
	switch spec.Kind {
	case models.IndicatorSMA, models.IndicatorEMA, models.IndicatorRSI:
	case models.IndicatorBollinger:
		if spec.Multiplier <= 0 {
			return helpers.NewConfigurationError("%s: multiplier must be positive", spec.ID())
		}
	case models.IndicatorMACD:
		if spec.Fast <= 0 || spec.Signal <= 0 || spec.Fast >= spec.Slow {
			return helpers.NewConfigurationError("%s: need 0 < fast < slow and signal > 0", spec.ID())
		}
	default:
		return helpers.NewConfigurationError("unknown indicator %q", spec.Kind)
	}
	if spec.Period <= 0 {
		return helpers.NewConfigurationError("%s: period must be positive", spec.ID())
	}
	if spec.Period > capacity {
		return helpers.NewConfigurationError("%s: period %d exceeds window of %d", spec.ID(), spec.Period, capacity)
	}
	return nil
}

// -----------------------------------------------------------------------------

// NewIndicator builds the indicator for a validated spec.
func NewIndicator(spec models.MIndicatorSpec) (Indicator, error) {
	switch spec.Kind {
	case models.IndicatorSMA:
		return NewSMA(spec.Period), nil
	case models.IndicatorEMA:
		return NewEMA(spec.Period), nil
	case models.IndicatorRSI:
		return NewRSI(spec.Period), nil
	case models.IndicatorBollinger:
		return NewBollinger(spec.Period, spec.Multiplier), nil
	case models.IndicatorMACD:
		return NewMACD(spec.Fast, spec.Slow, spec.Signal), nil
	}
	return nil, helpers.NewConfigurationError("unknown indicator %q", spec.Kind)
}

// -----------------------------------------------------------------------------
// SMA
// -----------------------------------------------------------------------------

type SMA struct {
	period int
	closes []float64
	next   int
	count  int
	sum    core.CompensatedSum
}

func NewSMA(period int) *SMA {
	return &SMA{period: period, closes: make([]float64, period)}
}

func (s *SMA) Spec() models.MIndicatorSpec {
	return models.MIndicatorSpec{Kind: models.IndicatorSMA, Period: s.period}
}

func (s *SMA) Update(c models.MCandle) (models.MIndicatorPoint, bool) {
	if s.count == s.period {
		s.sum.Add(-s.closes[s.next])
	} else {
		s.count++
	}
	s.closes[s.next] = c.Close
	s.next = (s.next + 1) % s.period
	s.sum.Add(c.Close)

	if s.count < s.period {
		return models.MIndicatorPoint{}, false
	}
	return models.MIndicatorPoint{Time: c.OpenTime, Value: s.sum.Value() / float64(s.period)}, true
}

func (s *SMA) Peek(c models.MCandle) (models.MIndicatorPoint, bool) {
	if s.count < s.period-1 {
		return models.MIndicatorPoint{}, false
	}
	sum := s.sum
	if s.count == s.period {
		sum.Add(-s.closes[s.next])
	}
	sum.Add(c.Close)
	return models.MIndicatorPoint{Time: c.OpenTime, Value: sum.Value() / float64(s.period), Provisional: true}, true
}

// -----------------------------------------------------------------------------
// EMA
// -----------------------------------------------------------------------------

// emaState is an exponential average seeded with the simple mean of its
// first period inputs.
type emaState struct {
	period int
	alpha  float64
	count  int
	seed   core.CompensatedSum
	value  float64
}

func newEMAState(period int) emaState {
	return emaState{period: period, alpha: 2 / float64(period+1)}
}

func (e *emaState) push(v float64) (float64, bool) {
	if e.count < e.period {
		e.count++
		e.seed.Add(v)
		if e.count < e.period {
			return 0, false
		}
		e.value = e.seed.Value() / float64(e.period)
		return e.value, true
	}
	e.value = e.alpha*v + (1-e.alpha)*e.value
	return e.value, true
}

func (e *emaState) peek(v float64) (float64, bool) {
	switch {
	case e.count < e.period-1:
		return 0, false
	case e.count == e.period-1:
		seed := e.seed
		seed.Add(v)
		return seed.Value() / float64(e.period), true
	default:
		return e.alpha*v + (1-e.alpha)*e.value, true
	}
}

type EMA struct {
	state emaState
}

func NewEMA(period int) *EMA {
	return &EMA{state: newEMAState(period)}
}

func (e *EMA) Spec() models.MIndicatorSpec {
	return models.MIndicatorSpec{Kind: models.IndicatorEMA, Period: e.state.period}
}

func (e *EMA) Update(c models.MCandle) (models.MIndicatorPoint, bool) {
	v, ok := e.state.push(c.Close)
	return models.MIndicatorPoint{Time: c.OpenTime, Value: v}, ok
}

func (e *EMA) Peek(c models.MCandle) (models.MIndicatorPoint, bool) {
	v, ok := e.state.peek(c.Close)
	return models.MIndicatorPoint{Time: c.OpenTime, Value: v, Provisional: true}, ok
}

// -----------------------------------------------------------------------------
// RSI (Wilder)
// -----------------------------------------------------------------------------

type RSI struct {
	period  int
	prev    float64
	hasPrev bool
	changes int
	gainSum float64
	lossSum float64
	avgGain float64
	avgLoss float64
}

func NewRSI(period int) *RSI {
	return &RSI{period: period}
}

func (r *RSI) Spec() models.MIndicatorSpec {
	return models.MIndicatorSpec{Kind: models.IndicatorRSI, Period: r.period}
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	return 100 - 100/(1+avgGain/avgLoss)
}

func splitChange(delta float64) (gain, loss float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

// step returns the averages after one more change, and whether they are seeded.
func (r *RSI) step(close float64) (avgGain, avgLoss float64, changes int, ready bool) {
	gain, loss := splitChange(close - r.prev)
	p := float64(r.period)
	changes = r.changes + 1
	switch {
	case changes < r.period:
		return 0, 0, changes, false
	case changes == r.period:
		return (r.gainSum + gain) / p, (r.lossSum + loss) / p, changes, true
	default:
		return (r.avgGain*(p-1) + gain) / p, (r.avgLoss*(p-1) + loss) / p, changes, true
	}
}

func (r *RSI) Update(c models.MCandle) (models.MIndicatorPoint, bool) {
	if !r.hasPrev {
		r.prev, r.hasPrev = c.Close, true
		return models.MIndicatorPoint{}, false
	}
	avgGain, avgLoss, changes, ready := r.step(c.Close)
	if changes <= r.period {
		gain, loss := splitChange(c.Close - r.prev)
		r.gainSum += gain
		r.lossSum += loss
	}
	r.changes = changes
	r.prev = c.Close
	if !ready {
		return models.MIndicatorPoint{}, false
	}
	r.avgGain, r.avgLoss = avgGain, avgLoss
	return models.MIndicatorPoint{Time: c.OpenTime, Value: rsiValue(avgGain, avgLoss)}, true
}

func (r *RSI) Peek(c models.MCandle) (models.MIndicatorPoint, bool) {
	if !r.hasPrev {
		return models.MIndicatorPoint{}, false
	}
	avgGain, avgLoss, _, ready := r.step(c.Close)
	if !ready {
		return models.MIndicatorPoint{}, false
	}
	return models.MIndicatorPoint{Time: c.OpenTime, Value: rsiValue(avgGain, avgLoss), Provisional: true}, true
}

// -----------------------------------------------------------------------------
// Bollinger Bands
// -----------------------------------------------------------------------------

type Bollinger struct {
	period     int
	multiplier float64
	stats      *core.RollingStats
}

func NewBollinger(period int, multiplier float64) *Bollinger {
	return &Bollinger{period: period, multiplier: multiplier, stats: core.NewRollingStats(period)}
}

func (b *Bollinger) Spec() models.MIndicatorSpec {
	return models.MIndicatorSpec{Kind: models.IndicatorBollinger, Period: b.period, Multiplier: b.multiplier}
}

func (b *Bollinger) point(t int64, mean, std float64) models.MIndicatorPoint {
	return models.MIndicatorPoint{
		Time:  t,
		Value: mean,
		Upper: mean + b.multiplier*std,
		Lower: mean - b.multiplier*std,
	}
}

func (b *Bollinger) Update(c models.MCandle) (models.MIndicatorPoint, bool) {
	b.stats.Push(c.Close)
	if !b.stats.Full() {
		return models.MIndicatorPoint{}, false
	}
	return b.point(c.OpenTime, b.stats.Mean(), b.stats.StdDev()), true
}

func (b *Bollinger) Peek(c models.MCandle) (models.MIndicatorPoint, bool) {
	if b.stats.Count() < b.period-1 {
		return models.MIndicatorPoint{}, false
	}
	mean, std := b.stats.With(c.Close)
	p := b.point(c.OpenTime, mean, std)
	p.Provisional = true
	return p, true
}

// -----------------------------------------------------------------------------
// MACD
// -----------------------------------------------------------------------------

type MACD struct {
	fast, slow, signal emaState
}

func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{fast: newEMAState(fast), slow: newEMAState(slow), signal: newEMAState(signal)}
}

func (m *MACD) Spec() models.MIndicatorSpec {
	return models.MIndicatorSpec{
		Kind:   models.IndicatorMACD,
		Period: m.slow.period,
		Fast:   m.fast.period,
		Slow:   m.slow.period,
		Signal: m.signal.period,
	}
}

func (m *MACD) Update(c models.MCandle) (models.MIndicatorPoint, bool) {
	f, okF := m.fast.push(c.Close)
	s, okS := m.slow.push(c.Close)
	if !okF || !okS {
		return models.MIndicatorPoint{}, false
	}
	line := f - s
	sig, ok := m.signal.push(line)
	if !ok {
		return models.MIndicatorPoint{}, false
	}
	return models.MIndicatorPoint{Time: c.OpenTime, Value: line, Signal: sig, Histogram: line - sig}, true
}

func (m *MACD) Peek(c models.MCandle) (models.MIndicatorPoint, bool) {
	f, okF := m.fast.peek(c.Close)
	s, okS := m.slow.peek(c.Close)
	if !okF || !okS {
		return models.MIndicatorPoint{}, false
	}
	line := f - s
	sig, ok := m.signal.peek(line)
	if !ok {
		return models.MIndicatorPoint{}, false
	}
	return models.MIndicatorPoint{Time: c.OpenTime, Value: line, Signal: sig, Histogram: line - sig, Provisional: true}, true
}
