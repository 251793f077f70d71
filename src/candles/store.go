package candles

import (
	"errors"

	"market-stream/src/models"
)

// ErrStaleTick is returned for ticks whose bucket precedes the newest candle.
var ErrStaleTick = errors.New("tick older than latest bucket")

// -----------------------------------------------------------------------------

// Delta describes what one Apply or Merge changed.
type Delta struct {
	// Updated is the newest candle after the change, nil when nothing changed.
	Updated *models.MCandle
	// Closed lists candles that became closed, oldest first.
	Closed []models.MCandle
	// Evicted lists candles pushed out of the window.
	Evicted []models.MCandle
	// Gap is set when a new bucket was opened more than one timeframe past the previous one.
	Gap bool
}

// Changed reports whether the delta carries anything to publish.
func (d Delta) Changed() bool {
	return d.Updated != nil || len(d.Closed) > 0
}

func (d *Delta) add(o Delta) {
	if o.Updated != nil {
		d.Updated = o.Updated
	}
	d.Closed = append(d.Closed, o.Closed...)
	d.Evicted = append(d.Evicted, o.Evicted...)
	d.Gap = d.Gap || o.Gap
}

// -----------------------------------------------------------------------------
// Store owns the rolling candle window of one key. It is not safe for
// concurrent use; the owning stream serializes access.
// -----------------------------------------------------------------------------

type Store struct {
	buf  *Buffer
	tfMs int64
}

// -----------------------------------------------------------------------------

func NewStore(timeframe string, capacity int) (*Store, error) {
	tfMs, err := TimeframeMillis(timeframe)
	if err != nil {
		return nil, err
	}
	return &Store{buf: NewBuffer(capacity), tfMs: tfMs}, nil
}

// -----------------------------------------------------------------------------

func (s *Store) TimeframeMillis() int64 { return s.tfMs }

func (s *Store) Len() int { return s.buf.Len() }

func (s *Store) Capacity() int { return s.buf.Capacity() }

// Candles returns a copy of the window, oldest first.
func (s *Store) Candles() []models.MCandle { return s.buf.All() }

// Last returns a copy of the newest candle.
func (s *Store) Last() (models.MCandle, bool) {
	if l := s.buf.Last(); l != nil {
		return *l, true
	}
	return models.MCandle{}, false
}

// ClosedCandles returns the closed candles of the window, oldest first.
func (s *Store) ClosedCandles() []models.MCandle {
	all := s.buf.All()
	if n := len(all); n > 0 && !all[n-1].Closed {
		all = all[:n-1]
	}
	return all
}

// -----------------------------------------------------------------------------

// Apply folds a streaming tick into the window.
//
// A tick for the in-progress bucket widens high/low, moves close and raises
// volume. A tick for a later bucket seals the in-progress candle and opens a
// new one. A tick for an already closed bucket is ignored, so replays are
// harmless. A tick for an earlier bucket fails with ErrStaleTick.
func (s *Store) Apply(t models.MTick) (Delta, error) {
	bucket := BucketStart(t.Time, s.tfMs)
	last := s.buf.Last()

	if last == nil {
		return s.open(bucket, t, t.Close, false), nil
	}

	switch {
	case bucket < last.OpenTime:
		return Delta{}, ErrStaleTick

	case bucket == last.OpenTime:
		if last.Closed {
			return Delta{}, nil
		}
		if t.Open > 0 {
			last.Open = t.Open
		}
		last.High = max(last.High, t.High, t.Close)
		if t.Low > 0 {
			last.Low = min(last.Low, t.Low)
		}
		last.Low = min(last.Low, t.Close)
		last.Close = t.Close
		last.Volume = max(last.Volume, t.Volume)
		last.Normalize()

		var d Delta
		if t.Final {
			last.Closed = true
			d.Closed = []models.MCandle{*last}
		}
		updated := *last
		d.Updated = &updated
		return d, nil

	default:
		var d Delta
		if !last.Closed {
			last.Closed = true
			d.Closed = append(d.Closed, *last)
		}
		gap := bucket > last.OpenTime+s.tfMs
		d.add(s.open(bucket, t, last.Close, gap))
		return d, nil
	}
}

// -----------------------------------------------------------------------------

func (s *Store) open(bucket int64, t models.MTick, prevClose float64, gap bool) Delta {
	open := t.Open
	if open <= 0 {
		open = prevClose
	}
	c := models.MCandle{
		OpenTime: bucket,
		Open:     open,
		High:     t.High,
		Low:      t.Low,
		Close:    t.Close,
		Volume:   t.Volume,
		Closed:   t.Final,
	}
	c.Normalize()

	d := Delta{Gap: gap}
	if ev, ok := s.buf.Push(c); ok {
		d.Evicted = append(d.Evicted, ev)
	}
	if c.Closed {
		d.Closed = append(d.Closed, c)
	}
	d.Updated = &c
	return d
}

// -----------------------------------------------------------------------------

// Merge folds candles from history (REST backfill or the journal) into the
// window, oldest first. Buckets at or before a closed newest candle are
// skipped; the window never gets holes filled behind the indicators' back.
func (s *Store) Merge(candles []models.MCandle) Delta {
	var d Delta
	for _, c := range candles {
		d.add(s.mergeOne(c))
	}
	return d
}

// -----------------------------------------------------------------------------

func (s *Store) mergeOne(c models.MCandle) Delta {
	c.OpenTime = BucketStart(c.OpenTime, s.tfMs)
	c.Normalize()
	last := s.buf.Last()

	if last == nil || c.OpenTime > last.OpenTime {
		var d Delta
		if last != nil {
			if !last.Closed {
				last.Closed = true
				d.Closed = append(d.Closed, *last)
			}
			d.Gap = c.OpenTime > last.OpenTime+s.tfMs
		}
		if ev, ok := s.buf.Push(c); ok {
			d.Evicted = append(d.Evicted, ev)
		}
		if c.Closed {
			d.Closed = append(d.Closed, c)
		}
		updated := c
		d.Updated = &updated
		return d
	}

	if c.OpenTime < last.OpenTime || last.Closed {
		return Delta{}
	}

	// Same bucket, still in progress locally: history is authoritative for
	// the open and widens the range.
	last.Open = c.Open
	last.High = max(last.High, c.High)
	last.Low = min(last.Low, c.Low)
	last.Close = c.Close
	last.Volume = max(last.Volume, c.Volume)
	last.Backfilled = last.Backfilled || c.Backfilled
	last.Normalize()

	var d Delta
	if c.Closed {
		last.Closed = true
		d.Closed = []models.MCandle{*last}
	}
	updated := *last
	d.Updated = &updated
	return d
}
