package pipeline

import (
	"errors"
	"sync"
	"time"

	"market-stream/src/analysis"
	"market-stream/src/candles"
	"market-stream/src/interfaces"
	"market-stream/src/logger"
	"market-stream/src/models"
)

// ClosedCandleSink receives every candle a stream seals. Add must not block.
type ClosedCandleSink interface {
	Add(records ...models.MCandleRecord)
}

// -----------------------------------------------------------------------------
// Stream is the state of one subscription key: the candle window, its
// indicators and the frame sequence. Apply is the only writer and runs on
// the pipeline shard owning the key; readers take copies under the read lock.
// -----------------------------------------------------------------------------

type Stream struct {
	key       models.MSubscriptionKey
	publisher interfaces.IFramePublisher
	sink      ClosedCandleSink
	logger    *logger.Logger

	mu     sync.RWMutex
	store  *candles.Store
	engine *analysis.Engine
	seq    uint64
	status models.MStatus

	ready     chan struct{}
	readyOnce sync.Once
}

// -----------------------------------------------------------------------------

func NewStream(key models.MSubscriptionKey, capacity, history int, pub interfaces.IFramePublisher, sink ClosedCandleSink, log *logger.Logger) (*Stream, error) {
	store, err := candles.NewStore(key.Timeframe, capacity)
	if err != nil {
		return nil, err
	}
	return &Stream{
		key:       key,
		publisher: pub,
		sink:      sink,
		logger:    log.With("key", key.String()),
		store:     store,
		engine:    analysis.NewEngine(capacity, history),
		status:    models.MStatus{State: models.StateDisconnected, Time: time.Now().UnixMilli()},
		ready:     make(chan struct{}),
	}, nil
}

// -----------------------------------------------------------------------------

func (s *Stream) Key() models.MSubscriptionKey { return s.key }

// Ready is closed once the window holds at least one candle.
func (s *Stream) Ready() <-chan struct{} { return s.ready }

// -----------------------------------------------------------------------------

// Apply folds one feed event into the stream and publishes the resulting
// frames in order, each with the next sequence number.
func (s *Stream) Apply(ev models.MFeedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Kind {
	case models.FeedEventTick:
		delta, err := s.store.Apply(ev.Tick)
		if errors.Is(err, candles.ErrStaleTick) {
			s.logger.Debug("Dropping stale tick at %d", ev.Tick.Time)
			return nil
		}
		if err != nil {
			return err
		}
		s.emit(delta)

	case models.FeedEventCandles:
		s.emit(s.store.Merge(ev.Candles))

	case models.FeedEventStatus:
		if ev.Status.Time == 0 {
			ev.Status.Time = time.Now().UnixMilli()
		}
		s.status = ev.Status
		s.publish(models.FrameStatus, ev.Status)
	}

	if s.store.Len() > 0 {
		s.readyOnce.Do(func() { close(s.ready) })
	}
	return nil
}

// -----------------------------------------------------------------------------

func (s *Stream) emit(d candles.Delta) {
	if d.Gap {
		s.logger.Warning("Candle window has a gap before bucket %d", d.Updated.OpenTime)
	}

	var records []models.MCandleRecord
	for _, c := range d.Closed {
		s.publish(models.FrameCandle, c)
		for _, u := range s.engine.OnClose(c) {
			s.publish(models.FrameIndicator, u)
		}
		records = append(records, models.MCandleRecord{Key: s.key, Candle: c})
	}
	if s.sink != nil && len(records) > 0 {
		s.sink.Add(records...)
	}

	if d.Updated != nil && !d.Updated.Closed {
		s.publish(models.FrameCandle, *d.Updated)
		for _, u := range s.engine.OnUpdate(*d.Updated) {
			s.publish(models.FrameIndicator, u)
		}
	}
}

// -----------------------------------------------------------------------------

// publish must be called with mu held so seq order equals delivery order.
func (s *Stream) publish(frameType string, payload interface{}) {
	s.seq++
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(s.key, models.MFrame{Type: frameType, Key: s.key, Seq: s.seq, Payload: payload})
}

// -----------------------------------------------------------------------------

// AddIndicator seeds a new indicator from the current window. Existing IDs
// are left untouched.
func (s *Stream) AddIndicator(spec models.MIndicatorSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.engine.Has(spec.ID()) {
		return nil
	}
	var inProgress *models.MCandle
	if last, ok := s.store.Last(); ok && !last.Closed {
		inProgress = &last
	}
	return s.engine.Add(spec, s.store.ClosedCandles(), inProgress)
}

// ValidateIndicator checks spec against this stream's window size.
func (s *Stream) ValidateIndicator(spec models.MIndicatorSpec) error {
	return analysis.ValidateSpec(spec, s.store.Capacity())
}

func (s *Stream) RemoveIndicator(id string) {
	s.mu.Lock()
	s.engine.Remove(id)
	s.mu.Unlock()
}

func (s *Stream) Indicators() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine.IDs()
}

// -----------------------------------------------------------------------------

// Snapshot copies the stream state. Frames with Seq at or below the returned
// Seq are already reflected in it.
func (s *Stream) Snapshot(ids []string) models.MSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	committed, provisional := s.engine.Snapshot(ids)
	return models.MSnapshot{
		Key:         s.key,
		Seq:         s.seq,
		Status:      s.status,
		Candles:     s.store.Candles(),
		Indicators:  committed,
		Provisional: provisional,
	}
}

// -----------------------------------------------------------------------------

func (s *Stream) Status() models.MStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Stats returns window length and the last sequence number.
func (s *Stream) Stats() (int, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.Len(), s.seq
}
