package analysis

import (
	"sort"

	"market-stream/src/models"
)

// -----------------------------------------------------------------------------
// Engine holds the live indicators of one stream. Like the candle store it is
// driven by a single writer and is not safe for concurrent use.
// -----------------------------------------------------------------------------

type Engine struct {
	capacity int // candle window size, upper bound for lookbacks
	history  int // committed points kept per indicator
	slots    map[string]*slot
}

type slot struct {
	ind         Indicator
	points      []models.MIndicatorPoint // ring
	next        int
	size        int
	provisional *models.MIndicatorPoint
}

// -----------------------------------------------------------------------------

func NewEngine(capacity, history int) *Engine {
	if history <= 0 {
		history = capacity
	}
	return &Engine{capacity: capacity, history: history, slots: make(map[string]*slot)}
}

// -----------------------------------------------------------------------------

// Has reports whether an indicator with this ID is live.
func (e *Engine) Has(id string) bool {
	_, ok := e.slots[id]
	return ok
}

// IDs returns the live indicator IDs, sorted.
func (e *Engine) IDs() []string {
	ids := make([]string, 0, len(e.slots))
	for id := range e.slots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// -----------------------------------------------------------------------------

// Add creates an indicator and seeds it from the closed candles already in
// the window. A provisional value is computed for inProgress when given.
// Adding an existing ID is a no-op.
func (e *Engine) Add(spec models.MIndicatorSpec, closed []models.MCandle, inProgress *models.MCandle) error {
	if err := ValidateSpec(spec, e.capacity); err != nil {
		return err
	}
	id := spec.ID()
	if _, ok := e.slots[id]; ok {
		return nil
	}
	ind, err := NewIndicator(spec)
	if err != nil {
		return err
	}

	s := &slot{ind: ind, points: make([]models.MIndicatorPoint, e.history)}
	for _, c := range closed {
		if p, ok := ind.Update(c); ok {
			s.push(p)
		}
	}
	if inProgress != nil {
		if p, ok := ind.Peek(*inProgress); ok {
			s.provisional = &p
		}
	}
	e.slots[id] = s
	return nil
}

// -----------------------------------------------------------------------------

func (e *Engine) Remove(id string) {
	delete(e.slots, id)
}

// -----------------------------------------------------------------------------

// OnClose advances every indicator by one closed candle and returns the
// committed values that are defined.
func (e *Engine) OnClose(c models.MCandle) []models.MIndicatorUpdate {
	out := make([]models.MIndicatorUpdate, 0, len(e.slots))
	for _, id := range e.IDs() {
		s := e.slots[id]
		s.provisional = nil
		if p, ok := s.ind.Update(c); ok {
			s.push(p)
			out = append(out, models.MIndicatorUpdate{ID: id, Point: p})
		}
	}
	return out
}

// -----------------------------------------------------------------------------

// OnUpdate evaluates provisional values for the in-progress candle.
func (e *Engine) OnUpdate(c models.MCandle) []models.MIndicatorUpdate {
	out := make([]models.MIndicatorUpdate, 0, len(e.slots))
	for _, id := range e.IDs() {
		s := e.slots[id]
		p, ok := s.ind.Peek(c)
		if !ok {
			s.provisional = nil
			continue
		}
		s.provisional = &p
		out = append(out, models.MIndicatorUpdate{ID: id, Point: p})
	}
	return out
}

// -----------------------------------------------------------------------------

// Snapshot copies committed histories and current provisional values for ids
// (all indicators when ids is empty).
func (e *Engine) Snapshot(ids []string) (map[string][]models.MIndicatorPoint, map[string]models.MIndicatorPoint) {
	if len(ids) == 0 {
		ids = e.IDs()
	}
	committed := make(map[string][]models.MIndicatorPoint, len(ids))
	provisional := make(map[string]models.MIndicatorPoint)
	for _, id := range ids {
		s, ok := e.slots[id]
		if !ok {
			continue
		}
		committed[id] = s.all()
		if s.provisional != nil {
			provisional[id] = *s.provisional
		}
	}
	return committed, provisional
}

// -----------------------------------------------------------------------------

func (s *slot) push(p models.MIndicatorPoint) {
	s.points[s.next] = p
	s.next = (s.next + 1) % len(s.points)
	if s.size < len(s.points) {
		s.size++
	}
}

func (s *slot) all() []models.MIndicatorPoint {
	out := make([]models.MIndicatorPoint, s.size)
	start := (s.next - s.size + len(s.points)) % len(s.points)
	for i := range out {
		out[i] = s.points[(start+i)%len(s.points)]
	}
	return out
}
