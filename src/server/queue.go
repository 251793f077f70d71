package server

import (
	"sync"
	"time"

	"market-stream/src/models"
)

// -----------------------------------------------------------------------------
// OutboundQueue is the bounded per-client frame buffer between the hub and a
// client's write pump.
//
// Push never blocks. When the queue is full the oldest frame is dropped and a
// single resync marker is queued for the key that lost data; further drops
// for that key add no marker until the pending one has been taken. Resync
// markers do not count against the capacity, so there is at most one per key.
// -----------------------------------------------------------------------------

type OutboundQueue struct {
	capacity  int
	threshold int
	window    time.Duration

	mu        sync.Mutex
	items     []models.MFrame
	frames    int // non-marker items in items
	pending   map[models.MSubscriptionKey]bool
	overflows []time.Time
	closed    bool

	notify chan struct{}
}

// PushResult tells the caller what a Push cost.
type PushResult struct {
	Dropped bool // a frame was discarded
	Resync  bool // a resync marker was queued
	TooSlow bool // resync episodes exceeded the threshold within the window
}

// -----------------------------------------------------------------------------

func NewOutboundQueue(capacity, overflowThreshold int, overflowWindow time.Duration) *OutboundQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &OutboundQueue{
		capacity:  capacity,
		threshold: overflowThreshold,
		window:    overflowWindow,
		items:     make([]models.MFrame, 0, capacity),
		pending:   make(map[models.MSubscriptionKey]bool),
		notify:    make(chan struct{}, 1),
	}
}

// -----------------------------------------------------------------------------

func (q *OutboundQueue) Push(f models.MFrame) PushResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	var res PushResult
	if q.closed {
		return res
	}

	if q.frames >= q.capacity {
		dropped := q.dropOldest()
		res.Dropped = true
		if !q.pending[dropped.Key] {
			q.pending[dropped.Key] = true
			q.items = append(q.items, models.MFrame{Type: models.FrameResync, Key: dropped.Key})
			res.Resync = true
			res.TooSlow = q.recordOverflow(time.Now())
		}
	}

	q.items = append(q.items, f)
	q.frames++
	q.signal()
	return res
}

// -----------------------------------------------------------------------------

// dropOldest removes the oldest non-marker frame. Caller holds mu and has
// checked that one exists.
func (q *OutboundQueue) dropOldest() models.MFrame {
	for i, it := range q.items {
		if it.Type == models.FrameResync {
			continue
		}
		q.items = append(q.items[:i], q.items[i+1:]...)
		q.frames--
		return it
	}
	return models.MFrame{}
}

// recordOverflow counts one overflow episode, the queuing of a new resync
// marker. Further drops while that marker is pending are the same episode.
func (q *OutboundQueue) recordOverflow(now time.Time) bool {
	if q.threshold <= 0 {
		return false
	}
	cutoff := now.Add(-q.window)
	kept := q.overflows[:0]
	for _, t := range q.overflows {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	q.overflows = append(kept, now)
	return len(q.overflows) > q.threshold
}

func (q *OutboundQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// -----------------------------------------------------------------------------

// Ready fires whenever frames may be waiting.
func (q *OutboundQueue) Ready() <-chan struct{} { return q.notify }

// Drain takes every queued item in order and clears pending resync marks for
// the markers it hands out.
func (q *OutboundQueue) Drain() []models.MFrame {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.items
	q.items = make([]models.MFrame, 0, q.capacity)
	q.frames = 0
	for _, f := range out {
		if f.Type == models.FrameResync {
			delete(q.pending, f.Key)
		}
	}
	return out
}

// -----------------------------------------------------------------------------

// Forget discards queued frames of key, used on unsubscribe.
func (q *OutboundQueue) Forget(key models.MSubscriptionKey) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0]
	for _, f := range q.items {
		if f.Key == key && f.Type != models.FrameAck && f.Type != models.FrameError {
			if f.Type != models.FrameResync {
				q.frames--
			}
			continue
		}
		kept = append(kept, f)
	}
	q.items = kept
	delete(q.pending, key)
}

// -----------------------------------------------------------------------------

func (q *OutboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *OutboundQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.frames = 0
	q.mu.Unlock()
}
