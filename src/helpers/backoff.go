package helpers

import (
	"math/rand"
	"sync"
	"time"
)

// -----------------------------------------------------------------------------

// Backoff yields exponentially growing, capped, jittered delays.
// Safe for concurrent use.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	Jitter  float64 // fraction, 0.2 means +-20%

	mu      sync.Mutex
	attempt int
	rnd     *rand.Rand
}

// -----------------------------------------------------------------------------

func NewBackoff(initial, max time.Duration, jitter float64) *Backoff {
	return &Backoff{
		Initial: initial,
		Max:     max,
		Factor:  2,
		Jitter:  jitter,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// -----------------------------------------------------------------------------

// Next returns the delay before the next attempt and advances the counter.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := float64(b.Initial)
	for i := 0; i < b.attempt && d < float64(b.Max); i++ {
		d *= b.Factor
	}
	if d > float64(b.Max) {
		d = float64(b.Max)
	}
	b.attempt++

	if b.Jitter > 0 && b.rnd != nil {
		d += d * b.Jitter * (2*b.rnd.Float64() - 1)
	}
	return time.Duration(d)
}

// -----------------------------------------------------------------------------

// Attempt is the number of delays handed out since the last Reset.
func (b *Backoff) Attempt() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt
}

// -----------------------------------------------------------------------------

func (b *Backoff) Reset() {
	b.mu.Lock()
	b.attempt = 0
	b.mu.Unlock()
}

// -----------------------------------------------------------------------------

// Sleep waits for the next delay or until done is closed. It returns false
// when interrupted.
func (b *Backoff) Sleep(done <-chan struct{}) bool {
	t := time.NewTimer(b.Next())
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-done:
		return false
	}
}
