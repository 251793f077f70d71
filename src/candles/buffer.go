package candles

import "market-stream/src/models"

// -----------------------------------------------------------------------------
// Buffer is a fixed-capacity ring of candles ordered oldest to newest.
// When full, Push evicts the oldest entry.
// -----------------------------------------------------------------------------

type Buffer struct {
	data     []models.MCandle
	capacity int
	index    int // next write position
	size     int
}

// -----------------------------------------------------------------------------

func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 200
	}
	return &Buffer{
		data:     make([]models.MCandle, capacity),
		capacity: capacity,
	}
}

// -----------------------------------------------------------------------------

// Push appends c and returns the evicted candle, if any.
func (b *Buffer) Push(c models.MCandle) (models.MCandle, bool) {
	var evicted models.MCandle
	full := b.size == b.capacity
	if full {
		evicted = b.data[b.index]
	}

	b.data[b.index] = c
	b.index = (b.index + 1) % b.capacity
	if !full {
		b.size++
	}
	return evicted, full
}

// -----------------------------------------------------------------------------

// Last returns a pointer to the newest candle for in-place update, nil when empty.
func (b *Buffer) Last() *models.MCandle {
	if b.size == 0 {
		return nil
	}
	return &b.data[(b.index-1+b.capacity)%b.capacity]
}

// -----------------------------------------------------------------------------

// At returns the i-th candle, 0 being the oldest.
func (b *Buffer) At(i int) models.MCandle {
	start := (b.index - b.size + b.capacity) % b.capacity
	return b.data[(start+i)%b.capacity]
}

// -----------------------------------------------------------------------------

// Latest returns up to n newest candles, oldest first.
func (b *Buffer) Latest(n int) []models.MCandle {
	if n <= 0 || b.size == 0 {
		return []models.MCandle{}
	}
	if n > b.size {
		n = b.size
	}
	out := make([]models.MCandle, n)
	for i := 0; i < n; i++ {
		out[i] = b.At(b.size - n + i)
	}
	return out
}

// -----------------------------------------------------------------------------

// All returns a copy of every candle, oldest first.
func (b *Buffer) All() []models.MCandle {
	return b.Latest(b.size)
}

// -----------------------------------------------------------------------------

func (b *Buffer) Len() int { return b.size }

func (b *Buffer) Capacity() int { return b.capacity }
