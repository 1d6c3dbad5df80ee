package monitor

import "cableguard/internal/models"

// readingBuffer is a fixed-capacity FIFO of readings. The oldest entry is
// evicted on overflow.
type readingBuffer struct {
	data     []models.Reading
	capacity int
}

func newReadingBuffer(capacity int) *readingBuffer {
	return &readingBuffer{
		data:     make([]models.Reading, 0, capacity),
		capacity: capacity,
	}
}

func (b *readingBuffer) add(r models.Reading) {
	if len(b.data) >= b.capacity {
		b.data = b.data[1:]
	}
	b.data = append(b.data, r)
}

func (b *readingBuffer) len() int {
	return len(b.data)
}

// last returns a copy of the most recent n readings in insertion order.
func (b *readingBuffer) last(n int) []models.Reading {
	if n <= 0 || n > len(b.data) {
		n = len(b.data)
	}
	out := make([]models.Reading, n)
	copy(out, b.data[len(b.data)-n:])
	return out
}

func (b *readingBuffer) utilization() float64 {
	return float64(len(b.data)) / float64(b.capacity)
}
