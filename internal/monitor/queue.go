package monitor

// eventQueue is a bounded FIFO for detection events. When full, the oldest
// entry is dropped so the queue always holds the most recent events, matching
// the ring-buffer semantics used for readings. Callers synchronize access via
// the monitor mutex.
type eventQueue[T any] struct {
	items    []T
	capacity int
}

func newEventQueue[T any](capacity int) *eventQueue[T] {
	return &eventQueue[T]{capacity: capacity}
}

func (q *eventQueue[T]) push(item T) {
	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
	}
	q.items = append(q.items, item)
}

// drain removes and returns up to limit of the oldest queued items.
func (q *eventQueue[T]) drain(limit int) []T {
	if limit <= 0 || limit > len(q.items) {
		limit = len(q.items)
	}
	out := make([]T, limit)
	copy(out, q.items[:limit])
	q.items = q.items[limit:]
	return out
}

func (q *eventQueue[T]) len() int {
	return len(q.items)
}
