package aggregator

// ring is a fixed-capacity FIFO that evicts its oldest entry when full.
type ring[T any] struct {
	items    []T
	start    int // index of the oldest entry
	size     int
	capacity int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{items: make([]T, capacity), capacity: capacity}
}

func (r *ring[T]) push(v T) {
	if r.size < r.capacity {
		r.items[(r.start+r.size)%r.capacity] = v
		r.size++
		return
	}
	r.items[r.start] = v
	r.start = (r.start + 1) % r.capacity
}

// values returns the entries oldest first in a freshly allocated slice.
func (r *ring[T]) values() []T {
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.items[(r.start+i)%r.capacity]
	}
	return out
}

func (r *ring[T]) len() int { return r.size }

func (r *ring[T]) reset() {
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.start, r.size = 0, 0
}
