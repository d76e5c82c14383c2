package router

import (
	"sync"
)

// GrowableBuffer is an unbounded FIFO ring that doubles its capacity when
// full. Send never blocks, so producers such as the connection event loop
// can hand off frames without stalling or dropping them.
//
// Consumers either block in Receive, or select on Ready and then drain.
type GrowableBuffer[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	closed   bool
	ready    chan struct{}
	received int64
	sent     int64
	resizes  int
}

// BufferStats contains buffer statistics.
type BufferStats struct {
	Count         int
	Capacity      int
	TotalReceived int64
	TotalSent     int64
	ResizeCount   int
}

// NewGrowableBuffer creates a buffer with the given initial capacity.
func NewGrowableBuffer[T any](initialCapacity int) *GrowableBuffer[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	b := &GrowableBuffer[T]{
		buf:   make([]T, initialCapacity),
		ready: make(chan struct{}, 1),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Send appends an item. Returns false once the buffer is closed.
func (b *GrowableBuffer[T]) Send(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}
	if b.count == len(b.buf) {
		b.grow()
	}

	b.buf[b.tail] = item
	b.tail = (b.tail + 1) % len(b.buf)
	b.count++
	b.received++

	b.cond.Signal()
	select {
	case b.ready <- struct{}{}:
	default:
	}
	return true
}

// Ready is signalled after Send. A single signal may cover many items, so
// receivers should drain after waking.
func (b *GrowableBuffer[T]) Ready() <-chan struct{} {
	return b.ready
}

// Receive blocks until an item is available or the buffer is closed and
// empty, in which case ok is false.
func (b *GrowableBuffer[T]) Receive() (item T, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed {
		b.cond.Wait()
	}
	if b.count == 0 {
		return item, false
	}
	return b.pop(), true
}

// DrainTo removes up to max items (all of them when max <= 0) in FIFO order.
func (b *GrowableBuffer[T]) DrainTo(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}
	n := b.count
	if max > 0 && max < n {
		n = max
	}

	out := make([]T, n)
	for i := range out {
		out[i] = b.pop()
	}
	return out
}

// Reset discards queued items without closing the buffer.
func (b *GrowableBuffer[T]) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	for b.count > 0 {
		b.buf[b.head] = zero
		b.head = (b.head + 1) % len(b.buf)
		b.count--
	}
	b.head, b.tail = 0, 0
}

// Close stops accepting items. Receivers get what is queued, then ok=false.
func (b *GrowableBuffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.cond.Broadcast()
	select {
	case b.ready <- struct{}{}:
	default:
	}
}

// Closed reports whether Close has been called.
func (b *GrowableBuffer[T]) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Len returns the number of queued items.
func (b *GrowableBuffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Stats returns buffer statistics.
func (b *GrowableBuffer[T]) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Count:         b.count,
		Capacity:      len(b.buf),
		TotalReceived: b.received,
		TotalSent:     b.sent,
		ResizeCount:   b.resizes,
	}
}

// pop removes the head item. Must be called with lock held and count > 0.
func (b *GrowableBuffer[T]) pop() T {
	item := b.buf[b.head]
	var zero T
	b.buf[b.head] = zero // Clear reference for GC
	b.head = (b.head + 1) % len(b.buf)
	b.count--
	b.sent++
	return item
}

// grow doubles the capacity. Must be called with lock held.
func (b *GrowableBuffer[T]) grow() {
	next := make([]T, len(b.buf)*2)
	if b.count > 0 {
		if b.head < b.tail {
			copy(next, b.buf[b.head:b.tail])
		} else {
			n := copy(next, b.buf[b.head:])
			copy(next[n:], b.buf[:b.tail])
		}
	}
	b.buf = next
	b.head = 0
	b.tail = b.count
	b.resizes++
}
