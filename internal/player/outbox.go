// Package player provides authenticated player identities, reconnect tokens,
// and the bounded per-connection delivery queues the rest of the server
// pushes through.
package player

import (
	"errors"
	"sync"
)

// Outbox errors.
var (
	// ErrOutboxClosed reports a push to a closed outbox.
	ErrOutboxClosed = errors.New("outbox is closed")
	// ErrUndeliverable reports an outbox full of frames that may not be
	// dropped. The connection behind it is beyond catching up and must be
	// severed; the reconnect path resynchronizes with a full snapshot.
	ErrUndeliverable = errors.New("outbox full of undroppable frames")
)

// Frame is one encoded wire message staged for delivery.
type Frame struct {
	Data []byte
	// Droppable marks frames that may be discarded under backpressure.
	Droppable bool
}

// Outbox is the bounded outbound queue for one connection. Push never
// blocks: a slow reader costs its own connection chat notices first and the
// connection itself last, never delivery to anyone else.
type Outbox struct {
	mu       sync.Mutex
	frames   []Frame
	capacity int
	dropped  uint64
	closed   bool

	notify chan struct{}
	done   chan struct{}
}

// NewOutbox creates an outbox holding at most capacity frames.
//
// Postcondition: Returns an open outbox; capacity <= 0 falls back to 256.
func NewOutbox(capacity int) *Outbox {
	if capacity <= 0 {
		capacity = 256
	}
	return &Outbox{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Push enqueues a frame. On overflow the oldest droppable frame is discarded
// to make room.
//
// Postcondition: Returns nil and the frame is queued; ErrOutboxClosed after
// Close; or ErrUndeliverable when the queue is full and nothing can be
// dropped, in which case the frame is not queued.
func (o *Outbox) Push(f Frame) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrOutboxClosed
	}
	if len(o.frames) >= o.capacity {
		if !o.dropOldestDroppable() {
			o.mu.Unlock()
			return ErrUndeliverable
		}
	}
	o.frames = append(o.frames, f)
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
	return nil
}

// dropOldestDroppable removes the first droppable frame in queue order.
// Caller must hold o.mu.
func (o *Outbox) dropOldestDroppable() bool {
	for i, f := range o.frames {
		if f.Droppable {
			o.frames = append(o.frames[:i], o.frames[i+1:]...)
			o.dropped++
			return true
		}
	}
	return false
}

// Ready signals when frames may be available. After a wake, drain with
// TryNext until it reports empty.
func (o *Outbox) Ready() <-chan struct{} {
	return o.notify
}

// Done is closed when the outbox closes.
func (o *Outbox) Done() <-chan struct{} {
	return o.done
}

// TryNext pops the head frame without blocking.
//
// Postcondition: Returns (frame, true), or (Frame{}, false) when empty.
func (o *Outbox) TryNext() (Frame, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.frames) == 0 {
		return Frame{}, false
	}
	f := o.frames[0]
	o.frames = o.frames[1:]
	return f, true
}

// Close marks the outbox closed and wakes any reader. Idempotent.
//
// Postcondition: Further Push calls return ErrOutboxClosed; queued frames
// are discarded.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.closed {
		o.closed = true
		o.frames = nil
		close(o.done)
	}
}

// IsClosed reports whether the outbox has been closed.
func (o *Outbox) IsClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Len returns the number of queued frames.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.frames)
}

// Dropped returns how many frames have been discarded under backpressure.
func (o *Outbox) Dropped() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}
