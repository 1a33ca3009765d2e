package dtpool

import (
	"context"
	"sync"
)

// WorkChannel is an unbounded FIFO queue of Callables with single-shot
// completion semantics: once Complete is called, further writes fail and
// readers drain whatever remains before observing end-of-stream.
type WorkChannel struct {
	mu     sync.Mutex
	items  []Callable
	notify chan struct{}
	closed bool
}

// NewWorkChannel returns an empty, open WorkChannel.
func NewWorkChannel() *WorkChannel {
	return &WorkChannel{notify: make(chan struct{})}
}

// TryWrite enqueues w. It returns false without enqueuing once Complete
// has been called.
func (c *WorkChannel) TryWrite(w Callable) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.items = append(c.items, w)
	wake := c.notify
	c.notify = make(chan struct{})
	c.mu.Unlock()

	close(wake)
	return true
}

// TryRead pops the front item without blocking. ok is false if the queue
// is currently empty, regardless of completion state.
func (c *WorkChannel) TryRead() (w Callable, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.items) == 0 {
		return nil, false
	}
	w = c.items[0]
	c.items[0] = nil
	c.items = c.items[1:]
	return w, true
}

// WaitForRead blocks until an item is available (returns true) or the
// channel has been completed and drained (returns false). It also
// returns false if ctx is canceled while waiting.
func (c *WorkChannel) WaitForRead(ctx context.Context) bool {
	for {
		c.mu.Lock()
		if len(c.items) > 0 {
			c.mu.Unlock()
			return true
		}
		if c.closed {
			c.mu.Unlock()
			return false
		}
		wake := c.notify
		c.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return false
		}
	}
}

// Complete signals end-of-stream. It is idempotent: a second call is a
// no-op. After completion, TryWrite always fails and any blocked or
// future WaitForRead call eventually returns false once the queue drains.
func (c *WorkChannel) Complete() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	wake := c.notify
	c.notify = make(chan struct{})
	c.mu.Unlock()

	close(wake)
}

// Len reports the number of items currently queued. Intended for tests
// and diagnostics; the value is stale the instant it is read.
func (c *WorkChannel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Closed reports whether Complete has been called. A worker observing
// Closed() == true and Len() == 0 has seen end-of-stream.
func (c *WorkChannel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
