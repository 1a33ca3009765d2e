package dtpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkChannel(t *testing.T) {
	t.Run("TryWrite then TryRead", func(t *testing.T) {
		c := NewWorkChannel()
		var ran int32
		if !c.TryWrite(func() error { atomic.AddInt32(&ran, 1); return nil }) {
			t.Fatal("expected TryWrite to succeed")
		}

		w, ok := c.TryRead()
		if !ok {
			t.Fatal("expected an item")
		}
		if err := w(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if atomic.LoadInt32(&ran) != 1 {
			t.Error("expected callable to run")
		}
	})

	t.Run("TryRead on empty queue", func(t *testing.T) {
		c := NewWorkChannel()
		if _, ok := c.TryRead(); ok {
			t.Fatal("expected no item")
		}
	})

	t.Run("FIFO order", func(t *testing.T) {
		c := NewWorkChannel()
		var order []int
		for i := 0; i < 5; i++ {
			i := i
			c.TryWrite(func() error { order = append(order, i); return nil }) //nolint:errcheck // asserting order, not return value
		}

		for i := 0; i < 5; i++ {
			w, ok := c.TryRead()
			if !ok {
				t.Fatal("expected item")
			}
			w() //nolint:errcheck // each item only records its index
		}
		for i, v := range order {
			if v != i {
				t.Errorf("expected FIFO order, got %v", order)
			}
		}
	})

	t.Run("WaitForRead unblocks on write", func(t *testing.T) {
		c := NewWorkChannel()
		done := make(chan bool, 1)
		go func() {
			done <- c.WaitForRead(context.Background())
		}()

		time.Sleep(10 * time.Millisecond)
		c.TryWrite(func() error { return nil }) //nolint:errcheck // timing test

		select {
		case result := <-done:
			if !result {
				t.Error("expected WaitForRead to return true")
			}
		case <-time.After(time.Second):
			t.Fatal("WaitForRead did not unblock")
		}
	})

	t.Run("WaitForRead returns false after Complete drains", func(t *testing.T) {
		c := NewWorkChannel()
		c.Complete()

		if c.WaitForRead(context.Background()) {
			t.Error("expected false on completed empty channel")
		}
	})

	t.Run("WaitForRead drains remaining items before false", func(t *testing.T) {
		c := NewWorkChannel()
		c.TryWrite(func() error { return nil }) //nolint:errcheck
		c.Complete()

		if !c.WaitForRead(context.Background()) {
			t.Error("expected true: an item remains even though completed")
		}
		if _, ok := c.TryRead(); !ok {
			t.Fatal("expected to read the remaining item")
		}
		if c.WaitForRead(context.Background()) {
			t.Error("expected false once drained")
		}
	})

	t.Run("TryWrite fails after Complete", func(t *testing.T) {
		c := NewWorkChannel()
		c.Complete()
		if c.TryWrite(func() error { return nil }) {
			t.Error("expected TryWrite to fail after Complete")
		}
	})

	t.Run("Complete is idempotent", func(t *testing.T) {
		c := NewWorkChannel()
		c.Complete()
		c.Complete() // should not panic or block
	})

	t.Run("WaitForRead respects context cancellation", func(t *testing.T) {
		c := NewWorkChannel()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		start := time.Now()
		result := c.WaitForRead(ctx)
		if result {
			t.Error("expected false on context cancellation")
		}
		if time.Since(start) > 200*time.Millisecond {
			t.Error("expected prompt return on cancellation")
		}
	})

	t.Run("concurrent writers and readers", func(t *testing.T) {
		c := NewWorkChannel()
		const n = 1000
		var wg sync.WaitGroup
		var produced, consumed int64

		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < n; i++ {
				c.TryWrite(func() error { return nil }) //nolint:errcheck
				atomic.AddInt64(&produced, 1)
			}
			c.Complete()
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			for c.WaitForRead(context.Background()) {
				if _, ok := c.TryRead(); ok {
					atomic.AddInt64(&consumed, 1)
				}
			}
		}()

		wg.Wait()
		if atomic.LoadInt64(&consumed) != n {
			t.Errorf("expected to consume all %d items, got %d", n, consumed)
		}
	})
}
