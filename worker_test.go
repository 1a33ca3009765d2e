package dtpool

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

func newTestObservability() *observability {
	return &observability{
		metrics: metricz.New(),
		tracer:  tracez.New(),
		hooks:   hookz.New[PoolEvent](),
	}
}

func newTestSettings(t *testing.T, opts ...Option) Settings {
	t.Helper()
	base := append([]Option{WithClock(clockz.NewFakeClock())}, opts...)
	s, err := NewSettings(1, base...)
	if err != nil {
		t.Fatalf("NewSettings: %v", err)
	}
	return s
}

func TestPoolWorkerLifecycle(t *testing.T) {
	t.Run("starts running and retires on stop", func(t *testing.T) {
		settings := newTestSettings(t)
		w := newPoolWorker(0, settings)
		channel := NewWorkChannel()

		var wg sync.WaitGroup
		go w.run(channel, settings, newTestObservability(), &wg)

		if w.IsDead() {
			t.Fatal("expected worker to start alive")
		}

		w.Stop()

		select {
		case <-w.ExitSignal():
		case <-time.After(time.Second):
			t.Fatal("worker did not exit after Stop")
		}

		if !w.IsDead() {
			t.Error("expected worker to be dead after exit")
		}
		if w.Idle() != -1 {
			t.Errorf("expected Idle() == -1 once dead, got %d", w.Idle())
		}
	})

	t.Run("retires once the channel completes and drains", func(t *testing.T) {
		settings := newTestSettings(t)
		w := newPoolWorker(0, settings)
		channel := NewWorkChannel()

		var ran int32
		channel.TryWrite(func() error {
			atomic.AddInt32(&ran, 1)
			return nil
		})
		channel.Complete()

		var wg sync.WaitGroup
		go w.run(channel, settings, newTestObservability(), &wg)

		select {
		case <-w.ExitSignal():
		case <-time.After(time.Second):
			t.Fatal("worker did not exit after channel completion")
		}

		if atomic.LoadInt32(&ran) != 1 {
			t.Error("expected the queued item to run before exit")
		}
	})
}

func TestPoolWorkerIdleEstimator(t *testing.T) {
	settings := newTestSettings(t)
	w := newPoolWorker(0, settings)
	channel := NewWorkChannel()

	var wg sync.WaitGroup
	go w.run(channel, settings, newTestObservability(), &wg)
	defer w.Stop()

	time.Sleep(idlePollInterval * 20)
	if idle := w.Idle(); idle <= 0 {
		t.Errorf("expected idle estimator to climb above 0 while starved, got %d", idle)
	}

	time.Sleep(idlePollInterval * 200)
	if idle := w.Idle(); idle != idleCeiling {
		t.Errorf("expected idle estimator to saturate at %d, got %d", idleCeiling, idle)
	}

	// The decrement is applied before the item runs, so it is read from
	// inside the item: once the item returns, the worker's next empty
	// poll adds idleIncrement again.
	before := w.Idle()
	var during int32
	done := make(chan struct{})
	channel.TryWrite(func() error {
		during = w.Idle()
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("submitted item never ran")
	}

	if after := during; after != before-idleDecrement {
		t.Errorf("expected idle estimator to drop by %d after one item, got %d -> %d", idleDecrement, before, after)
	}

	// Enough consecutive work drives it all the way to the floor. Each
	// item queues the next one before returning, so the worker finds work
	// on every read and takes no empty poll in between.
	var atEnd int32
	remaining := idleCeiling
	chainDone := make(chan struct{})
	var next Callable
	next = func() error {
		remaining--
		if remaining == 0 {
			atEnd = w.Idle()
			close(chainDone)
			return nil
		}
		channel.TryWrite(next)
		return nil
	}
	channel.TryWrite(next)
	<-chainDone
	if idle := atEnd; idle != idleFloor {
		t.Errorf("expected idle estimator to reach floor after sustained work, got %d", idle)
	}
}

// TestPoolWorkerFaultIsolation is S2: a panicking or erroring callable
// never stops the worker from draining subsequent items, and invariant
// 4: every fault reaches ExceptionHandler exactly once, never the
// caller or the worker goroutine's own unwind.
func TestPoolWorkerFaultIsolation(t *testing.T) {
	var faults []error
	var mu sync.Mutex
	settings := newTestSettings(t, WithExceptionHandler(func(err error) {
		mu.Lock()
		defer mu.Unlock()
		faults = append(faults, err)
	}))

	w := newPoolWorker(0, settings)
	channel := NewWorkChannel()
	obs := newTestObservability()

	var wg sync.WaitGroup
	go w.run(channel, settings, obs, &wg)
	defer w.Stop()

	var succeeded int32
	done := make(chan struct{})

	channel.TryWrite(func() error {
		panic("boom")
	})
	channel.TryWrite(func() error {
		return errors.New("explicit failure")
	})
	channel.TryWrite(func() error {
		atomic.AddInt32(&succeeded, 1)
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker stalled after a fault; a panic or error leaked out of execute")
	}

	time.Sleep(20 * time.Millisecond) // let dispatchFault land for both faulty items

	mu.Lock()
	defer mu.Unlock()
	if len(faults) != 2 {
		t.Fatalf("expected exactly 2 faults dispatched, got %d: %v", len(faults), faults)
	}

	var fe *FaultError
	if !errors.As(faults[0], &fe) || !fe.Recovered {
		t.Errorf("expected first fault to be a recovered panic, got %#v", faults[0])
	}
	if !errors.As(faults[1], &fe) || fe.Recovered {
		t.Errorf("expected second fault to be a returned error, not recovered, got %#v", faults[1])
	}
	if atomic.LoadInt32(&succeeded) != 1 {
		t.Error("expected the third, successful item to still run")
	}

	if count := obs.metrics.Counter(PoolFaultsTotal).Value(); count != 2 {
		t.Errorf("expected PoolFaultsTotal == 2, got %v", count)
	}
}

func TestPoolWorkerStopIsIdempotent(t *testing.T) {
	settings := newTestSettings(t)
	w := newPoolWorker(0, settings)
	channel := NewWorkChannel()

	var wg sync.WaitGroup
	go w.run(channel, settings, newTestObservability(), &wg)

	w.Stop()
	w.Stop() // must not panic or double-close exitSignal

	select {
	case <-w.ExitSignal():
	case <-time.After(time.Second):
		t.Fatal("worker did not exit")
	}
}

func TestPoolWorkerForegroundTracksWaitGroup(t *testing.T) {
	settings := newTestSettings(t, WithThreadType(Foreground))
	w := newPoolWorker(0, settings)
	channel := NewWorkChannel()

	var wg sync.WaitGroup
	wg.Add(1)
	go w.run(channel, settings, newTestObservability(), &wg)

	w.Stop()

	waited := make(chan struct{})
	go func() {
		wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("WaitGroup was never released for a Foreground worker")
	}
}

func TestPoolWorkerNameFormat(t *testing.T) {
	settings := newTestSettings(t, WithName("mypool"))
	w := newPoolWorker(3, settings)
	if w.Name() != "mypool_3" {
		t.Errorf("expected name %q, got %q", "mypool_3", w.Name())
	}
}
