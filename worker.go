package dtpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/capitan"
)

// idlePollInterval bounds how long a worker blocks on an empty channel
// before re-checking its stop flag and bumping the idleness estimator.
// It is a real-time interval rather than a clockz-driven one: the
// resize tick that consumes idleness values runs on its own cadence, so
// sub-100ms jitter here does not affect test determinism.
const idlePollInterval = 10 * time.Millisecond

// idleIncrement and idleCeiling bound the idleness estimator's growth on
// each empty poll; idleDecrement and idleFloor bound its drop on each
// item of work.
const (
	idleFloor     = 0
	idleDecrement = 1
	idleIncrement = 2
	idleCeiling   = 100
)

type workerState int32

const (
	workerRunning workerState = iota
	workerStopping
	workerDead
)

// PoolWorker drains a shared WorkChannel on its own goroutine until
// asked to Stop or until the channel completes and drains. Build one
// with newPoolWorker; call run to start draining.
type PoolWorker struct {
	id         int
	name       string
	threadType ThreadType
	idle       atomic.Int32
	stop       atomic.Bool
	state      atomic.Int32
	exitSignal chan struct{}
}

func newPoolWorker(id int, settings Settings) *PoolWorker {
	w := &PoolWorker{
		id:         id,
		name:       fmt.Sprintf("%s_%d", settings.Name, id),
		threadType: settings.ThreadType,
		exitSignal: make(chan struct{}),
	}
	w.state.Store(int32(workerRunning))
	return w
}

// Name returns the worker's "{pool_name}_{id}" identity.
func (w *PoolWorker) Name() string { return w.name }

// ExitSignal is closed once the worker's goroutine has returned.
func (w *PoolWorker) ExitSignal() <-chan struct{} { return w.exitSignal }

// Stop asks the worker to exit after its current item, or on its next
// idle poll if it has none in flight. It does not block.
func (w *PoolWorker) Stop() {
	w.stop.Store(true)
	w.state.CompareAndSwap(int32(workerRunning), int32(workerStopping))
}

// IsDead reports whether the worker's goroutine has already returned.
func (w *PoolWorker) IsDead() bool {
	return workerState(w.state.Load()) == workerDead
}

// Idle returns the idleness estimator, or -1 once the worker has
// exited. The resize tick treats -1 as "slot needs replacing."
func (w *PoolWorker) Idle() int32 {
	if w.IsDead() {
		return -1
	}
	return w.idle.Load()
}

// run drains channel until told to stop or until the channel completes
// and drains, then retires. It is meant to be launched with `go`.
func (w *PoolWorker) run(channel *WorkChannel, settings Settings, obs *observability, wg *sync.WaitGroup) {
	defer w.retire(settings, obs, wg)

	for {
		if w.stop.Load() {
			return
		}

		if item, ok := channel.TryRead(); ok {
			prev := w.idle.Load() - idleDecrement
			if prev < idleFloor {
				prev = idleFloor
			}
			w.idle.Store(prev)
			w.execute(item, settings, obs)
			continue
		}

		next := w.idle.Load() + idleIncrement
		if next > idleCeiling {
			next = idleCeiling
		}
		w.idle.Store(next)

		ctx, cancel := context.WithTimeout(context.Background(), idlePollInterval)
		readable := channel.WaitForRead(ctx)
		cancel()

		if readable {
			continue
		}
		if channel.Closed() && channel.Len() == 0 {
			return
		}
	}
}

// retire marks the worker dead, releases anyone waiting on ExitSignal,
// and reports the retirement.
func (w *PoolWorker) retire(settings Settings, obs *observability, wg *sync.WaitGroup) {
	w.state.Store(int32(workerDead))
	close(w.exitSignal)
	if settings.ThreadType == Foreground {
		wg.Done()
	}

	ctx := context.Background()
	capitan.Info(ctx, SignalWorkerRetired, FieldWorkerID.Field(w.name))
	if obs.hooks.ListenerCount(HookWorkerRetired) > 0 {
		_ = obs.hooks.Emit(ctx, HookWorkerRetired, PoolEvent{ //nolint:errcheck
			Type:       "worker_retired",
			WorkerName: w.name,
			Timestamp:  settings.Clock.Now(),
		})
	}
}

// execute runs item through runCallable, records a span and metrics,
// and routes any fault to settings.ExceptionHandler. No panic or error
// from item, or from the handler itself, escapes execute.
func (w *PoolWorker) execute(item Callable, settings Settings, obs *observability) {
	ctx, span := obs.tracer.StartSpan(context.Background(), WorkerExecuteSpan)
	span.SetTag(WorkerTagName, w.name)

	start := settings.Clock.Now()
	fault := runCallable(item, w.name)
	elapsed := settings.Clock.Now().Sub(start)

	span.SetTag(WorkerTagElapsed, elapsed.String())
	span.Finish()

	if fault == nil {
		return
	}

	obs.metrics.Counter(PoolFaultsTotal).Inc()

	recoveredLabel := "error"
	if fault.Recovered {
		recoveredLabel = "panic"
	}
	capitan.Error(ctx, SignalWorkerFault,
		FieldWorkerID.Field(w.name),
		FieldError.Field(fault.Error()),
		FieldRecovered.Field(recoveredLabel),
		FieldIdle.Field(int(w.idle.Load())),
	)

	dispatchFault(settings.ExceptionHandler, fault)
}
