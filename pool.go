package dtpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Pool metrics.
const (
	PoolSubmittedTotal     = metricz.Key("pool.submitted.total")
	PoolRejectedTotal      = metricz.Key("pool.rejected.total")
	PoolFaultsTotal        = metricz.Key("pool.faults.total")
	PoolResizeGrownTotal   = metricz.Key("pool.resize.grown.total")
	PoolResizeRetiredTotal = metricz.Key("pool.resize.retired.total")
	PoolWorkersCurrent     = metricz.Key("pool.workers.current")
	PoolWorkersMax         = metricz.Key("pool.workers.max")
)

// Pool and worker spans.
const (
	PoolSubmitSpan     = tracez.Key("pool.submit")
	PoolResizeTickSpan = tracez.Key("pool.resize_tick")
	WorkerExecuteSpan  = tracez.Key("worker.execute")
)

// Span tags.
const (
	PoolTagNumThreads = tracez.Tag("pool.num_threads")
	WorkerTagName     = tracez.Tag("worker.name")
	WorkerTagElapsed  = tracez.Tag("worker.elapsed")
)

// Pool lifecycle hooks.
const (
	HookWorkerSpawned hookz.Key = "worker.spawned"
	HookWorkerRetired hookz.Key = "worker.retired"
	HookResizeTick    hookz.Key = "pool.resize_tick"
)

// PoolEvent is emitted to hookz listeners on worker spawn/retire and on
// every resize tick.
type PoolEvent struct {
	Timestamp  time.Time
	Type       string
	WorkerName string
	NumThreads int
	Grown      int
	Retired    int
}

// observability bundles the metricz/tracez/hookz surfaces a Pool and its
// PoolWorkers share, mirroring the teacher connectors' single-struct
// observability fields.
type observability struct {
	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[PoolEvent]
}

// Pool owns a bounded, adaptively-resized group of PoolWorkers draining
// a shared WorkChannel. Build one with NewPool.
type Pool struct {
	settings     Settings
	channel      *WorkChannel
	obs          *observability
	mu           sync.Mutex // serializes Submit's resize-tick bookkeeping (single-submitter contract)
	workers      []*PoolWorker
	numThreads   int
	cleanCounter int
	closeOnce    sync.Once
	wg           sync.WaitGroup // counts live Foreground workers; no Pool method waits on it
}

// NewPool validates settings and starts settings.NumThreads workers.
func NewPool(settings Settings) (*Pool, error) {
	if settings.NumThreads <= 0 {
		return nil, fmt.Errorf("%w: settings.NumThreads must be > 0", ErrInvalidArgument)
	}

	registry := metricz.New()
	registry.Counter(PoolSubmittedTotal)
	registry.Counter(PoolRejectedTotal)
	registry.Counter(PoolFaultsTotal)
	registry.Counter(PoolResizeGrownTotal)
	registry.Counter(PoolResizeRetiredTotal)
	registry.Gauge(PoolWorkersCurrent)
	registry.Gauge(PoolWorkersMax).Set(float64(settings.MaxThreads))

	p := &Pool{
		settings: settings,
		channel:  NewWorkChannel(),
		obs: &observability{
			metrics: registry,
			tracer:  tracez.New(),
			hooks:   hookz.New[PoolEvent](),
		},
	}

	p.workers = make([]*PoolWorker, settings.NumThreads)
	for i := 0; i < settings.NumThreads; i++ {
		p.spawnWorkerLocked(i)
	}
	p.numThreads = settings.NumThreads
	p.obs.metrics.Gauge(PoolWorkersCurrent).Set(float64(p.numThreads))

	return p, nil
}

// spawnWorkerLocked starts a fresh PoolWorker in slot index, replacing
// whatever was there (nil or dead). It is named "Locked" because every
// call site outside of NewPool holds p.mu; NewPool itself runs before
// any other goroutine can observe p.workers, so no lock is needed there.
func (p *Pool) spawnWorkerLocked(index int) *PoolWorker {
	w := newPoolWorker(index, p.settings)
	if index < len(p.workers) {
		p.workers[index] = w
	} else {
		p.workers = append(p.workers, w)
	}

	if p.settings.ThreadType == Foreground {
		p.wg.Add(1)
	}

	ctx := context.Background()
	capitan.Info(ctx, SignalWorkerSpawned, FieldWorkerID.Field(w.name), FieldName.Field(p.settings.Name))
	if p.obs.hooks.ListenerCount(HookWorkerSpawned) > 0 {
		_ = p.obs.hooks.Emit(ctx, HookWorkerSpawned, PoolEvent{ //nolint:errcheck
			Type:       "worker_spawned",
			WorkerName: w.name,
			Timestamp:  p.settings.Clock.Now(),
		})
	}

	go w.run(p.channel, p.settings, p.obs, &p.wg)
	return w
}

// Submit enqueues w for execution by some worker. It returns false once
// the pool has been closed. A nil callable returns an ErrInvalidArgument
// error instead of being enqueued.
//
// Concurrent callers are safe: the resize-tick bookkeeping Submit may
// trigger is serialized by an internal mutex, so the single-submitter
// contract documented in Settings holds even under contention, at the
// cost of that contention serializing through this lock.
func (p *Pool) Submit(w Callable) (bool, error) {
	if w == nil {
		p.obs.metrics.Counter(PoolRejectedTotal).Inc()
		return false, fmt.Errorf("%w: callable must not be nil", ErrInvalidArgument)
	}

	ctx, span := p.obs.tracer.StartSpan(context.Background(), PoolSubmitSpan)
	defer span.Finish()

	if !p.channel.TryWrite(w) {
		p.obs.metrics.Counter(PoolRejectedTotal).Inc()
		capitan.Warn(ctx, SignalPoolSubmitRejected, FieldName.Field(p.settings.Name))
		return false, nil
	}
	p.obs.metrics.Counter(PoolSubmittedTotal).Inc()

	if p.settings.SynchronousScheduler {
		p.mu.Lock()
		p.cleanCounter++
		if p.cleanCounter%p.settings.ResizeTickPeriod == 0 {
			capitan.Info(ctx, SignalPoolResizeTick, FieldCleanCounter.Field(p.cleanCounter))
			p.cleanCounter = 0
			p.resizeTickLocked(ctx)
		}
		p.mu.Unlock()
	}

	return true, nil
}

// resizeTickLocked runs one resize tick. Callers must hold p.mu.
func (p *Pool) resizeTickLocked(ctx context.Context) {
	ctx, span := p.obs.tracer.StartSpan(ctx, PoolResizeTickSpan)
	span.SetTag(PoolTagNumThreads, fmt.Sprintf("%d", p.numThreads))
	defer span.Finish()

	stoppable := maxInt(0, p.numThreads-p.settings.MinThreads)
	running := 0
	retired := 0

	for i, w := range p.workers {
		if w == nil {
			continue
		}
		idle := w.Idle()
		switch {
		case idle == -1:
			// Clear the slot so a dead worker is counted down only once.
			p.workers[i] = nil
			p.numThreads = maxInt(0, p.numThreads-1)
			stoppable = maxInt(0, stoppable-1)
			retired++
		case stoppable > 0 && int(idle) > p.settings.RetireIdleThreshold:
			w.Stop()
			stoppable--
		case int(idle) < p.settings.BusyIdleThreshold:
			running++
		}
	}

	// Below MinThreads, fill nil or dead slots (appending when none is
	// free) until MinThreads is reached: the tick must restore the lower
	// bound before it returns, not merely trend toward it over several
	// ticks.
	grown := 0
	for p.numThreads < p.settings.MinThreads {
		placed := false
		for i, w := range p.workers {
			if w == nil || w.IsDead() {
				p.spawnWorkerLocked(i)
				placed = true
				break
			}
		}
		if !placed {
			p.spawnWorkerLocked(len(p.workers))
		}
		p.numThreads++
		grown++
	}

	// Above MinThreads, grow by at most one slot per tick when every
	// live worker is saturated: a burst should not spike the pool
	// straight to MaxThreads in a single tick.
	if grown == 0 && running == p.numThreads && p.numThreads < p.settings.MaxThreads {
		placed := false
		for i, w := range p.workers {
			if w == nil || w.IsDead() {
				p.spawnWorkerLocked(i)
				placed = true
				break
			}
		}
		if !placed {
			p.spawnWorkerLocked(len(p.workers))
		}
		p.numThreads++
		grown = 1
	}

	if grown > 0 {
		p.obs.metrics.Counter(PoolResizeGrownTotal).Add(float64(grown))
	}
	if retired > 0 {
		p.obs.metrics.Counter(PoolResizeRetiredTotal).Add(float64(retired))
	}
	p.obs.metrics.Gauge(PoolWorkersCurrent).Set(float64(p.numThreads))

	capitan.Info(ctx, SignalPoolResizeTick,
		FieldNumThreads.Field(p.numThreads),
		FieldMinThreads.Field(p.settings.MinThreads),
		FieldMaxThreads.Field(p.settings.MaxThreads),
		FieldGrown.Field(grown),
		FieldRetired.Field(retired),
	)
	if p.obs.hooks.ListenerCount(HookResizeTick) > 0 {
		_ = p.obs.hooks.Emit(ctx, HookResizeTick, PoolEvent{ //nolint:errcheck
			Type:       "resize_tick",
			NumThreads: p.numThreads,
			Grown:      grown,
			Retired:    retired,
			Timestamp:  p.settings.Clock.Now(),
		})
	}
}

// Close signals end-of-stream on the channel. Outstanding items are
// still drained by workers; Close does not block. It is idempotent.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.channel.Complete()
		capitan.Info(context.Background(), SignalPoolClosed, FieldName.Field(p.settings.Name))
	})
}

// WaitForExit waits for every worker's exit signal. A timeout <= 0 means
// wait indefinitely. It returns false if the timeout elapses first.
func (p *Pool) WaitForExit(timeout time.Duration) bool {
	p.mu.Lock()
	workers := make([]*PoolWorker, len(p.workers))
	copy(workers, p.workers)
	p.mu.Unlock()

	var deadline <-chan time.Time
	if timeout > 0 {
		deadline = p.settings.Clock.After(timeout)
	}

	for _, w := range workers {
		if w == nil {
			continue
		}
		select {
		case <-w.ExitSignal():
		case <-deadline:
			return false
		}
	}
	return true
}

// NumThreads returns the current live worker count.
func (p *Pool) NumThreads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.numThreads
}

// MinThreads returns the resize controller's lower bound.
func (p *Pool) MinThreads() int { return p.settings.MinThreads }

// MaxThreads returns the resize controller's upper bound.
func (p *Pool) MaxThreads() int { return p.settings.MaxThreads }

// Metrics exposes the pool's metricz registry.
func (p *Pool) Metrics() *metricz.Registry { return p.obs.metrics }

// Tracer exposes the pool's tracez tracer.
func (p *Pool) Tracer() *tracez.Tracer { return p.obs.tracer }

// OnWorkerSpawned registers a hook fired whenever a new worker starts.
func (p *Pool) OnWorkerSpawned(handler func(context.Context, PoolEvent) error) error {
	_, err := p.obs.hooks.Hook(HookWorkerSpawned, handler)
	return err
}

// OnWorkerRetired registers a hook fired whenever a worker goroutine exits.
func (p *Pool) OnWorkerRetired(handler func(context.Context, PoolEvent) error) error {
	_, err := p.obs.hooks.Hook(HookWorkerRetired, handler)
	return err
}

// OnResizeTick registers a hook fired after every resize tick.
func (p *Pool) OnResizeTick(handler func(context.Context, PoolEvent) error) error {
	_, err := p.obs.hooks.Hook(HookResizeTick, handler)
	return err
}
