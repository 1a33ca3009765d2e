package dtpool

import (
	"context"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Adapter metrics.
const (
	AdapterTasksQueuedTotal   = metricz.Key("adapter.tasks.queued.total")
	AdapterTasksInlineTotal   = metricz.Key("adapter.tasks.inline.total")
	AdapterTasksCompleteTotal = metricz.Key("adapter.tasks.complete.total")
)

// Adapter spans.
const (
	AdapterDrainSpan  = tracez.Key("adapter.drain")
	AdapterInlineSpan = tracez.Key("adapter.inline")
)

// Adapter lifecycle hooks.
const (
	HookTaskQueued   hookz.Key = "adapter.task_queued"
	HookTaskStarted  hookz.Key = "adapter.task_started"
	HookTaskComplete hookz.Key = "adapter.task_complete"
	HookAllComplete  hookz.Key = "adapter.all_complete"
)

// TaskEvent is emitted to hookz listeners on every adapter task
// lifecycle transition.
type TaskEvent struct {
	Timestamp time.Time
	Type      string
	Err       error
}

// Task is a unit of cooperative work scheduled onto a TaskSchedulerAdapter.
// It receives the context the adapter's drain closure built for it; a
// task that itself needs to schedule further work on the same adapter
// passes this ctx through so TryExecuteInline can recognize it is
// running on one of the adapter's own drain goroutines.
type Task func(ctx context.Context) error

// TaskHandle identifies one enqueued Task. Enqueue returns a handle;
// TryExecuteInline and TryDequeue take it back to identify the task,
// since Go function values are not comparable.
type TaskHandle struct {
	task Task
}

type adapterMarkerKey struct{}

func markAdapterWorker(ctx context.Context, adapter *TaskSchedulerAdapter) context.Context {
	return context.WithValue(ctx, adapterMarkerKey{}, adapter)
}

func isAdapterWorker(ctx context.Context, adapter *TaskSchedulerAdapter) bool {
	marker, ok := ctx.Value(adapterMarkerKey{}).(*TaskSchedulerAdapter)
	return ok && marker == adapter
}

type adapterObservability struct {
	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[TaskEvent]
}

// TaskSchedulerAdapter layers a secondary FIFO task queue over a Pool,
// consolidating many small tasks under a bounded number of pool
// submissions ("drain closures") and letting a task already running
// inside one of those closures execute a dependency inline instead of
// round-tripping through the pool's channel.
type TaskSchedulerAdapter struct {
	pool            *Pool
	obs             *adapterObservability
	mu              sync.Mutex
	tasks           []*TaskHandle
	parallelWorkers int
	waitingWork     int
}

// NewTaskSchedulerAdapter returns an adapter multiplexing onto pool.
func NewTaskSchedulerAdapter(pool *Pool) *TaskSchedulerAdapter {
	registry := metricz.New()
	registry.Counter(AdapterTasksQueuedTotal)
	registry.Counter(AdapterTasksInlineTotal)
	registry.Counter(AdapterTasksCompleteTotal)

	return &TaskSchedulerAdapter{
		pool: pool,
		obs: &adapterObservability{
			metrics: registry,
			tracer:  tracez.New(),
			hooks:   hookz.New[TaskEvent](),
		},
	}
}

// Enqueue appends task to the FIFO and, if fewer than MaxConcurrency
// drain closures are currently active, submits a new one to the pool.
func (a *TaskSchedulerAdapter) Enqueue(task Task) *TaskHandle {
	handle := &TaskHandle{task: task}

	a.mu.Lock()
	a.tasks = append(a.tasks, handle)
	a.waitingWork++
	waiting := a.waitingWork
	submit := false
	if a.parallelWorkers < a.pool.MaxThreads() {
		a.parallelWorkers++
		submit = true
	}
	parallel := a.parallelWorkers
	a.mu.Unlock()

	a.obs.metrics.Counter(AdapterTasksQueuedTotal).Inc()
	ctx := context.Background()
	capitan.Info(ctx, SignalAdapterTaskQueued, FieldWaitingWork.Field(waiting), FieldParallelWorkers.Field(parallel))
	if a.obs.hooks.ListenerCount(HookTaskQueued) > 0 {
		_ = a.obs.hooks.Emit(ctx, HookTaskQueued, TaskEvent{ //nolint:errcheck
			Type:      "task_queued",
			Timestamp: a.pool.settings.Clock.Now(),
		})
	}

	if submit {
		_, _ = a.pool.Submit(a.drain)
	}

	return handle
}

// drain is submitted to the pool as a Callable. It repeatedly pops the
// front of the FIFO and runs it until the FIFO is empty, then releases
// its parallelWorkers slot.
func (a *TaskSchedulerAdapter) drain() error {
	ctx := markAdapterWorker(context.Background(), a)
	ctx, span := a.obs.tracer.StartSpan(ctx, AdapterDrainSpan)
	defer span.Finish()

	capitan.Info(ctx, SignalAdapterDrainStart, FieldName.Field(a.pool.settings.Name))

	for {
		a.mu.Lock()
		if len(a.tasks) == 0 {
			a.parallelWorkers--
			a.mu.Unlock()
			break
		}
		handle := a.tasks[0]
		a.tasks[0] = nil
		a.tasks = a.tasks[1:]
		a.waitingWork--
		a.mu.Unlock()

		a.runTask(ctx, handle.task)
	}

	capitan.Info(ctx, SignalAdapterDrainExit, FieldName.Field(a.pool.settings.Name))

	a.mu.Lock()
	empty := len(a.tasks) == 0
	a.mu.Unlock()
	if empty && a.obs.hooks.ListenerCount(HookAllComplete) > 0 {
		_ = a.obs.hooks.Emit(ctx, HookAllComplete, TaskEvent{ //nolint:errcheck
			Type:      "all_complete",
			Timestamp: a.pool.settings.Clock.Now(),
		})
	}
	return nil
}

// runTask executes task under panic recovery, reusing the same fault
// machinery a PoolWorker uses, and reports the outcome to hookz/capitan.
// A task fault is never forwarded to Settings.ExceptionHandler: per the
// design, the task runtime the caller builds atop this adapter captures
// its own errors through the TaskEvent it receives via hooks.
func (a *TaskSchedulerAdapter) runTask(ctx context.Context, task Task) {
	if a.obs.hooks.ListenerCount(HookTaskStarted) > 0 {
		_ = a.obs.hooks.Emit(ctx, HookTaskStarted, TaskEvent{ //nolint:errcheck
			Type:      "task_started",
			Timestamp: a.pool.settings.Clock.Now(),
		})
	}

	fault := runCallable(func() error { return task(ctx) }, a.pool.settings.Name+"_adapter")

	event := TaskEvent{Type: "task_complete", Timestamp: a.pool.settings.Clock.Now()}
	if fault != nil {
		event.Err = fault
		capitan.Error(ctx, SignalAdapterTaskFault, FieldError.Field(fault.Error()))
	}

	a.obs.metrics.Counter(AdapterTasksCompleteTotal).Inc()
	if a.obs.hooks.ListenerCount(HookTaskComplete) > 0 {
		_ = a.obs.hooks.Emit(ctx, HookTaskComplete, event) //nolint:errcheck
	}
}

// TryExecuteInline runs handle's task on the calling goroutine instead
// of going through the pool, provided the caller is already running
// inside one of this adapter's drain closures (ctx carries this
// adapter's marker). If wasQueued is true, handle is first removed from
// the FIFO; if it has already been claimed by a drain closure,
// TryExecuteInline returns false and does nothing.
func (a *TaskSchedulerAdapter) TryExecuteInline(ctx context.Context, handle *TaskHandle, wasQueued bool) bool {
	if !isAdapterWorker(ctx, a) {
		return false
	}
	if wasQueued && !a.removeTask(handle) {
		return false
	}

	a.obs.metrics.Counter(AdapterTasksInlineTotal).Inc()
	spanCtx, span := a.obs.tracer.StartSpan(ctx, AdapterInlineSpan)
	defer span.Finish()
	capitan.Info(spanCtx, SignalAdapterInlineExec, FieldName.Field(a.pool.settings.Name))

	a.runTask(spanCtx, handle.task)
	return true
}

// TryDequeue removes handle from the FIFO if it is still present. It
// returns false if a drain closure has already claimed it.
func (a *TaskSchedulerAdapter) TryDequeue(handle *TaskHandle) bool {
	return a.removeTask(handle)
}

func (a *TaskSchedulerAdapter) removeTask(handle *TaskHandle) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, h := range a.tasks {
		if h == handle {
			a.tasks = append(a.tasks[:i], a.tasks[i+1:]...)
			a.waitingWork--
			return true
		}
	}
	return false
}

// MaxConcurrency returns the number of drain closures that may run
// against the pool at once: the pool's MaxThreads.
func (a *TaskSchedulerAdapter) MaxConcurrency() int {
	return a.pool.MaxThreads()
}

// ScheduledTasks returns a best-effort snapshot of still-queued tasks.
// It uses a try-lock so a caller racing with a busy drain closure gets
// ErrUnsupported instead of blocking.
func (a *TaskSchedulerAdapter) ScheduledTasks() ([]*TaskHandle, error) {
	if !a.mu.TryLock() {
		capitan.Warn(context.Background(), SignalAdapterUnsupported, FieldName.Field(a.pool.settings.Name))
		return nil, ErrUnsupported
	}
	defer a.mu.Unlock()

	snapshot := make([]*TaskHandle, len(a.tasks))
	copy(snapshot, a.tasks)
	return snapshot, nil
}

// OnTaskQueued registers a hook fired whenever a task is enqueued.
func (a *TaskSchedulerAdapter) OnTaskQueued(handler func(context.Context, TaskEvent) error) error {
	_, err := a.obs.hooks.Hook(HookTaskQueued, handler)
	return err
}

// OnTaskStarted registers a hook fired when a drain closure begins
// running a task.
func (a *TaskSchedulerAdapter) OnTaskStarted(handler func(context.Context, TaskEvent) error) error {
	_, err := a.obs.hooks.Hook(HookTaskStarted, handler)
	return err
}

// OnTaskComplete registers a hook fired after a task returns, whether
// or not it faulted.
func (a *TaskSchedulerAdapter) OnTaskComplete(handler func(context.Context, TaskEvent) error) error {
	_, err := a.obs.hooks.Hook(HookTaskComplete, handler)
	return err
}

// OnAllComplete registers a hook fired when a drain closure exits with
// the FIFO empty.
func (a *TaskSchedulerAdapter) OnAllComplete(handler func(context.Context, TaskEvent) error) error {
	_, err := a.obs.hooks.Hook(HookAllComplete, handler)
	return err
}

// Metrics exposes the adapter's metricz registry.
func (a *TaskSchedulerAdapter) Metrics() *metricz.Registry { return a.obs.metrics }

// Tracer exposes the adapter's tracez tracer.
func (a *TaskSchedulerAdapter) Tracer() *tracez.Tracer { return a.obs.tracer }
