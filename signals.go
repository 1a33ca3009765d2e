package dtpool

import "github.com/zoobzio/capitan"

// Signal constants for dtpool events.
// Signals follow the pattern: <component>.<event>.
const (
	// Pool signals.
	SignalPoolClosed       capitan.Signal = "pool.closed"
	SignalPoolSubmitRejected capitan.Signal = "pool.submit_rejected"
	SignalPoolResizeTick   capitan.Signal = "pool.resize_tick"

	// PoolWorker signals.
	SignalWorkerSpawned capitan.Signal = "worker.spawned"
	SignalWorkerRetired capitan.Signal = "worker.retired"
	SignalWorkerFault   capitan.Signal = "worker.fault"

	// TaskSchedulerAdapter signals.
	SignalAdapterTaskQueued  capitan.Signal = "adapter.task_queued"
	SignalAdapterDrainStart  capitan.Signal = "adapter.drain_start"
	SignalAdapterDrainExit   capitan.Signal = "adapter.drain_exit"
	SignalAdapterInlineExec  capitan.Signal = "adapter.inline_exec"
	SignalAdapterTaskFault   capitan.Signal = "adapter.task_fault"
	SignalAdapterUnsupported capitan.Signal = "adapter.unsupported"

	// UnfairSemaphore signals.
	SignalSemaphoreSpinExhausted capitan.Signal = "semaphore.spin_exhausted"
	SignalSemaphoreAcquired      capitan.Signal = "semaphore.acquired"
	SignalSemaphoreReleased      capitan.Signal = "semaphore.released"
)

// Common field keys using capitan primitive types.
// All keys use primitive types to avoid custom struct serialization.
var (
	// Common fields.
	FieldName      = capitan.NewStringKey("name")       // Pool/worker/adapter instance name
	FieldError     = capitan.NewStringKey("error")       // Error message
	FieldTimestamp = capitan.NewFloat64Key("timestamp") // Unix timestamp

	// Pool fields.
	FieldNumThreads   = capitan.NewIntKey("num_threads")   // Current live worker count
	FieldMinThreads   = capitan.NewIntKey("min_threads")   // Resize lower bound
	FieldMaxThreads   = capitan.NewIntKey("max_threads")   // Resize upper bound
	FieldCleanCounter = capitan.NewIntKey("clean_counter") // Submissions since last resize tick
	FieldGrown        = capitan.NewIntKey("grown")         // Workers spawned this tick
	FieldRetired      = capitan.NewIntKey("retired")       // Workers retired this tick

	// PoolWorker fields.
	FieldWorkerID    = capitan.NewStringKey("worker_id") // "{name}_{id}"
	FieldIdle        = capitan.NewIntKey("idle")          // Idleness estimator value
	FieldDuration    = capitan.NewFloat64Key("duration")  // Task execution duration in seconds
	FieldRecovered   = capitan.NewStringKey("recovered")  // "panic" or "error"

	// TaskSchedulerAdapter fields.
	FieldParallelWorkers = capitan.NewIntKey("parallel_workers") // Active drain closures
	FieldWaitingWork     = capitan.NewIntKey("waiting_work")     // Queue depth

	// UnfairSemaphore fields.
	FieldSpinners         = capitan.NewIntKey("spinners")
	FieldWaiters          = capitan.NewIntKey("waiters")
	FieldCountForSpinners = capitan.NewIntKey("count_for_spinners")
	FieldCountForWaiters  = capitan.NewIntKey("count_for_waiters")
)
