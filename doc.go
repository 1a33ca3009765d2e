// Package dtpool provides a dedicated worker-thread pool: a bounded group
// of long-lived goroutines that consume a shared queue of callable work
// items, supervised by an adaptive resize controller, with an optional
// task-scheduler adapter for higher-level cooperative task runtimes.
//
// # Overview
//
// dtpool is an alternative to Go's default approach of spawning a
// goroutine per unit of work and relying on the runtime scheduler. It
// instead owns a fixed-but-adaptive set of dedicated worker goroutines
// (PoolWorkers) draining a single unbounded queue (a WorkChannel), with a
// resize controller that grows the pool under sustained load and retires
// workers that have been idle too long. A TaskSchedulerAdapter layers a
// FIFO task queue on top of a Pool, multiplexing many small tasks onto
// the same worker goroutines and allowing a task to execute another task
// inline, on the same goroutine, when that second task would otherwise
// just re-enter the same scheduler.
//
// # Core Concepts
//
//   - Callable: an opaque, parameterless unit of work (func() error) that
//     may also panic; both a returned error and a recovered panic are
//     isolated from the caller and delivered to an ExceptionHandler.
//   - Pool: owns the worker slots and the WorkChannel, and runs the
//     resize tick on the submission path under the single-submitter
//     contract.
//   - PoolWorker: one dedicated goroutine with an idleness estimator and
//     a cooperative stop flag; never forcibly terminated.
//   - TaskSchedulerAdapter: a secondary FIFO queue atop a Pool that
//     consolidates many small tasks into a handful of pool submissions
//     ("drain closures") and supports inline re-entrant execution.
//   - UnfairSemaphore: a latency-optimized semaphore with a packed
//     64-bit CAS state, preserved as an optional fast-path wakeup
//     primitive for custom WorkChannel implementations.
//
// # Usage Example
//
//	settings, err := dtpool.NewSettings(4,
//	    dtpool.WithName("workers"),
//	    dtpool.WithExceptionHandler(func(err error) {
//	        log.Printf("worker fault: %v", err)
//	    }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	pool, err := dtpool.NewPool(settings)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for i := 0; i < 1000; i++ {
//	    i := i
//	    pool.Submit(func() error {
//	        process(i)
//	        return nil
//	    })
//	}
//
//	pool.Close()
//	pool.WaitForExit(10 * time.Second)
//
// # Observability
//
// Every component emits structured signals through capitan (worker
// spawn/retire/fault, resize tick outcomes, submit rejections), exposes
// counters and gauges through metricz, wraps its hot paths in tracez
// spans, and lets callers subscribe to lifecycle events through hookz.
// Event timestamps, WaitForExit's deadline and UnfairSemaphore's acquire
// timeout come from an injected clockz clock; a worker's idle poll
// interval is real time and does not follow that clock.
//
// # Best Practices
//
//  1. Treat ExceptionHandler as hot-path code invoked on a worker
//     goroutine; keep it fast and make it safe for concurrent calls.
//  2. Call Close followed by WaitForExit with a bounded timeout during
//     shutdown; Close never blocks by itself.
//  3. Prefer one Pool per workload shape; the resize controller tunes
//     itself to a single submission pattern, not a mix of bursty and
//     steady-state producers.
//  4. Use TaskSchedulerAdapter when layering a cooperative task runtime
//     on top of dtpool; use Pool directly for plain fire-and-forget work.
package dtpool
