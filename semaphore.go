package dtpool

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// maxPermits bounds every packed field; it doubles as the kernel
// channel's buffer size since no field may exceed it.
const maxPermits = 0x7FFF

// cacheLinePad mitigates false sharing around the semaphore's hot
// atomic word on multi-core machines.
type cacheLinePad struct{ _ [64]byte } //nolint:unused // padding only

// UnfairSemaphore is a latency-optimized semaphore that biases toward
// goroutines that have recently begun waiting (spinners), avoiding a
// channel-blocking transition when a permit is already on its way. All
// non-kernel state lives in a single atomic 64-bit word, partitioned
// into four 16-bit fields: spinners, countForSpinners, waiters,
// countForWaiters. The word is mutated only by compare-and-swap.
//
// It is not used by WorkChannel in this package (WorkChannel uses a
// plain mutex + notify channel) but is preserved as an optional
// fast-path wakeup primitive for alternative WorkChannel
// implementations, per the design notes.
type UnfairSemaphore struct {
	_      cacheLinePad
	state  atomic.Uint64
	_      cacheLinePad
	kernel chan struct{}
	clock  clockz.Clock
}

// NewUnfairSemaphore returns an UnfairSemaphore with no permits
// outstanding. clock is used for Acquire's timeout; pass nil to use the
// real clock.
func NewUnfairSemaphore(clock clockz.Clock) *UnfairSemaphore {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &UnfairSemaphore{
		kernel: make(chan struct{}, maxPermits),
		clock:  clock,
	}
}

func packSemState(spinners, countForSpinners, waiters, countForWaiters int16) uint64 {
	return uint64(uint16(spinners))<<48 |
		uint64(uint16(countForSpinners))<<32 |
		uint64(uint16(waiters))<<16 |
		uint64(uint16(countForWaiters))
}

func unpackSemState(v uint64) (spinners, countForSpinners, waiters, countForWaiters int16) {
	spinners = int16(v >> 48) //nolint:gosec // packed field is always <= maxPermits
	countForSpinners = int16(v >> 32)
	waiters = int16(v >> 16)
	countForWaiters = int16(v)
	return
}

// Acquire blocks until a permit is available, ctx is canceled, or
// timeout elapses (timeout <= 0 means wait indefinitely). It returns
// true only on successful acquisition.
func (s *UnfairSemaphore) Acquire(ctx context.Context, timeout time.Duration) bool {
	// Step 1: try the reserved-spinner fast path, else register as a spinner.
	for {
		old := s.state.Load()
		sp, cfs, wt, cfw := unpackSemState(old)
		if cfs > 0 {
			next := packSemState(sp, cfs-1, wt, cfw)
			if s.state.CompareAndSwap(old, next) {
				checkSemaphoreInvariants(next)
				capitan.Info(ctx, SignalSemaphoreAcquired, FieldSpinners.Field(int(sp)), FieldWaiters.Field(int(wt)))
				return true
			}
			continue
		}
		next := packSemState(sp+1, cfs, wt, cfw)
		if s.state.CompareAndSwap(old, next) {
			checkSemaphoreInvariants(next)
			break
		}
	}

	// Step 2: spin loop with a per-spinner budget, then demote to waiter.
	spins := 0
	for {
		old := s.state.Load()
		sp, cfs, wt, cfw := unpackSemState(old)
		if cfs > 0 {
			next := packSemState(sp-1, cfs-1, wt, cfw)
			if s.state.CompareAndSwap(old, next) {
				checkSemaphoreInvariants(next)
				capitan.Info(ctx, SignalSemaphoreAcquired, FieldSpinners.Field(int(sp)-1), FieldWaiters.Field(int(wt)))
				return true
			}
			continue
		}

		spins++
		if spins >= spinBudget(sp) {
			next := packSemState(sp-1, cfs, wt+1, cfw)
			if s.state.CompareAndSwap(old, next) {
				checkSemaphoreInvariants(next)
				capitan.Info(ctx, SignalSemaphoreSpinExhausted, FieldSpinners.Field(int(sp)-1), FieldWaiters.Field(int(wt)+1))
				break
			}
			continue
		}
		runtime.Gosched()
	}

	// Step 3: block on the channel-based kernel semaphore.
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timeoutCh = s.clock.After(timeout)
	}

	acquired := false
	select {
	case <-s.kernel:
		acquired = true
	case <-timeoutCh:
	case <-ctx.Done():
	}

	for {
		old := s.state.Load()
		sp, cfs, wt, cfw := unpackSemState(old)
		newWt := wt - 1
		if newWt < 0 {
			newWt = 0
		}
		newCfw := cfw
		if acquired && newCfw > 0 {
			newCfw--
		}
		next := packSemState(sp, cfs, newWt, newCfw)
		if s.state.CompareAndSwap(old, next) {
			checkSemaphoreInvariants(next)
			if acquired {
				capitan.Info(ctx, SignalSemaphoreAcquired, FieldSpinners.Field(int(sp)), FieldWaiters.Field(newWt))
			}
			return acquired
		}
	}
}

// Release grants n permits, preferring unreserved spinners first (no
// kernel transition needed), then unreserved waiters (one channel send
// each), with any leftover banked as future spinner credit.
func (s *UnfairSemaphore) Release(n int) {
	if n <= 0 {
		return
	}

	var toWaiters int
	for {
		old := s.state.Load()
		sp, cfs, wt, cfw := unpackSemState(old)

		unreservedSpinners := maxInt(0, int(sp)-int(cfs))
		toSpinners := minInt(n, unreservedSpinners)
		remaining := n - toSpinners

		unreservedWaiters := maxInt(0, int(wt)-int(cfw))
		toWaiters = minInt(remaining, unreservedWaiters)
		leftover := remaining - toWaiters

		newCfs := int(cfs) + toSpinners + leftover
		newCfw := int(cfw) + toWaiters
		next := packSemState(sp, int16(newCfs), wt, int16(newCfw)) //nolint:gosec // bounded by maxPermits by construction
		if s.state.CompareAndSwap(old, next) {
			checkSemaphoreInvariants(next)
			capitan.Info(context.Background(), SignalSemaphoreReleased,
				FieldCountForSpinners.Field(newCfs), FieldCountForWaiters.Field(newCfw))
			break
		}
	}

	for i := 0; i < toWaiters; i++ {
		s.kernel <- struct{}{}
	}
}

// spinBudget computes the per-spinner spin iteration budget:
// round(50 / (spinners / NumCPU)), floored at 1 to avoid a division
// collapse when spinners is small relative to NumCPU.
func spinBudget(spinners int16) int {
	cpus := float64(maxInt(1, runtime.NumCPU()))
	sp := float64(maxInt(1, int(spinners)))
	budget := int(50.0/(sp/cpus) + 0.5)
	if budget < 1 {
		budget = 1
	}
	return budget
}
