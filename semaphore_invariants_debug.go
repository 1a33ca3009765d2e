//go:build dtpool_debug

package dtpool

// checkSemaphoreInvariants panics if the packed state violates any of
// the invariants from the design: every field in [0, maxPermits], and
// countForSpinners + countForWaiters <= maxPermits. Only compiled with
// -tags dtpool_debug.
func checkSemaphoreInvariants(v uint64) {
	sp, cfs, wt, cfw := unpackSemState(v)
	if sp < 0 || cfs < 0 || wt < 0 || cfw < 0 {
		panic("dtpool: semaphore state has a negative field")
	}
	if int(cfs)+int(cfw) > maxPermits {
		panic("dtpool: semaphore reserved counts exceed maxPermits")
	}
}
