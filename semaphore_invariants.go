//go:build !dtpool_debug

package dtpool

// checkSemaphoreInvariants is a no-op in default builds. Build with
// -tags dtpool_debug to enable the panic-on-violation checks in
// semaphore_invariants_debug.go.
func checkSemaphoreInvariants(uint64) {}
