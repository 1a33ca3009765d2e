package dtpool

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"
)

// ThreadType labels whether a worker goroutine is modeled as keeping
// the embedding process alive. Go has no direct foreground/background
// thread distinction; Foreground workers are additionally counted on the
// Pool's internal WaitGroup. No Pool method waits on that WaitGroup, and
// WaitForExit waits on every worker whatever its ThreadType, so the
// setting does not change when the process may exit.
type ThreadType int

const (
	// Background workers are not separately tracked for process exit.
	Background ThreadType = iota
	// Foreground workers are counted on the pool's internal WaitGroup.
	Foreground
)

func (t ThreadType) String() string {
	if t == Foreground {
		return "Foreground"
	}
	return "Background"
}

// Default resize-tick policy constants (Design Notes: "expose them as
// tunables" rather than hardcoding).
const (
	DefaultRetireIdleThreshold = 75
	DefaultBusyIdleThreshold   = 10
	DefaultResizeTickPeriod    = 50
)

var settingsSeq atomic.Uint64

// Settings is a validated, immutable-after-construction configuration
// record for a Pool. Build one with NewSettings.
type Settings struct {
	Name                          string
	DeadlockTimeout               *time.Duration
	ExceptionHandler              func(error)
	Clock                         clockz.Clock
	NumThreads                    int
	MinThreads                    int
	MaxThreads                    int
	RetireIdleThreshold           int
	BusyIdleThreshold             int
	ResizeTickPeriod              int
	ThreadType                    ThreadType
	AllowSynchronousContinuations bool
	SynchronousScheduler          bool
}

// Option configures a Settings value during construction.
type Option func(*Settings)

// WithName sets the worker name prefix. Worker goroutine names are
// formatted "{name}_{worker_id}".
func WithName(name string) Option {
	return func(s *Settings) { s.Name = name }
}

// WithThreadType overrides the default Background thread type.
func WithThreadType(t ThreadType) Option {
	return func(s *Settings) { s.ThreadType = t }
}

// WithDeadlockTimeout sets the reserved deadlock timeout. It is accepted
// and validated but never consulted by Pool or PoolWorker; no supervisor
// currently reads it.
func WithDeadlockTimeout(d time.Duration) Option {
	return func(s *Settings) { s.DeadlockTimeout = &d }
}

// WithExceptionHandler sets the handler invoked with a *FaultError
// whenever a submitted Callable panics or returns an error. The handler
// runs on the worker goroutine and must be safe for concurrent calls.
func WithExceptionHandler(h func(error)) Option {
	return func(s *Settings) { s.ExceptionHandler = h }
}

// WithAllowSynchronousContinuations records whether a producer's
// goroutine may execute the callback that unblocks a waiting consumer.
// The value is kept on Settings only: WorkChannel does not read it, and
// TryWrite always wakes waiting readers by closing its notify channel.
func WithAllowSynchronousContinuations(allow bool) Option {
	return func(s *Settings) { s.AllowSynchronousContinuations = allow }
}

// WithSynchronousScheduler declares whether Submit is called from a
// bounded set of producers, enabling the resize-controller tick to run
// inline on the submitter's goroutine.
func WithSynchronousScheduler(synchronous bool) Option {
	return func(s *Settings) { s.SynchronousScheduler = synchronous }
}

// WithClock injects a clockz.Clock, primarily for deterministic tests.
func WithClock(clock clockz.Clock) Option {
	return func(s *Settings) { s.Clock = clock }
}

// WithMaxThreads overrides the derived MaxThreads upper bound.
func WithMaxThreads(max int) Option {
	return func(s *Settings) { s.MaxThreads = max }
}

// WithResizeTuning overrides the resize tick's policy constants: the
// idle threshold above which a worker becomes retirement-eligible, the
// idle threshold below which a worker counts as busy, and the number of
// submissions between resize ticks.
func WithResizeTuning(retireIdleThreshold, busyIdleThreshold, tickPeriod int) Option {
	return func(s *Settings) {
		s.RetireIdleThreshold = retireIdleThreshold
		s.BusyIdleThreshold = busyIdleThreshold
		s.ResizeTickPeriod = tickPeriod
	}
}

// NewSettings validates and constructs a Settings value. numThreads must
// be > 0. DeadlockTimeout, if set via WithDeadlockTimeout, must be >= 1ms.
func NewSettings(numThreads int, opts ...Option) (Settings, error) {
	if numThreads <= 0 {
		return Settings{}, fmt.Errorf("%w: num_threads must be > 0, got %d", ErrInvalidArgument, numThreads)
	}

	s := Settings{
		NumThreads:                    numThreads,
		MinThreads:                    minInt(2, numThreads),
		MaxThreads:                    maxInt(numThreads, maxInt(2, runtime.NumCPU()-1)),
		ThreadType:                    Background,
		AllowSynchronousContinuations: true,
		SynchronousScheduler:          true,
		ExceptionHandler:              func(error) {},
		Clock:                         clockz.RealClock,
		RetireIdleThreshold:           DefaultRetireIdleThreshold,
		BusyIdleThreshold:             DefaultBusyIdleThreshold,
		ResizeTickPeriod:              DefaultResizeTickPeriod,
	}

	for _, opt := range opts {
		opt(&s)
	}

	if s.Name == "" {
		s.Name = fmt.Sprintf("dtpool-%d", settingsSeq.Add(1))
	}
	if s.ExceptionHandler == nil {
		s.ExceptionHandler = func(error) {}
	}
	if s.Clock == nil {
		s.Clock = clockz.RealClock
	}
	if s.DeadlockTimeout != nil && *s.DeadlockTimeout < time.Millisecond {
		return Settings{}, fmt.Errorf("%w: deadlock_timeout must be nil or >= 1ms, got %v", ErrInvalidArgument, *s.DeadlockTimeout)
	}

	return s, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
