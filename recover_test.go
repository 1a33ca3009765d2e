package dtpool

import (
	"errors"
	"strings"
	"testing"
)

func TestSanitizePanicMessage(t *testing.T) {
	tests := []struct {
		name     string
		panic    interface{}
		expected string
	}{
		{
			name:     "simple string panic",
			panic:    "simple error",
			expected: "panic occurred: simple error",
		},
		{
			name:     "nil panic",
			panic:    nil,
			expected: "unknown panic (nil value)",
		},
		{
			name:     "memory address sanitization",
			panic:    "error at 0x1234567890abcdef",
			expected: "panic occurred: error at 0x***",
		},
		{
			name:     "file path sanitization",
			panic:    "/sensitive/path/file.go:123 error",
			expected: "panic occurred (file path sanitized)",
		},
		{
			name:     "windows path sanitization",
			panic:    "C:\\sensitive\\path\\file.go:123 error",
			expected: "panic occurred (file path sanitized)",
		},
		{
			name:     "long message truncation",
			panic:    strings.Repeat("a", 250),
			expected: "panic occurred (message truncated for security)",
		},
		{
			name:     "stack trace sanitization",
			panic:    "error\ngoroutine 1 [running]:\nruntime.main()",
			expected: "panic occurred (stack trace sanitized)",
		},
		{
			name:     "runtime function sanitization",
			panic:    "runtime.doPanic called",
			expected: "panic occurred (stack trace sanitized)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizePanicMessage(tt.panic); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestRunCallable(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		if fault := runCallable(func() error { return nil }, "w0"); fault != nil {
			t.Errorf("expected no fault, got %v", fault)
		}
	})

	t.Run("returned error", func(t *testing.T) {
		wantErr := errors.New("boom")
		fault := runCallable(func() error { return wantErr }, "w0")
		if fault == nil {
			t.Fatal("expected fault")
		}
		if fault.Recovered {
			t.Error("expected Recovered=false for a returned error")
		}
		if !errors.Is(fault, wantErr) {
			t.Errorf("expected wrapped error, got %v", fault.Err)
		}
	})

	t.Run("panic", func(t *testing.T) {
		fault := runCallable(func() error { panic("kaboom") }, "w1")
		if fault == nil {
			t.Fatal("expected fault")
		}
		if !fault.Recovered {
			t.Error("expected Recovered=true for a panic")
		}
		if !strings.Contains(fault.Error(), "kaboom") {
			t.Errorf("expected panic message preserved, got %v", fault)
		}
	})

	t.Run("panic does not escape", func(t *testing.T) {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("panic escaped runCallable: %v", r)
			}
		}()
		runCallable(func() error { panic("should be contained") }, "w2")
	})
}

func TestDispatchFault(t *testing.T) {
	t.Run("handler receives fault", func(t *testing.T) {
		var received *FaultError
		dispatchFault(func(err error) {
			fe := err.(*FaultError) //nolint:errcheck // test asserts the concrete type
			received = fe
		}, &FaultError{WorkerName: "w0"})

		if received == nil || received.WorkerName != "w0" {
			t.Errorf("expected handler to receive fault, got %v", received)
		}
	})

	t.Run("nil handler is a no-op", func(t *testing.T) {
		dispatchFault(nil, &FaultError{WorkerName: "w0"})
	})

	t.Run("nil fault is a no-op", func(t *testing.T) {
		called := false
		dispatchFault(func(error) { called = true }, nil)
		if called {
			t.Error("handler should not be called for a nil fault")
		}
	})

	t.Run("handler panic is swallowed", func(t *testing.T) {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("handler panic escaped dispatchFault: %v", r)
			}
		}()
		dispatchFault(func(error) { panic("handler exploded") }, &FaultError{WorkerName: "w0"})
	})
}
