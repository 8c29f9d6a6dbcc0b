package runner

import (
	"sync"
	"time"
)

// StopSignal is a broadcast latch: once Set, it stays set, and any number of
// goroutines can Wait on it concurrently without coordinating with each
// other. It's the Go stand-in for Python's threading.Event, which the
// original job runner (original_source/job_runner) used as its sole
// cross-component shutdown signal.
type StopSignal struct {
	once sync.Once
	ch   chan struct{}
}

// NewStopSignal returns a StopSignal in the unset state.
func NewStopSignal() *StopSignal {
	return &StopSignal{ch: make(chan struct{})}
}

// Set marks the signal as fired. Idempotent: calling it more than once has
// no additional effect.
func (s *StopSignal) Set() {
	s.once.Do(func() { close(s.ch) })
}

// IsSet reports whether Set has been called, without blocking.
func (s *StopSignal) IsSet() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel that's closed once Set is called. Useful for
// select-based waits that also need to watch other channels.
func (s *StopSignal) Done() <-chan struct{} {
	return s.ch
}

// Wait blocks until the signal is set or timeout elapses, whichever comes
// first, and reports whether the signal was set. A zero or negative timeout
// returns immediately. A negative timeout is never produced by this package's
// own callers, but is treated the same as zero defensively.
func (s *StopSignal) Wait(timeout time.Duration) bool {
	if timeout <= 0 {
		return s.IsSet()
	}

	select {
	case <-s.ch:
		return true
	case <-time.After(timeout):
		return s.IsSet()
	}
}

// WaitForever blocks until the signal is set. Used by the coordinator's main
// await step, which has no deadline of its own.
func (s *StopSignal) WaitForever() {
	<-s.ch
}
