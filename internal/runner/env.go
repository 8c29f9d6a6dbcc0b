package runner

import (
	"time"

	"golang.org/x/xerrors"
)

// ErrSleepInterrupted is returned by RunEnv.Sleep when the global stop
// signal fires before the requested duration elapses. It's a deliberate
// control-flow signal (spec.md §9): a job that does nothing but sleep in a
// loop can propagate it straight back out without checking IsStopping after
// every wait.
var ErrSleepInterrupted = xerrors.New("sleep interrupted by stop signal")

// envState is the single shared block behind both faces of a job
// invocation's run environment. It mirrors
// original_source/job_runner/environment.py's _Env: one mutable struct, a
// job-facing wrapper that can only set its flags, and a runner-facing
// wrapper that can only read them. There's no lock because the two wrappers
// are never used concurrently — the job holds the only reference while it's
// running synchronously inside the runner's call, and the runner only reads
// the flags after that call returns (spec.md §4.2, §9).
type envState struct {
	stop *StopSignal

	rerun   bool
	stopReq bool
	fatal   bool
}

// RunEnv is the job-facing facet of a single invocation's environment. A
// job receives exactly one of these, fresh, on every call.
type RunEnv struct {
	state *envState
}

// newRunEnv constructs both facets of a fresh invocation environment bound
// to the given stop signal.
func newRunEnv(stop *StopSignal) (*RunEnv, *envOutcome) {
	state := &envState{stop: stop}
	return &RunEnv{state: state}, &envOutcome{state: state}
}

// Sleep waits up to d for the stop signal to fire. If it fires first, Sleep
// returns ErrSleepInterrupted so a purely-sleeping job can exit promptly
// without polling IsStopping. Jobs must not swallow this error (spec.md
// §6's job contract).
func (e *RunEnv) Sleep(d time.Duration) error {
	if e.state.stop.Wait(d) {
		return ErrSleepInterrupted
	}
	return nil
}

// IsStopping reports whether the global stop signal has fired, without
// blocking. Jobs that loop on their own (rather than sleeping) should check
// this every iteration.
func (e *RunEnv) IsStopping() bool {
	return e.state.stop.IsSet()
}

// RequestRerun asks the runner to invoke this job again immediately after
// the current call returns, bypassing the normal interval/variance delay.
// Idempotent and last-writer-wins, like the other request methods.
func (e *RunEnv) RequestRerun() {
	e.state.rerun = true
}

// RequestStop asks the coordinator to begin shutting down the whole process
// once the current call returns.
func (e *RunEnv) RequestStop() {
	e.state.stopReq = true
}

// RequestFatalErrors opts this invocation into the fatal error path: if the
// job subsequently panics (a Func returns nothing, so a panic is its only
// way to fail), the runner treats it as
// fatal (coordinator exits 1) instead of logging and continuing. Calling
// this does nothing on its own — it only changes how a later failure in the
// same invocation is handled.
func (e *RunEnv) RequestFatalErrors() {
	e.state.fatal = true
}

// envOutcome is the runner-facing facet, read once the job call returns.
type envOutcome struct {
	state *envState
}

// RequestedRerun reports whether the job called RequestRerun during this
// invocation.
func (o *envOutcome) RequestedRerun() bool { return o.state.rerun }

// RequestedStop reports whether the job called RequestStop during this
// invocation.
func (o *envOutcome) RequestedStop() bool { return o.state.stopReq }

// RequestedFatalErrors reports whether the job called RequestFatalErrors
// during this invocation.
func (o *envOutcome) RequestedFatalErrors() bool { return o.state.fatal }
