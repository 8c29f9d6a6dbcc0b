package runner

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/xerrors"

	"github.com/runjobs/runjobs/internal/runnerlog"
)

// Housekeeping is an opaque periodic callback scheduled alongside a job's
// own invocations, used for things like the host framework's
// database-connection hygiene (spec.md §1 treats this as an external
// collaborator the core merely schedules). A zero-value Housekeeping
// (nil Func) means "none", the default spec.md §4.4 describes.
type Housekeeping struct {
	Interval time.Duration
	Func     func()
}

func (h Housekeeping) enabled() bool {
	return h.Func != nil && h.Interval > 0
}

// JobRunner drives a single RegisteredJob on its own goroutine, on its own
// jittered cadence, until the shared stop signal fires. One JobRunner exists
// per registered job (spec.md §2, component 5 / §4.4).
type JobRunner struct {
	job           *RegisteredJob
	stop          *StopSignal
	tracker       *TimeoutTracker
	fatalNotifier func()
	housekeeping  Housekeeping
	log           runnerlog.Logger

	nextRun             time.Time
	nextHousekeeping    time.Time
	housekeepingPending bool

	statusMu     sync.Mutex
	lastDuration time.Duration
	lastErr      string
	invocations  int64
}

// Status is a point-in-time, read-only snapshot of a JobRunner's scheduling
// state, used by internal/runnerhttp to render the optional status
// endpoint (SPEC_FULL.md §6.6). It carries no behavior of its own and has
// no bearing on spec.md's testable properties.
type Status struct {
	Name         string
	NextRun      time.Time
	LastDuration time.Duration
	LastError    string
	Invocations  int64
}

// Status returns the runner's current snapshot. Safe for concurrent use
// while the runner is active.
func (r *JobRunner) Status() Status {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()

	return Status{
		Name:         r.job.Name,
		NextRun:      r.nextRun,
		LastDuration: r.lastDuration,
		LastError:    r.lastErr,
		Invocations:  r.invocations,
	}
}

func (r *JobRunner) recordInvocation(duration time.Duration, errText string) {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()

	r.lastDuration = duration
	r.lastErr = errText
	r.invocations++
}

// NewJobRunner constructs a runner for job. fatalNotifier is invoked
// whenever this runner's invocation terminates via the fatal path (spec.md
// §4.5's "fatal notifier"): a job that asked for fatal errors and then
// errored or panicked, or a job whose timeout fired.
func NewJobRunner(job *RegisteredJob, stop *StopSignal, tracker *TimeoutTracker, fatalNotifier func(), housekeeping Housekeeping, log runnerlog.Logger) *JobRunner {
	return &JobRunner{
		job:           job,
		stop:          stop,
		tracker:       tracker,
		fatalNotifier: fatalNotifier,
		housekeeping:  housekeeping,
		log:           log.With("job_name", job.Name),

		// Initial scheduling jitters the very first run so that many jobs
		// registered with identical cadences don't all fire in lockstep
		// (spec.md §4.4's "desynchronizes runners" note), grounded on
		// original_source/job_runner/runner.py's
		// `self._next_run = job.variance.total_seconds() * random()`.
		nextRun: time.Now().Add(jitter(job.Variance)),
	}
}

// Run executes the main loop described in spec.md §4.4. It blocks until the
// global stop signal is set and returns only then; callers run it on its
// own goroutine.
func (r *JobRunner) Run() {
	r.log.Debugf("starting job runner: interval=%v variance=%v timeout=%v", r.job.Interval, r.job.Variance, r.job.Timeout)

	for !r.stop.IsSet() {
		delay := r.nextEventDelay()

		if r.stop.Wait(delay) {
			break
		}

		now := time.Now()

		if !now.Before(r.nextRun) {
			r.invoke()
		}

		if r.housekeeping.enabled() && r.housekeepingPending && !now.Before(r.nextHousekeeping) {
			r.housekeeping.Func()
			r.scheduleNextHousekeeping()
		}
	}

	r.log.Debugf("job runner stopped")
}

// nextEventDelay computes the wait before the next scheduled event --
// either the job's own next run, or (once a first invocation has happened)
// its next housekeeping tick, whichever is sooner. Housekeeping is
// deliberately not scheduled before the first invocation (spec.md §9's
// Open Question, resolved in favor of lazy scheduling), so a job that never
// gets to run never incurs any housekeeping overhead either.
func (r *JobRunner) nextEventDelay() time.Duration {
	next := r.nextRun
	if r.housekeeping.enabled() && r.housekeepingPending && r.nextHousekeeping.Before(next) {
		next = r.nextHousekeeping
	}

	delay := time.Until(next)
	if delay < 0 {
		delay = 0
	}
	return delay
}

// invoke runs exactly one invocation of the job, following spec.md §4.4's
// invocation sequence end to end.
func (r *JobRunner) invoke() {
	env, outcome := newRunEnv(r.stop)
	started := time.Now()

	// timeoutFired is written on the tracker's goroutine (inside the
	// AddTimeout callback, which runs outside the tracker's lock) and read
	// here on the runner's goroutine once the job returns; atomic.Bool is
	// the latch spec.md §4.4 step 2 calls for, giving that cross-goroutine
	// read a happens-before edge instead of racing on a plain bool.
	var timeoutFired atomic.Bool
	var cancelTimeout CancelFunc
	if r.job.Timeout > 0 {
		cancelTimeout = r.tracker.AddTimeout(r.job.Timeout, func() {
			timeoutFired.Store(true)
			r.log.Warnf("job timed out after %v; requesting global stop", r.job.Timeout)
			r.stop.Set()
		})
	}

	errText := r.runJobSafely(env, outcome)
	r.recordInvocation(time.Since(started), errText)

	if cancelTimeout != nil {
		cancelTimeout()
	}

	// This is a defensive edge (spec.md §4.4 step 6): the job's own stop
	// signal also fired when the timeout callback ran, so shutdown happens
	// either way. The fatal notifier's only extra job here is making sure
	// the process exits 1 instead of 0.
	if timeoutFired.Load() {
		r.fatalNotifier()
	}

	r.scheduleNextRun(started, outcome)

	if r.housekeeping.enabled() && !r.housekeepingPending {
		r.scheduleNextHousekeeping()
	}
}

// runJobSafely calls the job's callable, classifying the outcome per
// spec.md §4.4 step 4 and §7's error taxonomy. A Func returns nothing, so a
// panic is the only way a job invocation fails (SPEC_FULL.md §8): it is
// absorbed unless the job asked for fatal errors first, in which case it
// escapes to the fatal path. Panic recovery itself is grounded on
// parallel/pool.go's workJob: recover(), wrap with xerrors, and treat it as
// this invocation's error.
func (r *JobRunner) runJobSafely(env *RunEnv, outcome *envOutcome) (errText string) {
	defer func() {
		if p := recover(); p != nil {
			errText = r.handleInvocationError(panicToError(p), outcome)
		}
	}()

	r.job.Func(env)
	r.log.Debugf("job finished successfully")
	return ""
}

// handleInvocationError applies spec.md §7's "job exception" taxonomy: a
// clean stop-induced SleepInterrupted is never logged as an error; anything
// else is logged and absorbed, unless the job called RequestFatalErrors
// before failing, in which case the fatal notifier fires so the coordinator
// exits 1 once shutdown completes (spec.md §4.4 step 4, §4.5).
func (r *JobRunner) handleInvocationError(err error, outcome *envOutcome) string {
	if xerrors.Is(err, ErrSleepInterrupted) {
		r.log.Debugf("job interrupted by stop signal during sleep")
		return ""
	}

	if outcome.RequestedFatalErrors() {
		r.log.Errorf("job failed with fatal error requested: %v", err)
		r.fatalNotifier()
		return err.Error()
	}

	r.log.Errorf("job finished with exception: %v", err)
	return err.Error()
}

// scheduleNextRun applies spec.md §4.4 step 7's three cases, in priority
// order: an explicit rerun request always wins, then an explicit stop
// request still lets scheduling happen (it's moot -- the stop signal will
// end the loop on the next pass -- but computing it keeps the runner's
// state consistent if a caller inspects it), and otherwise the drift-free
// default applies.
func (r *JobRunner) scheduleNextRun(started time.Time, outcome *envOutcome) {
	if outcome.RequestedStop() {
		r.log.Debugf("job requested stop")
		r.stop.Set()
	}

	if outcome.RequestedRerun() {
		r.log.Debugf("job requested rerun without delay")
		r.statusMu.Lock()
		r.nextRun = time.Now()
		r.statusMu.Unlock()
		return
	}

	// Drift-free: measured from start to start, so cadence holds steady
	// regardless of how long the job ran -- spec.md §4.4 step 7 is
	// `now + interval + jitter - execution_time`, and since `now` here is
	// `started + execution_time`, that collapses to `started + interval +
	// jitter` (subtracting execution_time again on top of this would
	// double-count it). If the job ran longer than interval+jitter, this
	// already lands in the past, and nextEventDelay's delay clamp makes the
	// next run immediate -- there is no catch-up queue (spec.md §9).
	r.statusMu.Lock()
	r.nextRun = started.Add(r.job.Interval).Add(jitter(r.job.Variance))
	r.statusMu.Unlock()
}

func (r *JobRunner) scheduleNextHousekeeping() {
	r.nextHousekeeping = time.Now().Add(r.housekeeping.Interval)
	r.housekeepingPending = true
}

// jitter samples a uniform random delay in [0, variance). A zero variance
// always returns zero without touching the RNG.
func jitter(variance time.Duration) time.Duration {
	if variance <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(variance)))
}

func panicToError(p any) error {
	if err, ok := p.(error); ok {
		return xerrors.Errorf("job panicked: %w", err)
	}
	return xerrors.Errorf("job panicked: %v", p)
}
