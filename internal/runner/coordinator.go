package runner

import (
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"golang.org/x/xerrors"

	"github.com/runjobs/runjobs/internal/runnerlog"
)

// Options configures a Coordinator run. It is the already-filtered,
// already-parsed options struct spec.md §1 says the CLI layer hands to the
// core -- the core itself never touches flags or argv.
type Options struct {
	// IncludeJobs, if non-empty, restricts the run to exactly these
	// qualified job names. Mutually exclusive with ExcludeJobs.
	IncludeJobs []string

	// ExcludeJobs, if non-empty, runs every registered job except these.
	ExcludeJobs []string

	// StopAfter, if positive, arms an overall-runtime stop timeout.
	StopAfter time.Duration

	// StopVariance jitters StopAfter uniformly in [0, StopVariance).
	StopVariance time.Duration

	// StopTimeout bounds the graceful-shutdown join in shutdown (spec.md §4.5
	// step 9). Defaults to 5 seconds, the teacher's modulr.go-style
	// fillDefaults convention.
	StopTimeout time.Duration

	// TrialRun, if true, resolves and validates the job set and returns
	// without starting anything (spec.md §4.5 step 3).
	TrialRun bool

	// Housekeeping is scheduled alongside every runner. See runner.go.
	Housekeeping Housekeeping

	Log runnerlog.Logger
}

func (o *Options) fillDefaults() {
	if o.StopTimeout <= 0 {
		o.StopTimeout = 5 * time.Second
	}
	if o.Log == nil {
		o.Log = runnerlog.New(runnerlog.LevelInfo)
	}
}

// Coordinator is the top-level lifecycle described in spec.md §4.5: it
// resolves and validates the job set, starts the timeout tracker and one
// runner per job, waits for a stop signal (from a job, from a signal, or
// from an optional overall-runtime timeout), and enforces a bounded
// graceful shutdown before deciding the process exit code. Grounded on
// modulr.go's build()/fillDefaults() top-level loop, generalized from a
// one-shot-or-looping build to N concurrent long-lived runners.
type Coordinator struct {
	registry *Registry
	options  Options

	stop    *StopSignal
	tracker *TimeoutTracker

	fatalMu sync.Mutex
	fatal   bool

	runnersMu sync.Mutex
	runners   []*runnerHandle
}

type runnerHandle struct {
	job    *RegisteredJob
	runner *JobRunner
	done   chan struct{}
}

// Done returns a channel that closes once the coordinator's stop signal
// fires, letting external collaborators (internal/runnerconfig's watcher)
// stop alongside the coordinator without reaching into its internals.
func (c *Coordinator) Done() <-chan struct{} {
	return c.stop.Done()
}

// Statuses returns a point-in-time snapshot of every active runner, used by
// internal/runnerhttp's optional status endpoint (SPEC_FULL.md §6.6). Safe
// to call concurrently with Run.
func (c *Coordinator) Statuses() []Status {
	c.runnersMu.Lock()
	defer c.runnersMu.Unlock()

	statuses := make([]Status, 0, len(c.runners))
	for _, h := range c.runners {
		statuses = append(statuses, h.runner.Status())
	}
	return statuses
}

// ActiveJobNames reports the qualified name of every currently-running
// runner, used by internal/runnerconfig's hot-reload (SPEC_FULL.md §6.7) to
// decide which newly-listed jobs still need activating.
func (c *Coordinator) ActiveJobNames() []string {
	c.runnersMu.Lock()
	defer c.runnersMu.Unlock()

	names := make([]string, 0, len(c.runners))
	for _, h := range c.runners {
		names = append(names, h.job.Name)
	}
	return names
}

// ActivateJob starts a runner for a registered job that isn't already
// active. It is the mechanism internal/runnerconfig's config-file watcher
// uses to bring newly-included jobs online without restarting the process
// (SPEC_FULL.md §6.7). Removing a job from the active set at runtime is
// deliberately unsupported -- the spec.md Non-goals rule out durable,
// mutable job state, and a job mid-invocation has no safe preemption path
// other than the existing stop-timeout/fatal machinery -- so a config
// change that drops a name is logged (by the watcher's reload) but otherwise
// has no runtime effect until the process restarts.
func (c *Coordinator) ActivateJob(name string) error {
	job, ok := c.registry.Get(name)
	if !ok {
		return xerrors.Errorf("cannot activate unknown job %q", name)
	}

	c.runnersMu.Lock()
	for _, h := range c.runners {
		if h.job.Name == name {
			c.runnersMu.Unlock()
			return nil
		}
	}
	c.runnersMu.Unlock()

	if c.tracker == nil {
		return xerrors.New("coordinator is not running")
	}

	jr := NewJobRunner(job, c.stop, c.tracker, c.markFatal, c.options.Housekeeping, c.options.Log)
	handle := &runnerHandle{job: job, runner: jr, done: make(chan struct{})}

	c.runnersMu.Lock()
	c.runners = append(c.runners, handle)
	c.runnersMu.Unlock()

	go func() {
		defer close(handle.done)
		jr.Run()
	}()

	c.options.Log.Infof("activated job %q via config reload", name)
	return nil
}

// NewCoordinator constructs a Coordinator over every job in registry,
// subject to options' include/exclude filters.
func NewCoordinator(registry *Registry, options Options) *Coordinator {
	options.fillDefaults()
	return &Coordinator{
		registry: registry,
		options:  options,
		stop:     NewStopSignal(),
	}
}

// Run executes the full coordinator lifecycle and returns the process exit
// code spec.md §4.5 step 10 and §7 describe: 0 on a clean stop, 1 on any
// configuration error, job-requested fatal, unhandled job exception after a
// fatal request, timeout fire, or stuck-runner shutdown timeout.
func (c *Coordinator) Run() int {
	jobs, err := c.resolveJobSet()
	if err != nil {
		c.options.Log.Errorf("configuration error: %v", err)
		return 1
	}

	if c.options.TrialRun {
		c.options.Log.Infof("trial run: %d job(s) resolved and validated", len(jobs))
		return 0
	}

	c.tracker = NewTimeoutTracker(c.stop, c.options.Log)
	c.tracker.Start()

	c.startRunners(jobs)
	c.installSignalHandlers()
	c.armOverallStop()

	c.stop.WaitForever()

	return c.shutdown()
}

// resolveJobSet applies spec.md §4.5 step 1: include wins if given (and any
// unknown included name is a hard error), otherwise exclude subtracts from
// the full registry, otherwise every registered job runs. Step 2's callable
// validation is folded in here since RegisteredJob construction already
// guarantees a well-formed callable (job.go's NewRegisteredJob); what's left
// to check is that the name can be resolved at all, matching the teacher's
// "report every invalid job by name before exiting; do not short-circuit"
// posture.
func (c *Coordinator) resolveJobSet() ([]*RegisteredJob, error) {
	all := c.registry.All()

	var jobs []*RegisteredJob

	switch {
	case len(c.options.IncludeJobs) > 0:
		var missing []string
		seen := map[string]bool{}
		for _, name := range dedupe(c.options.IncludeJobs) {
			job, ok := c.registry.Get(name)
			if !ok {
				missing = append(missing, name)
				continue
			}
			if !seen[name] {
				jobs = append(jobs, job)
				seen[name] = true
			}
		}
		if len(missing) > 0 {
			return nil, xerrors.Errorf("unknown included job name(s): %v", missing)
		}

	case len(c.options.ExcludeJobs) > 0:
		excluded := map[string]bool{}
		for _, name := range dedupe(c.options.ExcludeJobs) {
			excluded[name] = true
		}
		for _, job := range all {
			if !excluded[job.Name] {
				jobs = append(jobs, job)
			}
		}

	default:
		jobs = all
	}

	if len(jobs) == 0 {
		return nil, xerrors.New("no jobs resolved to run")
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })

	return jobs, nil
}

func (c *Coordinator) startRunners(jobs []*RegisteredJob) {
	c.runnersMu.Lock()
	defer c.runnersMu.Unlock()

	c.runners = make([]*runnerHandle, 0, len(jobs))

	for _, job := range jobs {
		jr := NewJobRunner(job, c.stop, c.tracker, c.markFatal, c.options.Housekeeping, c.options.Log)
		handle := &runnerHandle{job: job, runner: jr, done: make(chan struct{})}
		c.runners = append(c.runners, handle)

		// Each runner is a detached goroutine: nothing ever waits on it
		// except shutdown's bounded join, so a stuck job can never keep the
		// process alive past --stop-timeout (spec.md §4.5 step 6, §9's
		// daemon-semantics note).
		go func(h *runnerHandle) {
			defer close(h.done)
			jr.Run()
		}(handle)
	}

	c.options.Log.Infof("started %d job runner(s)", len(c.runners))
}

// installSignalHandlers maps interrupt/terminate/quit onto the stop signal
// (spec.md §4.5 step 4), grounded on the signal-handling convention used by
// PortNumber53-mcp-jira-thing's cmd/server/main.go (the only retrieved
// example wiring os/signal.Notify; the teacher itself never installs signal
// handlers since modulr is driven by its own CLI/watch loop instead).
func (c *Coordinator) installSignalHandlers() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		sig := <-sigCh
		c.options.Log.Infof("received signal %v, stopping", sig)
		c.stop.Set()
	}()
}

// armOverallStop implements spec.md §4.5 step 7.
func (c *Coordinator) armOverallStop() {
	if c.options.StopAfter <= 0 {
		return
	}

	delay := c.options.StopAfter + jitter(c.options.StopVariance)
	c.tracker.AddTimeout(delay, func() {
		c.options.Log.Infof("overall runtime of %v elapsed, stopping", delay)
		c.stop.Set()
	})
}

// shutdown implements spec.md §4.5 steps 9 and 10: a bounded join per
// runner, off a single shared deadline (not stacked per-runner), since
// every runner was asked to stop at the same instant.
func (c *Coordinator) shutdown() int {
	deadline := time.Now().Add(c.options.StopTimeout)

	c.runnersMu.Lock()
	runners := make([]*runnerHandle, len(c.runners))
	copy(runners, c.runners)
	c.runnersMu.Unlock()

	var stuck []string
	for _, h := range runners {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}

		select {
		case <-h.done:
		case <-time.After(remaining):
			stuck = append(stuck, h.job.Name)
		}
	}

	if len(stuck) > 0 {
		c.options.Log.Errorf("runner(s) still alive after stop-timeout, exiting without joining: %v", stuck)
		return 1
	}

	if c.isFatal() {
		return 1
	}
	return 0
}

// markFatal is the "fatal notifier" spec.md §4.5 describes: it flips the
// exit-code latch and sets the stop signal, so a job-requested fatal error
// (or a fired timeout) always tears down the whole run rather than leaving
// the other runners going under a doomed exit code.
func (c *Coordinator) markFatal() {
	c.fatalMu.Lock()
	c.fatal = true
	c.fatalMu.Unlock()
	c.stop.Set()
}

func (c *Coordinator) isFatal() bool {
	c.fatalMu.Lock()
	defer c.fatalMu.Unlock()
	return c.fatal
}

func dedupe(names []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
