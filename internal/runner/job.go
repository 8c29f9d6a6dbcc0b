package runner

import (
	"strings"
	"time"

	"golang.org/x/xerrors"
)

// Func is the shape every registered job's callable must have: it receives
// the job-facing run environment and returns nothing meaningful. Go's type
// system enforces spec.md §4.5 step 2's "accepts exactly one positional
// argument" invariant at compile time, so RegisteredJob validation is
// limited to what the type system can't check: name shape and the numeric
// invariants on Interval/Variance/Timeout.
type Func func(env *RunEnv)

// RegisteredJob is an immutable descriptor for one job: a fully-qualified
// name, a cadence, an optional per-invocation timeout, and the callable
// itself. Grounded on original_source/job_runner/registration.py's
// RegisteredJob and tracker.py's dataclass version of the same thing.
type RegisteredJob struct {
	// Name is the fully-qualified job name, used for filtering, logging,
	// and error messages. Must contain at least one dot (spec.md §6,
	// "Registration contract": module.function) and must be unique within
	// a run.
	Name string

	// Interval is the minimum wall-clock gap between the start of
	// consecutive invocations.
	Interval time.Duration

	// Variance is the upper bound of a uniform random delay added to
	// Interval on every scheduling decision, and used as a one-shot
	// initial jitter before the first invocation.
	Variance time.Duration

	// Timeout, if non-zero, enforces a deadline on a single invocation.
	// Zero means no timeout.
	Timeout time.Duration

	// Func is the callable itself.
	Func Func
}

// NewRegisteredJob validates and constructs a RegisteredJob. It returns an
// error rather than panicking, the way the teacher's own constructors
// (e.g. parallel.NewPool) report misconfiguration to the caller instead of
// raising.
func NewRegisteredJob(name string, interval, variance, timeout time.Duration, fn Func) (*RegisteredJob, error) {
	if !strings.Contains(name, ".") {
		return nil, xerrors.Errorf("job name %q must contain at least one dot (expected module.function)", name)
	}
	if interval < 0 {
		return nil, xerrors.Errorf("job %q: interval must not be negative, got %v", name, interval)
	}
	if variance < 0 {
		return nil, xerrors.Errorf("job %q: variance must not be negative, got %v", name, variance)
	}
	if timeout < 0 {
		return nil, xerrors.Errorf("job %q: timeout must not be negative, got %v", name, timeout)
	}
	if fn == nil {
		return nil, xerrors.Errorf("job %q: func must not be nil", name)
	}

	return &RegisteredJob{
		Name:     name,
		Interval: interval,
		Variance: variance,
		Timeout:  timeout,
		Func:     fn,
	}, nil
}

// Registry holds the full set of jobs a program knows how to run, in
// registration order. It's the Go stand-in for the out-of-scope "job
// discovery" collaborator spec.md §1 describes: the core only ever consumes
// a Registry's already-built list, never discovers jobs on its own.
type Registry struct {
	jobs   []*RegisteredJob
	byName map[string]*RegisteredJob
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*RegisteredJob)}
}

// Add registers a job. A duplicate name is a fatal configuration error
// (spec.md §3's "duplicate names are a fatal configuration error"),
// reported here rather than deferred, since the Registry is built entirely
// before the coordinator ever looks at it.
func (r *Registry) Add(job *RegisteredJob) error {
	if job == nil {
		return xerrors.New("cannot register a nil job")
	}
	if _, exists := r.byName[job.Name]; exists {
		return xerrors.Errorf("duplicate job name %q", job.Name)
	}
	r.byName[job.Name] = job
	r.jobs = append(r.jobs, job)
	return nil
}

// All returns every registered job, in registration order. The returned
// slice is a copy; callers may not mutate the Registry through it.
func (r *Registry) All() []*RegisteredJob {
	out := make([]*RegisteredJob, len(r.jobs))
	copy(out, r.jobs)
	return out
}

// Get looks up a single job by its fully-qualified name.
func (r *Registry) Get(name string) (*RegisteredJob, bool) {
	job, ok := r.byName[name]
	return job, ok
}
