// Package examplejobs registers a handful of sample jobs used by
// cmd/run-jobs's --trial-run and smoke-test scenarios, mirroring
// original_source/job_runner/sample_jobs.py and
// original_source/example_app/jobs.py: a plain heartbeat, a cache sweep run
// at an interval with jitter, and a job that demonstrates RequestRerun. All
// three are always added to the registry; --include-job/--exclude-job pick
// which of them run.
package examplejobs

import (
	"time"

	"github.com/runjobs/runjobs/internal/runner"
	"github.com/runjobs/runjobs/internal/runnerlog"
)

// Register adds every sample job to reg, logging through log. Mirrors
// sample_jobs.py's module-level @register_job decorators, collected here
// into one explicit call since Go has no import-time decorator
// equivalent.
func Register(reg *runner.Registry, log runnerlog.Logger) error {
	jobs := []struct {
		name     string
		interval time.Duration
		variance time.Duration
		timeout  time.Duration
		fn       runner.Func
	}{
		{
			name:     "examplejobs.heartbeat",
			interval: 5 * time.Second,
			fn: func(env *runner.RunEnv) {
				log.Infof("heartbeat")
			},
		},
		{
			// Mirrors example_app/jobs.py's test_job_1: "at most every 30
			// seconds and at least every 60 seconds" becomes
			// interval=30s, variance=30s here.
			name:     "examplejobs.cache_sweep",
			interval: 30 * time.Second,
			variance: 30 * time.Second,
			timeout:  10 * time.Second,
			fn: func(env *runner.RunEnv) {
				log.Debugf("sweeping caches")
			},
		},
		{
			name:     "examplejobs.rerun_until_quiet",
			interval: time.Hour,
			fn:       rerunUntilQuiet(log),
		},
	}

	for _, j := range jobs {
		job, err := runner.NewRegisteredJob(j.name, j.interval, j.variance, j.timeout, j.fn)
		if err != nil {
			return err
		}
		if err := reg.Add(job); err != nil {
			return err
		}
	}

	return nil
}

// rerunUntilQuiet demonstrates request_rerun(): it drains a notional queue
// by rerunning immediately as long as there's (simulated) backlog, then
// falls back to its normal interval -- mirroring the rerun scenario spec.md
// §8's testable properties describe (scenario 4's "counter then
// request_rerun" shape).
func rerunUntilQuiet(log runnerlog.Logger) runner.Func {
	backlog := 3

	return func(env *runner.RunEnv) {
		if backlog > 0 {
			backlog--
			log.Debugf("draining backlog, %d item(s) left", backlog)
			env.RequestRerun()
			return
		}

		log.Debugf("backlog empty")
	}
}
