// Command run-jobs is the CLI entry point for the job runner (spec.md §6).
// It owns flag parsing, optional config-file loading, and process exit --
// the runtime core in internal/runner never touches any of that, the same
// separation modulr.go draws between its own Config struct and the
// flag/file handling left to callers.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/runjobs/runjobs/examplejobs"
	"github.com/runjobs/runjobs/internal/runner"
	"github.com/runjobs/runjobs/internal/runnerconfig"
	"github.com/runjobs/runjobs/internal/runnerhttp"
	"github.com/runjobs/runjobs/internal/runnerlog"
)

type repeatableFlag []string

func (r *repeatableFlag) String() string { return fmt.Sprint([]string(*r)) }
func (r *repeatableFlag) Set(v string) error {
	*r = append(*r, v)
	return nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var (
		includeJobs  repeatableFlag
		excludeJobs  repeatableFlag
		stopAfter    int
		stopVariance int
		stopTimeout  int
		trialRun     bool
		configPath   string
		watchConfig  bool
		statusAddr   string
		logLevel     string
	)

	fs := flag.NewFlagSet("run-jobs", flag.ContinueOnError)
	fs.Var(&includeJobs, "include-job", "run only this fully-qualified job name (repeatable)")
	fs.Var(&excludeJobs, "exclude-job", "run every discovered job except this one (repeatable)")
	fs.IntVar(&stopAfter, "stop-after", 0, "if positive, stop the whole process after this many seconds")
	fs.IntVar(&stopVariance, "stop-variance", 0, "uniform jitter in seconds added to --stop-after")
	fs.IntVar(&stopTimeout, "stop-timeout", 0, "graceful-shutdown budget in seconds (0 means the config file's value, else 5)")
	fs.BoolVar(&trialRun, "trial-run", false, "validate the resolved job set and exit")
	fs.StringVar(&configPath, "config", "", "optional TOML or YAML config file")
	fs.BoolVar(&watchConfig, "watch-config", false, "hot-reload the include/exclude filter when --config changes (requires --config)")
	fs.StringVar(&statusAddr, "status-addr", "", "optional host:port to serve a JSON status endpoint and websocket feed on")
	fs.StringVar(&logLevel, "log-level", "info", "debug, info, warn, or error")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	log := runnerlog.New(runnerlog.ParseLevel(logLevel))

	reg := runner.NewRegistry()
	if err := examplejobs.Register(reg, log); err != nil {
		log.Errorf("error registering jobs: %v", err)
		return 1
	}

	flagOptions := runner.Options{
		IncludeJobs:  includeJobs,
		ExcludeJobs:  excludeJobs,
		StopAfter:    time.Duration(stopAfter) * time.Second,
		StopVariance: time.Duration(stopVariance) * time.Second,
		StopTimeout:  time.Duration(stopTimeout) * time.Second,
		TrialRun:     trialRun,
		Log:          log,
	}

	options := flagOptions
	if configPath != "" {
		file, err := runnerconfig.Load(configPath)
		if err != nil {
			log.Errorf("error loading config file: %v", err)
			return 1
		}
		options = runnerconfig.Merge(file, flagOptions)
	} else if watchConfig {
		log.Errorf("--watch-config requires --config")
		return 1
	}

	coordinator := runner.NewCoordinator(reg, options)

	if statusAddr != "" && !trialRun {
		ttl := runnerhttp.MinTTLFor(fastestInterval(reg))
		runnerhttp.NewServer(statusAddr, coordinator, ttl, log).Start()
	}

	if watchConfig && !trialRun {
		if err := runnerconfig.Watch(configPath, coordinator, coordinator.Done(), log); err != nil {
			log.Errorf("error starting config watcher: %v", err)
			return 1
		}
	}

	return coordinator.Run()
}

func fastestInterval(reg *runner.Registry) time.Duration {
	var fastest time.Duration
	for _, job := range reg.All() {
		if fastest == 0 || (job.Interval > 0 && job.Interval < fastest) {
			fastest = job.Interval
		}
	}
	return fastest
}
