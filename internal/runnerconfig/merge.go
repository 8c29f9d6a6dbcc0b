package runnerconfig

import (
	"time"

	"github.com/runjobs/runjobs/internal/runner"
	"github.com/runjobs/runjobs/internal/runnertime"
)

// Merge combines a parsed config file (may be nil, meaning --config was
// never given) with flag-derived Options, flags winning field-by-field
// whenever a flag's value differs from its zero value (SPEC_FULL.md §2.2 /
// §7, testable property 10). This keeps the merge rule simple and
// predictable: the file supplies defaults, flags override them, and there
// is no separate "was this flag explicitly passed" bookkeeping layered on
// top of Go's flag package.
//
// The file's three duration-shaped fields arrive as plain seconds (TOML/YAML
// have no native duration type), the same "a duration that showed up as a
// bare number" case runnertime.Parse exists to normalize.
func Merge(file *File, flags runner.Options) runner.Options {
	merged := flags

	if file == nil {
		return merged
	}

	if merged.StopAfter == 0 && file.StopAfter > 0 {
		merged.StopAfter = mustSeconds(file.StopAfter)
	}
	if merged.StopVariance == 0 && file.StopVariance > 0 {
		merged.StopVariance = mustSeconds(file.StopVariance)
	}
	if merged.StopTimeout == 0 && file.StopTimeout > 0 {
		merged.StopTimeout = mustSeconds(file.StopTimeout)
	}
	if len(merged.IncludeJobs) == 0 && len(file.IncludeJobs) > 0 {
		merged.IncludeJobs = file.IncludeJobs
	}
	if len(merged.ExcludeJobs) == 0 && len(file.ExcludeJobs) > 0 {
		merged.ExcludeJobs = file.ExcludeJobs
	}

	return merged
}

// mustSeconds normalizes a config file's plain-int seconds field through
// runnertime.Parse. The field was already validated as positive by its
// caller, so the only error Parse could return (negative input) can't occur
// here.
func mustSeconds(seconds int) time.Duration {
	d, err := runnertime.Parse(seconds)
	if err != nil {
		return 0
	}
	return d
}
