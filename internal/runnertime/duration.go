// Package runnertime normalizes the handful of shapes a duration can show up
// in when it comes from a registration call, a config file, or a flag: a
// native time.Duration, or a plain number of seconds as an int or a float.
//
// It mirrors original_source/job_runner/time.py's AutoTime/read_auto_time,
// which accepted a timedelta, an int, a float, or None and coerced whatever
// it got into a timedelta.
package runnertime

import (
	"time"

	"golang.org/x/xerrors"
)

// Parse normalizes v into a time.Duration. Accepted shapes are
// time.Duration, int, int64, float32, and float64, all read (other than
// time.Duration) as a non-negative number of seconds. A negative value of
// any shape is rejected: durations in this package are always "time
// remaining" or "time between runs", and a negative one is a configuration
// mistake, not a valid input.
func Parse(v any) (time.Duration, error) {
	switch t := v.(type) {
	case time.Duration:
		if t < 0 {
			return 0, xerrors.Errorf("duration must not be negative, got %v", t)
		}
		return t, nil

	case int:
		return fromSeconds(float64(t))

	case int64:
		return fromSeconds(float64(t))

	case float64:
		return fromSeconds(t)

	case float32:
		return fromSeconds(float64(t))

	case nil:
		return 0, xerrors.New("duration is required but was not provided")

	default:
		return 0, xerrors.Errorf("duration must be a time.Duration, int, or float, got %T", v)
	}
}

// ParseDefault is Parse, except a nil v (or the absence of a value, which
// callers signal by passing nil) returns def instead of an error. This is
// the "optional input plus a default" form spec.md calls for.
func ParseDefault(v any, def time.Duration) (time.Duration, error) {
	if v == nil {
		return def, nil
	}
	return Parse(v)
}

func fromSeconds(seconds float64) (time.Duration, error) {
	if seconds < 0 {
		return 0, xerrors.Errorf("duration must not be negative, got %v seconds", seconds)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
