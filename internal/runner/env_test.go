package runner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunEnv_SleepCompletesNormally(t *testing.T) {
	stop := NewStopSignal()
	env, outcome := newRunEnv(stop)

	err := env.Sleep(10 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, outcome.RequestedStop())
}

func TestRunEnv_SleepInterruptedByStop(t *testing.T) {
	stop := NewStopSignal()
	env, _ := newRunEnv(stop)

	go func() {
		time.Sleep(5 * time.Millisecond)
		stop.Set()
	}()

	err := env.Sleep(time.Minute)
	require.ErrorIs(t, err, ErrSleepInterrupted)
}

func TestRunEnv_IsStopping(t *testing.T) {
	stop := NewStopSignal()
	env, _ := newRunEnv(stop)

	assert.False(t, env.IsStopping())
	stop.Set()
	assert.True(t, env.IsStopping())
}

func TestRunEnv_RequestFlagsAreLastWriterWinsAndIdempotent(t *testing.T) {
	stop := NewStopSignal()
	env, outcome := newRunEnv(stop)

	env.RequestRerun()
	env.RequestRerun()
	env.RequestStop()
	env.RequestFatalErrors()

	assert.True(t, outcome.RequestedRerun())
	assert.True(t, outcome.RequestedStop())
	assert.True(t, outcome.RequestedFatalErrors())
}

func TestRunEnv_OutcomeDefaultsToAllFalse(t *testing.T) {
	stop := NewStopSignal()
	_, outcome := newRunEnv(stop)

	assert.False(t, outcome.RequestedRerun())
	assert.False(t, outcome.RequestedStop())
	assert.False(t, outcome.RequestedFatalErrors())
}
