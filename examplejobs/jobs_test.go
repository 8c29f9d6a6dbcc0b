package examplejobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runjobs/runjobs/internal/runner"
	"github.com/runjobs/runjobs/internal/runnerlog"
)

func TestRegister(t *testing.T) {
	reg := runner.NewRegistry()
	require.NoError(t, Register(reg, runnerlog.New(runnerlog.LevelError)))

	all := reg.All()
	assert.Len(t, all, 3)

	_, ok := reg.Get("examplejobs.heartbeat")
	assert.True(t, ok)
}

func TestRerunUntilQuiet_DrainsThenStopsRerunning(t *testing.T) {
	fn := rerunUntilQuiet(runnerlog.New(runnerlog.LevelError))

	for i := 0; i < 3; i++ {
		te := runner.NewTestEnv()
		fn(te.Env)
		assert.True(t, te.RequestedRerun(), "expected rerun while draining backlog")
	}

	te := runner.NewTestEnv()
	fn(te.Env)
	assert.False(t, te.RequestedRerun(), "expected no rerun once backlog is empty")
}
