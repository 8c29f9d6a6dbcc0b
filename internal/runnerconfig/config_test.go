package runnerconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runjobs/runjobs/internal/runner"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_TOML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "jobs.toml", `
stop-after = 5
stop-variance = 1
include-job = ["myapp.a", "myapp.b"]
`)

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, f.StopAfter)
	assert.Equal(t, 1, f.StopVariance)
	assert.Equal(t, []string{"myapp.a", "myapp.b"}, f.IncludeJobs)
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "jobs.yaml", "stop-after: 5\nexclude-job:\n  - myapp.c\n")

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, f.StopAfter)
	assert.Equal(t, []string{"myapp.c"}, f.ExcludeJobs)
}

func TestLoad_UnrecognizedExtension(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "jobs.ini", "stop-after = 5\n")

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestMerge_FlagsWinOverFile(t *testing.T) {
	file := &File{StopAfter: 5, IncludeJobs: []string{"myapp.fromfile"}}
	flags := runner.Options{StopAfter: time.Second}

	merged := Merge(file, flags)
	assert.Equal(t, time.Second, merged.StopAfter)
	assert.Equal(t, []string{"myapp.fromfile"}, merged.IncludeJobs)
}

func TestMerge_FileFillsUnsetFlags(t *testing.T) {
	file := &File{StopTimeout: 10}
	flags := runner.Options{}

	merged := Merge(file, flags)
	assert.Equal(t, 10*time.Second, merged.StopTimeout)
}

func TestMerge_NilFile(t *testing.T) {
	flags := runner.Options{StopAfter: time.Minute}
	merged := Merge(nil, flags)
	assert.Equal(t, flags, merged)
}
