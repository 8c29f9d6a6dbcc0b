package runnerhttp

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runjobs/runjobs/internal/runner"
	"github.com/runjobs/runjobs/internal/runnerlog"
)

type fakeProvider struct {
	statuses []runner.Status
}

func (f *fakeProvider) Statuses() []runner.Status { return f.statuses }

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestServer_StatusEndpointReturnsSnapshot(t *testing.T) {
	provider := &fakeProvider{statuses: []runner.Status{
		{Name: "myapp.a", Invocations: 3},
	}}

	addr := freeAddr(t)
	srv := NewServer(addr, provider, 50*time.Millisecond, runnerlog.New(runnerlog.LevelError))
	srv.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})

	var resp *http.Response
	require.Eventually(t, func() bool {
		var err error
		resp, err = http.Get("http://" + addr + "/status")
		return err == nil
	}, time.Second, 10*time.Millisecond)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got []runner.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "myapp.a", got[0].Name)
	assert.Equal(t, int64(3), got[0].Invocations)
}

func TestServer_SnapshotIsCachedWithinTTL(t *testing.T) {
	provider := &fakeProvider{statuses: []runner.Status{{Name: "myapp.a", Invocations: 1}}}
	srv := NewServer("127.0.0.1:0", provider, time.Minute, runnerlog.New(runnerlog.LevelError))

	first := srv.snapshot()
	provider.statuses = []runner.Status{{Name: "myapp.a", Invocations: 99}}
	second := srv.snapshot()

	assert.Equal(t, first, second)
}

func TestMinTTLFor(t *testing.T) {
	assert.Equal(t, minCacheTTL, MinTTLFor(100*time.Millisecond))
	assert.Equal(t, time.Second, MinTTLFor(4*time.Second))
}
