package runner

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runjobs/runjobs/internal/runnerlog"
)

func newTestRunner(t *testing.T, job *RegisteredJob, fatalNotifier func()) (*JobRunner, *StopSignal, *TimeoutTracker) {
	t.Helper()
	stop := NewStopSignal()
	log := runnerlog.New(runnerlog.LevelError)
	tracker := NewTimeoutTracker(stop, log)
	tracker.Start()

	if fatalNotifier == nil {
		fatalNotifier = func() {}
	}

	r := NewJobRunner(job, stop, tracker, fatalNotifier, Housekeeping{}, log)
	t.Cleanup(stop.Set)
	return r, stop, tracker
}

func TestJobRunner_RunsAndReschedulesOnInterval(t *testing.T) {
	var count int32
	job, err := NewRegisteredJob("myapp.tick", 10*time.Millisecond, 0, 0, func(env *RunEnv) {
		atomic.AddInt32(&count, 1)
	})
	require.NoError(t, err)

	r, stop, _ := newTestRunner(t, job, nil)
	r.nextRun = time.Now()

	done := make(chan struct{})
	go func() {
		r.Run()
		close(done)
	}()

	time.Sleep(60 * time.Millisecond)
	stop.Set()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}

	assert.GreaterOrEqual(t, atomic.LoadInt32(&count), int32(2))
}

func TestJobRunner_RerunRequestSkipsTheWait(t *testing.T) {
	var count int32
	job, err := NewRegisteredJob("myapp.rerun", time.Hour, 0, 0, func(env *RunEnv) {
		n := atomic.AddInt32(&count, 1)
		if n < 3 {
			env.RequestRerun()
		}
	})
	require.NoError(t, err)

	r, stop, _ := newTestRunner(t, job, nil)
	r.nextRun = time.Now()

	done := make(chan struct{})
	go func() {
		r.Run()
		close(done)
	}()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&count) >= 3
	}, time.Second, time.Millisecond)

	stop.Set()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestJobRunner_StopRequestEndsTheLoop(t *testing.T) {
	job, err := NewRegisteredJob("myapp.stopper", time.Millisecond, 0, 0, func(env *RunEnv) {
		env.RequestStop()
	})
	require.NoError(t, err)

	r, stop, _ := newTestRunner(t, job, nil)
	r.nextRun = time.Now()

	done := make(chan struct{})
	go func() {
		r.Run()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not stop after RequestStop")
	}

	assert.True(t, stop.IsSet())
}

func TestJobRunner_PanicIsAbsorbedWithoutFatalRequest(t *testing.T) {
	var notified int32
	job, err := NewRegisteredJob("myapp.panicky", time.Hour, 0, 0, func(env *RunEnv) {
		panic(errors.New("boom"))
	})
	require.NoError(t, err)

	r, stop, _ := newTestRunner(t, job, func() { atomic.AddInt32(&notified, 1) })
	r.nextRun = time.Now()

	done := make(chan struct{})
	go func() {
		r.Run()
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	stop.Set()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}

	assert.Equal(t, int32(0), atomic.LoadInt32(&notified))
}

func TestJobRunner_FatalRequestedThenPanicNotifiesFatal(t *testing.T) {
	var notified int32
	job, err := NewRegisteredJob("myapp.fatal", time.Hour, 0, 0, func(env *RunEnv) {
		env.RequestFatalErrors()
		panic(errors.New("boom"))
	})
	require.NoError(t, err)

	r, stop, _ := newTestRunner(t, job, func() { atomic.AddInt32(&notified, 1) })
	r.nextRun = time.Now()

	go r.Run()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&notified) >= 1
	}, time.Second, time.Millisecond)

	stop.Set()
}

func TestJobRunner_TimeoutFiresAndRequestsStop(t *testing.T) {
	var notified int32
	unblock := make(chan struct{})
	job, err := NewRegisteredJob("myapp.slow", time.Hour, 0, 20*time.Millisecond, func(env *RunEnv) {
		<-unblock
	})
	require.NoError(t, err)

	r, stop, _ := newTestRunner(t, job, func() { atomic.AddInt32(&notified, 1) })
	r.nextRun = time.Now()

	done := make(chan struct{})
	go func() {
		r.Run()
		close(done)
	}()

	require.Eventually(t, func() bool {
		return stop.IsSet()
	}, time.Second, time.Millisecond)

	close(unblock)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not stop after timeout fired")
	}

	assert.GreaterOrEqual(t, atomic.LoadInt32(&notified), int32(1))
}

func TestJobRunner_HousekeepingRunsAfterFirstInvocation(t *testing.T) {
	job, err := NewRegisteredJob("myapp.withhousekeeping", time.Hour, 0, 0, func(env *RunEnv) {})
	require.NoError(t, err)

	stop := NewStopSignal()
	log := runnerlog.New(runnerlog.LevelError)
	tracker := NewTimeoutTracker(stop, log)
	tracker.Start()

	var mu sync.Mutex
	var ticks int

	hk := Housekeeping{
		Interval: 10 * time.Millisecond,
		Func: func() {
			mu.Lock()
			ticks++
			mu.Unlock()
		},
	}

	r := NewJobRunner(job, stop, tracker, func() {}, hk, log)
	r.nextRun = time.Now()
	t.Cleanup(stop.Set)

	go r.Run()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ticks >= 1
	}, time.Second, time.Millisecond)

	stop.Set()
}

func TestJitter(t *testing.T) {
	assert.Equal(t, time.Duration(0), jitter(0))
	assert.Equal(t, time.Duration(0), jitter(-time.Second))

	d := jitter(10 * time.Millisecond)
	assert.GreaterOrEqual(t, d, time.Duration(0))
	assert.Less(t, d, 10*time.Millisecond)
}
