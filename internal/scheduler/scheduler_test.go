package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddValidation(t *testing.T) {
	s := New()
	noop := func(context.Context) error { return nil }

	assert.Error(t, s.Add(Job{Interval: time.Second, Run: noop}))
	assert.Error(t, s.Add(Job{ID: "a", Run: noop}))
	assert.Error(t, s.Add(Job{ID: "a", Interval: time.Second}))
	require.NoError(t, s.Add(Job{ID: "a", Interval: time.Second, Run: noop}))
	assert.Error(t, s.Add(Job{ID: "a", Interval: time.Second, Run: noop}))

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	assert.ErrorIs(t, s.Add(Job{ID: "b", Interval: time.Second, Run: noop}), ErrStarted)
	assert.ErrorIs(t, s.Start(context.Background()), ErrStarted)
}

func TestRunAtStartAndInterval(t *testing.T) {
	s := New()
	var startup, periodic atomic.Int32

	require.NoError(t, s.Add(Job{ID: "startup", Interval: time.Hour, RunAtStart: true, Run: func(context.Context) error {
		startup.Add(1)
		return nil
	}}))
	require.NoError(t, s.Add(Job{ID: "tick", Interval: 20 * time.Millisecond, Run: func(context.Context) error {
		periodic.Add(1)
		return nil
	}}))

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool { return startup.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return periodic.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), startup.Load())
}

func TestMissedTicksCoalesce(t *testing.T) {
	s := New()
	release := make(chan struct{})
	var runs atomic.Int32

	require.NoError(t, s.Add(Job{ID: "cycle", Interval: 100 * time.Millisecond, RunAtStart: true, Run: func(context.Context) error {
		if runs.Add(1) == 1 {
			<-release
		}
		return nil
	}}))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	// Several intervals pass while the first run blocks.
	time.Sleep(350 * time.Millisecond)
	close(release)

	assert.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(2), runs.Load())
}

func TestJobsNeverOverlap(t *testing.T) {
	s := New()
	var inFlight, maxInFlight atomic.Int32
	var mu sync.Mutex
	order := []string{}

	job := func(id string) func(context.Context) error {
		return func(context.Context) error {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				m := maxInFlight.Load()
				if n <= m || maxInFlight.CompareAndSwap(m, n) {
					break
				}
			}
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			return nil
		}
	}

	require.NoError(t, s.Add(Job{ID: "a", Interval: 2 * time.Millisecond, RunAtStart: true, Run: job("a")}))
	require.NoError(t, s.Add(Job{ID: "b", Interval: 2 * time.Millisecond, RunAtStart: true, Run: job("b")}))
	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) >= 6
	}, 2*time.Second, 5*time.Millisecond)
	s.Stop()
	<-s.Done()

	assert.Equal(t, int32(1), maxInFlight.Load())
	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, order, "a")
	assert.Contains(t, order, "b")
}

func TestStopDoesNotWait(t *testing.T) {
	s := New()
	started := make(chan struct{})
	block := make(chan struct{})
	defer close(block)

	require.NoError(t, s.Add(Job{ID: "slow", Interval: time.Hour, RunAtStart: true, Run: func(context.Context) error {
		close(started)
		<-block
		return nil
	}}))
	require.NoError(t, s.Start(context.Background()))
	<-started

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop waited for the in-flight run")
	}
}

func TestStatusRecordsErrorsAndPanics(t *testing.T) {
	s := New()
	var calls atomic.Int32
	require.NoError(t, s.Add(Job{ID: "bad", Interval: time.Hour, RunAtStart: true, Run: func(context.Context) error {
		calls.Add(1)
		return errors.New("feed store unavailable")
	}}))
	require.NoError(t, s.Add(Job{ID: "panics", Interval: time.Hour, RunAtStart: true, Run: func(context.Context) error {
		calls.Add(1)
		panic("boom")
	}}))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool {
		st := s.Status()
		return st[0].Runs == 1 && st[1].Runs == 1
	}, time.Second, 5*time.Millisecond)

	st := s.Status()
	assert.Equal(t, "bad", st[0].ID)
	assert.Equal(t, "feed store unavailable", st[0].LastError)
	assert.Contains(t, st[1].LastError, "panicked")
	assert.False(t, st[0].Running)
	assert.True(t, st[0].NextRun.After(st[0].LastStart))
}
