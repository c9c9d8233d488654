package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/jopper/internal/syncer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRunner struct {
	calls   atomic.Int32
	running atomic.Int32
	maxSeen atomic.Int32
	runFn   func(ctx context.Context) (syncer.RunResult, error)
}

func (m *mockRunner) Run(ctx context.Context) (syncer.RunResult, error) {
	m.calls.Add(1)
	n := m.running.Add(1)
	defer m.running.Add(-1)
	for {
		cur := m.maxSeen.Load()
		if n <= cur || m.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}
	if m.runFn != nil {
		return m.runFn(ctx)
	}
	return syncer.RunResult{Success: true}, nil
}

func TestRun_ImmediateThenPeriodic(t *testing.T) {
	r := &mockRunner{}
	s := New(r, 20*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return r.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.EqualValues(t, 1, r.maxSeen.Load(), "runs must never overlap")
}

func TestRun_FirstRunIsImmediate(t *testing.T) {
	r := &mockRunner{}
	s := New(r, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool { return r.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRun_ErrorDoesNotStopLoop(t *testing.T) {
	r := &mockRunner{runFn: func(context.Context) (syncer.RunResult, error) {
		return syncer.RunResult{}, errors.New("joplin unreachable")
	}}
	s := New(r, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool { return r.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	r := &mockRunner{}
	s := New(r, time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Run(ctx)
	assert.Zero(t, r.calls.Load())
}

func TestTriggerNow_BusyWhileRunning(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	r := &mockRunner{runFn: func(context.Context) (syncer.RunResult, error) {
		close(started)
		<-release
		return syncer.RunResult{Created: 2, Success: true}, nil
	}}
	s := New(r, time.Hour, nil)

	type outcome struct {
		res syncer.RunResult
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		res, err := s.TriggerNow(context.Background())
		first <- outcome{res, err}
	}()
	<-started

	_, err := s.TriggerNow(context.Background())
	assert.ErrorIs(t, err, ErrBusy)

	ran, _, err := s.RunOnce(context.Background())
	assert.False(t, ran)
	assert.NoError(t, err)

	close(release)
	got := <-first
	require.NoError(t, got.err)
	assert.Equal(t, 2, got.res.Created)
	assert.EqualValues(t, 1, r.calls.Load())

	// Idle again.
	r.runFn = nil
	res, err := s.TriggerNow(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestTriggerNow_PropagatesError(t *testing.T) {
	r := &mockRunner{runFn: func(context.Context) (syncer.RunResult, error) {
		return syncer.RunResult{}, errors.New("boom")
	}}
	_, err := New(r, time.Hour, nil).TriggerNow(context.Background())
	assert.EqualError(t, err, "boom")
}

func TestNew_DefaultInterval(t *testing.T) {
	assert.Equal(t, time.Hour, New(&mockRunner{}, 0, nil).Interval())
}
