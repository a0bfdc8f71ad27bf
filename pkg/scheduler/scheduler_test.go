package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	runs atomic.Int32
	err  error
}

func (j *countingJob) Name() string { return "counting" }

func (j *countingJob) Run(context.Context) error {
	j.runs.Add(1)
	return j.err
}

func TestScheduler_RunsUntilStopped(t *testing.T) {
	s := New()
	ok := &countingJob{}
	failing := &countingJob{err: errors.New("boom")}
	s.Add(ok, 10*time.Millisecond)
	s.Add(failing, 10*time.Millisecond)

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)

	require.Eventually(t, func() bool {
		return ok.runs.Load() >= 3 && failing.runs.Load() >= 3
	}, time.Second, 5*time.Millisecond)

	s.Stop()
	stopped := ok.runs.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, ok.runs.Load())
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	s := New()
	s.Stop()
}

func TestScheduler_ParentContextCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New()
	job := &countingJob{}
	s.Add(job, 5*time.Millisecond)

	require.NoError(t, s.Start(ctx))
	require.Eventually(t, func() bool { return job.runs.Load() >= 1 }, time.Second, time.Millisecond)

	cancel()
	s.Stop()
}
