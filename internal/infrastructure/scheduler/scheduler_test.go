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
	name  string
	runs  atomic.Int32
	err   error
	panic bool
}

func (j *countingJob) Name() string        { return j.name }
func (j *countingJob) Description() string { return "test job" }
func (j *countingJob) Run(context.Context) error {
	j.runs.Add(1)
	if j.panic {
		panic("boom")
	}
	return j.err
}

type observed struct {
	names atomic.Int32
	fails atomic.Int32
}

func (o *observed) ObserveJob(_ string, _ time.Duration, err error) {
	o.names.Add(1)
	if err != nil {
		o.fails.Add(1)
	}
}

func TestIntervalSchedule(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Every(5 * time.Minute)
	assert.Equal(t, t0.Add(5*time.Minute), s.First(t0))
	assert.Equal(t, t0, s.StartImmediately().First(t0))
	assert.Equal(t, "@every 5m0s", s.String())
	assert.Equal(t, time.Minute, Every(0).Interval)
}

func TestScheduler_RegisterRejectsDuplicates(t *testing.T) {
	s := New(Config{}, nil)
	job := &countingJob{name: "a"}
	require.NoError(t, s.Register(job, Every(time.Minute)))
	assert.ErrorIs(t, s.Register(job, Every(time.Minute)), ErrJobAlreadyExists)
	assert.ErrorIs(t, s.Register(nil, Every(time.Minute)), ErrNilJob)
	assert.ErrorIs(t, s.Register(&countingJob{name: "b"}, nil), ErrNilSchedule)
}

func TestScheduler_RunsDueJobs(t *testing.T) {
	obs := &observed{}
	s := New(Config{Tick: 5 * time.Millisecond, Observer: obs}, nil)
	job := &countingJob{name: "rebuild"}
	require.NoError(t, s.Register(job, Every(10*time.Millisecond).StartImmediately()))

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)
	require.Eventually(t, func() bool { return job.runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)

	info := s.Jobs()
	require.Len(t, info, 1)
	assert.Equal(t, "rebuild", info[0].Name)
	assert.GreaterOrEqual(t, info[0].RunCount, int64(2))
	assert.Zero(t, obs.fails.Load())
}

func TestScheduler_RunNowRecordsFailuresAndPanics(t *testing.T) {
	s := New(Config{}, nil)
	failing := &countingJob{name: "failing", err: errors.New("down")}
	panicking := &countingJob{name: "panicking", panic: true}
	require.NoError(t, s.Register(failing, Every(time.Hour)))
	require.NoError(t, s.Register(panicking, Every(time.Hour)))

	result, err := s.RunNow(context.Background(), "failing")
	assert.EqualError(t, err, "down")
	assert.False(t, result.Success())

	_, err = s.RunNow(context.Background(), "panicking")
	assert.ErrorContains(t, err, "panicked")

	last, ok := s.LastResult("failing")
	require.True(t, ok)
	assert.Equal(t, "failing", last.JobName)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}
