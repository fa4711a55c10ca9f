package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(record *[]time.Duration) Option {
	return WithSleep(func(_ context.Context, d time.Duration) error {
		*record = append(*record, d)
		return nil
	})
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	var delays []time.Duration
	calls := 0
	err := Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	}, WithMaxAttempts(5), WithInitialDelay(10*time.Millisecond), WithJitter(0), noSleep(&delays))

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, delays)
}

func TestDo_StopsOnPermanent(t *testing.T) {
	base := errors.New("bad request")
	calls := 0
	err := Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(base)
	}, WithMaxAttempts(5))

	assert.Same(t, base, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetryIfFilters(t *testing.T) {
	var delays []time.Duration
	calls := 0
	plain := errors.New("not found")
	err := Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return Retryable(errors.New("503"))
		}
		return plain
	}, WithMaxAttempts(5), WithRetryIf(IsRetryable), noSleep(&delays))

	assert.ErrorIs(t, err, plain)
	assert.Equal(t, 2, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	var delays []time.Duration
	err := Do(context.Background(), func(context.Context) error {
		return errors.New("down")
	}, WithMaxAttempts(3), noSleep(&delays))

	assert.EqualError(t, err, "down")
	assert.Len(t, delays, 2)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDelay_Capped(t *testing.T) {
	r := New(WithInitialDelay(time.Second), WithMaxDelay(3*time.Second), WithJitter(0))
	assert.Equal(t, time.Second, r.delay(1))
	assert.Equal(t, 2*time.Second, r.delay(2))
	assert.Equal(t, 3*time.Second, r.delay(5))
}

func TestDoWithData(t *testing.T) {
	v, err := DoWithData(context.Background(), func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}
