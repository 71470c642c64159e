package retry_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temirov/genbatch/internal/retry"
)

var (
	errTransient = errors.New("503 service unavailable")
	errLimited   = errors.New("429 too many requests")
	errFatal     = errors.New("400 bad request")
)

func classify(err error) retry.Class {
	switch {
	case errors.Is(err, errTransient):
		return retry.Transient
	case errors.Is(err, errLimited):
		return retry.RateLimited
	default:
		return retry.Permanent
	}
}

type recordingSleeper struct{ delays []time.Duration }

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func scripted(errs ...error) (func(context.Context, int) (string, error), *int) {
	calls := 0
	return func(ctx context.Context, attempt int) (string, error) {
		defer func() { calls++ }()
		if calls < len(errs) && errs[calls] != nil {
			return "", errs[calls]
		}
		return "ok", nil
	}, &calls
}

func TestDo_RetriesTransientWithDoublingBackoff(t *testing.T) {
	sleeper := &recordingSleeper{}
	policy := retry.Policy{MaxAttempts: 3, BaseDelay: time.Second, Sleep: sleeper.Sleep}
	fn, calls := scripted(errTransient, errTransient)

	var observed []retry.Retry
	result, err := retry.Do(context.Background(), policy, classify, fn, func(r retry.Retry) {
		observed = append(observed, r)
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, *calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.delays)
	require.Len(t, observed, 2)
	assert.Equal(t, retry.Transient, observed[0].Class)
	assert.Equal(t, 1, observed[1].Attempt)
}

func TestDo_ExhaustsTransientBudget(t *testing.T) {
	sleeper := &recordingSleeper{}
	policy := retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, Sleep: sleeper.Sleep}
	fn, calls := scripted(errTransient, errTransient, errTransient)

	_, err := retry.Do(context.Background(), policy, classify, fn, nil)

	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)
	assert.False(t, exhausted.RateLimited)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 2, *calls)
	assert.Len(t, sleeper.delays, 1)
}

func TestDo_PermanentErrorStopsImmediately(t *testing.T) {
	sleeper := &recordingSleeper{}
	policy := retry.Policy{MaxAttempts: 5, BaseDelay: time.Second, Sleep: sleeper.Sleep}
	fn, calls := scripted(errFatal)

	_, err := retry.Do(context.Background(), policy, classify, fn, nil)

	assert.ErrorIs(t, err, errFatal)
	assert.Equal(t, 1, *calls)
	assert.Empty(t, sleeper.delays)
}

func TestDo_RateLimitUsesSeparateBudgetAndBase(t *testing.T) {
	sleeper := &recordingSleeper{}
	policy := retry.Policy{
		MaxAttempts:        1,
		BaseDelay:          time.Second,
		RateLimitBaseDelay: 5 * time.Second,
		MaxRateLimitWaits:  3,
		Sleep:              sleeper.Sleep,
	}
	fn, calls := scripted(errLimited, errLimited)

	result, err := retry.Do(context.Background(), policy, classify, fn, nil)

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, *calls)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, sleeper.delays)
}

func TestDo_RateLimitWaitsExhausted(t *testing.T) {
	sleeper := &recordingSleeper{}
	policy := retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxRateLimitWaits: 1, Sleep: sleeper.Sleep}
	fn, _ := scripted(errLimited, errLimited, errLimited)

	_, err := retry.Do(context.Background(), policy, classify, fn, nil)

	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.True(t, exhausted.RateLimited)
	assert.Contains(t, err.Error(), "still rate limited")
}

func TestDo_CancelledContextDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Hour,
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		},
	}
	fn, calls := scripted(errTransient, errTransient)

	_, err := retry.Do(ctx, policy, classify, fn, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, *calls)
}

func TestBackoff(t *testing.T) {
	testCases := []struct {
		name     string
		base     time.Duration
		attempt  int
		max      time.Duration
		expected time.Duration
	}{
		{name: "first attempt", base: time.Second, attempt: 0, expected: time.Second},
		{name: "third attempt", base: time.Second, attempt: 2, expected: 4 * time.Second},
		{name: "capped", base: time.Second, attempt: 10, max: 30 * time.Second, expected: 30 * time.Second},
		{name: "negative attempt", base: time.Second, attempt: -1, expected: time.Second},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			assert.Equal(t, testCase.expected, retry.Backoff(testCase.base, testCase.attempt, testCase.max))
		})
	}
}

func TestDo_DelayFloorRaisesBackoff(t *testing.T) {
	sleeper := &recordingSleeper{}
	policy := retry.Policy{
		MaxAttempts:       2,
		BaseDelay:         time.Second,
		MaxRateLimitWaits: 2,
		DelayFloor:        func(error) time.Duration { return 7 * time.Second },
		Sleep:             sleeper.Sleep,
	}
	fn, _ := scripted(errLimited)

	_, err := retry.Do(context.Background(), policy, classify, fn, nil)

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{7 * time.Second}, sleeper.delays)
}
