package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoRetriesUpToMaxAttempts(t *testing.T) {
	var calls int
	err := Do(context.Background(), Config{
		MaxAttempts:     3,
		InitialDelay:    time.Millisecond,
		ExponentialBase: 2,
	}, func() error {
		calls++
		return errors.New("always fails")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls, "MaxAttempts is the total attempt count, including the first")
}

func TestDoReturnsNilOnEventualSuccess(t *testing.T) {
	var calls int
	err := Do(context.Background(), Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
	}, func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoStopsImmediatelyOnNonRetryableError(t *testing.T) {
	var calls int
	nonRetryable := errors.New("permanent")
	err := Do(context.Background(), Config{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		Retryable:    func(error) bool { return false },
	}, func() error {
		calls++
		return nonRetryable
	})

	require.Equal(t, nonRetryable, err)
	assert.Equal(t, 1, calls)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, Config{
		MaxAttempts:  10,
		InitialDelay: 50 * time.Millisecond,
	}, func() error {
		calls++
		return errors.New("always fails")
	})

	require.Error(t, err)
	assert.Less(t, calls, 10)
}
