package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClosedAccumulatesFailures(t *testing.T) {
	b := New("filmdb", 3, time.Minute)

	for i := 0; i < 2; i++ {
		allowed, err := b.Allow()
		require.True(t, allowed)
		require.NoError(t, err)
		b.Fail()
	}

	assert.Equal(t, Closed, b.Inspect().State)
	assert.Equal(t, 2, b.Inspect().ConsecutiveFails)
}

func TestOpensAtThresholdAndRejects(t *testing.T) {
	b := New("filmdb", 3, time.Minute)
	for i := 0; i < 3; i++ {
		b.Fail()
	}
	require.Equal(t, Open, b.Inspect().State)

	allowed, err := b.Allow()
	assert.False(t, allowed)
	assert.Error(t, err)
}

func TestHalfOpenSingleProbe(t *testing.T) {
	b := New("filmdb", 1, time.Millisecond)
	b.Fail()
	require.Equal(t, Open, b.Inspect().State)

	time.Sleep(5 * time.Millisecond)

	allowed, err := b.Allow()
	require.True(t, allowed)
	require.NoError(t, err)
	require.Equal(t, HalfOpen, b.Inspect().State)

	// A concurrent call while the probe is in flight must be rejected.
	allowed2, err2 := b.Allow()
	assert.False(t, allowed2)
	assert.Error(t, err2)
}

func TestHalfOpenSuccessResetsToClosed(t *testing.T) {
	b := New("filmdb", 1, time.Millisecond)
	b.Fail()
	time.Sleep(5 * time.Millisecond)
	allowed, _ := b.Allow()
	require.True(t, allowed)

	b.Succeed()

	snap := b.Inspect()
	assert.Equal(t, Closed, snap.State)
	assert.Equal(t, 0, snap.ConsecutiveFails)
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := New("filmdb", 1, time.Millisecond)
	b.Fail()
	time.Sleep(5 * time.Millisecond)
	allowed, _ := b.Allow()
	require.True(t, allowed)

	b.Fail()

	assert.Equal(t, Open, b.Inspect().State)
}

func TestCallShortCircuitsWithoutInvokingFn(t *testing.T) {
	b := New("filmdb", 1, time.Hour)
	b.Fail()
	require.Equal(t, Open, b.Inspect().State)

	invoked := false
	err := b.Call(func() error {
		invoked = true
		return nil
	})

	assert.False(t, invoked)
	var openErr *ErrOpen
	assert.ErrorAs(t, err, &openErr)
}

func TestCallRecordsFailureAndSuccess(t *testing.T) {
	b := New("ident", 2, time.Hour)
	boom := errors.New("boom")

	_ = b.Call(func() error { return boom })
	assert.Equal(t, 1, b.Inspect().ConsecutiveFails)

	_ = b.Call(func() error { return nil })
	assert.Equal(t, 0, b.Inspect().ConsecutiveFails)
}
