package pending

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAddRejectsDuplicate(t *testing.T) {
	r := New(10, time.Hour)

	require.True(t, r.TryAdd("/in/a.mkv"))
	assert.False(t, r.TryAdd("/in/a.mkv"))
	assert.Equal(t, 1, r.Len())
}

func TestTryAddRejectsAtCapacity(t *testing.T) {
	r := New(2, time.Hour)

	require.True(t, r.TryAdd("/in/a.mkv"))
	require.True(t, r.TryAdd("/in/b.mkv"))
	assert.False(t, r.TryAdd("/in/c.mkv"))
}

func TestRemoveFreesSlot(t *testing.T) {
	r := New(1, time.Hour)

	require.True(t, r.TryAdd("/in/a.mkv"))
	r.Remove("/in/a.mkv")
	assert.True(t, r.TryAdd("/in/b.mkv"))
}

func TestTTLExpirySweepsOnInsertion(t *testing.T) {
	r := New(1, time.Millisecond)

	require.True(t, r.TryAdd("/in/a.mkv"))
	time.Sleep(5 * time.Millisecond)

	// The stale entry should be swept on this attempt, freeing capacity.
	assert.True(t, r.TryAdd("/in/b.mkv"))
}
