package ratelimiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketBurstAndRefill(t *testing.T) {
	now := time.Unix(0, 0)
	tb := newTokenBucketAt(1, 2, func() time.Time { return now })

	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())

	now = now.Add(1500 * time.Millisecond)
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())
}

func TestKeyedLimiterIsolatesClients(t *testing.T) {
	kl, err := NewKeyedLimiter(0.001, 1, 100)
	require.NoError(t, err)

	assert.True(t, kl.Allow("10.0.0.1"))
	assert.False(t, kl.Allow("10.0.0.1"))
	assert.True(t, kl.Allow("10.0.0.2"))
	assert.Equal(t, 2, kl.Tracked())
}

func TestKeyedLimiterRejectsBadSettings(t *testing.T) {
	_, err := NewKeyedLimiter(0, 1, 10)
	assert.Error(t, err)
}
