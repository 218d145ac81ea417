package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubmitLimiterEnforcesWindowLimit(t *testing.T) {
	limiter := newSubmitLimiter(2, time.Minute)
	now := time.Now()

	require.True(t, limiter.Allow("device-1", now))
	require.True(t, limiter.Allow("device-1", now.Add(time.Second)))
	require.False(t, limiter.Allow("device-1", now.Add(2*time.Second)))

	// Another device has its own window.
	require.True(t, limiter.Allow("device-2", now))

	// The window resets after it elapses.
	require.True(t, limiter.Allow("device-1", now.Add(time.Minute)))
}

func TestSubmitLimiterTreatsEmptyKeyAsOneClient(t *testing.T) {
	limiter := newSubmitLimiter(1, time.Minute)
	now := time.Now()

	require.True(t, limiter.Allow("", now))
	require.False(t, limiter.Allow("", now.Add(time.Second)))
}
