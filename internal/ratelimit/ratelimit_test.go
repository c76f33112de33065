package ratelimit_test

import (
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"

	"github.com/block/gitbridge/internal/ratelimit"
)

func TestAllowUntilBudgetExhausted(t *testing.T) {
	limiter := ratelimit.New(10, 10*time.Minute)
	for i := range 10 {
		assert.True(t, limiter.Allow("127.0.0.1"), "request %d should pass", i)
	}
	assert.False(t, limiter.Allow("127.0.0.1"))
}

func TestPeersAreIndependent(t *testing.T) {
	limiter := ratelimit.New(1, 10*time.Minute)
	assert.True(t, limiter.Allow("127.0.0.1"))
	assert.False(t, limiter.Allow("127.0.0.1"))
	assert.True(t, limiter.Allow("::1"))
}
