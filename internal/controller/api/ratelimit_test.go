package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_PerKeyBuckets(t *testing.T) {
	l := NewRateLimiter(0.001, 2)

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))

	assert.True(t, l.Allow("10.0.0.2"))
}

func TestRateLimiter_CleanupDropsIdleKeys(t *testing.T) {
	l := NewRateLimiter(1, 1)
	l.Allow("idle")
	l.Allow("fresh")

	l.mu.Lock()
	l.entries["idle"].lastSeen = time.Now().Add(-time.Hour)
	l.mu.Unlock()

	l.Cleanup()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.entries, "idle")
	assert.Contains(t, l.entries, "fresh")
}
