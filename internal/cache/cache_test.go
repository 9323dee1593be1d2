package cache

import (
	"testing"
	"time"

	"github.com/smallbiznis/phage/internal/clock"
	"github.com/stretchr/testify/assert"
)

func TestTTLCacheExpires(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewTTLCacheWithClock[string, int](fake)

	c.Set("rates", 1, time.Minute)
	got, ok := c.Get("rates")
	assert.True(t, ok)
	assert.Equal(t, 1, got)

	fake.Advance(time.Minute)
	_, ok = c.Get("rates")
	assert.False(t, ok)
}

func TestTTLCacheNoExpiry(t *testing.T) {
	fake := clock.NewFakeClock(time.Now())
	c := NewTTLCacheWithClock[string, string](fake)

	c.Set("k", "v", 0)
	fake.Advance(24 * time.Hour)
	got, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", got)

	c.Delete("k")
	_, ok = c.Get("k")
	assert.False(t, ok)
}
