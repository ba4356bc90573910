package enrichment

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"aerospin-backend/internal/clock"
)

func TestTTLCacheExpires(t *testing.T) {
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := newTTLCache[int](fake, 0)

	c.set("a", 1, time.Minute)
	v, ok := c.get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	fake.Advance(time.Minute)
	_, ok = c.get("a")
	assert.False(t, ok)
}

func TestTTLCacheCapsEntries(t *testing.T) {
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := newTTLCache[int](fake, 3)

	for i := 0; i < 100; i++ {
		c.set(fmt.Sprintf("198.51.100.%d", i), i, time.Minute+time.Duration(i)*time.Second)
	}
	assert.Equal(t, 3, c.size())

	// The survivors are the entries furthest from expiry
	for _, i := range []int{97, 98, 99} {
		_, ok := c.get(fmt.Sprintf("198.51.100.%d", i))
		assert.True(t, ok, i)
	}
}

func TestTTLCacheOverwriteAtCapacityKeepsOthers(t *testing.T) {
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := newTTLCache[int](fake, 2)
	c.set("a", 1, time.Minute)
	c.set("b", 2, time.Minute)
	c.set("a", 3, time.Minute)

	assert.Equal(t, 2, c.size())
	v, _ := c.get("a")
	assert.Equal(t, 3, v)
}

func TestTTLCachePrefersExpiredVictims(t *testing.T) {
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := newTTLCache[int](fake, 2)
	c.set("old", 1, time.Second)
	c.set("keep", 2, time.Hour)
	fake.Advance(2 * time.Second)

	c.set("new", 3, time.Minute)
	_, ok := c.get("keep")
	assert.True(t, ok)
	_, ok = c.get("new")
	assert.True(t, ok)
}
