package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestLimiterRefills(t *testing.T) {
	c := &clock{t: time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)}
	l := New(2, 1, WithClock(c.now))

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"), "keys are independent")

	c.t = c.t.Add(500 * time.Millisecond)
	assert.False(t, l.Allow("a"))
	c.t = c.t.Add(500 * time.Millisecond)
	assert.True(t, l.Allow("a"))

	c.t = c.t.Add(time.Hour)
	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"), "refill is capped at capacity")
}

func TestLimiterPrune(t *testing.T) {
	c := &clock{t: time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)}
	l := New(1, 1, WithClock(c.now))
	l.Allow("a")
	assert.Equal(t, 0, l.Prune(time.Minute))
	c.t = c.t.Add(2 * time.Minute)
	assert.Equal(t, 1, l.Prune(time.Minute))
}
