package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPutGet(t *testing.T) {
	c := NewTTLCache(time.Minute, 4)

	c.Put("k", 42, time.Minute)
	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, 42, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestExpiry(t *testing.T) {
	c := NewTTLCache(time.Minute, 4)

	c.Put("k", "v", 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestDelete(t *testing.T) {
	c := NewTTLCache(time.Minute, 4)

	c.Put("k", "v", time.Minute)
	c.Delete("k")

	_, ok := c.Get("k")
	assert.False(t, ok)
}

// At capacity, new keys are dropped but existing keys stay updatable.
func TestEntryBound(t *testing.T) {
	c := NewTTLCache(time.Minute, 2)

	c.Put("a", 1, time.Minute)
	c.Put("b", 2, time.Minute)
	c.Put("c", 3, time.Minute)

	_, ok := c.Get("c")
	assert.False(t, ok)

	c.Put("a", 10, time.Minute)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 10, v)
}

func TestBoundIsPerKey(t *testing.T) {
	c := NewTTLCache(time.Minute, 8)
	for i := 0; i < 16; i++ {
		c.Put(fmt.Sprintf("k%d", i), i, time.Minute)
	}

	hits := 0
	for i := 0; i < 16; i++ {
		if _, ok := c.Get(fmt.Sprintf("k%d", i)); ok {
			hits++
		}
	}
	assert.Equal(t, 8, hits)
}
