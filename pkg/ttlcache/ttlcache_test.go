package ttlcache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache[K comparable, V any](ttl time.Duration) (*Cache[K, V], *time.Time) {
	c := New[K, V](ttl)
	now := time.Now()
	c.now = func() time.Time { return now }
	return c, &now
}

func TestGetOrComputeCachesValue(t *testing.T) {
	c, _ := newTestCache[string, int](time.Minute)

	fetches := 0
	fetch := func() (int, error) {
		fetches++
		return 42, nil
	}

	v, err := c.GetOrCompute("answer", fetch)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = c.GetOrCompute("answer", fetch)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, fetches)
}

func TestGetOrComputeRefetchesAfterExpiry(t *testing.T) {
	c, now := newTestCache[string, int](time.Minute)

	fetches := 0
	fetch := func() (int, error) {
		fetches++
		return fetches, nil
	}

	v, _ := c.GetOrCompute("k", fetch)
	assert.Equal(t, 1, v)

	*now = now.Add(2 * time.Minute)

	v, _ = c.GetOrCompute("k", fetch)
	assert.Equal(t, 2, v)
	assert.Equal(t, 2, fetches)
}

func TestGetOrComputeDoesNotCacheErrors(t *testing.T) {
	c, _ := newTestCache[string, int](time.Minute)

	boom := errors.New("fetch failed")
	_, err := c.GetOrCompute("k", func() (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)

	v, err := c.GetOrCompute("k", func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestSetGetDelete(t *testing.T) {
	c, now := newTestCache[string, string](time.Minute)

	c.Set("a", "1")
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	c.Delete("a")
	_, ok = c.Get("a")
	assert.False(t, ok)

	c.SetWithTTL("b", "2", time.Second)
	*now = now.Add(2 * time.Second)
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestPurgeRemovesOnlyExpired(t *testing.T) {
	c, now := newTestCache[string, int](time.Minute)

	c.Set("fresh", 1)
	c.SetWithTTL("stale", 2, time.Second)
	*now = now.Add(30 * time.Second)

	removed := c.Purge()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, c.Len())

	_, ok := c.Get("fresh")
	assert.True(t, ok)
}
