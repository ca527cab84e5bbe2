package session

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryFirstRegistrationWins(t *testing.T) {
	r := NewRegistry()
	key := IdentityKey("628111111111")

	first := newFakeConn()
	rec, err := r.Register(key, first)
	require.NoError(t, err)
	assert.Equal(t, key, rec.Key)

	_, err = r.Register(key, newFakeConn())
	assert.ErrorIs(t, err, ErrAlreadyActive)

	got, err := r.Get(key)
	require.NoError(t, err)
	assert.Same(t, Conn(first), got.Conn)
}

func TestRegistryConcurrentRegisterAdmitsExactlyOne(t *testing.T) {
	r := NewRegistry()
	key := IdentityKey("628111111111")

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Register(key, newFakeConn()); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 1, r.Count())
}

func TestRegistryUnregister(t *testing.T) {
	r := NewRegistry()
	key := IdentityKey("628111111111")
	_, err := r.Register(key, newFakeConn())
	require.NoError(t, err)

	assert.True(t, r.Unregister(key))
	assert.False(t, r.Unregister(key))

	_, err = r.Get(key)
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestRegistryKeysSorted(t *testing.T) {
	r := NewRegistry()
	for _, k := range []IdentityKey{"62899", "62811", "62855"} {
		_, err := r.Register(k, newFakeConn())
		require.NoError(t, err)
	}
	assert.Equal(t, []IdentityKey{"62811", "62855", "62899"}, r.Keys())
}

func TestRegistryUpdateKeepsCreatedAt(t *testing.T) {
	r := NewRegistry()
	key := IdentityKey("628111111111")
	rec, err := r.Register(key, newFakeConn())
	require.NoError(t, err)

	replacement := newFakeConn()
	assert.True(t, r.update(key, replacement))
	assert.False(t, r.update(IdentityKey("628999999999"), replacement))

	got, err := r.Get(key)
	require.NoError(t, err)
	assert.Same(t, Conn(replacement), got.Conn)
	assert.Equal(t, rec.CreatedAt, got.CreatedAt)
	assert.Equal(t, 1, got.Restarts)
}

func TestRegistryRangeAllowsMutation(t *testing.T) {
	r := NewRegistry()
	for _, k := range []IdentityKey{"62811", "62855", "62899"} {
		_, err := r.Register(k, newFakeConn())
		require.NoError(t, err)
	}

	r.Range(func(rec *Record) {
		r.Unregister(rec.Key)
	})
	assert.Equal(t, 0, r.Count())
}
