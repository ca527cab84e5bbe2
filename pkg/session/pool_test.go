package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolConnectAllBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	release := make(chan struct{})

	transport := &fakeTransport{openFn: func(_ int, _ IdentityKey, _ []byte) (Conn, error) {
		cur := inFlight.Add(1)
		for {
			prev := peak.Load()
			if cur <= prev || peak.CompareAndSwap(prev, cur) {
				break
			}
		}
		<-release
		inFlight.Add(-1)
		c := newFakeConn()
		c.registered = true
		return c, nil
	}}

	coord, _ := newTestCoordinator(transport, newMemCreds(), Hooks{})
	pool := NewPool(coord, 2, 0, testLogger())

	keys := make([]IdentityKey, 6)
	for i := range keys {
		keys[i] = IdentityKey(fmt.Sprintf("6281%08d", i))
	}

	done := make(chan []PoolResult, 1)
	go func() { done <- pool.ConnectAll(context.Background(), keys) }()

	// Let the first wave land, then open the gate.
	require.Eventually(t, func() bool { return inFlight.Load() == 2 }, waitFor, time.Millisecond)
	close(release)

	var results []PoolResult
	select {
	case results = <-done:
	case <-time.After(waitFor):
		t.Fatal("bulk connect did not finish")
	}

	assert.LessOrEqual(t, peak.Load(), int32(2), "concurrency cap exceeded")
	require.Len(t, results, len(keys))
	for i, res := range results {
		assert.Equal(t, keys[i], res.Key)
		assert.Equal(t, PoolRestored, res.Status)
	}
}

func TestPoolOneFailureDoesNotAbortOthers(t *testing.T) {
	bad := IdentityKey("628000000001")
	transport := &fakeTransport{openFn: func(_ int, key IdentityKey, _ []byte) (Conn, error) {
		if key == bad {
			return nil, errors.New("dial timeout")
		}
		c := newFakeConn()
		c.registered = true
		return c, nil
	}}

	coord, _ := newTestCoordinator(transport, newMemCreds(), Hooks{})
	pool := NewPool(coord, 5, 0, testLogger())

	keys := []IdentityKey{"628000000001", "628000000002", "628000000003"}
	results := pool.ConnectAll(context.Background(), keys)

	require.Len(t, results, 3)
	assert.Equal(t, PoolFailed, results[0].Status)
	assert.NotEmpty(t, results[0].Error)
	assert.Equal(t, PoolRestored, results[1].Status)
	assert.Equal(t, PoolRestored, results[2].Status)
}

func TestPoolReportsAlreadyConnected(t *testing.T) {
	coord, registry := newTestCoordinator(&fakeTransport{}, newMemCreds(), Hooks{})
	key := IdentityKey("628111111111")
	_, err := registry.Register(key, newFakeConn())
	require.NoError(t, err)

	pool := NewPool(coord, 5, 0, testLogger())
	results := pool.ConnectAll(context.Background(), []IdentityKey{key})
	require.Len(t, results, 1)
	assert.Equal(t, PoolAlreadyConnected, results[0].Status)
}

func TestPoolRestoreAllUsesStoredIdentities(t *testing.T) {
	creds := newMemCreds()
	ctx := context.Background()
	require.NoError(t, creds.Save(ctx, "628000000001", []byte(`{}`)))
	require.NoError(t, creds.Save(ctx, "628000000002", []byte(`{}`)))

	var opened sync.Map
	transport := &fakeTransport{openFn: func(_ int, key IdentityKey, _ []byte) (Conn, error) {
		opened.Store(key, true)
		c := newFakeConn()
		c.registered = true
		return c, nil
	}}

	coord, _ := newTestCoordinator(transport, creds, Hooks{})
	pool := NewPool(coord, 5, 0, testLogger())

	results, err := pool.RestoreAll(ctx)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	for _, key := range []IdentityKey{"628000000001", "628000000002"} {
		_, ok := opened.Load(key)
		assert.True(t, ok, "identity %s not restored", key)
	}
}

func TestPoolRestoreAllEmptyStore(t *testing.T) {
	coord, _ := newTestCoordinator(&fakeTransport{}, newMemCreds(), Hooks{})
	pool := NewPool(coord, 5, 0, testLogger())

	results, err := pool.RestoreAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, results)
}
