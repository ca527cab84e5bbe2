package session

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

const waitFor = 2 * time.Second

func fastSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		MaxReconnectAttempts: 3,
		ReconnectBase:        time.Millisecond,
		ReconnectMaxDelay:    5 * time.Millisecond,
	}
}

func startTestSupervisor(t *testing.T, key IdentityKey, conn Conn, transport Transport, creds CredentialStore, registry *Registry, hooks Hooks, cfg SupervisorConfig) *Supervisor {
	t.Helper()
	sup := newSupervisor(key, conn, transport, creds, registry, hooks, cfg, testLogger())
	go sup.run()
	t.Cleanup(sup.Terminate)
	return sup
}

func TestSupervisorOpenRegistersSession(t *testing.T) {
	registry := NewRegistry()
	conn := newFakeConn()
	key := IdentityKey("628111111111")

	var openedKey IdentityKey
	var mu sync.Mutex
	hooks := Hooks{OnOpen: func(_ context.Context, k IdentityKey, _ Conn) {
		mu.Lock()
		openedKey = k
		mu.Unlock()
	}}

	sup := startTestSupervisor(t, key, conn, &fakeTransport{}, newMemCreds(), registry, hooks, fastSupervisorConfig())
	conn.emit(Opened{SelfJID: "628111111111@s.whatsapp.net"})

	require.Eventually(t, func() bool { return sup.State() == StateOpen }, waitFor, time.Millisecond)

	rec, err := registry.Get(key)
	require.NoError(t, err)
	assert.Same(t, Conn(conn), rec.Conn)

	mu.Lock()
	assert.Equal(t, key, openedKey)
	mu.Unlock()
}

func TestSupervisorOpenLosesRegistrationRace(t *testing.T) {
	registry := NewRegistry()
	key := IdentityKey("628111111111")

	winner := newFakeConn()
	_, err := registry.Register(key, winner)
	require.NoError(t, err)

	loser := newFakeConn()
	sup := startTestSupervisor(t, key, loser, &fakeTransport{}, newMemCreds(), registry, Hooks{}, fastSupervisorConfig())
	loser.emit(Opened{})

	select {
	case <-sup.Done():
	case <-time.After(waitFor):
		t.Fatal("supervisor did not stop after losing the registration race")
	}

	assert.Equal(t, StateTerminated, sup.State())
	assert.True(t, loser.wasClosed())

	// The winner keeps its slot.
	rec, err := registry.Get(key)
	require.NoError(t, err)
	assert.Same(t, Conn(winner), rec.Conn)
}

func TestSupervisorTerminalCloseNeverRetries(t *testing.T) {
	registry := NewRegistry()
	transport := &fakeTransport{}
	conn := newFakeConn()
	key := IdentityKey("628111111111")

	var mu sync.Mutex
	var cause error
	hooks := Hooks{OnTerminal: func(_ IdentityKey, err error) {
		mu.Lock()
		cause = err
		mu.Unlock()
	}}

	sup := startTestSupervisor(t, key, conn, transport, newMemCreds(), registry, hooks, fastSupervisorConfig())
	conn.emit(Opened{})
	require.Eventually(t, func() bool { return sup.State() == StateOpen }, waitFor, time.Millisecond)

	conn.emit(Closed{Reason: "401: logged out", Terminal: true})

	select {
	case <-sup.Done():
	case <-time.After(waitFor):
		t.Fatal("supervisor did not stop after terminal close")
	}

	assert.Equal(t, StateTerminated, sup.State())
	assert.Empty(t, transport.openCalls(), "terminal close must not trigger a reconnect")
	assert.Equal(t, 0, registry.Count())

	mu.Lock()
	assert.ErrorIs(t, cause, ErrTerminalAuth)
	mu.Unlock()
}

func TestSupervisorReconnectsAfterDrop(t *testing.T) {
	registry := NewRegistry()
	creds := newMemCreds()
	key := IdentityKey("628111111111")
	require.NoError(t, creds.Save(context.Background(), key, []byte(`{"jid":"a"}`)))

	second := newFakeConn()
	transport := &fakeTransport{openFn: func(_ int, _ IdentityKey, _ []byte) (Conn, error) {
		return second, nil
	}}

	first := newFakeConn()
	sup := startTestSupervisor(t, key, first, transport, creds, registry, Hooks{}, fastSupervisorConfig())
	first.emit(Opened{})
	require.Eventually(t, func() bool { return sup.State() == StateOpen }, waitFor, time.Millisecond)

	first.emit(Closed{Reason: "stream error"})

	// The supervisor opens a replacement with the stored credential.
	require.Eventually(t, func() bool { return len(transport.openCalls()) == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, []byte(`{"jid":"a"}`), transport.openCalls()[0].blob)
	assert.True(t, first.wasClosed())

	second.emit(Opened{})
	require.Eventually(t, func() bool { return sup.State() == StateOpen }, waitFor, time.Millisecond)

	// Registration survives the reconnect with the replacement conn.
	rec, err := registry.Get(key)
	require.NoError(t, err)
	assert.Same(t, Conn(second), rec.Conn)
}

func TestSupervisorReconnectNeverOpensWithoutCredential(t *testing.T) {
	registry := NewRegistry()
	creds := newMemCreds()
	key := IdentityKey("628111111111")
	require.NoError(t, creds.Save(context.Background(), key, []byte(`{"jid":"a"}`)))

	second := newFakeConn()
	transport := &fakeTransport{openFn: func(_ int, _ IdentityKey, _ []byte) (Conn, error) {
		return second, nil
	}}

	first := newFakeConn()
	sup := startTestSupervisor(t, key, first, transport, creds, registry, Hooks{}, fastSupervisorConfig())
	first.emit(Opened{})
	require.Eventually(t, func() bool { return sup.State() == StateOpen }, waitFor, time.Millisecond)

	// The store fails twice before recovering. Each failure burns a
	// reconnect attempt; none may fall back to a nil credential.
	creds.failNextLoads(2)
	first.emit(Closed{Reason: "stream error"})

	require.Eventually(t, func() bool { return len(transport.openCalls()) == 1 }, waitFor, time.Millisecond)
	for _, call := range transport.openCalls() {
		assert.Equal(t, []byte(`{"jid":"a"}`), call.blob)
	}

	second.emit(Opened{})
	require.Eventually(t, func() bool { return sup.State() == StateOpen }, waitFor, time.Millisecond)
}

func TestSupervisorAttemptsResetAfterReopen(t *testing.T) {
	registry := NewRegistry()
	key := IdentityKey("628111111111")

	var mu sync.Mutex
	conns := []*fakeConn{}
	transport := &fakeTransport{openFn: func(_ int, _ IdentityKey, _ []byte) (Conn, error) {
		c := newFakeConn()
		mu.Lock()
		conns = append(conns, c)
		mu.Unlock()
		return c, nil
	}}

	first := newFakeConn()
	cfg := fastSupervisorConfig()
	cfg.MaxReconnectAttempts = 2
	sup := startTestSupervisor(t, key, first, transport, newMemCreds(), registry, Hooks{}, cfg)
	first.emit(Opened{})
	require.Eventually(t, func() bool { return sup.State() == StateOpen }, waitFor, time.Millisecond)

	// Two full drop/reopen rounds. If attempts were cumulative the second
	// round would exceed MaxReconnectAttempts and fail the session.
	for round := 0; round < 2; round++ {
		mu.Lock()
		prev := len(conns)
		mu.Unlock()

		cur := first
		if prev > 0 {
			mu.Lock()
			cur = conns[prev-1]
			mu.Unlock()
		}
		cur.emit(Closed{Reason: "drop"})

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(conns) == prev+1
		}, waitFor, time.Millisecond)

		mu.Lock()
		next := conns[prev]
		mu.Unlock()
		next.emit(Opened{})
		require.Eventually(t, func() bool { return sup.State() == StateOpen }, waitFor, time.Millisecond)
	}
}

func TestSupervisorFailsAfterExhaustedReconnects(t *testing.T) {
	registry := NewRegistry()
	key := IdentityKey("628111111111")

	transport := &fakeTransport{openFn: func(_ int, _ IdentityKey, _ []byte) (Conn, error) {
		return nil, context.DeadlineExceeded
	}}

	var mu sync.Mutex
	var cause error
	hooks := Hooks{OnTerminal: func(_ IdentityKey, err error) {
		mu.Lock()
		cause = err
		mu.Unlock()
	}}

	conn := newFakeConn()
	cfg := fastSupervisorConfig()
	sup := startTestSupervisor(t, key, conn, transport, newMemCreds(), registry, hooks, cfg)
	conn.emit(Opened{})
	require.Eventually(t, func() bool { return sup.State() == StateOpen }, waitFor, time.Millisecond)

	conn.emit(Closed{Reason: "drop"})

	select {
	case <-sup.Done():
	case <-time.After(waitFor):
		t.Fatal("supervisor did not give up")
	}

	assert.Equal(t, StateFailed, sup.State())
	assert.Len(t, transport.openCalls(), cfg.MaxReconnectAttempts)
	assert.Equal(t, 0, registry.Count())

	mu.Lock()
	assert.ErrorIs(t, cause, ErrReconnectExhausted)
	mu.Unlock()
}

func TestSupervisorTerminateAbortsBackoff(t *testing.T) {
	registry := NewRegistry()
	key := IdentityKey("628111111111")

	conn := newFakeConn()
	cfg := SupervisorConfig{
		MaxReconnectAttempts: 3,
		ReconnectBase:        time.Hour,
		ReconnectMaxDelay:    time.Hour,
	}
	transport := &fakeTransport{}
	sup := newSupervisor(key, conn, transport, newMemCreds(), registry, Hooks{}, cfg, testLogger())
	go sup.run()

	conn.emit(Opened{})
	require.Eventually(t, func() bool { return sup.State() == StateOpen }, waitFor, time.Millisecond)
	conn.emit(Closed{Reason: "drop"})
	require.Eventually(t, func() bool { return sup.State() == StateReconnecting }, waitFor, time.Millisecond)

	sup.Terminate()

	select {
	case <-sup.Done():
	case <-time.After(waitFor):
		t.Fatal("terminate did not interrupt the backoff timer")
	}
	assert.Equal(t, StateTerminated, sup.State())
	assert.Empty(t, transport.openCalls())
}

func TestSupervisorPersistsCredentialUpdates(t *testing.T) {
	registry := NewRegistry()
	creds := newMemCreds()
	key := IdentityKey("628111111111")

	conn := newFakeConn()
	sup := startTestSupervisor(t, key, conn, &fakeTransport{}, creds, registry, Hooks{}, fastSupervisorConfig())
	conn.emit(Opened{})
	require.Eventually(t, func() bool { return sup.State() == StateOpen }, waitFor, time.Millisecond)

	conn.emit(CredentialUpdate{Blob: []byte(`{"jid":"b"}`)})
	require.Eventually(t, func() bool {
		return string(creds.stored(key)) == `{"jid":"b"}`
	}, waitFor, time.Millisecond)
}

func TestSupervisorDeliversMessagesInOrder(t *testing.T) {
	registry := NewRegistry()
	key := IdentityKey("628111111111")

	var mu sync.Mutex
	var got []string
	hooks := Hooks{OnMessage: func(_ context.Context, _ IdentityKey, _ Conn, msg Message) {
		mu.Lock()
		got = append(got, msg.Text)
		mu.Unlock()
	}}

	conn := newFakeConn()
	sup := startTestSupervisor(t, key, conn, &fakeTransport{}, newMemCreds(), registry, hooks, fastSupervisorConfig())
	conn.emit(Opened{})
	require.Eventually(t, func() bool { return sup.State() == StateOpen }, waitFor, time.Millisecond)

	for _, text := range []string{"one", "two", "three"} {
		conn.emit(Message{Text: text})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, waitFor, time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"one", "two", "three"}, got)
	mu.Unlock()
}
