package session

import (
	"context"
	"errors"
	"sync"
)

// fakeConn is a scriptable Conn whose event stream the test drives.
type fakeConn struct {
	events chan Event

	mu         sync.Mutex
	registered bool
	selfJID    string
	closed     bool
	closeOnce  sync.Once
	loggedOut  bool
	pairCalls  int
	pairFn     func(call int) (string, error)
	sent       []Outgoing
	sentTo     []string
	about      []string
}

func newFakeConn() *fakeConn {
	return &fakeConn{events: make(chan Event, 16)}
}

func (c *fakeConn) emit(ev Event) { c.events <- ev }

func (c *fakeConn) Events() <-chan Event { return c.events }

func (c *fakeConn) Registered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registered
}

func (c *fakeConn) RequestPairingCode(_ context.Context, _ string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pairCalls++
	if c.pairFn == nil {
		return "ABCD-1234", nil
	}
	return c.pairFn(c.pairCalls)
}

func (c *fakeConn) SelfJID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfJID
}

func (c *fakeConn) Send(_ context.Context, to string, msg Outgoing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sentTo = append(c.sentTo, to)
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeConn) MarkRead(context.Context, string, string, string) error { return nil }
func (c *fakeConn) SendRecording(context.Context, string) error            { return nil }

func (c *fakeConn) SetAbout(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.about = append(c.about, text)
	return nil
}

func (c *fakeConn) JoinGroup(context.Context, string) (string, error)             { return "group@g.us", nil }
func (c *fakeConn) FollowNewsletter(context.Context, string) error                { return nil }
func (c *fakeConn) ReactNewsletter(context.Context, string, string, string) error { return nil }
func (c *fakeConn) GroupParticipants(context.Context, string) ([]string, error) {
	return nil, nil
}

func (c *fakeConn) Logout(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loggedOut = true
	return nil
}

func (c *fakeConn) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.events)
	})
}

func (c *fakeConn) wasClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type openCall struct {
	key  IdentityKey
	blob []byte
}

// fakeTransport records Open calls and delegates connection construction
// to an injectable openFn.
type fakeTransport struct {
	mu     sync.Mutex
	opens  []openCall
	openFn func(call int, key IdentityKey, blob []byte) (Conn, error)
}

func (t *fakeTransport) Open(_ context.Context, key IdentityKey, blob []byte) (Conn, error) {
	t.mu.Lock()
	t.opens = append(t.opens, openCall{key: key, blob: blob})
	call := len(t.opens)
	fn := t.openFn
	t.mu.Unlock()
	if fn == nil {
		return newFakeConn(), nil
	}
	return fn(call, key, blob)
}

func (t *fakeTransport) openCalls() []openCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]openCall, len(t.opens))
	copy(out, t.opens)
	return out
}

var errNoCredential = errors.New("no credential stored")

// memCreds is an in-memory CredentialStore.
type memCreds struct {
	mu        sync.Mutex
	blobs     map[IdentityKey][]byte
	loadErr   error
	loadFails int
	saveErr   error
	cleaned   int
}

func newMemCreds() *memCreds {
	return &memCreds{blobs: make(map[IdentityKey][]byte)}
}

func (s *memCreds) Load(_ context.Context, key IdentityKey) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadFails > 0 {
		s.loadFails--
		return nil, errors.New("credential store unavailable")
	}
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	blob, ok := s.blobs[key]
	if !ok {
		return nil, errNoCredential
	}
	return blob, nil
}

func (s *memCreds) Save(_ context.Context, key IdentityKey, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.blobs[key] = blob
	return nil
}

func (s *memCreds) Delete(_ context.Context, key IdentityKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}

func (s *memCreds) CleanupDuplicates(_ context.Context, _ IdentityKey) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleaned, nil
}

func (s *memCreds) Identities(_ context.Context) ([]IdentityKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]IdentityKey, 0, len(s.blobs))
	for key := range s.blobs {
		keys = append(keys, key)
	}
	return keys, nil
}

func (s *memCreds) failNextLoads(n int) {
	s.mu.Lock()
	s.loadFails = n
	s.mu.Unlock()
}

func (s *memCreds) stored(key IdentityKey) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blobs[key]
}
