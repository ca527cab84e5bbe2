package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/retry"
)

// CoordinatorConfig tunes the pairing flow.
type CoordinatorConfig struct {
	// PairAttempts is how many times a pairing code is requested before
	// the flow is abandoned.
	PairAttempts int
	// PairBackoff is the linear delay between pairing-code attempts.
	PairBackoff time.Duration

	Supervisor SupervisorConfig
}

func (c CoordinatorConfig) withDefaults() CoordinatorConfig {
	if c.PairAttempts <= 0 {
		c.PairAttempts = 3
	}
	if c.PairBackoff <= 0 {
		c.PairBackoff = 2 * time.Second
	}
	return c
}

// PendingPairing marks an identity whose pairing flow is in flight but
// has not yet produced an open or failed connection.
type PendingPairing struct {
	Key       IdentityKey
	StartedAt time.Time
}

// PairResult is the outcome of a Pair or PairQR call that did not error.
type PairResult struct {
	// Code is the 8-character pairing code the user types on the phone.
	// Empty when the session was restored from stored credentials or was
	// already connected.
	Code string
	// QR holds a base64 PNG of the login QR code (QR flow only).
	QR string
	// QRTimeout is the QR code validity window in seconds.
	QRTimeout int
	// AlreadyConnected reports that a live session existed and no new
	// connection was opened.
	AlreadyConnected bool
	// Restored reports that stored credentials were valid and no pairing
	// code was needed.
	Restored bool
}

// Coordinator serializes session establishment per identity: it
// deduplicates concurrent pairing requests, restores sessions from
// stored credentials when possible, falls back to a fresh pairing-code
// flow otherwise, and hands every opened connection to a Supervisor.
type Coordinator struct {
	transport Transport
	creds     CredentialStore
	registry  *Registry
	hooks     Hooks
	cfg       CoordinatorConfig
	log       *logrus.Entry

	mu      sync.Mutex
	pending map[IdentityKey]PendingPairing
	sups    map[IdentityKey]*Supervisor
	now     func() time.Time
}

func NewCoordinator(transport Transport, creds CredentialStore, registry *Registry, hooks Hooks, cfg CoordinatorConfig, log *logrus.Entry) *Coordinator {
	return &Coordinator{
		transport: transport,
		creds:     creds,
		registry:  registry,
		hooks:     hooks,
		cfg:       cfg.withDefaults(),
		log:       log,
		pending:   make(map[IdentityKey]PendingPairing),
		sups:      make(map[IdentityKey]*Supervisor),
		now:       time.Now,
	}
}

// claim marks key's pairing as in flight. Exactly one concurrent caller
// per key wins the claim.
func (c *Coordinator) claim(key IdentityKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.pending[key]; busy {
		return false
	}
	c.pending[key] = PendingPairing{Key: key, StartedAt: c.now()}
	return true
}

func (c *Coordinator) release(key IdentityKey) {
	c.mu.Lock()
	delete(c.pending, key)
	c.mu.Unlock()
}

// Pending lists pairing flows that have not yet settled.
func (c *Coordinator) Pending() []PendingPairing {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PendingPairing, 0, len(c.pending))
	for _, p := range c.pending {
		out = append(out, p)
	}
	return out
}

// Supervisor returns the live supervisor for key, or nil.
func (c *Coordinator) Supervisor(key IdentityKey) *Supervisor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sups[key]
}

func (c *Coordinator) startSupervisor(key IdentityKey, conn Conn) *Supervisor {
	sup := newSupervisor(key, conn, c.transport, c.creds, c.registry, c.hooks, c.cfg.Supervisor, c.log)
	sup.settled = func() { c.release(key) }
	sup.exited = func() {
		c.mu.Lock()
		if c.sups[key] == sup {
			delete(c.sups, key)
		}
		c.mu.Unlock()
	}
	c.mu.Lock()
	c.sups[key] = sup
	c.mu.Unlock()
	go sup.run()
	return sup
}

// Pair establishes a session for key using the pairing-code flow. When
// stored credentials are usable the session is restored silently and no
// code is returned. The call returns once the code is issued (or the
// session restored); the connection keeps progressing in the background
// under its supervisor.
func (c *Coordinator) Pair(ctx context.Context, key IdentityKey) (PairResult, error) {
	if _, err := c.registry.Get(key); err == nil {
		return PairResult{AlreadyConnected: true}, nil
	}
	if !c.claim(key) {
		return PairResult{}, ErrPairingInProgress
	}

	log := c.log.WithField("session", key.Masked())

	if removed, err := c.creds.CleanupDuplicates(ctx, key); err != nil {
		log.WithError(err).Warn("Credential duplicate cleanup failed")
	} else if removed > 0 {
		log.WithField("removed", removed).Info("Removed duplicate credential blobs")
	}

	conn, err := c.openWithStored(ctx, key, log)
	if err != nil {
		c.release(key)
		return PairResult{}, err
	}

	sup := c.startSupervisor(key, conn)

	if conn.Registered() {
		log.Info("Session restored from stored credentials")
		return PairResult{Restored: true}, nil
	}

	var code string
	err = retry.Do(ctx, c.cfg.PairAttempts, retry.Linear(c.cfg.PairBackoff), func() error {
		var reqErr error
		code, reqErr = conn.RequestPairingCode(ctx, string(key))
		return reqErr
	})
	if err != nil {
		log.WithError(err).Error("Pairing code could not be obtained")
		sup.fail(ErrPairingFailed)
		return PairResult{}, fmt.Errorf("%w: %v", ErrPairingFailed, err)
	}

	log.Info("Pairing code issued")
	return PairResult{Code: code}, nil
}

// PairQR establishes a session for key using the QR login flow. The
// transport must implement QRTransport.
func (c *Coordinator) PairQR(ctx context.Context, key IdentityKey) (PairResult, error) {
	qt, ok := c.transport.(QRTransport)
	if !ok {
		return PairResult{}, ErrQRUnsupported
	}

	if _, err := c.registry.Get(key); err == nil {
		return PairResult{AlreadyConnected: true}, nil
	}
	if !c.claim(key) {
		return PairResult{}, ErrPairingInProgress
	}

	conn, qr, timeout, err := qt.OpenQR(ctx, key)
	if err != nil {
		c.release(key)
		return PairResult{}, err
	}
	c.startSupervisor(key, conn)

	return PairResult{QR: qr, QRTimeout: timeout}, nil
}

// openWithStored tries stored credentials first and falls back to a
// fresh registration when the blob is missing or rejected.
func (c *Coordinator) openWithStored(ctx context.Context, key IdentityKey, log *logrus.Entry) (Conn, error) {
	blob, err := c.creds.Load(ctx, key)
	if err != nil {
		blob = nil
	}

	conn, err := c.transport.Open(ctx, key, blob)
	if err == nil {
		return conn, nil
	}
	if blob != nil && errors.Is(err, ErrCredentialInvalid) {
		log.WithError(err).Warn("Stored credential rejected, starting fresh pairing")
		return c.transport.Open(ctx, key, nil)
	}
	return nil, err
}

// Delete tears a session down for good: the live connection (if any) is
// logged out and terminated, any in-flight pairing is cancelled, and the
// stored credential is removed.
func (c *Coordinator) Delete(ctx context.Context, key IdentityKey) error {
	c.mu.Lock()
	sup := c.sups[key]
	c.mu.Unlock()

	if sup != nil {
		if conn := sup.Conn(); conn != nil && sup.State() == StateOpen {
			if err := conn.Logout(ctx); err != nil {
				c.log.WithField("session", key.Masked()).
					WithError(err).Warn("Logout before delete failed")
			}
		}
		sup.Terminate()
	} else {
		c.registry.Unregister(key)
		c.release(key)
	}

	return c.creds.Delete(ctx, key)
}

// TerminateAll shuts every live supervisor down, for process shutdown.
func (c *Coordinator) TerminateAll() {
	c.mu.Lock()
	sups := make([]*Supervisor, 0, len(c.sups))
	for _, sup := range c.sups {
		sups = append(sups, sup)
	}
	c.mu.Unlock()
	for _, sup := range sups {
		sup.Terminate()
	}
}
