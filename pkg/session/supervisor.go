package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/retry"
)

// State of one session's connection lifecycle.
type State int32

const (
	StateIdle State = iota
	StatePairing
	StateOpen
	StateReconnecting
	StateFailed
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePairing:
		return "pairing"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// SupervisorConfig tunes the reconnect policy.
type SupervisorConfig struct {
	// MaxReconnectAttempts before the session transitions to Failed.
	MaxReconnectAttempts int
	// ReconnectBase is the first backoff delay; it doubles every attempt.
	ReconnectBase time.Duration
	// ReconnectMaxDelay caps a single backoff delay.
	ReconnectMaxDelay time.Duration
}

func (c SupervisorConfig) withDefaults() SupervisorConfig {
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = 10 * time.Second
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = 5 * time.Minute
	}
	return c
}

// Hooks are the optional callbacks a supervisor invokes from its event
// loop. They run one-at-a-time in event order for a given session and
// must not assume any ordering across sessions.
type Hooks struct {
	OnOpen     func(ctx context.Context, key IdentityKey, conn Conn)
	OnMessage  func(ctx context.Context, key IdentityKey, conn Conn, msg Message)
	OnRevoked  func(ctx context.Context, key IdentityKey, conn Conn, ev MessageRevoked)
	OnTerminal func(key IdentityKey, cause error)
}

// Supervisor owns the lifecycle of one session's transport connection:
// it consumes the connection's ordered event stream, registers the
// session on open, persists credential updates, and reconnects with
// exponential backoff after non-terminal closes. Terminal auth closes
// and explicit termination are never retried.
type Supervisor struct {
	key       IdentityKey
	transport Transport
	creds     CredentialStore
	registry  *Registry
	hooks     Hooks
	cfg       SupervisorConfig
	log       *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	state      State
	conn       Conn
	attempts   int
	registered bool

	settleOnce sync.Once
	settled    func()
	exitOnce   sync.Once
	exited     func()
}

func newSupervisor(key IdentityKey, conn Conn, transport Transport, creds CredentialStore, registry *Registry, hooks Hooks, cfg SupervisorConfig, log *logrus.Entry) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		key:       key,
		transport: transport,
		creds:     creds,
		registry:  registry,
		hooks:     hooks,
		cfg:       cfg.withDefaults(),
		log:       log.WithField("session", key.Masked()),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     StatePairing,
		conn:      conn,
	}
}

func (s *Supervisor) Key() IdentityKey { return s.key }

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) Conn() Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Done is closed when the event loop has exited.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Supervisor) halted() bool {
	if s.ctx.Err() != nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateFailed || s.state == StateTerminated
}

func (s *Supervisor) settle() {
	s.settleOnce.Do(func() {
		if s.settled != nil {
			s.settled()
		}
	})
}

func (s *Supervisor) leave() {
	s.exitOnce.Do(func() {
		if s.exited != nil {
			s.exited()
		}
	})
}

func (s *Supervisor) run() {
	defer close(s.done)
	defer s.leave()
	defer s.settle()

	for {
		conn := s.Conn()

		var ev Event
		var ok bool
		select {
		case <-s.ctx.Done():
			return
		case ev, ok = <-conn.Events():
		}
		if !ok {
			if s.halted() {
				return
			}
			// Stream ended without a close event: treat as a plain drop.
			ev = Closed{Reason: "event stream ended"}
		}

		switch e := ev.(type) {
		case Opened:
			if !s.handleOpened(conn, e) {
				return
			}
		case CredentialUpdate:
			s.persistCredential(e.Blob)
		case Message:
			if s.hooks.OnMessage != nil {
				s.hooks.OnMessage(s.ctx, s.key, conn, e)
			}
		case MessageRevoked:
			if s.hooks.OnRevoked != nil {
				s.hooks.OnRevoked(s.ctx, s.key, conn, e)
			}
		case Closed:
			if !s.handleClosed(conn, e) {
				return
			}
		}
	}
}

func (s *Supervisor) handleOpened(conn Conn, ev Opened) bool {
	s.mu.Lock()
	first := !s.registered
	s.mu.Unlock()

	if first {
		if _, err := s.registry.Register(s.key, conn); err != nil {
			// Another pairing flow won the race; this connection must die.
			s.log.Warn("Duplicate session detected on open, closing loser connection")
			conn.Close()
			s.setState(StateTerminated)
			s.settle()
			return false
		}
	} else {
		s.registry.update(s.key, conn)
	}

	s.mu.Lock()
	s.registered = true
	s.state = StateOpen
	s.attempts = 0
	s.mu.Unlock()

	s.log.WithField("jid", ev.SelfJID).Info("Session open")
	s.settle()

	if s.hooks.OnOpen != nil {
		s.hooks.OnOpen(s.ctx, s.key, conn)
	}
	return true
}

// persistCredential writes the updated auth blob. Writes for one key are
// serialized by running on the session's single event loop.
func (s *Supervisor) persistCredential(blob []byte) {
	err := retry.Do(s.ctx, 3, retry.Linear(time.Second), func() error {
		return s.creds.Save(s.ctx, s.key, blob)
	})
	if err != nil {
		s.log.WithError(err).Error("Failed to persist credential update")
	}
}

func (s *Supervisor) handleClosed(conn Conn, ev Closed) bool {
	if s.halted() {
		return false
	}

	conn.Close()

	if ev.Terminal {
		s.log.WithField("reason", ev.Reason).Warn("Terminal close, session will not be retried")
		s.setState(StateTerminated)
		s.registry.Unregister(s.key)
		if s.hooks.OnTerminal != nil {
			s.hooks.OnTerminal(s.key, ErrTerminalAuth)
		}
		s.settle()
		return false
	}

	s.setState(StateReconnecting)
	backoff := retry.Exponential(s.cfg.ReconnectBase, s.cfg.ReconnectMaxDelay)

	for {
		s.mu.Lock()
		s.attempts++
		attempt := s.attempts
		s.mu.Unlock()

		if attempt > s.cfg.MaxReconnectAttempts {
			s.log.WithField("attempts", attempt-1).Error("Reconnect attempts exhausted, dropping session")
			s.setState(StateFailed)
			s.registry.Unregister(s.key)
			if s.hooks.OnTerminal != nil {
				s.hooks.OnTerminal(s.key, ErrReconnectExhausted)
			}
			s.settle()
			return false
		}

		delay := backoff(attempt)
		s.log.WithField("reason", ev.Reason).
			WithField("attempt", attempt).
			WithField("delay", delay.String()).
			Warn("Connection lost, scheduling reconnect")

		timer := time.NewTimer(delay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
		if s.halted() {
			return false
		}

		// A load failure must not degrade to a fresh unregistered
		// device; that connection could never resume the account.
		blob, err := s.creds.Load(s.ctx, s.key)
		if err != nil {
			s.log.WithError(err).Warn("Reconnect attempt failed, stored credential unavailable")
			continue
		}
		next, err := s.transport.Open(s.ctx, s.key, blob)
		if err != nil {
			s.log.WithError(err).Warn("Reconnect attempt failed")
			continue
		}

		s.mu.Lock()
		s.conn = next
		s.mu.Unlock()
		return true
	}
}

// fail aborts a pairing flow that could not obtain a code.
func (s *Supervisor) fail(cause error) {
	s.mu.Lock()
	conn := s.conn
	s.state = StateFailed
	s.mu.Unlock()

	s.cancel()
	if conn != nil {
		conn.Close()
	}
	s.registry.Unregister(s.key)
	if s.hooks.OnTerminal != nil {
		s.hooks.OnTerminal(s.key, cause)
	}
	s.settle()
}

// Terminate is the explicit, user-initiated teardown. It cancels any
// in-flight backoff timer, closes the live connection, and removes the
// session from the registry.
func (s *Supervisor) Terminate() {
	s.mu.Lock()
	conn := s.conn
	s.state = StateTerminated
	s.mu.Unlock()

	s.cancel()
	if conn != nil {
		conn.Close()
	}
	s.registry.Unregister(s.key)
	s.settle()
}
