// Package gateway wires the session core to its production backends:
// the whatsmeow transport, the Postgres blob store, and the pool that
// restores stored sessions at startup.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/env"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/log"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/session"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/sessionstore"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/whatsapp"
)

// Gateway owns every long-lived component of the process.
type Gateway struct {
	Transport   *whatsapp.Transport
	Store       sessionstore.Store
	Credentials *sessionstore.Credentials
	Configs     *sessionstore.Configs
	Registry    *session.Registry
	Coordinator *session.Coordinator
	Pool        *session.Pool
	StartedAt   time.Time
}

// Default is set once by Init and read by the HTTP controllers and the
// chat command handlers.
var Default *Gateway

// Init builds the gateway. hooks are installed on every supervisor the
// coordinator starts, so they must be ready before the first pairing.
func Init(ctx context.Context, hooks session.Hooks) (*Gateway, error) {
	transport, err := whatsapp.NewTransport(ctx)
	if err != nil {
		return nil, fmt.Errorf("initializing transport: %w", err)
	}

	// The blob store shares the whatsmeow database.
	_, dsn := whatsapp.DatastoreDSN()
	store, err := sessionstore.OpenPostgres(dsn)
	if err != nil {
		return nil, fmt.Errorf("initializing session store: %w", err)
	}

	credentials := sessionstore.NewCredentials(store)
	configs := sessionstore.NewConfigs(store)
	registry := session.NewRegistry()

	coordinatorCfg := session.CoordinatorConfig{
		PairAttempts: env.GetEnvIntOrDefault("WHATSAPP_PAIR_ATTEMPTS", 3),
		PairBackoff:  env.GetEnvDurationOrDefault("WHATSAPP_PAIR_BACKOFF", 2*time.Second),
		Supervisor: session.SupervisorConfig{
			MaxReconnectAttempts: env.GetEnvIntOrDefault("WHATSAPP_RECONNECT_ATTEMPTS", 5),
			ReconnectBase:        env.GetEnvDurationOrDefault("WHATSAPP_RECONNECT_BACKOFF_BASE", 10*time.Second),
			ReconnectMaxDelay:    env.GetEnvDurationOrDefault("WHATSAPP_RECONNECT_BACKOFF_MAX", 5*time.Minute),
		},
	}
	coordinator := session.NewCoordinator(transport, credentials, registry, hooks, coordinatorCfg, log.Print(nil))

	pool := session.NewPool(
		coordinator,
		env.GetEnvIntOrDefault("WHATSAPP_CONNECT_CONCURRENCY", 5),
		env.GetEnvDurationOrDefault("WHATSAPP_CONNECT_JITTER_MAX", 5*time.Second),
		log.Print(nil),
	)

	gw := &Gateway{
		Transport:   transport,
		Store:       store,
		Credentials: credentials,
		Configs:     configs,
		Registry:    registry,
		Coordinator: coordinator,
		Pool:        pool,
		StartedAt:   time.Now(),
	}
	Default = gw
	return gw, nil
}

// Shutdown terminates every live session.
func (g *Gateway) Shutdown() {
	g.Coordinator.TerminateAll()
}

// Uptime since process start.
func (g *Gateway) Uptime() time.Duration {
	return time.Since(g.StartedAt)
}
