package internal

import (
	"context"
	"time"

	"github.com/gdbrns/go-whatsapp-session-gateway/internal/gateway"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/env"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/log"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/session"
)

// Startup reconnects every identity with stored credentials. The pool
// bounds concurrency so a restart with many sessions does not stampede
// the upstream.
func Startup() {
	log.Print(nil).Info("Running Startup Tasks")

	timeout := env.GetEnvDurationOrDefault("WHATSAPP_STARTUP_RESTORE_TIMEOUT", 5*time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	results, err := gateway.Default.Pool.RestoreAll(ctx)
	if err != nil {
		log.Print(nil).WithError(err).Error("Failed to list stored identities for restore")
		return
	}

	var restored, initiated, failed int
	for _, res := range results {
		switch res.Status {
		case session.PoolRestored, session.PoolAlreadyConnected:
			restored++
		case session.PoolFailed:
			failed++
			log.Print(nil).WithField("session", res.Key.Masked()).Warn("Failed to restore session: " + res.Error)
		default:
			initiated++
		}
	}

	log.Print(nil).
		WithField("restored", restored).
		WithField("initiated", initiated).
		WithField("failed", failed).
		Info("Startup restore pass complete")
}
