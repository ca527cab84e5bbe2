package internal

import (
	"context"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gdbrns/go-whatsapp-session-gateway/internal/gateway"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/env"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/log"
	pkgWhatsApp "github.com/gdbrns/go-whatsapp-session-gateway/pkg/whatsapp"
)

// Routines registers the periodic maintenance jobs.
func Routines(cron *cron.Cron) {
	log.Print(nil).Info("Running Routine Tasks")

	if env.GetEnvBoolOrDefault("WHATSAPP_ENABLE_HEALTH_CHECK_CRON", true) {
		_, err := cron.AddFunc("0 */5 * * * *", healthCheck)
		if err != nil {
			log.Print(nil).WithError(err).Error("Failed to add health check cron job")
		}
	} else {
		log.Print(nil).Info("Health check cron disabled; relying on supervisor reconnects")
	}

	if env.GetEnvBoolOrDefault("WHATSAPP_ENABLE_CREDENTIAL_CLEANUP_CRON", true) {
		// Daily at 04:00:00.
		_, err := cron.AddFunc("0 0 4 * * *", credentialCleanup)
		if err != nil {
			log.Print(nil).WithError(err).Error("Failed to add credential cleanup cron job")
		}
	}

	if env.GetEnvBoolOrDefault("WHATSAPP_ENABLE_WAVERSION_REFRESH_CRON", false) {
		spec := env.GetEnvStringOrDefault("WHATSAPP_WAVERSION_REFRESH_CRON_SPEC", "0 0 3 * * *")
		force := env.GetEnvBoolOrDefault("WHATSAPP_WAVERSION_REFRESH_CRON_FORCE", false)
		_, err := cron.AddFunc(spec, func() { versionRefresh(force) })
		if err != nil {
			log.Print(nil).WithError(err).Error("Failed to add WA Web version refresh cron job")
		} else {
			log.Print(nil).WithField("spec", spec).WithField("force", force).Info("WA Web version refresh cron enabled")
		}
	}

	cron.Start()
}

// healthCheck reports session counts and tears down pairing attempts
// that never completed. A supervisor whose pairing code was requested
// but never typed would otherwise hold its claim forever.
func healthCheck() {
	gw := gateway.Default

	staleAfter := env.GetEnvDurationOrDefault("WHATSAPP_PAIRING_TIMEOUT", 10*time.Minute)
	stale := 0
	for _, p := range gw.Coordinator.Pending() {
		if time.Since(p.StartedAt) < staleAfter {
			continue
		}
		if sup := gw.Coordinator.Supervisor(p.Key); sup != nil {
			log.Print(nil).WithField("session", p.Key.Masked()).Warn("Terminating stale pairing attempt")
			sup.Terminate()
			stale++
		}
	}

	log.Print(nil).
		WithField("connected", gw.Registry.Count()).
		WithField("pairing", len(gw.Coordinator.Pending())).
		WithField("stale_terminated", stale).
		Info("Health check pass complete")
}

// credentialCleanup prunes superseded credential blobs left behind by
// interrupted saves.
func credentialCleanup() {
	gw := gateway.Default

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	identities, err := gw.Credentials.Identities(ctx)
	if err != nil {
		log.Print(nil).WithError(err).Error("Failed to list identities for credential cleanup")
		return
	}

	removed := 0
	for _, key := range identities {
		n, err := gw.Credentials.CleanupDuplicates(ctx, key)
		if err != nil {
			log.Print(nil).WithField("session", key.Masked()).WithError(err).Warn("Credential cleanup failed")
			continue
		}
		removed += n
	}
	if removed > 0 {
		log.Print(nil).WithField("removed", removed).Info("Credential cleanup pass complete")
	}
}

func versionRefresh(force bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	status, refreshed, err := pkgWhatsApp.RefreshVersion(ctx, force)
	v := status.CurrentVersion
	versionStr := strconv.FormatUint(uint64(v[0]), 10) + "." + strconv.FormatUint(uint64(v[1]), 10) + "." + strconv.FormatUint(uint64(v[2]), 10)
	if err != nil {
		log.Print(nil).WithField("version", versionStr).WithField("force", force).WithError(err).Error("WA Web version refresh failed")
		return
	}
	log.Print(nil).WithField("version", versionStr).WithField("refreshed", refreshed).WithField("force", force).Info("WA Web version refresh completed")
}
