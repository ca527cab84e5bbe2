package admin

import (
	"runtime"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-session-gateway/internal/gateway"
	"github.com/gdbrns/go-whatsapp-session-gateway/internal/types"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/log"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/router"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/session"
	pkgWhatsApp "github.com/gdbrns/go-whatsapp-session-gateway/pkg/whatsapp"
)

// GetStats
// @Summary     Gateway Statistics
// @Description Session counts, stored identities and runtime stats (Admin only)
// @Tags        Admin
// @Produce     json
// @Param       X-Admin-Secret header string true "Admin secret key"
// @Success     200
// @Router      /admin/stats [get]
func GetStats(c *fiber.Ctx) error {
	gw := gateway.Default

	identities, err := gw.Credentials.Identities(c.UserContext())
	if err != nil {
		log.SessionOp(c, "admin-stats", "").WithError(err).Warn("Failed to count stored identities")
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return router.ResponseSuccessWithData(c, "Gateway statistics", fiber.Map{
		"uptime_seconds":    int64(gw.Uptime().Seconds()),
		"connected":         gw.Registry.Count(),
		"pairing":           len(gw.Coordinator.Pending()),
		"stored_identities": len(identities),
		"goroutines":        runtime.NumGoroutine(),
		"heap_alloc_bytes":  m.HeapAlloc,
	})
}

// GetHealth
// @Summary     Gateway Health
// @Description Per-session connection health (Admin only)
// @Tags        Admin
// @Produce     json
// @Param       X-Admin-Secret header string true "Admin secret key"
// @Success     200
// @Router      /admin/health [get]
func GetHealth(c *fiber.Ctx) error {
	gw := gateway.Default

	type sessionHealth struct {
		Number      string    `json:"number"`
		JID         string    `json:"jid"`
		ConnectedAt time.Time `json:"connected_at"`
	}

	healthy := make([]sessionHealth, 0, gw.Registry.Count())
	gw.Registry.Range(func(rec *session.Record) {
		healthy = append(healthy, sessionHealth{
			Number:      string(rec.Key),
			JID:         rec.Conn.SelfJID(),
			ConnectedAt: rec.CreatedAt,
		})
	})

	return router.ResponseSuccessWithData(c, "Gateway is healthy", fiber.Map{
		"uptime_seconds": int64(gw.Uptime().Seconds()),
		"sessions":       healthy,
	})
}

// GetWhatsAppWebVersion
// @Summary     Get WhatsApp Web Version
// @Description Currently pinned client version and last refresh outcome (Admin only)
// @Tags        Admin
// @Produce     json
// @Param       X-Admin-Secret header string true "Admin secret key"
// @Success     200
// @Router      /admin/whatsapp/version [get]
func GetWhatsAppWebVersion(c *fiber.Ctx) error {
	return router.ResponseSuccessWithData(c, "WhatsApp Web version", pkgWhatsApp.GetVersionStatus())
}

// RefreshWhatsAppWebVersion
// @Summary     Refresh WhatsApp Web Version
// @Description Fetch the latest client version, rate limited unless forced (Admin only)
// @Tags        Admin
// @Produce     json
// @Param       X-Admin-Secret header string true "Admin secret key"
// @Param       force query bool false "Skip the refresh rate limit"
// @Success     200
// @Router      /admin/whatsapp/version/refresh [post]
func RefreshWhatsAppWebVersion(c *fiber.Ctx) error {
	force := c.QueryBool("force", false)
	status, refreshed, err := pkgWhatsApp.RefreshVersion(c.UserContext(), force)
	if err != nil {
		log.SessionOp(c, "version-refresh", "").WithError(err).Error("Failed to refresh WhatsApp Web version")
		return router.ResponseBadGateway(c, "Failed to refresh WhatsApp Web version")
	}
	if !refreshed {
		return router.ResponseSuccessWithData(c, "Version refresh skipped by rate limit", status)
	}
	return router.ResponseSuccessWithData(c, "WhatsApp Web version refreshed", status)
}

// Broadcast
// @Summary     Broadcast To Sessions
// @Description Send a text to every connected session's own chat (Admin only)
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Param       X-Admin-Secret header string true "Admin secret key"
// @Success     200
// @Router      /admin/broadcast [post]
func Broadcast(c *fiber.Ctx) error {
	var req types.RequestBroadcast
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Invalid request body")
	}
	if req.Message == "" {
		return router.ResponseBadRequest(c, "message is required")
	}

	ctx := c.UserContext()
	delivered, failed := 0, 0
	gateway.Default.Registry.Range(func(rec *session.Record) {
		out := session.Outgoing{Kind: session.MediaText, Text: req.Message}
		if err := rec.Conn.Send(ctx, string(rec.Key), out); err != nil {
			failed++
			log.SessionOp(c, "broadcast", rec.Key.Masked()).WithError(err).Warn("Failed to deliver broadcast")
			return
		}
		delivered++
	})

	log.SessionOp(c, "broadcast", "").WithField("delivered", delivered).Info("Broadcast finished")
	return router.ResponseSuccessWithData(c, "Broadcast finished", fiber.Map{
		"delivered": delivered,
		"failed":    failed,
	})
}
