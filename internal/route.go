package internal

import (
	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/auth"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/router"

	ctlAdmin "github.com/gdbrns/go-whatsapp-session-gateway/internal/admin"
	ctlConfig "github.com/gdbrns/go-whatsapp-session-gateway/internal/config"
	ctlIndex "github.com/gdbrns/go-whatsapp-session-gateway/internal/index"
	ctlSessions "github.com/gdbrns/go-whatsapp-session-gateway/internal/sessions"
)

func Routes(app *fiber.App) {
	// Route for Index
	// ---------------------------------------------
	if router.BaseURL == "" {
		app.Get("/", ctlIndex.Index)
	} else {
		app.Get(router.BaseURL, ctlIndex.Index)
		app.Get(router.BaseURL+"/", ctlIndex.Index)
	}
	app.Get(router.BaseURL+"/ping", ctlIndex.Ping)

	// ============================================================
	// ADMIN ROUTES (X-Admin-Secret authentication)
	// ============================================================
	adminMiddleware := auth.AdminAuth()

	app.Get(router.BaseURL+"/admin/stats", adminMiddleware, ctlAdmin.GetStats)
	app.Get(router.BaseURL+"/admin/health", adminMiddleware, ctlAdmin.GetHealth)
	app.Get(router.BaseURL+"/admin/whatsapp/version", adminMiddleware, ctlAdmin.GetWhatsAppWebVersion)
	app.Post(router.BaseURL+"/admin/whatsapp/version/refresh", adminMiddleware, ctlAdmin.RefreshWhatsAppWebVersion)
	app.Post(router.BaseURL+"/admin/broadcast", adminMiddleware, ctlAdmin.Broadcast)

	// Bulk operations stay behind the admin secret: a stray client must
	// not be able to open hundreds of connections.
	app.Post(router.BaseURL+"/sessions/connect-all", adminMiddleware, ctlSessions.ConnectAll)
	app.Post(router.BaseURL+"/sessions/reconnect", adminMiddleware, ctlSessions.Reconnect)

	// ============================================================
	// SESSION LIFECYCLE ROUTES
	// ============================================================
	app.Get(router.BaseURL+"/sessions", adminMiddleware, ctlSessions.List)
	app.Get(router.BaseURL+"/sessions/:phone", ctlSessions.Status)
	app.Post(router.BaseURL+"/sessions/:phone/pair", ctlSessions.PairCode)
	app.Post(router.BaseURL+"/sessions/:phone/qr", ctlSessions.PairQR)
	app.Delete(router.BaseURL+"/sessions/:phone", adminMiddleware, ctlSessions.Delete)

	// ============================================================
	// SESSION CONFIG ROUTES (OTP -> bearer token authentication)
	// ============================================================
	sessionMiddleware := auth.SessionAuth()

	app.Post(router.BaseURL+"/sessions/:phone/config/otp", ctlConfig.RequestOTP)
	app.Post(router.BaseURL+"/sessions/:phone/config/token", ctlConfig.ExchangeOTP)
	app.Get(router.BaseURL+"/sessions/:phone/config", sessionMiddleware, ctlConfig.Get)
	app.Patch(router.BaseURL+"/sessions/:phone/config", sessionMiddleware, ctlConfig.Update)
}
