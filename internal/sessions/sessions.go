package sessions

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-session-gateway/internal/gateway"
	"github.com/gdbrns/go-whatsapp-session-gateway/internal/types"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/log"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/router"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/session"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/validation"
)

type ResponsePairCode struct {
	Number      string `json:"number"`
	PairingCode string `json:"pairing_code,omitempty"`
	Status      string `json:"status"`
}

type ResponsePairQR struct {
	Number    string `json:"number"`
	QRImage   string `json:"qr_image,omitempty"`
	QRTimeout int    `json:"qr_timeout,omitempty"`
	Status    string `json:"status"`
}

type ResponseSessionStatus struct {
	Number      string     `json:"number"`
	Connected   bool       `json:"connected"`
	Pairing     bool       `json:"pairing"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	JID         string     `json:"jid,omitempty"`
	Restarts    int        `json:"restarts"`
}

// identityParam validates and normalizes the :phone route parameter.
func identityParam(c *fiber.Ctx) (session.IdentityKey, error) {
	phone := c.Params("phone")
	if err := validation.ValidatePhone(phone); err != nil {
		return "", err
	}
	return session.NormalizeIdentity(phone)
}

func pairStatus(res session.PairResult) string {
	switch {
	case res.AlreadyConnected:
		return "already_connected"
	case res.Restored:
		return "restored"
	default:
		return "pairing_initiated"
	}
}

// PairCode
// @Summary     Start Phone Number Pairing
// @Description Connect a number and return the pairing code to type on the phone
// @Tags        Sessions
// @Produce     json
// @Param       phone path string true "Phone number"
// @Success     200
// @Router      /sessions/{phone}/pair [post]
func PairCode(c *fiber.Ctx) error {
	key, err := identityParam(c)
	if err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	logEntry := log.SessionOp(c, "pair", key.Masked())
	res, err := gateway.Default.Coordinator.Pair(c.UserContext(), key)
	switch {
	case errors.Is(err, session.ErrPairingInProgress):
		return router.ResponseSuccessWithData(c, "Pairing already in progress", ResponsePairCode{
			Number: string(key),
			Status: "pairing_in_progress",
		})
	case err != nil:
		logEntry.WithError(err).Error("Failed to start pairing")
		return router.ResponseInternalError(c, "Failed to start pairing")
	}

	logEntry.WithField("status", pairStatus(res)).Info("Pairing request handled")
	return router.ResponseSuccessWithData(c, "Pairing request handled", ResponsePairCode{
		Number:      string(key),
		PairingCode: res.Code,
		Status:      pairStatus(res),
	})
}

// PairQR
// @Summary     Start QR Pairing
// @Description Connect a number and return a QR code image to scan
// @Tags        Sessions
// @Produce     json
// @Param       phone path string true "Phone number"
// @Success     200
// @Router      /sessions/{phone}/qr [post]
func PairQR(c *fiber.Ctx) error {
	key, err := identityParam(c)
	if err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	logEntry := log.SessionOp(c, "pair-qr", key.Masked())
	res, err := gateway.Default.Coordinator.PairQR(c.UserContext(), key)
	switch {
	case errors.Is(err, session.ErrPairingInProgress):
		return router.ResponseSuccessWithData(c, "Pairing already in progress", ResponsePairQR{
			Number: string(key),
			Status: "pairing_in_progress",
		})
	case errors.Is(err, session.ErrQRUnsupported):
		return router.ResponseBadRequest(c, "QR pairing is not supported by this transport")
	case err != nil:
		logEntry.WithError(err).Error("Failed to start QR pairing")
		return router.ResponseInternalError(c, "Failed to start QR pairing")
	}

	logEntry.WithField("status", pairStatus(res)).Info("QR pairing request handled")
	return router.ResponseSuccessWithData(c, "QR pairing request handled", ResponsePairQR{
		Number:    string(key),
		QRImage:   res.QR,
		QRTimeout: res.QRTimeout,
		Status:    pairStatus(res),
	})
}

// List
// @Summary     List Sessions
// @Description List live sessions and pending pairings
// @Tags        Sessions
// @Produce     json
// @Success     200
// @Router      /sessions [get]
func List(c *fiber.Ctx) error {
	gw := gateway.Default

	connected := make([]ResponseSessionStatus, 0, gw.Registry.Count())
	gw.Registry.Range(func(rec *session.Record) {
		createdAt := rec.CreatedAt
		connected = append(connected, ResponseSessionStatus{
			Number:      string(rec.Key),
			Connected:   true,
			ConnectedAt: &createdAt,
			JID:         rec.Conn.SelfJID(),
			Restarts:    rec.Restarts,
		})
	})

	pending := gw.Coordinator.Pending()
	pairing := make([]ResponseSessionStatus, 0, len(pending))
	for _, p := range pending {
		pairing = append(pairing, ResponseSessionStatus{
			Number:  string(p.Key),
			Pairing: true,
		})
	}

	return router.ResponseSuccessWithData(c, "Sessions listed", fiber.Map{
		"connected": connected,
		"pairing":   pairing,
	})
}

// Status
// @Summary     Get Session Status
// @Description Get the connection state of one number
// @Tags        Sessions
// @Produce     json
// @Param       phone path string true "Phone number"
// @Success     200
// @Router      /sessions/{phone} [get]
func Status(c *fiber.Ctx) error {
	key, err := identityParam(c)
	if err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	gw := gateway.Default
	if rec, err := gw.Registry.Get(key); err == nil {
		createdAt := rec.CreatedAt
		return router.ResponseSuccessWithData(c, "Session is connected", ResponseSessionStatus{
			Number:      string(key),
			Connected:   true,
			ConnectedAt: &createdAt,
			JID:         rec.Conn.SelfJID(),
			Restarts:    rec.Restarts,
		})
	}

	for _, p := range gw.Coordinator.Pending() {
		if p.Key == key {
			return router.ResponseSuccessWithData(c, "Session is pairing", ResponseSessionStatus{
				Number:  string(key),
				Pairing: true,
			})
		}
	}

	return router.ResponseNotFound(c, "Session not found")
}

// Delete
// @Summary     Delete Session
// @Description Log out, terminate and remove the stored credential of a number
// @Tags        Sessions
// @Produce     json
// @Param       phone path string true "Phone number"
// @Success     200
// @Router      /sessions/{phone} [delete]
func Delete(c *fiber.Ctx) error {
	key, err := identityParam(c)
	if err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	logEntry := log.SessionOp(c, "delete", key.Masked())
	if err := gateway.Default.Coordinator.Delete(c.UserContext(), key); err != nil {
		logEntry.WithError(err).Error("Failed to delete session")
		return router.ResponseInternalError(c, "Failed to delete session")
	}

	logEntry.Info("Session deleted")
	return router.ResponseSuccess(c, "Session deleted")
}

// ConnectAll
// @Summary     Bulk Connect
// @Description Connect many numbers at once with bounded concurrency
// @Tags        Sessions
// @Accept      json
// @Produce     json
// @Success     200
// @Router      /sessions/connect-all [post]
func ConnectAll(c *fiber.Ctx) error {
	var req types.RequestConnectAll
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Invalid request body")
	}

	keys := make([]session.IdentityKey, 0, len(req.Numbers))
	for _, raw := range req.Numbers {
		key, err := session.NormalizeIdentity(raw)
		if err != nil {
			return router.ResponseBadRequest(c, "Invalid number "+raw)
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return router.ResponseBadRequest(c, "numbers must not be empty")
	}

	results := gateway.Default.Pool.ConnectAll(c.UserContext(), keys)
	log.SessionOp(c, "connect-all", "").WithField("count", len(results)).Info("Bulk connect finished")
	return router.ResponseSuccessWithData(c, "Bulk connect finished", results)
}

// Reconnect
// @Summary     Reconnect Stored Sessions
// @Description Reconnect every identity that has a stored credential
// @Tags        Sessions
// @Produce     json
// @Success     200
// @Router      /sessions/reconnect [post]
func Reconnect(c *fiber.Ctx) error {
	results, err := gateway.Default.Pool.RestoreAll(c.UserContext())
	if err != nil {
		log.SessionOp(c, "reconnect", "").WithError(err).Error("Failed to reconnect stored sessions")
		return router.ResponseInternalError(c, "Failed to reconnect stored sessions")
	}
	return router.ResponseSuccessWithData(c, "Reconnect finished", results)
}
