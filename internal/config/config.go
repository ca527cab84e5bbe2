// Package config exposes per-session behavior settings over HTTP. A
// change requires proving control of the account: the owner requests an
// OTP delivered to their own chat, trades it for a short-lived token,
// and authenticates updates with that token.
package config

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-session-gateway/internal/gateway"
	"github.com/gdbrns/go-whatsapp-session-gateway/internal/handlers"
	"github.com/gdbrns/go-whatsapp-session-gateway/internal/types"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/auth"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/log"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/router"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/session"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/validation"
)

func identityParam(c *fiber.Ctx) (session.IdentityKey, error) {
	return session.NormalizeIdentity(c.Params("phone"))
}

// RequestOTP
// @Summary     Request Config OTP
// @Description Deliver a one-time code to the session's own chat
// @Tags        Config
// @Produce     json
// @Param       phone path string true "Phone number"
// @Success     200
// @Router      /sessions/{phone}/config/otp [post]
func RequestOTP(c *fiber.Ctx) error {
	key, err := identityParam(c)
	if err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	logEntry := log.SessionOp(c, "config-otp", key.Masked())
	if err := handlers.Default.RequestOTP(c.UserContext(), key); err != nil {
		if errors.Is(err, session.ErrNotRegistered) {
			return router.ResponseNotFound(c, "Session is not connected")
		}
		logEntry.WithError(err).Error("Failed to deliver OTP")
		return router.ResponseInternalError(c, "Failed to deliver OTP")
	}

	logEntry.Info("OTP delivered")
	return router.ResponseSuccess(c, "OTP sent to your own chat")
}

// ExchangeOTP
// @Summary     Exchange OTP For Token
// @Description Trade a valid OTP for a session-scoped bearer token
// @Tags        Config
// @Accept      json
// @Produce     json
// @Param       phone path string true "Phone number"
// @Success     200
// @Router      /sessions/{phone}/config/token [post]
func ExchangeOTP(c *fiber.Ctx) error {
	key, err := identityParam(c)
	if err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	var req types.RequestConfigOTP
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Invalid request body")
	}
	if !handlers.Default.VerifyOTP(key, req.Code) {
		return router.ResponseUnauthorized(c, "Invalid or expired code")
	}

	token, err := auth.GenerateSessionToken(string(key))
	if err != nil {
		log.SessionOp(c, "config-token", key.Masked()).WithError(err).Error("Failed to sign token")
		return router.ResponseInternalError(c, "Failed to issue token")
	}

	return router.ResponseSuccessWithData(c, "Token issued", fiber.Map{
		"token":      token,
		"expires_in": int64(auth.SessionTokenTTL.Seconds()),
	})
}

// Get
// @Summary     Get Session Config
// @Description Read the session's behavior settings
// @Tags        Config
// @Produce     json
// @Param       phone path string true "Phone number"
// @Param       Authorization header string true "Bearer token"
// @Success     200
// @Router      /sessions/{phone}/config [get]
func Get(c *fiber.Ctx) error {
	key, err := identityParam(c)
	if err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	cfg, err := gateway.Default.Configs.Load(c.UserContext(), key)
	if err != nil {
		log.SessionOp(c, "config-get", key.Masked()).WithError(err).Error("Failed to load config")
		return router.ResponseInternalError(c, "Failed to load config")
	}
	return router.ResponseSuccessWithData(c, "Session config", cfg)
}

// Update
// @Summary     Update Session Config
// @Description Patch the session's behavior settings
// @Tags        Config
// @Accept      json
// @Produce     json
// @Param       phone path string true "Phone number"
// @Param       Authorization header string true "Bearer token"
// @Success     200
// @Router      /sessions/{phone}/config [patch]
func Update(c *fiber.Ctx) error {
	key, err := identityParam(c)
	if err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	var req types.RequestConfigUpdate
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Invalid request body")
	}

	ctx := c.UserContext()
	logEntry := log.SessionOp(c, "config-update", key.Masked())

	cfg, err := gateway.Default.Configs.Load(ctx, key)
	if err != nil {
		logEntry.WithError(err).Error("Failed to load config")
		return router.ResponseInternalError(c, "Failed to load config")
	}

	if req.AutoViewStatus != nil {
		cfg.AutoViewStatus = *req.AutoViewStatus
	}
	if req.AutoLikeStatus != nil {
		cfg.AutoLikeStatus = *req.AutoLikeStatus
	}
	if req.AutoRecording != nil {
		cfg.AutoRecording = *req.AutoRecording
	}
	if req.LikeEmoji != nil {
		if err := validation.ValidateEmoji(*req.LikeEmoji); err != nil {
			return router.ResponseBadRequest(c, "like_emoji: "+err.Error())
		}
		cfg.LikeEmoji = *req.LikeEmoji
	}
	if req.Prefix != nil {
		if err := validation.ValidatePrefix(*req.Prefix); err != nil {
			return router.ResponseBadRequest(c, "prefix: "+err.Error())
		}
		cfg.Prefix = *req.Prefix
	}

	if err := gateway.Default.Configs.Save(ctx, key, cfg); err != nil {
		logEntry.WithError(err).Error("Failed to save config")
		return router.ResponseInternalError(c, "Failed to save config")
	}
	if handlers.Default != nil {
		handlers.Default.RefreshConfig(key, cfg)
	}

	logEntry.Info("Config updated")
	return router.ResponseSuccessWithData(c, "Config updated", cfg)
}
