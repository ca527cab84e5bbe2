// Package handlers reacts to session events: lifecycle side effects on
// open, auto-behaviors for status and newsletter traffic, and the chat
// command router.
package handlers

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	mathrand "math/rand/v2"
	"time"

	"github.com/gdbrns/go-whatsapp-session-gateway/internal/downloader"
	"github.com/gdbrns/go-whatsapp-session-gateway/internal/gateway"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/env"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/log"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/retry"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/session"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/sessionstore"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/ttlcache"
)

const (
	aboutUpdateWindow     = time.Hour
	storyBroadcastWindow  = 24 * time.Hour
	commandCooldown       = time.Second
	statusReactCooldown   = 10 * time.Second
	newsletterReactWindow = 30 * time.Second
	revokeNotifyWindow    = 30 * time.Second
	otpTTL                = 5 * time.Minute
	deleteConfirmTTL      = 5 * time.Minute
	configCacheTTL        = 30 * time.Second
)

// Default is set once at startup and read by the HTTP controllers.
var Default *Engine

// Engine holds the per-identity throttle state shared by every
// supervisor's hooks.
type Engine struct {
	dl *downloader.Client

	aboutThrottle *session.ThrottleSet
	storyThrottle *session.ThrottleSet

	// cooldown keys are "<kind>:<identity>:<subject>".
	cooldowns *ttlcache.Cache[string, struct{}]

	otps           *ttlcache.Cache[session.IdentityKey, string]
	pendingDeletes *ttlcache.Cache[session.IdentityKey, struct{}]
	configs        *ttlcache.Cache[session.IdentityKey, sessionstore.Config]

	adminJID      string
	groupInvite   string
	newsletterJID string
	aboutText     string
	storyText     string
}

func NewEngine() *Engine {
	return &Engine{
		dl:             downloader.New(),
		aboutThrottle:  session.NewThrottleSet(aboutUpdateWindow),
		storyThrottle:  session.NewThrottleSet(storyBroadcastWindow),
		cooldowns:      ttlcache.New[string, struct{}](commandCooldown),
		otps:           ttlcache.New[session.IdentityKey, string](otpTTL),
		pendingDeletes: ttlcache.New[session.IdentityKey, struct{}](deleteConfirmTTL),
		configs:        ttlcache.New[session.IdentityKey, sessionstore.Config](configCacheTTL),

		adminJID:      env.GetEnvStringOrDefault("GATEWAY_ADMIN_JID", ""),
		groupInvite:   env.GetEnvStringOrDefault("GATEWAY_GROUP_INVITE_CODE", ""),
		newsletterJID: env.GetEnvStringOrDefault("GATEWAY_NEWSLETTER_JID", ""),
		aboutText:     env.GetEnvStringOrDefault("GATEWAY_ABOUT_TEXT", ""),
		storyText:     env.GetEnvStringOrDefault("GATEWAY_STORY_TEXT", ""),
	}
}

// Hooks returns the callbacks the coordinator installs on every
// supervisor. They run on the session's single event loop.
func (e *Engine) Hooks() session.Hooks {
	return session.Hooks{
		OnOpen:     e.onOpen,
		OnMessage:  e.onMessage,
		OnRevoked:  e.onRevoked,
		OnTerminal: e.onTerminal,
	}
}

// onCooldown reports and arms a cooldown in one step.
func (e *Engine) onCooldown(kind string, key session.IdentityKey, subject string, window time.Duration) bool {
	ck := kind + ":" + string(key) + ":" + subject
	if _, hot := e.cooldowns.Get(ck); hot {
		return true
	}
	e.cooldowns.SetWithTTL(ck, struct{}{}, window)
	return false
}

// onOpen runs the connect side effects. Everything here is best effort
// and throttled; a failure never affects the session lifecycle.
func (e *Engine) onOpen(ctx context.Context, key session.IdentityKey, conn session.Conn) {
	logEntry := log.Command(key.Masked(), "onopen")

	if e.aboutText != "" {
		e.aboutThrottle.Do(key, func() {
			if err := conn.SetAbout(ctx, e.aboutText); err != nil {
				logEntry.WithError(err).Warn("Failed to update about text")
			}
		})
	}

	if e.adminJID != "" {
		msg := fmt.Sprintf("Session %s connected at %s", key.Masked(), time.Now().Format(time.RFC3339))
		if err := conn.Send(ctx, e.adminJID, session.Outgoing{Kind: session.MediaText, Text: msg}); err != nil {
			logEntry.WithError(err).Warn("Failed to notify admin of connect")
		}
	}

	if e.groupInvite != "" && !e.onCooldown("groupjoin", key, e.groupInvite, storyBroadcastWindow) {
		err := retry.Do(ctx, 3, retry.Linear(2*time.Second), func() error {
			_, err := conn.JoinGroup(ctx, e.groupInvite)
			return err
		})
		if err != nil {
			logEntry.WithError(err).Warn("Failed to join support group")
		}
	}

	if e.newsletterJID != "" && !e.onCooldown("follow", key, e.newsletterJID, storyBroadcastWindow) {
		if err := conn.FollowNewsletter(ctx, e.newsletterJID); err != nil {
			logEntry.WithError(err).Warn("Failed to follow newsletter")
		}
	}

	if e.storyText != "" {
		e.storyThrottle.Do(key, func() {
			err := conn.Send(ctx, "status@broadcast", session.Outgoing{Kind: session.MediaText, Text: e.storyText})
			if err != nil {
				logEntry.WithError(err).Warn("Failed to post story broadcast")
			}
		})
	}
}

func (e *Engine) onMessage(ctx context.Context, key session.IdentityKey, conn session.Conn, msg session.Message) {
	gw := gateway.Default
	if gw == nil {
		return
	}

	cfg, err := e.configs.GetOrCompute(key, func() (sessionstore.Config, error) {
		return gw.Configs.Load(ctx, key)
	})
	if err != nil {
		log.Command(key.Masked(), "config").WithError(err).Warn("Falling back to default config")
		cfg = sessionstore.DefaultConfig()
	}

	switch {
	case msg.IsStatus:
		e.handleStatus(ctx, key, conn, cfg, msg)
	case msg.Newsletter:
		e.handleNewsletter(ctx, key, conn, cfg, msg)
	default:
		e.dispatchCommand(ctx, key, conn, cfg, msg)
	}
}

// handleStatus auto-views and auto-likes status broadcasts per config,
// rate limited per posting contact.
func (e *Engine) handleStatus(ctx context.Context, key session.IdentityKey, conn session.Conn, cfg sessionstore.Config, msg session.Message) {
	if msg.FromMe {
		return
	}

	if cfg.AutoViewStatus {
		if err := conn.MarkRead(ctx, msg.Chat, msg.Sender, msg.ID); err != nil {
			log.Command(key.Masked(), "status-view").WithError(err).Warn("Failed to mark status as read")
		}
	}

	if cfg.AutoLikeStatus && !e.onCooldown("statuslike", key, msg.Sender, statusReactCooldown) {
		out := session.Outgoing{React: &session.Reaction{
			MessageID:   msg.ID,
			Sender:      msg.Sender,
			Emoji:       cfg.LikeEmoji,
			Participant: msg.Sender,
		}}
		err := retry.Do(ctx, 2, retry.Linear(time.Second), func() error {
			return conn.Send(ctx, msg.Chat, out)
		})
		if err != nil {
			log.Command(key.Masked(), "status-like").WithError(err).Warn("Failed to react to status")
		}
	}
}

// reactionEmojis is the pool newsletter reactions are drawn from.
var reactionEmojis = []string{"❤️", "🔥", "👍", "😮", "🎉", "💯"}

// handleNewsletter reacts to configured newsletter posts once per
// cooldown window, with a random emoji per post.
func (e *Engine) handleNewsletter(ctx context.Context, key session.IdentityKey, conn session.Conn, cfg sessionstore.Config, msg session.Message) {
	if e.newsletterJID == "" || msg.Chat != e.newsletterJID || msg.ServerID == "" {
		return
	}
	if e.onCooldown("newsreact", key, msg.Chat, newsletterReactWindow) {
		return
	}
	emoji := reactionEmojis[mathrand.IntN(len(reactionEmojis))]
	err := retry.Do(ctx, 2, retry.Linear(time.Second), func() error {
		return conn.ReactNewsletter(ctx, msg.Chat, msg.ServerID, emoji)
	})
	if err != nil {
		log.Command(key.Masked(), "newsletter-react").WithError(err).Warn("Failed to react to newsletter post")
	}
}

// onRevoked tells the session owner a message was deleted, throttled so
// a purge of a whole chat produces one notification.
func (e *Engine) onRevoked(ctx context.Context, key session.IdentityKey, conn session.Conn, ev session.MessageRevoked) {
	if e.onCooldown("revoke", key, ev.Chat, revokeNotifyWindow) {
		return
	}
	text := fmt.Sprintf("A message was deleted in %s.", ev.Chat)
	if err := conn.Send(ctx, string(key), session.Outgoing{Kind: session.MediaText, Text: text}); err != nil {
		log.Command(key.Masked(), "revoked").WithError(err).Warn("Failed to notify owner of deleted message")
	}
}

// onTerminal runs after a session is dropped for good. A terminal auth
// failure invalidates the stored credential, so remove it.
func (e *Engine) onTerminal(key session.IdentityKey, cause error) {
	gw := gateway.Default
	if gw == nil {
		return
	}

	logEntry := log.Command(key.Masked(), "terminal")
	if errors.Is(cause, session.ErrTerminalAuth) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := gw.Credentials.Delete(ctx, key); err != nil {
			logEntry.WithError(err).Warn("Failed to remove dead credential")
		} else {
			logEntry.Info("Removed credential after terminal auth failure")
		}
	} else {
		logEntry.WithError(cause).Warn("Session dropped")
	}

	e.aboutThrottle.Forget(key)
	e.storyThrottle.Forget(key)
}

// RequestOTP generates a 6-digit code, delivers it to the session's own
// chat, and keeps it valid for five minutes.
func (e *Engine) RequestOTP(ctx context.Context, key session.IdentityKey) error {
	gw := gateway.Default
	if gw == nil {
		return errors.New("gateway not initialized")
	}
	rec, err := gw.Registry.Get(key)
	if err != nil {
		return err
	}

	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return err
	}
	code := fmt.Sprintf("%06d", n.Int64())
	e.otps.Set(key, code)

	text := fmt.Sprintf("Your config change code is %s. It expires in 5 minutes.", code)
	return rec.Conn.Send(ctx, string(key), session.Outgoing{Kind: session.MediaText, Text: text})
}

// VerifyOTP consumes the code for key. Codes are single use.
func (e *Engine) VerifyOTP(key session.IdentityKey, code string) bool {
	stored, ok := e.otps.Get(key)
	if !ok || subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		return false
	}
	e.otps.Delete(key)
	return true
}

// RefreshConfig replaces the cached config after an API update so live
// sessions pick the change up immediately instead of after the TTL.
func (e *Engine) RefreshConfig(key session.IdentityKey, cfg sessionstore.Config) {
	e.configs.Set(key, cfg)
}
