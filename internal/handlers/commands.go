package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gdbrns/go-whatsapp-session-gateway/internal/gateway"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/env"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/log"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/session"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/sessionstore"
)

// commandContext carries everything a command needs.
type commandContext struct {
	key  session.IdentityKey
	conn session.Conn
	cfg  sessionstore.Config
	msg  session.Message
	args string
}

// reply answers into the chat the command came from.
func (cc *commandContext) reply(ctx context.Context, text string) error {
	return cc.conn.Send(ctx, cc.msg.Chat, session.Outgoing{Kind: session.MediaText, Text: text})
}

type commandFunc func(ctx context.Context, e *Engine, cc *commandContext) error

var commands = map[string]commandFunc{
	"alive":    cmdAlive,
	"menu":     cmdMenu,
	"help":     cmdMenu,
	"ping":     cmdPing,
	"uptime":   cmdUptime,
	"repo":     cmdRepo,
	"tagall":   cmdTagAll,
	"song":     cmdSong,
	"play":     cmdSong,
	"img":      cmdImages,
	"apk":      cmdAPK,
	"tiktok":   cmdTikTok,
	"fb":       cmdFacebook,
	"ig":       cmdInstagram,
	"news":     cmdNews,
	"deleteme": cmdDeleteMe,
	"confirm":  cmdConfirm,
}

// dispatchCommand routes prefixed chat messages. Only the session owner
// can invoke account commands; everything else is open to the chat.
func (e *Engine) dispatchCommand(ctx context.Context, key session.IdentityKey, conn session.Conn, cfg sessionstore.Config, msg session.Message) {
	text := strings.TrimSpace(msg.Text)
	if cfg.Prefix == "" || !strings.HasPrefix(text, cfg.Prefix) {
		return
	}

	name, args, _ := strings.Cut(strings.TrimPrefix(text, cfg.Prefix), " ")
	name = strings.ToLower(strings.TrimSpace(name))
	cmd, ok := commands[name]
	if !ok {
		return
	}

	if name == "deleteme" || name == "confirm" {
		if !msg.FromMe {
			return
		}
	} else if e.onCooldown("cmd", key, msg.Sender, commandCooldown) {
		return
	}

	logEntry := log.Command(key.Masked(), name)
	logEntry.Info("Running chat command")

	if cfg.AutoRecording {
		if err := conn.SendRecording(ctx, msg.Chat); err != nil {
			logEntry.WithError(err).Debug("Failed to send recording presence")
		}
	}

	cc := &commandContext{key: key, conn: conn, cfg: cfg, msg: msg, args: strings.TrimSpace(args)}
	if err := cmd(ctx, e, cc); err != nil {
		logEntry.WithError(err).Warn("Chat command failed")
		if rerr := cc.reply(ctx, "Something went wrong, try again later."); rerr != nil {
			logEntry.WithError(rerr).Debug("Failed to send error reply")
		}
	}
}

func cmdAlive(ctx context.Context, e *Engine, cc *commandContext) error {
	return cc.reply(ctx, "I am alive and connected.")
}

func cmdMenu(ctx context.Context, e *Engine, cc *commandContext) error {
	p := cc.cfg.Prefix
	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, line := range []string{
		"alive - connection check",
		"ping - round trip time",
		"uptime - gateway uptime",
		"repo - project repository",
		"tagall - mention everyone in the group",
		"song <title> - find a song",
		"img <query> - image search",
		"apk <name> - find an app",
		"tiktok <url> - download a TikTok video",
		"fb <url> - download a Facebook video",
		"ig <url> - download an Instagram video",
		"news - follow the news channel",
		"deleteme - remove this session",
	} {
		b.WriteString(p + line + "\n")
	}
	return cc.reply(ctx, strings.TrimRight(b.String(), "\n"))
}

func cmdPing(ctx context.Context, e *Engine, cc *commandContext) error {
	started := time.Now()
	if err := cc.reply(ctx, "Pong!"); err != nil {
		return err
	}
	return cc.reply(ctx, fmt.Sprintf("Round trip took %s.", time.Since(started).Round(time.Millisecond)))
}

func cmdUptime(ctx context.Context, e *Engine, cc *commandContext) error {
	gw := gateway.Default
	if gw == nil {
		return cc.reply(ctx, "Gateway is still starting up.")
	}
	return cc.reply(ctx, fmt.Sprintf("Up for %s, serving %d sessions.", gw.Uptime().Round(time.Second), gw.Registry.Count()))
}

func cmdRepo(ctx context.Context, e *Engine, cc *commandContext) error {
	repo := env.GetEnvStringOrDefault("GATEWAY_REPO_URL", "https://github.com/gdbrns/go-whatsapp-session-gateway")
	return cc.reply(ctx, repo)
}

// cmdTagAll mentions every participant of the current group.
func cmdTagAll(ctx context.Context, e *Engine, cc *commandContext) error {
	if !cc.msg.IsGroup {
		return cc.reply(ctx, "This command only works in groups.")
	}

	participants, err := cc.conn.GroupParticipants(ctx, cc.msg.Chat)
	if err != nil {
		return fmt.Errorf("listing group participants: %w", err)
	}

	var b strings.Builder
	if cc.args != "" {
		b.WriteString(cc.args + "\n\n")
	}
	for _, p := range participants {
		user, _, _ := strings.Cut(p, "@")
		b.WriteString("@" + user + "\n")
	}
	return cc.conn.Send(ctx, cc.msg.Chat, session.Outgoing{
		Kind:     session.MediaText,
		Text:     strings.TrimRight(b.String(), "\n"),
		Mentions: participants,
	})
}

// cmdNews subscribes the session to the configured news channel.
func cmdNews(ctx context.Context, e *Engine, cc *commandContext) error {
	if e.newsletterJID == "" {
		return cc.reply(ctx, "No news channel is configured.")
	}
	if err := cc.conn.FollowNewsletter(ctx, e.newsletterJID); err != nil {
		return fmt.Errorf("following news channel: %w", err)
	}
	return cc.reply(ctx, "You are now following the news channel.")
}

// cmdDeleteMe arms a pending removal that confirm executes. The session
// owner has five minutes to follow up.
func cmdDeleteMe(ctx context.Context, e *Engine, cc *commandContext) error {
	e.pendingDeletes.Set(cc.key, struct{}{})
	return cc.reply(ctx, fmt.Sprintf("This will log out and remove your session. Send %sconfirm within 5 minutes to proceed.", cc.cfg.Prefix))
}

func cmdConfirm(ctx context.Context, e *Engine, cc *commandContext) error {
	if _, ok := e.pendingDeletes.Get(cc.key); !ok {
		return cc.reply(ctx, "Nothing to confirm.")
	}
	e.pendingDeletes.Delete(cc.key)

	gw := gateway.Default
	if gw == nil {
		return cc.reply(ctx, "Gateway is still starting up, try again shortly.")
	}
	if err := cc.reply(ctx, "Goodbye. Your session is being removed."); err != nil {
		log.Command(cc.key.Masked(), "confirm").WithError(err).Debug("Failed to send farewell")
	}
	return gw.Coordinator.Delete(ctx, cc.key)
}
