package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gdbrns/go-whatsapp-session-gateway/internal/downloader"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/session"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/validation"
)

// sendFetched downloads mediaURL and ships it as the given kind.
func (e *Engine) sendFetched(ctx context.Context, cc *commandContext, mediaURL string, kind session.MediaKind, mimetype string, fileName string, caption string) error {
	data, contentType, err := e.dl.Fetch(ctx, mediaURL)
	if err != nil {
		return fmt.Errorf("fetching media: %w", err)
	}
	if mimetype == "" {
		mimetype = contentType
	}
	return cc.conn.Send(ctx, cc.msg.Chat, session.Outgoing{
		Kind:     kind,
		Data:     data,
		Mimetype: mimetype,
		FileName: fileName,
		Caption:  caption,
	})
}

// mediaError turns resolver failures into a user-facing reply instead of
// the generic fallback.
func mediaError(ctx context.Context, cc *commandContext, err error) error {
	switch {
	case errors.Is(err, downloader.ErrNoResult):
		return cc.reply(ctx, "No results found.")
	case errors.Is(err, downloader.ErrUnconfigured):
		return cc.reply(ctx, "Media downloads are not enabled on this gateway.")
	default:
		return err
	}
}

func cmdSong(ctx context.Context, e *Engine, cc *commandContext) error {
	if cc.args == "" {
		return cc.reply(ctx, "Usage: "+cc.cfg.Prefix+"song <title>")
	}
	song, err := e.dl.Song(ctx, cc.args)
	if err != nil {
		return mediaError(ctx, cc, err)
	}
	if err := cc.reply(ctx, fmt.Sprintf("Found %s by %s, sending audio.", song.Title, song.Artist)); err != nil {
		return err
	}
	return e.sendFetched(ctx, cc, song.AudioURL, session.MediaAudio, "audio/mpeg", "", "")
}

func cmdImages(ctx context.Context, e *Engine, cc *commandContext) error {
	if cc.args == "" {
		return cc.reply(ctx, "Usage: "+cc.cfg.Prefix+"img <query>")
	}
	urls, err := e.dl.Images(ctx, cc.args)
	if err != nil {
		return mediaError(ctx, cc, err)
	}

	// Cap the batch so one query cannot flood the chat.
	if len(urls) > 3 {
		urls = urls[:3]
	}
	var lastErr error
	sent := 0
	for _, u := range urls {
		if err := e.sendFetched(ctx, cc, u, session.MediaImage, "image/jpeg", "", cc.args); err != nil {
			lastErr = err
			continue
		}
		sent++
	}
	if sent == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

func cmdAPK(ctx context.Context, e *Engine, cc *commandContext) error {
	if cc.args == "" {
		return cc.reply(ctx, "Usage: "+cc.cfg.Prefix+"apk <name>")
	}
	app, err := e.dl.APK(ctx, cc.args)
	if err != nil {
		return mediaError(ctx, cc, err)
	}
	fileName := strings.ReplaceAll(app.Name, " ", "_") + ".apk"
	return e.sendFetched(ctx, cc, app.DownloadURL, session.MediaDocument,
		"application/vnd.android.package-archive", fileName,
		fmt.Sprintf("%s %s", app.Name, app.Version))
}

func cmdVideoLink(ctx context.Context, e *Engine, cc *commandContext, usage string, resolve func(context.Context, string) (*downloader.Video, error)) error {
	if validation.ValidateURL(cc.args) != nil {
		return cc.reply(ctx, usage)
	}
	video, err := resolve(ctx, cc.args)
	if err != nil {
		return mediaError(ctx, cc, err)
	}
	return e.sendFetched(ctx, cc, video.VideoURL, session.MediaVideo, "video/mp4", "", video.Title)
}

func cmdTikTok(ctx context.Context, e *Engine, cc *commandContext) error {
	return cmdVideoLink(ctx, e, cc, "Usage: "+cc.cfg.Prefix+"tiktok <url>", e.dl.TikTok)
}

func cmdFacebook(ctx context.Context, e *Engine, cc *commandContext) error {
	return cmdVideoLink(ctx, e, cc, "Usage: "+cc.cfg.Prefix+"fb <url>", e.dl.Facebook)
}

func cmdInstagram(ctx context.Context, e *Engine, cc *commandContext) error {
	return cmdVideoLink(ctx, e, cc, "Usage: "+cc.cfg.Prefix+"ig <url>", e.dl.Instagram)
}
