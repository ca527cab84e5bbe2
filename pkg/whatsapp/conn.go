package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sunshineplan/imgconv"
	"google.golang.org/protobuf/proto"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/log"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/session"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/validation"
)

const (
	pairPhoneRequestTimeout = 90 * time.Second
	logoutRequestTimeout    = 30 * time.Second
	eventBufferSize         = 256
)

var (
	ErrInvalidEmoji = errors.New("reaction must be a single emoji character")
	ErrInvalidJID   = errors.New("invalid whatsapp jid")
)

// credentialBlob is what the gateway persists per session. The heavy
// crypto state lives in the whatsmeow datastore; the blob only records
// which device row to resume.
type credentialBlob struct {
	JID      string `json:"jid"`
	PairedAt int64  `json:"paired_at"`
}

// conn adapts one whatsmeow client to the session connection contract.
type conn struct {
	key    session.IdentityKey
	client *whatsmeow.Client
	events chan session.Event
	wake   chan struct{}
	stop   chan struct{}

	mu      sync.Mutex
	queue   []session.Event
	closed  bool
	dropped int
}

func newConn(key session.IdentityKey, client *whatsmeow.Client) *conn {
	c := &conn{
		key:    key,
		client: client,
		events: make(chan session.Event),
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	go c.pump()
	return c
}

func (c *conn) Events() <-chan session.Event { return c.events }

// lifecycleEvent reports whether ev must reach the supervisor. The
// state machine stalls if an Opened, Closed or CredentialUpdate is
// lost, so those are never shed under buffer pressure.
func lifecycleEvent(ev session.Event) bool {
	switch ev.(type) {
	case session.Opened, session.Closed, session.CredentialUpdate:
		return true
	default:
		return false
	}
}

// emit queues ev for the consumer without ever blocking the whatsmeow
// event dispatcher. Chat traffic is shed once the queue is full;
// lifecycle events are always queued.
func (c *conn) emit(ev session.Event) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if len(c.queue) >= eventBufferSize && !lifecycleEvent(ev) {
		c.dropped++
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, ev)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// pump is the only sender on c.events and closes it on shutdown.
func (c *conn) pump() {
	defer close(c.events)
	for {
		c.mu.Lock()
		for len(c.queue) > 0 {
			ev := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()
			select {
			case c.events <- ev:
			case <-c.stop:
				return
			}
			c.mu.Lock()
		}
		c.mu.Unlock()

		select {
		case <-c.wake:
		case <-c.stop:
			return
		}
	}
}

func (c *conn) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.Connected:
		if id := c.client.Store.ID; id != nil {
			blob, err := json.Marshal(credentialBlob{JID: id.String(), PairedAt: time.Now().Unix()})
			if err == nil {
				c.emit(session.CredentialUpdate{Blob: blob})
			}
		}
		c.emit(session.Opened{SelfJID: c.SelfJID()})
	case *events.LoggedOut:
		c.emit(session.Closed{Reason: fmt.Sprintf("logged out (%s)", e.Reason), Terminal: true})
	case *events.StreamReplaced:
		c.emit(session.Closed{Reason: "stream replaced by another client", Terminal: true})
	case *events.ConnectFailure:
		c.emit(session.Closed{
			Reason:   fmt.Sprintf("connect failure: %s (%s)", e.Reason, e.Message),
			Terminal: e.Reason.IsLoggedOut(),
		})
	case *events.Disconnected:
		c.emit(session.Closed{Reason: "disconnected"})
	case *events.TemporaryBan:
		log.Print(nil).Error(fmt.Sprintf("Client temporarily banned: %s, reason=%s, expires=%s", c.key.Masked(), e.Code, e.Expire))
	case *events.KeepAliveTimeout:
		log.Print(nil).Warn(fmt.Sprintf("Client keepalive timeout: %s, errors=%d", c.key.Masked(), e.ErrorCount))
	case *events.Message:
		c.handleMessage(e)
	}
}

func (c *conn) handleMessage(e *events.Message) {
	if e.Message == nil {
		return
	}

	if pm := e.Message.ProtocolMessage; pm != nil && pm.GetType() == waE2E.ProtocolMessage_REVOKE {
		c.emit(session.MessageRevoked{
			Chat:      e.Info.Chat.String(),
			MessageID: pm.GetKey().GetID(),
		})
		return
	}

	msg := session.Message{
		ID:        e.Info.ID,
		Chat:      e.Info.Chat.String(),
		Sender:    e.Info.Sender.String(),
		PushName:  e.Info.PushName,
		Text:      flattenText(e.Message),
		Timestamp: e.Info.Timestamp,
		FromMe:    e.Info.IsFromMe,
		IsGroup:   e.Info.IsGroup,
		IsStatus:  e.Info.Chat == types.StatusBroadcastJID,
	}
	if e.Info.Chat.Server == types.NewsletterServer {
		msg.Newsletter = true
		msg.ServerID = strconv.Itoa(int(e.Info.ServerID))
	}
	if e.Info.IsGroup {
		msg.Participant = e.Info.Sender.String()
	}
	c.emit(msg)
}

// flattenText extracts the human-readable text of a message, whatever
// shape it arrived in.
func flattenText(m *waE2E.Message) string {
	switch {
	case m.GetConversation() != "":
		return m.GetConversation()
	case m.GetExtendedTextMessage().GetText() != "":
		return m.GetExtendedTextMessage().GetText()
	case m.GetImageMessage().GetCaption() != "":
		return m.GetImageMessage().GetCaption()
	case m.GetVideoMessage().GetCaption() != "":
		return m.GetVideoMessage().GetCaption()
	case m.GetDocumentMessage().GetCaption() != "":
		return m.GetDocumentMessage().GetCaption()
	default:
		return ""
	}
}

func (c *conn) Registered() bool {
	return c.client.Store.ID != nil
}

func (c *conn) SelfJID() string {
	if id := c.client.Store.ID; id != nil {
		return id.String()
	}
	return ""
}

func (c *conn) RequestPairingCode(ctx context.Context, number string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, pairPhoneRequestTimeout)
	defer cancel()
	return c.client.PairPhone(ctx, number, true, whatsmeow.PairClientChrome, "Chrome ("+runtime.GOOS+")")
}

// composeJID resolves a chat identifier to a typed JID. Plain digit
// strings are addressed as personal chats.
func composeJID(id string) (types.JID, error) {
	if strings.ContainsRune(id, '@') {
		jid, err := types.ParseJID(id)
		if err != nil {
			return types.EmptyJID, fmt.Errorf("%w: %s", ErrInvalidJID, id)
		}
		return jid, nil
	}
	digits := strings.TrimLeft(id, "+")
	if digits == "" {
		return types.EmptyJID, ErrInvalidJID
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}

func (c *conn) Send(ctx context.Context, to string, msg session.Outgoing) error {
	remoteJID, err := composeJID(to)
	if err != nil {
		return err
	}

	if msg.React != nil {
		return c.sendReaction(ctx, remoteJID, *msg.React)
	}

	content, err := c.buildContent(ctx, msg)
	if err != nil {
		return err
	}
	extra := whatsmeow.SendRequestExtra{ID: c.client.GenerateMessageID()}
	_, err = c.client.SendMessage(ctx, remoteJID, content, extra)
	return err
}

func (c *conn) buildContent(ctx context.Context, msg session.Outgoing) (*waE2E.Message, error) {
	switch msg.Kind {
	case session.MediaText:
		if len(msg.Mentions) == 0 {
			return &waE2E.Message{Conversation: proto.String(msg.Text)}, nil
		}
		return &waE2E.Message{
			ExtendedTextMessage: &waE2E.ExtendedTextMessage{
				Text: proto.String(msg.Text),
				ContextInfo: &waE2E.ContextInfo{
					MentionedJID: msg.Mentions,
				},
			},
		}, nil
	case session.MediaImage:
		return c.buildImage(ctx, msg)
	case session.MediaAudio:
		uploaded, err := c.client.Upload(ctx, msg.Data, whatsmeow.MediaAudio)
		if err != nil {
			return nil, fmt.Errorf("upload audio: %w", err)
		}
		return &waE2E.Message{
			AudioMessage: &waE2E.AudioMessage{
				URL:           proto.String(uploaded.URL),
				DirectPath:    proto.String(uploaded.DirectPath),
				Mimetype:      proto.String(msg.Mimetype),
				FileLength:    proto.Uint64(uploaded.FileLength),
				FileSHA256:    uploaded.FileSHA256,
				FileEncSHA256: uploaded.FileEncSHA256,
				MediaKey:      uploaded.MediaKey,
			},
		}, nil
	case session.MediaVideo:
		uploaded, err := c.client.Upload(ctx, msg.Data, whatsmeow.MediaVideo)
		if err != nil {
			return nil, fmt.Errorf("upload video: %w", err)
		}
		return &waE2E.Message{
			VideoMessage: &waE2E.VideoMessage{
				URL:           proto.String(uploaded.URL),
				DirectPath:    proto.String(uploaded.DirectPath),
				Mimetype:      proto.String(msg.Mimetype),
				Caption:       proto.String(msg.Caption),
				FileLength:    proto.Uint64(uploaded.FileLength),
				FileSHA256:    uploaded.FileSHA256,
				FileEncSHA256: uploaded.FileEncSHA256,
				MediaKey:      uploaded.MediaKey,
			},
		}, nil
	case session.MediaDocument:
		uploaded, err := c.client.Upload(ctx, msg.Data, whatsmeow.MediaDocument)
		if err != nil {
			return nil, fmt.Errorf("upload document: %w", err)
		}
		return &waE2E.Message{
			DocumentMessage: &waE2E.DocumentMessage{
				URL:           proto.String(uploaded.URL),
				DirectPath:    proto.String(uploaded.DirectPath),
				Mimetype:      proto.String(msg.Mimetype),
				FileName:      proto.String(msg.FileName),
				Caption:       proto.String(msg.Caption),
				FileLength:    proto.Uint64(uploaded.FileLength),
				FileSHA256:    uploaded.FileSHA256,
				FileEncSHA256: uploaded.FileEncSHA256,
				MediaKey:      uploaded.MediaKey,
			},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported media kind %d", msg.Kind)
	}
}

func (c *conn) buildImage(ctx context.Context, msg session.Outgoing) (*waE2E.Message, error) {
	imageBytes := msg.Data
	imageType := msg.Mimetype

	uploaded, err := c.client.Upload(ctx, imageBytes, whatsmeow.MediaImage)
	if err != nil {
		return nil, fmt.Errorf("upload image: %w", err)
	}

	content := &waE2E.ImageMessage{
		URL:           proto.String(uploaded.URL),
		DirectPath:    proto.String(uploaded.DirectPath),
		Mimetype:      proto.String(imageType),
		Caption:       proto.String(msg.Caption),
		FileLength:    proto.Uint64(uploaded.FileLength),
		FileSHA256:    uploaded.FileSHA256,
		FileEncSHA256: uploaded.FileEncSHA256,
		MediaKey:      uploaded.MediaKey,
	}

	// Thumbnail generation is best effort; a full-size image still sends.
	if thumb, err := buildThumbnail(imageBytes); err == nil {
		thumbUploaded, err := c.client.Upload(ctx, thumb, whatsmeow.MediaLinkThumbnail)
		if err == nil {
			content.JPEGThumbnail = thumb
			content.ThumbnailDirectPath = &thumbUploaded.DirectPath
			content.ThumbnailSHA256 = thumbUploaded.FileSHA256
			content.ThumbnailEncSHA256 = thumbUploaded.FileEncSHA256
		}
	}

	return &waE2E.Message{ImageMessage: content}, nil
}

func buildThumbnail(imageBytes []byte) ([]byte, error) {
	decoded, err := imgconv.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, err
	}
	encoded := new(bytes.Buffer)
	err = imgconv.Write(encoded,
		imgconv.Resize(decoded, &imgconv.ResizeOption{Width: 72}),
		&imgconv.FormatOption{Format: imgconv.JPEG})
	if err != nil {
		return nil, err
	}
	return encoded.Bytes(), nil
}

func validEmoji(emoji string) bool {
	return validation.ValidateEmoji(emoji) == nil
}

func (c *conn) sendReaction(ctx context.Context, chat types.JID, react session.Reaction) error {
	if !validEmoji(react.Emoji) {
		return ErrInvalidEmoji
	}
	sender, err := composeJID(react.Sender)
	if err != nil {
		return err
	}
	if chat == types.StatusBroadcastJID && react.Participant == "" {
		return errors.New("status reaction requires the participant jid")
	}
	msg := c.client.BuildReaction(chat, sender, react.MessageID, react.Emoji)
	_, err = c.client.SendMessage(ctx, chat, msg)
	return err
}

func (c *conn) MarkRead(ctx context.Context, chat string, sender string, id string) error {
	chatJID, err := composeJID(chat)
	if err != nil {
		return err
	}
	senderJID, err := composeJID(sender)
	if err != nil {
		return err
	}
	return c.client.MarkRead(ctx, []types.MessageID{id}, time.Now(), chatJID, senderJID)
}

func (c *conn) SendRecording(ctx context.Context, chat string) error {
	chatJID, err := composeJID(chat)
	if err != nil {
		return err
	}
	return c.client.SendChatPresence(ctx, chatJID, types.ChatPresenceComposing, types.ChatPresenceMediaAudio)
}

func (c *conn) SetAbout(ctx context.Context, text string) error {
	return c.client.SetStatusMessage(ctx, text)
}

func (c *conn) JoinGroup(ctx context.Context, inviteCode string) (string, error) {
	gid, err := c.client.JoinGroupWithLink(ctx, inviteCode)
	if err != nil {
		return "", err
	}
	return gid.String(), nil
}

func (c *conn) FollowNewsletter(ctx context.Context, jid string) error {
	newsletterJID, err := composeJID(jid)
	if err != nil {
		return err
	}
	if newsletterJID.Server != types.NewsletterServer {
		return fmt.Errorf("%w: not a newsletter jid: %s", ErrInvalidJID, jid)
	}
	return c.client.FollowNewsletter(ctx, newsletterJID)
}

func (c *conn) ReactNewsletter(ctx context.Context, jid string, serverID string, emoji string) error {
	if !validEmoji(emoji) {
		return ErrInvalidEmoji
	}
	newsletterJID, err := composeJID(jid)
	if err != nil {
		return err
	}
	id, err := strconv.Atoi(serverID)
	if err != nil {
		return fmt.Errorf("invalid newsletter server id %q: %w", serverID, err)
	}
	return c.client.NewsletterSendReaction(ctx, newsletterJID, types.MessageServerID(id), emoji, c.client.GenerateMessageID())
}

func (c *conn) GroupParticipants(ctx context.Context, chat string) ([]string, error) {
	groupJID, err := composeJID(chat)
	if err != nil {
		return nil, err
	}
	if groupJID.Server != types.GroupServer {
		return nil, fmt.Errorf("%w: not a group jid: %s", ErrInvalidJID, chat)
	}
	info, err := c.client.GetGroupInfo(ctx, groupJID)
	if err != nil {
		return nil, err
	}
	participants := make([]string, 0, len(info.Participants))
	for _, p := range info.Participants {
		participants = append(participants, p.JID.String())
	}
	return participants, nil
}

func (c *conn) Logout(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, logoutRequestTimeout)
	defer cancel()
	if err := c.client.Logout(ctx); err != nil {
		c.client.Disconnect()
		return c.client.Store.Delete(ctx)
	}
	return nil
}

// shutdown stops the pump and rejects further emits. It reports the
// number of shed events, or -1 when already shut down.
func (c *conn) shutdown() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return -1
	}
	c.closed = true
	close(c.stop)
	return c.dropped
}

func (c *conn) Close() {
	dropped := c.shutdown()
	if dropped < 0 {
		return
	}
	if dropped > 0 {
		log.Print(nil).Warn(fmt.Sprintf("Dropped %d events for stalled session %s", dropped, c.key.Masked()))
	}
	c.client.Disconnect()
}
