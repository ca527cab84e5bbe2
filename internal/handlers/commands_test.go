package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/session"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/sessionstore"
)

func TestTagAllMentionsEveryParticipant(t *testing.T) {
	newTestGateway(t)
	e := newTestEngine()
	conn := newFakeConn()
	conn.participants = []string{
		"15550002222@s.whatsapp.net",
		"15550003333@s.whatsapp.net",
	}

	msg := session.Message{
		ID:      "MSG1",
		Chat:    "12345@g.us",
		Sender:  "15550002222@s.whatsapp.net",
		Text:    ".tagall meeting in five",
		IsGroup: true,
	}
	e.onMessage(context.Background(), session.IdentityKey("15550001111"), conn, msg)

	sent := conn.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, conn.participants, sent[0].msg.Mentions)
	assert.Contains(t, sent[0].msg.Text, "meeting in five")
	assert.Contains(t, sent[0].msg.Text, "@15550002222")
	assert.Contains(t, sent[0].msg.Text, "@15550003333")
}

func TestTagAllOutsideGroup(t *testing.T) {
	newTestGateway(t)
	e := newTestEngine()
	conn := newFakeConn()

	e.onMessage(context.Background(), session.IdentityKey("15550001111"), conn, chatMessage(".tagall"))

	sent := conn.sentMessages()
	require.Len(t, sent, 1)
	assert.Empty(t, sent[0].msg.Mentions)
	assert.Contains(t, sent[0].msg.Text, "groups")
}

func TestDeleteMeRequiresOwner(t *testing.T) {
	newTestGateway(t)
	e := newTestEngine()
	conn := newFakeConn()
	key := session.IdentityKey("15550001111")

	msg := chatMessage(".deleteme")
	msg.FromMe = false
	e.onMessage(context.Background(), key, conn, msg)

	assert.Empty(t, conn.sentMessages())
	_, armed := e.pendingDeletes.Get(key)
	assert.False(t, armed)
}

func TestDeleteMeConfirmFlow(t *testing.T) {
	gw := newTestGateway(t)
	e := newTestEngine()
	conn := newFakeConn()
	key := session.IdentityKey("15550001111")

	ctx := context.Background()
	require.NoError(t, gw.Credentials.Save(ctx, key, []byte(`{"jid":"x"}`)))
	_, err := gw.Registry.Register(key, conn)
	require.NoError(t, err)

	deleteMe := chatMessage(".deleteme")
	deleteMe.FromMe = true
	e.onMessage(ctx, key, conn, deleteMe)

	_, armed := e.pendingDeletes.Get(key)
	require.True(t, armed)

	confirm := chatMessage(".confirm")
	confirm.FromMe = true
	e.onMessage(ctx, key, conn, confirm)

	_, err = gw.Registry.Get(key)
	assert.ErrorIs(t, err, session.ErrNotRegistered)
	_, err = gw.Credentials.Load(ctx, key)
	assert.ErrorIs(t, err, sessionstore.ErrNotFound)
}

func TestConfirmWithoutPendingDelete(t *testing.T) {
	newTestGateway(t)
	e := newTestEngine()
	conn := newFakeConn()

	msg := chatMessage(".confirm")
	msg.FromMe = true
	e.onMessage(context.Background(), session.IdentityKey("15550001111"), conn, msg)

	sent := conn.sentMessages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].msg.Text, "Nothing to confirm")
}

func TestCustomPrefixFromConfig(t *testing.T) {
	gw := newTestGateway(t)
	e := newTestEngine()
	conn := newFakeConn()
	key := session.IdentityKey("15550001111")

	cfg := sessionstore.DefaultConfig()
	cfg.Prefix = "!"
	require.NoError(t, gw.Configs.Save(context.Background(), key, cfg))

	e.onMessage(context.Background(), key, conn, chatMessage(".alive"))
	assert.Empty(t, conn.sentMessages())

	e.onMessage(context.Background(), key, conn, chatMessage("!alive"))
	assert.Len(t, conn.sentMessages(), 1)
}

func TestRecordingPresenceFollowsConfig(t *testing.T) {
	gw := newTestGateway(t)
	e := newTestEngine()
	conn := newFakeConn()
	key := session.IdentityKey("15550001111")

	cfg := sessionstore.DefaultConfig()
	cfg.AutoRecording = true
	require.NoError(t, gw.Configs.Save(context.Background(), key, cfg))

	e.onMessage(context.Background(), key, conn, chatMessage(".alive"))

	assert.Equal(t, []string{"15550002222@s.whatsapp.net"}, conn.recordings)
}
