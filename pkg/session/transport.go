package session

import (
	"context"
	"time"
)

// Transport opens connections to the messaging network. Implementations
// own the protocol handshake and encryption; the session core only sees
// the ordered event stream and a handful of verbs.
type Transport interface {
	// Open connects using a previously stored credential blob, or in
	// unregistered mode when credential is nil. A credential that cannot
	// seed the local auth state is reported with ErrCredentialInvalid.
	Open(ctx context.Context, key IdentityKey, credential []byte) (Conn, error)
}

// QRTransport is implemented by transports that also support QR pairing.
type QRTransport interface {
	Transport

	// OpenQR connects in unregistered mode and returns the QR code to
	// scan (PNG, base64) along with its validity window in seconds.
	OpenQR(ctx context.Context, key IdentityKey) (Conn, string, int, error)
}

// Conn is one live connection. Events are delivered strictly in order and
// the channel is closed once the connection is permanently down.
type Conn interface {
	Events() <-chan Event

	// Registered reports whether the local auth state is already bound to
	// a remote account (false means a pairing code is needed).
	Registered() bool

	// RequestPairingCode asks the remote side for a short-lived pairing
	// code binding this connection to the given number.
	RequestPairingCode(ctx context.Context, number string) (string, error)

	// SelfJID is the connection's own address, empty until registered.
	SelfJID() string

	Send(ctx context.Context, to string, msg Outgoing) error
	MarkRead(ctx context.Context, chat string, sender string, id string) error
	SendRecording(ctx context.Context, chat string) error
	SetAbout(ctx context.Context, text string) error
	JoinGroup(ctx context.Context, inviteCode string) (string, error)
	FollowNewsletter(ctx context.Context, jid string) error
	ReactNewsletter(ctx context.Context, jid string, serverID string, emoji string) error
	GroupParticipants(ctx context.Context, chat string) ([]string, error)

	// Logout deregisters the session remotely, invalidating the stored
	// credential. Close only drops the connection.
	Logout(ctx context.Context) error
	Close()
}

// MediaKind selects how Outgoing payload bytes are sent.
type MediaKind int

const (
	MediaText MediaKind = iota
	MediaImage
	MediaAudio
	MediaDocument
	MediaVideo
)

// Outgoing is the subset of message shapes the gateway produces.
type Outgoing struct {
	Kind     MediaKind
	Text     string
	Data     []byte
	Mimetype string
	FileName string
	Caption  string
	Mentions []string
	React    *Reaction
}

// Reaction targets an existing message, optionally scoped to a status
// participant (required when reacting to status broadcasts).
type Reaction struct {
	MessageID   string
	Sender      string
	Emoji       string
	FromMe      bool
	Participant string
}

// Event is one item of a connection's ordered event stream.
type Event interface{ isEvent() }

// Opened is emitted when the transport reports the connection open.
type Opened struct {
	SelfJID string
}

// Closed is emitted when the connection drops. Terminal closes
// (unauthorized, logged out, stream replaced by another client) must
// never be retried.
type Closed struct {
	Reason   string
	Terminal bool
}

// CredentialUpdate carries the serialized auth state to persist.
type CredentialUpdate struct {
	Blob []byte
}

// Message is an inbound chat message, already flattened to text.
type Message struct {
	ID          string
	Chat        string
	Sender      string
	PushName    string
	Text        string
	Timestamp   time.Time
	FromMe      bool
	IsGroup     bool
	IsStatus    bool
	Newsletter  bool
	ServerID    string
	Participant string
}

// MessageRevoked is emitted when a previously delivered message is deleted.
type MessageRevoked struct {
	Chat      string
	MessageID string
}

func (Opened) isEvent()           {}
func (Closed) isEvent()           {}
func (CredentialUpdate) isEvent() {}
func (Message) isEvent()          {}
func (MessageRevoked) isEvent()   {}
