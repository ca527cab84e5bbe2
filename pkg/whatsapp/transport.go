package whatsapp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	qrCode "github.com/skip2/go-qrcode"
	"google.golang.org/protobuf/proto"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waCompanionReg"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"

	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/env"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/log"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/session"
)

const qrChannelWaitTimeout = 2 * time.Minute

var (
	_ session.QRTransport = (*Transport)(nil)
	_ session.Conn        = (*conn)(nil)
)

// Transport connects sessions over whatsmeow. One datastore container
// backs every session; each session resumes its own device row.
type Transport struct {
	container *sqlstore.Container
	proxyURL  string
}

var (
	datastoreDriver string
	datastoreDSN    string
)

func normalizeDatastoreDriver(driver string) string {
	switch strings.ToLower(driver) {
	case "postgresql", "postgres", "pgx":
		return "pgx"
	default:
		return strings.ToLower(driver)
	}
}

func normalizeDatastoreDSN(driver string, dsn string) string {
	if driver != "pgx" {
		return dsn
	}
	appendParam := func(current string, key string, value string) string {
		if strings.Contains(current, key+"=") {
			return current
		}
		separator := "?"
		if strings.Contains(current, "?") {
			if strings.HasSuffix(current, "?") || strings.HasSuffix(current, "&") {
				separator = ""
			} else {
				separator = "&"
			}
		}
		return current + separator + key + "=" + value
	}
	dsn = appendParam(dsn, "prefer_simple_protocol", "true")
	dsn = appendParam(dsn, "statement_cache_capacity", "0")
	dsn = appendParam(dsn, "default_query_exec_mode", "simple_protocol")
	return dsn
}

// DatastoreDSN exposes the normalized DSN so the blob store can share
// the same database.
func DatastoreDSN() (string, string) {
	return datastoreDriver, datastoreDSN
}

// NewTransport initializes the whatsmeow datastore from the environment
// and runs its schema migrations.
func NewTransport(ctx context.Context) (*Transport, error) {
	dbType, err := env.GetEnvString("WHATSAPP_DATASTORE_TYPE")
	if err != nil {
		return nil, fmt.Errorf("parsing WHATSAPP_DATASTORE_TYPE: %w", err)
	}
	dbURI, err := env.GetEnvString("WHATSAPP_DATASTORE_URI")
	if err != nil {
		return nil, fmt.Errorf("parsing WHATSAPP_DATASTORE_URI: %w", err)
	}

	driver := normalizeDatastoreDriver(dbType)
	dsn := normalizeDatastoreDSN(driver, dbURI)
	datastoreDriver = driver
	datastoreDSN = dsn

	log.Print(nil).Info("Initializing WhatsApp datastore with driver=" + driver)

	container, err := sqlstore.New(ctx, driver, dsn, nil)
	if err != nil {
		return nil, fmt.Errorf("initializing whatsapp datastore: %w", err)
	}
	if err := container.Upgrade(ctx); err != nil {
		return nil, fmt.Errorf("upgrading whatsapp datastore schema: %w", err)
	}

	configureDeviceProps()

	proxyURL, _ := env.GetEnvString("WHATSAPP_CLIENT_PROXY_URL")

	return &Transport{container: container, proxyURL: proxyURL}, nil
}

func configureDeviceProps() {
	store.DeviceProps.Os = proto.String(runtime.GOOS)
	store.DeviceProps.PlatformType = waCompanionReg.DeviceProps_CHROME.Enum()
	store.DeviceProps.RequireFullSync = proto.Bool(false)

	if major, err := env.GetEnvInt("WHATSAPP_VERSION_MAJOR"); err == nil {
		store.DeviceProps.Version.Primary = proto.Uint32(uint32(major))
	}
	if minor, err := env.GetEnvInt("WHATSAPP_VERSION_MINOR"); err == nil {
		store.DeviceProps.Version.Secondary = proto.Uint32(uint32(minor))
	}
	if patch, err := env.GetEnvInt("WHATSAPP_VERSION_PATCH"); err == nil {
		store.DeviceProps.Version.Tertiary = proto.Uint32(uint32(patch))
	}
}

// resolveDevice maps a stored credential blob to its datastore device
// row. An unparsable blob or a missing row is a recoverable credential
// failure, not a transport outage.
func (t *Transport) resolveDevice(ctx context.Context, credential []byte) (*store.Device, error) {
	if credential == nil {
		return t.container.NewDevice(), nil
	}

	var blob credentialBlob
	if err := json.Unmarshal(credential, &blob); err != nil {
		return nil, fmt.Errorf("%w: undecodable blob: %v", session.ErrCredentialInvalid, err)
	}
	jid, err := types.ParseJID(blob.JID)
	if err != nil {
		return nil, fmt.Errorf("%w: bad jid %q: %v", session.ErrCredentialInvalid, blob.JID, err)
	}
	device, err := t.container.GetDevice(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("loading device for %s: %w", jid, err)
	}
	if device == nil {
		return nil, fmt.Errorf("%w: no device row for %s", session.ErrCredentialInvalid, jid)
	}
	return device, nil
}

func (t *Transport) newClient(key session.IdentityKey, device *store.Device) *conn {
	client := whatsmeow.NewClient(device, nil)
	if t.proxyURL != "" {
		client.SetProxyAddress(t.proxyURL)
	}
	// The session supervisor owns reconnect policy.
	client.EnableAutoReconnect = false
	client.AutoTrustIdentity = true

	c := newConn(key, client)
	client.AddEventHandler(c.handleEvent)
	return c
}

// Open connects a session, resuming the stored credential's device or
// starting an unregistered one that still needs a pairing code.
func (t *Transport) Open(ctx context.Context, key session.IdentityKey, credential []byte) (session.Conn, error) {
	device, err := t.resolveDevice(ctx, credential)
	if err != nil {
		return nil, err
	}

	c := t.newClient(key, device)
	if err := c.client.Connect(); err != nil {
		return nil, fmt.Errorf("connecting session %s: %w", key.Masked(), err)
	}
	return c, nil
}

// OpenQR starts an unregistered session and returns the first QR code
// from the login channel as a base64 PNG.
func (t *Transport) OpenQR(ctx context.Context, key session.IdentityKey) (session.Conn, string, int, error) {
	c := t.newClient(key, t.container.NewDevice())

	qrCtx, cancel := context.WithTimeout(ctx, qrChannelWaitTimeout)
	qrChan, err := c.client.GetQRChannel(qrCtx)
	if err != nil {
		cancel()
		return nil, "", 0, err
	}
	if err := c.client.Connect(); err != nil {
		cancel()
		return nil, "", 0, fmt.Errorf("connecting session %s: %w", key.Masked(), err)
	}

	qrImage, qrTimeout, err := waitForQRCode(qrCtx, qrChan)
	if err != nil {
		cancel()
		c.Close()
		return nil, "", 0, err
	}

	// Drain the rest of the channel so whatsmeow can deliver the pairing
	// outcome; the supervisor hears about it through connection events.
	go func() {
		defer cancel()
		for range qrChan {
		}
	}()

	return c, qrImage, qrTimeout, nil
}

func waitForQRCode(ctx context.Context, qrChan <-chan whatsmeow.QRChannelItem) (string, int, error) {
	for {
		select {
		case <-ctx.Done():
			return "", 0, ctx.Err()
		case evt, ok := <-qrChan:
			if !ok {
				return "", 0, errors.New("whatsapp qr channel closed before delivering a code")
			}
			switch evt.Event {
			case "code":
				qrPNG, err := qrCode.Encode(evt.Code, qrCode.Medium, 256)
				if err != nil {
					return "", 0, err
				}
				return base64.StdEncoding.EncodeToString(qrPNG), int(evt.Timeout.Seconds()), nil
			case whatsmeow.QRChannelTimeout.Event:
				return "", 0, errors.New("whatsapp qr channel timed out")
			case whatsmeow.QRChannelClientOutdated.Event:
				return "", 0, ErrVersionOutdatedForQR
			case "error":
				if evt.Error != nil {
					return "", 0, evt.Error
				}
				return "", 0, errors.New("whatsapp qr channel reported an unspecified error")
			}
		}
	}
}

// DeleteDevice removes a session's device row from the datastore.
func (t *Transport) DeleteDevice(ctx context.Context, credential []byte) error {
	device, err := t.resolveDevice(ctx, credential)
	if err != nil || device == nil || device.ID == nil {
		return nil
	}
	return t.container.DeleteDevice(ctx, device)
}
