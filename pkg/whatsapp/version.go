package whatsapp

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"golang.org/x/sync/singleflight"

	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/env"
)

var ErrVersionOutdatedForQR = errors.New("whatsapp client version is outdated for QR pairing")

// VersionStatus reports the WhatsApp Web version currently in use and
// the outcome of the last refresh.
type VersionStatus struct {
	CurrentVersion store.WAVersionContainer `json:"current_version"`
	LastRefreshed  *time.Time               `json:"last_refreshed,omitempty"`
	LastError      string                   `json:"last_error,omitempty"`
}

var (
	versionRefreshGroup singleflight.Group

	versionMu            sync.RWMutex
	versionLastRefreshed *time.Time
	versionLastError     string
)

func versionRefreshMinInterval() time.Duration {
	const defaultInterval = 10 * time.Minute
	d := env.GetEnvDurationOrDefault("WHATSAPP_WAVERSION_REFRESH_MIN_INTERVAL", defaultInterval)
	if d < 0 {
		return defaultInterval
	}
	return d
}

func GetVersionStatus() VersionStatus {
	versionMu.RLock()
	defer versionMu.RUnlock()

	var last *time.Time
	if versionLastRefreshed != nil {
		t := *versionLastRefreshed
		last = &t
	}
	return VersionStatus{
		CurrentVersion: store.GetWAVersion(),
		LastRefreshed:  last,
		LastError:      versionLastError,
	}
}

func recordVersionRefresh(errMsg string) {
	versionMu.Lock()
	now := time.Now()
	versionLastRefreshed = &now
	versionLastError = errMsg
	versionMu.Unlock()
}

// RefreshVersion fetches the latest WhatsApp Web version and applies it
// globally. Unless force is set, refreshes inside the configured minimum
// interval are skipped; concurrent callers share one fetch.
func RefreshVersion(ctx context.Context, force bool) (VersionStatus, bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	minInterval := versionRefreshMinInterval()
	if !force && minInterval > 0 {
		versionMu.RLock()
		last := versionLastRefreshed
		versionMu.RUnlock()
		if last != nil && time.Since(*last) < minInterval {
			return GetVersionStatus(), false, nil
		}
	}

	_, err, _ := versionRefreshGroup.Do("refresh", func() (interface{}, error) {
		httpClient := &http.Client{Timeout: 15 * time.Second}
		latest, err := whatsmeow.GetLatestVersion(ctx, httpClient)
		if err != nil {
			recordVersionRefresh(err.Error())
			return nil, err
		}
		if latest == nil {
			err := errors.New("latest WhatsApp Web version is nil")
			recordVersionRefresh(err.Error())
			return nil, err
		}
		store.SetWAVersion(*latest)
		recordVersionRefresh("")
		return store.GetWAVersion(), nil
	})
	if err != nil {
		return GetVersionStatus(), true, err
	}
	return GetVersionStatus(), true, nil
}
