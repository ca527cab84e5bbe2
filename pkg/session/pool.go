package session

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// PoolStatus classifies one identity's outcome in a bulk connect.
type PoolStatus string

const (
	PoolAlreadyConnected PoolStatus = "already_connected"
	PoolRestored         PoolStatus = "restored"
	PoolInitiated        PoolStatus = "connection_initiated"
	PoolPairingInFlight  PoolStatus = "pairing_in_progress"
	PoolFailed           PoolStatus = "failed"
)

// PoolResult is one identity's outcome from ConnectAll.
type PoolResult struct {
	Key    IdentityKey `json:"number"`
	Status PoolStatus  `json:"status"`
	Code   string      `json:"code,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Pool runs bulk session establishment with a hard cap on how many
// connections are being opened at once. Identities beyond the cap wait
// their turn instead of being rejected.
type Pool struct {
	coordinator *Coordinator
	limit       int
	jitterMax   time.Duration
	log         *logrus.Entry
}

// NewPool caps concurrent establishment at limit (default 5) and, when
// jitterMax > 0, staggers each start by a random delay up to jitterMax
// so a large restore does not stampede the backing store.
func NewPool(coordinator *Coordinator, limit int, jitterMax time.Duration, log *logrus.Entry) *Pool {
	if limit <= 0 {
		limit = 5
	}
	return &Pool{coordinator: coordinator, limit: limit, jitterMax: jitterMax, log: log}
}

// ConnectAll pairs or restores every identity in keys, at most p.limit
// at a time, and returns a result per identity in input order. One
// identity's failure never aborts the others.
func (p *Pool) ConnectAll(ctx context.Context, keys []IdentityKey) []PoolResult {
	results := make([]PoolResult, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.limit)
	for i, key := range keys {
		g.Go(func() error {
			if p.jitterMax > 0 {
				delay := time.Duration(rand.Int64N(int64(p.jitterMax)))
				select {
				case <-gctx.Done():
					results[i] = PoolResult{Key: key, Status: PoolFailed, Error: gctx.Err().Error()}
					return nil
				case <-time.After(delay):
				}
			}
			results[i] = p.connectOne(gctx, key)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (p *Pool) connectOne(ctx context.Context, key IdentityKey) PoolResult {
	res, err := p.coordinator.Pair(ctx, key)
	switch {
	case errors.Is(err, ErrPairingInProgress):
		return PoolResult{Key: key, Status: PoolPairingInFlight}
	case err != nil:
		p.log.WithField("session", key.Masked()).WithError(err).Warn("Bulk connect failed")
		return PoolResult{Key: key, Status: PoolFailed, Error: err.Error()}
	case res.AlreadyConnected:
		return PoolResult{Key: key, Status: PoolAlreadyConnected}
	case res.Restored:
		return PoolResult{Key: key, Status: PoolRestored}
	default:
		return PoolResult{Key: key, Status: PoolInitiated, Code: res.Code}
	}
}

// RestoreAll lists every stored identity and connects them all. It is
// the startup path after a process restart.
func (p *Pool) RestoreAll(ctx context.Context) ([]PoolResult, error) {
	keys, err := p.coordinator.creds.Identities(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	p.log.WithField("count", len(keys)).Info("Restoring stored sessions")
	return p.ConnectAll(ctx, keys), nil
}
