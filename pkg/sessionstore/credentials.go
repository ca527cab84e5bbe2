package sessionstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/session"
)

const credsPrefix = "creds/"

// Credentials layers the session credential contract over a blob Store.
// Every save writes a fresh key carrying its write time in nanoseconds,
// "creds/<identity>/<unix-nanos>", so the newest blob is identified by
// the timestamp embedded in the key rather than by listing order.
type Credentials struct {
	store Store
	now   func() time.Time
}

func NewCredentials(store Store) *Credentials {
	return &Credentials{store: store, now: time.Now}
}

func credKey(key session.IdentityKey, ts int64) string {
	return fmt.Sprintf("%s%s/%d", credsPrefix, key, ts)
}

// parseCredTimestamp extracts the write timestamp from a blob key.
// Malformed keys sort oldest so cleanup removes them first.
func parseCredTimestamp(blobKey string) int64 {
	idx := strings.LastIndexByte(blobKey, '/')
	if idx < 0 {
		return 0
	}
	ts, err := strconv.ParseInt(blobKey[idx+1:], 10, 64)
	if err != nil {
		return 0
	}
	return ts
}

// newestFirst sorts blob keys by embedded timestamp, newest first.
func newestFirst(keys []string) {
	sort.Slice(keys, func(i, j int) bool {
		return parseCredTimestamp(keys[i]) > parseCredTimestamp(keys[j])
	})
}

func (c *Credentials) list(ctx context.Context, key session.IdentityKey) ([]string, error) {
	return c.store.List(ctx, credsPrefix+string(key)+"/")
}

// Load returns the newest stored blob for key.
func (c *Credentials) Load(ctx context.Context, key session.IdentityKey) ([]byte, error) {
	keys, err := c.list(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, ErrNotFound
	}
	newestFirst(keys)
	return c.store.Get(ctx, keys[0])
}

// Save writes blob under a fresh timestamped key, then prunes any older
// blobs best effort. A failed prune leaves extra copies for the next
// CleanupDuplicates pass, never a lost credential.
func (c *Credentials) Save(ctx context.Context, key session.IdentityKey, blob []byte) error {
	stale, listErr := c.list(ctx, key)
	if err := c.store.Put(ctx, credKey(key, c.now().UnixNano()), blob); err != nil {
		return err
	}
	if listErr == nil {
		for _, k := range stale {
			_ = c.store.Delete(ctx, k)
		}
	}
	return nil
}

// Delete removes every blob stored for key.
func (c *Credentials) Delete(ctx context.Context, key session.IdentityKey) error {
	keys, err := c.list(ctx, key)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := c.store.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// CleanupDuplicates keeps only the newest blob for key and reports how
// many stale blobs were removed.
func (c *Credentials) CleanupDuplicates(ctx context.Context, key session.IdentityKey) (int, error) {
	keys, err := c.list(ctx, key)
	if err != nil {
		return 0, err
	}
	if len(keys) <= 1 {
		return 0, nil
	}
	newestFirst(keys)
	removed := 0
	for _, k := range keys[1:] {
		if err := c.store.Delete(ctx, k); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Identities lists every identity with at least one stored blob.
func (c *Credentials) Identities(ctx context.Context) ([]session.IdentityKey, error) {
	keys, err := c.store.List(ctx, credsPrefix)
	if err != nil {
		return nil, err
	}
	seen := make(map[session.IdentityKey]struct{})
	var out []session.IdentityKey
	for _, k := range keys {
		rest := strings.TrimPrefix(k, credsPrefix)
		idx := strings.IndexByte(rest, '/')
		if idx <= 0 {
			continue
		}
		id := session.IdentityKey(rest[:idx])
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
