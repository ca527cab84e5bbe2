package session

import "context"

// CredentialStore is the durable source of truth for session credentials.
// pkg/sessionstore provides the blob-store backed implementation.
type CredentialStore interface {
	// Load returns the newest credential blob for key, or a NotFound
	// error from the backing store.
	Load(ctx context.Context, key IdentityKey) ([]byte, error)

	// Save overwrites the credential for key. Saves for the same key are
	// serialized by the caller (one supervisor loop per key).
	Save(ctx context.Context, key IdentityKey, blob []byte) error

	// Delete removes every credential blob for key.
	Delete(ctx context.Context, key IdentityKey) error

	// CleanupDuplicates keeps only the most recently written blob for key
	// and reports how many stale blobs were removed. Idempotent.
	CleanupDuplicates(ctx context.Context, key IdentityKey) (int, error)

	// Identities lists every key with at least one stored credential.
	Identities(ctx context.Context) ([]IdentityKey, error)
}
