package session

import "errors"

var (
	// ErrAlreadyActive signals that a live session is already registered
	// for the key. Benign: callers treat it as a no-op, never as a reason
	// to open a second connection.
	ErrAlreadyActive = errors.New("session already active for this identity")

	// ErrPairingInProgress signals that another pairing flow for the same
	// key is still between "requested" and "open or failed".
	ErrPairingInProgress = errors.New("pairing already in progress for this identity")

	// ErrPairingFailed is returned when the pairing code could not be
	// obtained within the bounded retries. Surfaced to the caller, never
	// retried automatically.
	ErrPairingFailed = errors.New("failed to obtain pairing code")

	// ErrCredentialInvalid marks a stored credential that could not be
	// used to resume a session. Recoverable: the coordinator falls back
	// to a fresh pairing flow.
	ErrCredentialInvalid = errors.New("stored credential is not usable")

	// ErrReconnectExhausted marks a session dropped after the maximum
	// number of backoff attempts.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	// ErrTerminalAuth marks an unauthorized / logged-out close. The
	// supervisor must never schedule a retry after it.
	ErrTerminalAuth = errors.New("terminal authentication failure")

	// ErrNotRegistered is returned by lookups for keys with no live session.
	ErrNotRegistered = errors.New("no live session for this identity")

	// ErrQRUnsupported is returned by PairQR when the transport cannot
	// produce QR codes.
	ErrQRUnsupported = errors.New("transport does not support QR login")
)
