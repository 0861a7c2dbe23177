package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicateUsername is returned by CreateIdentity for a taken handle.
	ErrDuplicateUsername = errors.New("store: duplicate username")
	// ErrStepSkipped is returned when a verification-step advance would
	// jump past an intermediate step.
	ErrStepSkipped = errors.New("store: verification step skipped")
	// ErrUnavailable wraps backend failures (I/O, connectivity). Callers
	// treat it as fatal for the current operation, never as a mismatch.
	ErrUnavailable = errors.New("store: backend unavailable")
)

// CodeMutator is applied to the latest one-time code of an
// (identity, channel) pair while the backend holds that key's lock.
// A returned error surfaces to the caller, but mutations applied before
// it still persist: an attempt increment must stick even when the guess
// is rejected.
type CodeMutator func(code *OneTimeCode) error

// IdentityStore owns account records. Verification-step mutation is a
// named transition rather than a field patch so the monotonicity
// invariant lives in one place.
type IdentityStore interface {
	CreateIdentity(ctx context.Context, identity *Identity) error
	Identity(ctx context.Context, id string) (*Identity, error)
	IdentityByUsername(ctx context.Context, username string) (*Identity, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error

	// AdvanceVerificationStep moves the identity to target when target is
	// exactly one above the current step. A target at or below the current
	// step is an idempotent no-op. Reaching StepFullyVerified also sets
	// the Verified flag. The returned record reflects the stored state.
	AdvanceVerificationStep(ctx context.Context, id string, target int) (*Identity, error)
}

// CodeStore owns one-time codes. Only the most recently created code per
// (identity, channel) participates in verification; older rows remain for
// audit.
type CodeStore interface {
	CreateCode(ctx context.Context, code *OneTimeCode) error

	// UpdateLatestCode applies fn to the latest code for the pair under an
	// atomic per-key section, so attempt increments and consumption cannot
	// race. ErrNotFound when no code was ever issued for the pair.
	UpdateLatestCode(ctx context.Context, identityID string, channel Channel, fn CodeMutator) (*OneTimeCode, error)
}

// AttemptStore records login attempts and serves the risk engine's
// trailing-window queries.
type AttemptStore interface {
	RecordAttempt(ctx context.Context, attempt *LoginAttempt) error
	AttemptsSince(ctx context.Context, identityID string, since time.Time) ([]*LoginAttempt, error)
}

// DeviceStore owns per-identity device records.
type DeviceStore interface {
	// ResolveDevice returns the device for (identityID, fingerprint),
	// creating it via create when absent. Resolution is atomic per key:
	// concurrent first contact yields exactly one row. The bool reports
	// whether a new device was created. Existing devices get their
	// LastUsed timestamp refreshed.
	ResolveDevice(ctx context.Context, identityID, fingerprint string, create func() *Device) (*Device, bool, error)
	Device(ctx context.Context, id string) (*Device, error)
	SetDeviceTrusted(ctx context.Context, id string, trusted bool) error
	Devices(ctx context.Context, identityID string) ([]*Device, error)
}

// HistoryStore is the append-only auth-history ledger.
type HistoryStore interface {
	AppendHistory(ctx context.Context, entry *AuthHistoryEntry) error
	History(ctx context.Context, identityID string) ([]*AuthHistoryEntry, error)
}

// SessionStore owns active sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, session *Session) error
	SessionByToken(ctx context.Context, token string) (*Session, error)
	Sessions(ctx context.Context, identityID string) ([]*Session, error)
	// DeleteSession is delete-if-exists: removing an already-removed
	// session is not an error, so the sweep and explicit deletion can
	// race safely.
	DeleteSession(ctx context.Context, id string) error
	// DeleteExpiredSessions removes sessions whose expiry precedes now and
	// reports how many were removed. Idempotent and safe to run
	// concurrently with session creation and deletion.
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error)
}

// Repository is the storage abstraction consumed by the engine. The core
// never holds entity references across requests; every operation
// re-fetches by identifier.
type Repository interface {
	IdentityStore
	CodeStore
	AttemptStore
	DeviceStore
	HistoryStore
	SessionStore
}
