package stepauth

import "errors"

var (
	// ErrEngineNotReady is returned when an Engine method runs before the
	// builder finished wiring mandatory collaborators.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrValidation is returned for malformed input: empty identifiers,
	// short secrets, wrong-shape verification payloads.
	ErrValidation = errors.New("invalid request")
	// ErrInvalidCredentials is the uniform login failure. It never
	// distinguishes an unknown username from a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUsernameTaken is returned by Register for a duplicate handle.
	ErrUsernameTaken = errors.New("username already exists")
	// ErrIdentityNotFound is returned when a referenced identity is absent.
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrTooManyAttempts is the abuse-guard rejection. Uniform regardless
	// of whether the account exists.
	ErrTooManyAttempts = errors.New("too many attempts")
	// ErrLocationVerificationRequired is not a failure: the risk engine
	// demands an additional email proof before a session is created.
	ErrLocationVerificationRequired = errors.New("location verification required")
	// ErrStepNotReached rejects a proof whose prerequisite verification
	// step has not been completed.
	ErrStepNotReached = errors.New("verification step not reached")
	// ErrTOTPNotProvisioned is returned when the identity has no TOTP
	// secret to verify against.
	ErrTOTPNotProvisioned = errors.New("totp not provisioned")
	// ErrQuestionsNotConfigured is returned when the identity has no
	// stored security questions.
	ErrQuestionsNotConfigured = errors.New("security questions not configured")
	// ErrDeviceNotFound is returned when a referenced device is absent or
	// belongs to a different identity.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrSessionNotFound is returned for an unknown session token or id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrDeliveryFailed wraps outbound channel failures. The issued code
	// remains valid, so delivery can be retried without re-issuing.
	ErrDeliveryFailed = errors.New("code delivery failed")
	// ErrStoreUnavailable wraps repository backend failures. Fatal for the
	// current operation; the engine never retries storage.
	ErrStoreUnavailable = errors.New("storage unavailable")
	// ErrRateLimiterUnavailable wraps abuse-guard backend failures.
	ErrRateLimiterUnavailable = errors.New("rate limiter unavailable")
)
