package store

import (
	"time"

	"github.com/lsasec/stepauth/geo"
)

// Channel identifies the out-of-band delivery channel of a one-time code.
type Channel string

const (
	// ChannelEmail delivers codes to the identity's email address.
	ChannelEmail Channel = "email"
	// ChannelSMS delivers codes to the identity's phone number.
	ChannelSMS Channel = "sms"
)

// AuthAction classifies an auth-history entry.
type AuthAction string

const (
	ActionRegister AuthAction = "REGISTER"
	ActionLogin    AuthAction = "LOGIN"
	ActionLogout   AuthAction = "LOGOUT"
)

// AuthStatus is the outcome recorded with an auth-history entry or
// login attempt.
type AuthStatus string

const (
	StatusSuccess AuthStatus = "SUCCESS"
	StatusFailed  AuthStatus = "FAILED"
)

// Verification steps of the progressive identity-verification ladder.
// Transitions are strictly forward; step 5 implies the identity is
// fully verified.
const (
	StepRegistered        = 1
	StepEmailVerified     = 2
	StepPhoneVerified     = 3
	StepQuestionsVerified = 4
	StepFullyVerified     = 5
)

// SecurityQuestion pairs a question identifier with the hash of its
// normalized answer. Plaintext answers are never persisted.
type SecurityQuestion struct {
	QuestionID string
	AnswerHash [32]byte
}

// Identity is the stored account record. VerificationStep is monotonically
// non-decreasing and only mutated through AdvanceVerificationStep.
type Identity struct {
	ID           string
	Username     string
	PasswordHash string
	Email        string
	Phone        string

	// TOTPSecret is the base32-encoded shared secret provisioned at
	// registration time.
	TOTPSecret string

	SecurityQuestions [3]SecurityQuestion

	VerificationStep int
	Verified         bool

	CreatedAt time.Time
	LastLogin time.Time
}

// OneTimeCode is a short-lived verification code. Rows are append-only:
// issuing a new code for the same (identity, channel) supersedes older
// rows for comparison but keeps them for audit.
type OneTimeCode struct {
	ID         string
	IdentityID string
	Channel    Channel
	Code       string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Attempts   int
	Consumed   bool
}

// LoginAttempt is an append-only record of a single authentication
// attempt, successful or not. IdentityID is empty when the submitted
// username resolved to no account.
type LoginAttempt struct {
	ID            string
	IdentityID    string
	IP            string
	UserAgent     string
	Location      *geo.Location
	Status        AuthStatus
	FailureReason string
	Timestamp     time.Time
}

// Device is a best-effort client identity derived from user agent and
// source IP. Unique per (identity, fingerprint); the fingerprint is weak
// and collisions across NAT'd users are a documented limitation.
type Device struct {
	ID          string
	IdentityID  string
	Fingerprint string
	Name        string
	Trusted     bool
	LastUsed    time.Time
	CreatedAt   time.Time
}

// AuthHistoryEntry is the append-only audit log of authentication
// lifecycle events.
type AuthHistoryEntry struct {
	ID         string
	IdentityID string
	Action     AuthAction
	Status     AuthStatus
	DeviceID   string
	IP         string
	UserAgent  string
	Location   *geo.Location
	Timestamp  time.Time
}

// Session is an active authenticated session. Sessions are removed either
// explicitly by the user or by the periodic expiry sweep.
type Session struct {
	ID         string
	IdentityID string
	Token      string
	DeviceID   string
	IP         string
	Location   string
	LastActive time.Time
	ExpiresAt  time.Time
}
