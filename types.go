package stepauth

import (
	"github.com/lsasec/stepauth/store"
)

// CodeOutcome is the tagged result of a one-time-code verification.
// Callers map each value to a distinct user-facing response; the engine
// never collapses them into a boolean.
type CodeOutcome uint8

const (
	// CodeAccepted means the code matched and is now consumed. A code is
	// accepted at most once.
	CodeAccepted CodeOutcome = iota
	// CodeExpired means the code's TTL passed before verification, even
	// if the submitted value matches.
	CodeExpired
	// CodeAttemptsExceeded means the attempt cap was reached before this
	// guess was compared. The correct value no longer lands.
	CodeAttemptsExceeded
	// CodeMismatch means the submitted value was wrong. The attempt
	// counter has been incremented.
	CodeMismatch
	// CodeNotFound means no live code exists for the identity and
	// channel: never issued, already consumed, or superseded.
	CodeNotFound
)

// String returns the stable wire name of the outcome.
func (o CodeOutcome) String() string {
	switch o {
	case CodeAccepted:
		return "accepted"
	case CodeExpired:
		return "expired"
	case CodeAttemptsExceeded:
		return "attempts_exceeded"
	case CodeMismatch:
		return "mismatch"
	case CodeNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// SecurityAnswer is one element of the fixed three-answer verification
// payload.
type SecurityAnswer struct {
	QuestionID string
	Answer     string
}

// RegisterRequest is the input for [Engine.Register]. All fields are
// required; the three security questions must carry distinct question
// identifiers.
type RegisterRequest struct {
	Username          string
	Password          string
	Email             string
	Phone             string
	SecurityQuestions [3]SecurityAnswer
}

// RegisterResult is returned by [Engine.Register]. TOTPSecret and
// OTPAuthURI are surfaced exactly once, at registration, for
// authenticator enrollment; they are never returned again.
type RegisterResult struct {
	IdentityID string
	TOTPSecret string
	OTPAuthURI string
}

// LoginResult is returned by [Engine.Login] on success. TrustToken is
// set only when the identity has completed the full verification ladder.
type LoginResult struct {
	IdentityID       string
	SessionID        string
	SessionToken     string
	Device           *store.Device
	VerificationStep int
	Verified         bool
	TrustToken       string
}
