package stepauth

import (
	"errors"
	"time"
)

// Config is the full engine configuration tree. Construct it from
// [DefaultConfig] and override what the deployment needs; Build
// validates the result.
type Config struct {
	Password   PasswordConfig
	Code       CodeConfig
	TOTP       TOTPConfig
	Risk       RiskConfig
	AbuseGuard AbuseGuardConfig
	Session    SessionConfig
	Trust      TrustConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
}

// PasswordConfig holds Argon2id cost parameters for the credential
// verifier.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// CodeConfig governs the one-time-code lifecycle.
type CodeConfig struct {
	// TTL is the code lifetime from issuance.
	TTL time.Duration
	// MaxAttempts caps wrong guesses per issued code. The cap is checked
	// before comparison, so a guess past the cap never lands.
	MaxAttempts int
}

// TOTPConfig governs time-based one-time-password verification.
type TOTPConfig struct {
	Issuer string
	Period uint
	// Skew is the tolerance in time steps on either side of now.
	Skew uint
}

// RiskConfig governs geo-anomaly step-up authentication.
type RiskConfig struct {
	// Window is the trailing span of login attempts consulted for
	// country matching.
	Window time.Duration
	// FailOpen controls what happens when the current request's location
	// cannot be resolved: true skips the assessment (the source system's
	// behavior), false treats it as requiring step-up.
	FailOpen bool
}

// AbuseGuardConfig governs the fixed-window login limiter.
type AbuseGuardConfig struct {
	MaxAttempts              int
	Window                   time.Duration
	EnableIdentifierThrottle bool
}

// SessionConfig governs session lifetime and the expiry sweep.
type SessionConfig struct {
	Lifetime      time.Duration
	SweepInterval time.Duration
}

// TrustConfig governs elevated-trust token issuance. Disabled by
// default; when enabled, signing material is required.
type TrustConfig struct {
	Enabled       bool
	TTL           time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
}

// AuditConfig governs the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig governs the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig returns the baseline configuration: 15-minute codes with
// 3 attempts, a 24-hour risk window that fails open, 5 login attempts
// per 15-minute window, 24-hour sessions swept hourly.
func DefaultConfig() Config {
	return Config{
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		Code: CodeConfig{
			TTL:         15 * time.Minute,
			MaxAttempts: 3,
		},
		TOTP: TOTPConfig{
			Issuer: "stepauth",
			Period: 30,
			Skew:   1,
		},
		Risk: RiskConfig{
			Window:   24 * time.Hour,
			FailOpen: true,
		},
		AbuseGuard: AbuseGuardConfig{
			MaxAttempts:              5,
			Window:                   15 * time.Minute,
			EnableIdentifierThrottle: false,
		},
		Session: SessionConfig{
			Lifetime:      24 * time.Hour,
			SweepInterval: time.Hour,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate checks cross-field consistency. Builder.Build calls it; it is
// exported so callers can validate configuration loaded from elsewhere.
func (c Config) Validate() error {
	if c.Code.TTL <= 0 {
		return errors.New("config: code TTL must be positive")
	}
	if c.Code.MaxAttempts <= 0 {
		return errors.New("config: code max attempts must be positive")
	}
	if c.Risk.Window <= 0 {
		return errors.New("config: risk window must be positive")
	}
	if c.AbuseGuard.MaxAttempts <= 0 {
		return errors.New("config: abuse guard max attempts must be positive")
	}
	if c.AbuseGuard.Window <= 0 {
		return errors.New("config: abuse guard window must be positive")
	}
	if c.Session.Lifetime <= 0 {
		return errors.New("config: session lifetime must be positive")
	}
	if c.Session.SweepInterval <= 0 {
		return errors.New("config: sweep interval must be positive")
	}
	if c.Trust.Enabled {
		if c.Trust.TTL <= 0 {
			return errors.New("config: trust TTL must be positive")
		}
		if len(c.Trust.PrivateKey) == 0 {
			return errors.New("config: trust signing key required")
		}
	}
	return nil
}
