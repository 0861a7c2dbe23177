// Package totp wraps time-based one-time-password provisioning and
// verification for the final verification step. Verification is
// deliberately stateless: no attempt counter and no last-used-step
// tracking are kept, a weaker posture than the one-time-code manager
// that is carried forward from the source system as an accepted
// trade-off rather than silently hardened.
package totp

import (
	"net/url"
	"strconv"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Config holds the TOTP parameters shared between provisioning and
// verification. Zero values fall back to the RFC 6238 defaults used by
// common authenticator apps.
type Config struct {
	Issuer string
	Period uint
	Digits otp.Digits
	Skew   uint
}

// Verifier provisions secrets and validates submitted codes.
type Verifier struct {
	config Config
}

// NewVerifier creates a Verifier, applying defaults for unset fields.
func NewVerifier(cfg Config) *Verifier {
	if cfg.Issuer == "" {
		cfg.Issuer = "stepauth"
	}
	if cfg.Period == 0 {
		cfg.Period = 30
	}
	if cfg.Digits == 0 {
		cfg.Digits = otp.DigitsSix
	}
	if cfg.Skew == 0 {
		cfg.Skew = 1
	}
	return &Verifier{config: cfg}
}

// GenerateSecret provisions a fresh shared secret for the account and
// returns the base32 secret together with its otpauth:// URI. Rendering
// the URI as a QR code is the caller's concern.
func (v *Verifier) GenerateSecret(account string) (secret, uri string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      v.config.Issuer,
		AccountName: account,
		Period:      v.config.Period,
		Digits:      v.config.Digits,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

// ProvisionURI rebuilds the otpauth:// URI for an already stored base32
// secret, for re-display during authenticator enrollment.
func (v *Verifier) ProvisionURI(secret, account string) string {
	q := url.Values{}
	q.Set("secret", secret)
	q.Set("issuer", v.config.Issuer)
	q.Set("period", strconv.FormatUint(uint64(v.config.Period), 10))
	q.Set("digits", strconv.Itoa(v.config.Digits.Length()))
	q.Set("algorithm", "SHA1")

	return "otpauth://totp/" + url.PathEscape(v.config.Issuer+":"+account) + "?" + q.Encode()
}

// Verify reports whether code is valid for secret at now, tolerating the
// configured skew in either direction. Malformed codes are simply false.
func (v *Verifier) Verify(secret, code string, now time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, now, totp.ValidateOpts{
		Period:    v.config.Period,
		Skew:      v.config.Skew,
		Digits:    v.config.Digits,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false
	}
	return ok
}
