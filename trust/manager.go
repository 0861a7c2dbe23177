// Package trust issues and validates short-lived elevated-trust tokens.
// A trust token is minted only for identities that completed the full
// verification ladder; the transport layer can gate sensitive routes on
// it without a storage round-trip. Base sessions remain opaque tokens;
// this token is an additional capability, not the session credential.
package trust

import (
	"crypto/ed25519"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

// ErrTokenInvalid is returned for any token that fails parsing,
// signature, or claim validation. The cause is intentionally collapsed.
var ErrTokenInvalid = errors.New("trust: invalid token")

// Config holds signing material and token parameters.
type Config struct {
	TTL           time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

// Claims carried by a trust token.
type Claims struct {
	IdentityID string `json:"uid"`
	SessionID  string `json:"sid"`
	Step       int    `json:"step"`
	jwt.RegisteredClaims
}

// Manager signs and parses trust tokens.
type Manager struct {
	config Config
}

// NewManager validates the signing configuration up front so every later
// Issue call is infallible with respect to key material.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.TTL <= 0 {
		return nil, errors.New("trust: TTL must be positive")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("trust: invalid leeway")
	}

	switch cfg.SigningMethod {
	case MethodEd25519, "":
		cfg.SigningMethod = MethodEd25519
		if len(cfg.PrivateKey) != ed25519.PrivateKeySize {
			return nil, errors.New("trust: ed25519 private key must be 64 bytes")
		}
		if len(cfg.PublicKey) != ed25519.PublicKeySize {
			return nil, errors.New("trust: ed25519 public key must be 32 bytes")
		}
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, errors.New("trust: hs256 secret must be at least 32 bytes")
		}
	default:
		return nil, errors.New("trust: unsupported signing method")
	}

	return &Manager{config: cfg}, nil
}

// Issue signs a trust token for the identity and session.
func (m *Manager) Issue(identityID, sessionID string, step int) (string, error) {
	now := time.Now()
	claims := Claims{
		IdentityID: identityID,
		SessionID:  sessionID,
		Step:       step,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.TTL)),
		},
	}

	switch m.config.SigningMethod {
	case MethodHS256:
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		return token.SignedString(m.config.PrivateKey)
	default:
		token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
		return token.SignedString(ed25519.PrivateKey(m.config.PrivateKey))
	}
}

// Parse validates signature, expiry, and issuer, and returns the claims.
func (m *Manager) Parse(tokenStr string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(m.config.Leeway),
	}
	if m.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.config.Issuer))
	}
	switch m.config.SigningMethod {
	case MethodHS256:
		opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	default:
		opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, m.keyFunc, opts...)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (m *Manager) keyFunc(*jwt.Token) (interface{}, error) {
	switch m.config.SigningMethod {
	case MethodHS256:
		return m.config.PrivateKey, nil
	default:
		return ed25519.PublicKey(m.config.PublicKey), nil
	}
}
