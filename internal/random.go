package internal

import (
	"crypto/rand"
	"encoding/base64"
	"math/big"
)

const sessionTokenBytes = 32

// codeSpan covers [100000, 999999]: every code is exactly six digits, no
// leading zeros, matching what the delivery templates promise users.
var codeSpan = big.NewInt(900000)

// NewCodeValue draws a uniformly random six-digit verification code.
func NewCodeValue() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpan)
	if err != nil {
		return "", err
	}
	return big.NewInt(0).Add(n, big.NewInt(100000)).String(), nil
}

// NewSessionToken generates an opaque session token: 32 random bytes,
// base64url without padding.
func NewSessionToken() (string, error) {
	raw := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
