package internal

import (
	"crypto/sha256"
	"crypto/subtle"
	"strings"
)

// NormalizeAnswer canonicalizes a security-question answer before
// hashing: surrounding whitespace stripped, lower-cased. This is what
// makes the comparison case-insensitive.
func NormalizeAnswer(answer string) string {
	return strings.ToLower(strings.TrimSpace(answer))
}

// HashAnswer hashes a normalized answer for storage. Plaintext answers
// never reach the repository.
func HashAnswer(answer string) [32]byte {
	return sha256.Sum256([]byte(NormalizeAnswer(answer)))
}

// AnswerHashesEqual compares two answer hashes in constant time.
func AnswerHashesEqual(a, b [32]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
