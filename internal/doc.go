// Package internal contains helpers that are intentionally private to
// stepauth: secure generation of one-time codes and session tokens, and
// security-question answer normalization and hashing.
package internal
