// Package password implements the credential verifier: Argon2id hashing
// with a per-secret random salt, PHC-encoded storage, and constant-time
// verification. The raw secret is never logged, persisted, or returned.
// A mismatch is a false result, not an error; errors are reserved for
// malformed stored records.
package password
