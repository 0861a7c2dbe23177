// Package stepauth provides a multi-factor authentication and
// session-risk engine: credential verification, a progressive
// identity-verification ladder (password, email, phone, security
// questions, TOTP), one-time-code lifecycle management, device
// fingerprinting, geo-anomaly step-up authentication, session and
// auth-history bookkeeping, and fixed-window abuse limiting.
//
// The package is designed for concurrent server workloads: Engine
// methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// stepauth is the public surface. It exposes [Engine], [Builder],
// [Config], outcome types, and the [Delivery] and [AuditSink]
// collaborator interfaces. Storage lives behind [store.Repository];
// geo resolution behind [geo.Resolver]. Transport, rendering, and
// outbound email/SMS providers are the caller's concern: the engine
// decides that a code must be sent and to whom, never how.
//
// # What this package must NOT do
//
//   - Expose Redis clients, repository internals, or token encoding
//     details in its public API.
//   - Log, return, or persist raw secrets. The one exception is code
//     values handed to the delivery collaborator for sending.
//   - Hold entity references across requests: every operation
//     re-fetches by identifier.
package stepauth
