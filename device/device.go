// Package device derives best-effort client identifiers and display names
// from request metadata. The fingerprint is deliberately weak: it encodes
// only user agent and source IP, so distinct clients behind one NAT with
// the same browser collide. Strengthening it (persistent client token,
// TLS fingerprint) would change observable device-matching behavior and
// is left to integrators.
package device

import (
	"encoding/base64"

	"github.com/mssola/user_agent"
)

// Fingerprint derives the deterministic device key for a request. The
// encoding offers no secrecy, it is just a stable opaque form of the
// concatenation.
func Fingerprint(userAgent, ip string) string {
	return base64.StdEncoding.EncodeToString([]byte(userAgent + ip))
}

// Describe builds a human-readable device name ("Chrome on Mac OS X")
// from the raw User-Agent header.
func Describe(rawUA string) string {
	ua := user_agent.New(rawUA)

	browser, _ := ua.Browser()
	if browser == "" {
		browser = "Unknown"
	}
	os := ua.OS()
	if os == "" {
		os = "Unknown"
	}

	return browser + " on " + os
}
