// Package geo defines the location model and the IP-to-location resolver
// interface consumed by the risk engine and the session ledger. Actual
// resolution (GeoIP database, upstream header, CDN metadata) is supplied
// by the transport layer.
package geo

import "strings"

// Location is a coarse resolved position for a source IP. Any field may
// be empty when the resolver has partial data.
type Location struct {
	Country   string
	City      string
	Latitude  float64
	Longitude float64
}

// Coarse renders "City, Country" for display next to a session. Empty
// components are dropped.
func (l *Location) Coarse() string {
	if l == nil {
		return ""
	}

	parts := make([]string, 0, 2)
	if l.City != "" {
		parts = append(parts, l.City)
	}
	if l.Country != "" {
		parts = append(parts, l.Country)
	}
	return strings.Join(parts, ", ")
}

// Resolver maps a source IP to an optional location. A nil location with
// a nil error means the IP could not be resolved; the risk engine's
// fail-open/fail-closed policy decides what that implies.
type Resolver interface {
	Resolve(ip string) (*Location, error)
}

// StaticResolver is a fixed IP-to-location table. Used by tests and by
// deployments that resolve location upstream and inject it per request.
type StaticResolver map[string]Location

func (r StaticResolver) Resolve(ip string) (*Location, error) {
	loc, ok := r[ip]
	if !ok {
		return nil, nil
	}
	cp := loc
	return &cp, nil
}
