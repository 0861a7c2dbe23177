// Package rate implements the abuse guard: a Redis-backed fixed-window
// counter over login attempts, keyed by source IP and optionally by the
// submitted identifier. Attempts over budget are rejected before the
// credential verifier runs, with one uniform outcome whether or not the
// account exists.
package rate
