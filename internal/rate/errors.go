package rate

import "errors"

var (
	// ErrLimited means the window's attempt budget is spent.
	ErrLimited = errors.New("rate: too many attempts")
	// ErrRedisUnavailable wraps Redis transport failures.
	ErrRedisUnavailable = errors.New("rate: redis unavailable")
)
