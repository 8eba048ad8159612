package http

import (
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter caps inbound frames per connection. A nil limiter allows everything.
type rateLimiter struct {
	lim *rate.Limiter
}

// newRateLimiter allows perMinute frames per minute with bursts of the same
// size. A non-positive perMinute disables limiting.
func newRateLimiter(perMinute int) *rateLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &rateLimiter{
		lim: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
	}
}

func (r *rateLimiter) allow() bool {
	if r == nil {
		return true
	}
	return r.lim.Allow()
}
