package server

import (
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter throttles inbound events on one connection. A full bucket holds
// burst tokens and refills completely over interval.
type rateLimiter struct {
	limiter *rate.Limiter
}

func newRateLimiter(burst int, interval time.Duration) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	every := interval / time.Duration(burst)
	return &rateLimiter{limiter: rate.NewLimiter(rate.Every(every), burst)}
}

func (rl *rateLimiter) allow() bool {
	return rl.limiter.Allow()
}
