package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter paces outbound provider calls with a token bucket.
type Limiter struct {
	limiter *rate.Limiter
}

// NewLimiter allows perSecond calls with the given burst. A non-positive
// rate disables pacing.
func NewLimiter(perSecond float64, burst int) *Limiter {
	if perSecond <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Wait blocks until a call is allowed or ctx is done. It returns how long
// the caller waited.
func (l *Limiter) Wait(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	err := l.limiter.Wait(ctx)
	return time.Since(start), err
}
