package crawl

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Gate paces requests to the remote service. One gate is shared by every
// worker of a pipeline and is waited on before each request attempt.
type Gate interface {
	Wait(ctx context.Context) error
}

// NewGate returns a token bucket that admits one request per interval with no
// burst beyond a single request. A non-positive interval disables pacing.
func NewGate(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}
