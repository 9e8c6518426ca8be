package mastodon

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer is waited on before every page request.
type Pacer interface {
	Wait(ctx context.Context) error
}

// IntervalPacer enforces a minimum interval between consecutive requests.
// The first request is never delayed.
type IntervalPacer struct {
	limiter *rate.Limiter
}

func NewIntervalPacer(interval time.Duration) *IntervalPacer {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &IntervalPacer{limiter: rate.NewLimiter(limit, 1)}
}

func (p *IntervalPacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// NoWait never delays. Used in tests.
type NoWait struct{}

func (NoWait) Wait(ctx context.Context) error {
	return ctx.Err()
}
