package battle

import (
	"context"
	"math"
	"time"
)

// RetryPolicy bounds oracle attempts for one submission.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// Multiplier grows the delay between attempts. 1 gives a fixed delay.
	Multiplier float64

	// AttemptTimeout caps each oracle call.
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy is three attempts, 2s then 4s apart, 30s per call.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		BaseDelay:      2 * time.Second,
		Multiplier:     2,
		AttemptTimeout: 30 * time.Second,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts < 1 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = d.AttemptTimeout
	}
	return p
}

// Delay is the wait after the given failed attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
