package walletrpc

import "time"

// RetryPolicy is exponential backoff as data, mirroring the shape used
// elsewhere in the coordinator for transient-failure retry.
type RetryPolicy struct {
	MaxAttempts  int
	BaseInterval time.Duration
	MaxInterval  time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy backs off 1s → 2s → 4s → 8s, capped at 30s, across up
// to 5 attempts — a wallet daemon under load is expected to clear within
// that window; beyond it the caller should surface the failure.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  5,
		BaseInterval: 1 * time.Second,
		MaxInterval:  30 * time.Second,
		Multiplier:   2.0,
	}
}

func (p RetryPolicy) backoffFor(attempt int) time.Duration {
	backoff := p.BaseInterval
	for i := 0; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * p.Multiplier)
		if backoff > p.MaxInterval {
			return p.MaxInterval
		}
	}
	return backoff
}
