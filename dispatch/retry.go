package dispatch

import "time"

const (
	defaultBaseDelay = 100 * time.Millisecond
	defaultMaxDelay  = 5 * time.Second
)

// RetryPolicy computes the pause between failed attempts of a step. Delays
// double from BaseDelay and never exceed MaxDelay. No jitter: identical
// failure sequences replay identically.
type RetryPolicy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryPolicy returns the built-in backoff: 100ms doubling up to 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{BaseDelay: defaultBaseDelay, MaxDelay: defaultMaxDelay}
}

// Delay returns the pause before re-running a step whose attempt number
// `attempt` (numbered from 0) just failed: BaseDelay * 2^attempt, capped.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = defaultBaseDelay
	}
	limit := p.MaxDelay
	if limit <= 0 {
		limit = defaultMaxDelay
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= limit || d <= 0 {
			return limit
		}
	}
	if d > limit {
		return limit
	}
	return d
}
