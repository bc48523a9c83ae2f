package monitor

import (
	"time"

	"gopkg.in/errgo.v1"
	"gopkg.in/retry.v1"
)

// DefaultRetryInterval holds the delay after a failed
// iteration when RetryPolicy.Initial is zero.
const DefaultRetryInterval = 30 * time.Second

// RetryPolicy determines how long the loop waits after
// each of a sequence of failed iterations.
type RetryPolicy struct {
	// Initial holds the delay after the first failure.
	// If it's zero, DefaultRetryInterval is used.
	Initial time.Duration
	// Factor holds the factor by which the delay grows
	// after each consecutive failure. If it's zero, 1 is used,
	// giving a fixed delay.
	Factor float64
	// MaxDelay holds the maximum delay. If it's zero,
	// the delay is not limited.
	MaxDelay time.Duration
	// Jitter causes each delay to be randomized.
	Jitter bool
	// MaxAttempts holds the number of consecutive failures
	// after which the loop gives up. If it's zero, the loop never
	// gives up.
	MaxAttempts int
}

func (p RetryPolicy) strategy() (retry.Strategy, error) {
	if p.Initial < 0 || p.MaxDelay < 0 {
		return nil, errgo.Newf("negative retry delay")
	}
	if p.Factor == 0 {
		p.Factor = 1
	}
	if p.Factor < 1 {
		return nil, errgo.Newf("retry factor %v is less than 1", p.Factor)
	}
	if p.MaxAttempts < 0 {
		return nil, errgo.Newf("negative retry attempt count")
	}
	if p.Initial == 0 {
		p.Initial = DefaultRetryInterval
	}
	var strategy retry.Strategy = retry.Exponential{
		Initial:  p.Initial,
		Factor:   p.Factor,
		MaxDelay: p.MaxDelay,
		Jitter:   p.Jitter,
	}
	if p.MaxAttempts > 0 {
		strategy = retry.LimitCount(p.MaxAttempts, strategy)
	}
	return strategy, nil
}
