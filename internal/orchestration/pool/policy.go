package pool

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

// RetryPolicy is a fixed number of attempts with exponential backoff.
// MaxAttempts <= 1 disables retry.
type RetryPolicy struct {
	MaxAttempts     int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
}

// Enabled reports whether more than one attempt is allowed.
func (r RetryPolicy) Enabled() bool {
	return r.MaxAttempts > 1
}

func (r RetryPolicy) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if r.InitialInterval > 0 {
		b.InitialInterval = r.InitialInterval
	}
	if r.MaxInterval > 0 {
		b.MaxInterval = r.MaxInterval
	}
	return b
}

// KindPolicy configures execution of one task kind.
type KindPolicy struct {
	// Timeout bounds each attempt. Zero uses the pool default.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Retry   RetryPolicy   `mapstructure:"retry" yaml:"retry"`
	// RateLimit is the sustained invocations per second; zero disables limiting.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst     int     `mapstructure:"burst" yaml:"burst"`
}

// Validate checks the policy for impossible values.
func (k KindPolicy) Validate() error {
	if k.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if k.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must not be negative")
	}
	if k.Retry.MaxInterval > 0 && k.Retry.InitialInterval > k.Retry.MaxInterval {
		return fmt.Errorf("retry.initial_interval must not exceed retry.max_interval")
	}
	if k.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	return nil
}

func (k KindPolicy) newLimiter() *rate.Limiter {
	if k.RateLimit <= 0 {
		return nil
	}
	burst := k.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(k.RateLimit), burst)
}
