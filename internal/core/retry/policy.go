// Package retry runs a unit of work under an explicit retry policy.
//
// A Policy describes the budget (attempt count, exponential delays and a
// wall-clock ceiling for the whole unit). An Executor applies a Policy to a
// function and reports how many attempts it took. Errors are retried unless
// marked with Permanent.
//
//	exec := retry.NewExecutor(retry.DefaultPolicy())
//	attempts, err := exec.Do(ctx, func(ctx context.Context, attempt int) error {
//	    return classifyAndStore(ctx, item)
//	})
package retry

import (
	"fmt"
	"math"
	"time"
)

// Policy defines retry behavior for one unit of work.
type Policy struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	Multiplier   float64       `yaml:"backoff_multiplier"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	// Timeout bounds the unit including backoff waits. Zero disables it.
	Timeout time.Duration `yaml:"unit_timeout"`
}

// DefaultPolicy is 5 attempts starting at 5s, doubling, within 15 minutes.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  5,
		InitialDelay: 5 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Minute,
		Timeout:      15 * time.Minute,
	}
}

// Delay returns the wait after the given failed attempt (0-indexed):
// InitialDelay * Multiplier^attempt, capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(mult, float64(attempt))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

// Validate checks that the policy can run at least one attempt.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.InitialDelay < 0 || p.MaxDelay < 0 || p.Timeout < 0 {
		return fmt.Errorf("retry durations must not be negative")
	}
	return nil
}
