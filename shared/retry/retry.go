package retry

import (
	"context"
	"errors"
	"math"
	"time"
)

// Verdict is the outcome of a single attempt as seen by a Policy
type Verdict int

const (
	// Succeed means the attempt returned no error
	Succeed Verdict = iota
	// Again means the attempt should be repeated after Decision.Delay
	Again
	// Fail means no further attempt will be made
	Fail
)

func (v Verdict) String() string {
	switch v {
	case Succeed:
		return "succeed"
	case Again:
		return "retry"
	case Fail:
		return "fail"
	default:
		return "unknown"
	}
}

// Decision tells the caller what to do after attempt n
type Decision struct {
	Verdict Verdict
	Delay   time.Duration
}

// Policy describes a bounded retry schedule.
// Delay before attempt n+1 is BaseDelay * Multiplier^(n-1), capped at MaxDelay when set.
// A Multiplier of 1 gives a fixed delay.
type Policy struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// Exponential returns a doubling policy
func Exponential(attempts int, base time.Duration) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: base, Multiplier: 2}
}

// Fixed returns a policy with a constant delay between attempts
func Fixed(attempts int, delay time.Duration) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: delay, Multiplier: 1}
}

// Decide maps (attempt number, attempt error) to a Decision. Attempts are 1-based.
// Only errors marked with Retryable are repeated.
func (p Policy) Decide(attempt int, err error) Decision {
	if err == nil {
		return Decision{Verdict: Succeed}
	}
	if !IsRetryable(err) || attempt >= p.attempts() {
		return Decision{Verdict: Fail}
	}
	return Decision{Verdict: Again, Delay: p.Backoff(attempt)}
}

// Backoff returns the wait after the given 1-based attempt
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Sleeper waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the real-time Sleeper
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Observer is notified before each scheduled retry
type Observer func(attempt int, delay time.Duration, err error)

// Do runs fn until the policy says stop and returns the number of attempts made
// together with the last error, with any Retryable marker removed.
func Do(ctx context.Context, p Policy, sleep Sleeper, observe Observer, fn func(ctx context.Context, attempt int) error) (int, error) {
	if sleep == nil {
		sleep = Sleep
	}
	for attempt := 1; ; attempt++ {
		err := fn(ctx, attempt)
		d := p.Decide(attempt, err)
		switch d.Verdict {
		case Succeed:
			return attempt, nil
		case Fail:
			return attempt, Unwrap(err)
		}
		if observe != nil {
			observe(attempt, d.Delay, err)
		}
		if serr := sleep(ctx, d.Delay); serr != nil {
			return attempt, Unwrap(err)
		}
	}
}

// RetryableError marks a transient failure that a Policy may repeat
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Retryable wraps err so that Decide treats it as transient
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err carries a Retryable marker
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// Unwrap strips a top-level Retryable marker
func Unwrap(err error) error {
	if re, ok := err.(*RetryableError); ok {
		return re.Err
	}
	return err
}
