package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Common errors
var (
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
	ErrContextCanceled    = errors.New("context canceled during retry")
)

// Config contains retry configuration
type Config struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// JitterFactor spreads each interval by ± this fraction
	JitterFactor float64
}

// DefaultConfig returns exponential backoff of 1s, 2s, 4s capped at 10s
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:      3,
		InitialInterval: time.Second,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
		JitterFactor:    0.1,
	}
}

// Operation is the function to be retried
type Operation func(ctx context.Context) error

// PermanentError marks an error that must not be retried
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so the retrier stops immediately
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Result describes how a retried operation ended
type Result struct {
	// Err is nil on success, the unwrapped permanent error, or one of the
	// package errors when retries or the context ran out
	Err       error
	Attempts  int
	LastError error
}

// RetryCallback is called before waiting for the next attempt
type RetryCallback func(attempt int, err error, nextInterval time.Duration)

// Retrier runs operations with exponential backoff
type Retrier struct {
	config *Config
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a Retrier, filling zero values from DefaultConfig
func New(config *Config) *Retrier {
	cfg := DefaultConfig()
	if config != nil {
		cfg.MaxRetries = config.MaxRetries
		if config.InitialInterval > 0 {
			cfg.InitialInterval = config.InitialInterval
		}
		if config.MaxInterval > 0 {
			cfg.MaxInterval = config.MaxInterval
		}
		if config.Multiplier > 0 {
			cfg.Multiplier = config.Multiplier
		}
		cfg.JitterFactor = math.Max(0, math.Min(1, config.JitterFactor))
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Retrier{config: cfg, sleep: sleepContext}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do executes op until it succeeds, fails permanently, or retries run out
func (r *Retrier) Do(ctx context.Context, op Operation, callback RetryCallback) *Result {
	result := &Result{}

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		// Check context before attempting
		if ctx.Err() != nil {
			result.Err = ErrContextCanceled
			return result
		}

		// Execute operation
		result.Attempts = attempt + 1
		err := op(ctx)
		if err == nil {
			result.Err = nil
			return result
		}
		result.LastError = err

		// Permanent errors are not retried
		var perm *PermanentError
		if errors.As(err, &perm) {
			result.Err = perm.Err
			result.LastError = perm.Err
			return result
		}

		// Last attempt, no more retries
		if attempt == r.config.MaxRetries {
			break
		}

		interval := r.interval(attempt)
		// Invoke callback before waiting
		if callback != nil {
			callback(attempt+1, err, interval)
		}
		if r.sleep(ctx, interval) != nil {
			result.Err = ErrContextCanceled
			return result
		}
	}

	result.Err = ErrMaxRetriesExceeded
	return result
}

// interval returns initial * multiplier^attempt with jitter, capped at MaxInterval
func (r *Retrier) interval(attempt int) time.Duration {
	d := float64(r.config.InitialInterval) * math.Pow(r.config.Multiplier, float64(attempt))
	// Apply jitter to prevent thundering herd
	if r.config.JitterFactor > 0 {
		d += (rand.Float64()*2 - 1) * d * r.config.JitterFactor
	}
	// Cap at max interval
	if d > float64(r.config.MaxInterval) {
		d = float64(r.config.MaxInterval)
	}
	if d <= 0 {
		d = float64(r.config.InitialInterval)
	}
	return time.Duration(d)
}
