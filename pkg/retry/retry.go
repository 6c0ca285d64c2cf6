package retry

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
)

// Config holds retry configuration
type Config struct {
	MaxAttempts  uint
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultConfig returns the transient-I/O retry policy: 3 attempts with
// jittered exponential backoff. Anything still failing after that bubbles
// up to the job queue for redelivery.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
	}
}

// Do executes a function with jittered exponential backoff retry
func Do(ctx context.Context, cfg Config, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(cfg.MaxAttempts),
		retry.Delay(cfg.InitialDelay),
		retry.MaxDelay(cfg.MaxDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(cfg.InitialDelay),
		retry.LastErrorOnly(true),
	)
}

// DoWithResult executes a function with retry and returns a result
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var err error
		result, err = fn()
		return err
	})
	return result, err
}

// Unrecoverable marks err so Do and DoWithResult stop retrying immediately.
func Unrecoverable(err error) error {
	return retry.Unrecoverable(err)
}

// If wraps Do but only retries errors matching pred; other errors return
// immediately. Used to keep permanent gateway refusals out of the retry loop.
func If(ctx context.Context, cfg Config, pred func(error) bool, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(cfg.MaxAttempts),
		retry.Delay(cfg.InitialDelay),
		retry.MaxDelay(cfg.MaxDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(cfg.InitialDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(pred),
	)
}
