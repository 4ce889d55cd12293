package retry

import (
	"context"
	"errors"
	"os"
	"syscall"
	"time"

	"cleanconvert/internal/logging"
)

// Observer records retry metrics. The metrics package provides the
// implementation.
type Observer interface {
	ObserveRetryAttempt(op string)
	ObserveRetrySuccess(op string)
	ObserveRetryFailure(op string)
	ObserveRetryDuration(op string, durationSeconds float64)
}

// Config configures retry behavior.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         *logging.Logger
	Observer       Observer
}

// DefaultConfig returns one retry with a one second backoff, the settings used
// for conversions.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     1,
		InitialBackoff: time.Second,
		MaxBackoff:     4 * time.Second,
	}
}

// FileConfig returns the settings used for stale-handle file reads.
func FileConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
	}
}

// Do runs fn until it succeeds, returns an error retryable rejects, or the
// retry budget is spent. The last error is returned. Cancelling ctx aborts
// the backoff sleep and returns ctx.Err() wrapped with the last error.
func Do(ctx context.Context, cfg Config, op string, retryable func(error) bool, fn func(context.Context) error) error {
	log := logging.OrDefault(cfg.Logger)
	start := time.Now()
	backoff := cfg.InitialBackoff
	var lastErr error

	defer func() {
		if cfg.Observer != nil {
			cfg.Observer.ObserveRetryDuration(op, time.Since(start).Seconds())
		}
	}()

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				log.Info("%s succeeded on retry %d", op, attempt)
				if cfg.Observer != nil {
					cfg.Observer.ObserveRetrySuccess(op)
				}
			}
			return nil
		}
		lastErr = err

		if retryable == nil || !retryable(err) {
			return err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		if cfg.Observer != nil {
			cfg.Observer.ObserveRetryAttempt(op)
		}
		log.Debug("%s failed (%v), retrying in %v (attempt %d/%d)", op, err, backoff, attempt+1, cfg.MaxRetries)

		if backoff > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.Join(lastErr, ctx.Err())
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			return errors.Join(lastErr, ctx.Err())
		}

		backoff *= 2
		if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	if cfg.MaxRetries > 0 {
		log.Warn("%s failed after %d retries: %v", op, cfg.MaxRetries, lastErr)
		if cfg.Observer != nil {
			cfg.Observer.ObserveRetryFailure(op)
		}
	}
	return lastErr
}

// IsStale reports whether err is a stale file handle error (ESTALE), as seen
// on NFS mounts.
func IsStale(err error) bool {
	if err == nil {
		return false
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.ESTALE
	}
	return false
}

// ReadFile reads path, retrying stale file handle errors.
func ReadFile(ctx context.Context, path string, cfg Config) ([]byte, error) {
	var data []byte
	err := Do(ctx, cfg, "read", IsStale, func(context.Context) error {
		var err error
		data, err = os.ReadFile(path)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}
