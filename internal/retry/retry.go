package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Options configures exponential backoff for retries.
type Options struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// Default backoff settings used when opts are zero/invalid.
var Default = Options{
	MaxAttempts:  3,
	InitialDelay: 250 * time.Millisecond,
	MaxDelay:     5 * time.Second,
	Multiplier:   2.0,
	Jitter:       true,
}

type IsRetryableFunc func(error) bool

// retryAfterHinter is implemented by errors carrying a server back-off hint
// (e.g. a Retry-After header).
type retryAfterHinter interface {
	RetryAfterHint() time.Duration
}

// Do executes fn with retries and exponential backoff until it succeeds,
// context is done, or attempts are exhausted. Returns the last error.
func Do(ctx context.Context, opts Options, isRetryable IsRetryableFunc, fn func(context.Context) error) error {
	if opts.MaxAttempts <= 0 {
		opts = Default
	}
	if opts.Multiplier < 1 {
		opts.Multiplier = 1
	}
	attempt := 0
	backoff := opts.InitialDelay
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		// Stop if not retryable or attempts exhausted.
		if isRetryable != nil && !isRetryable(err) {
			return err
		}
		if attempt >= opts.MaxAttempts {
			return err
		}

		sleep := delay(backoff, opts, rng)
		// A server hint wins over our own schedule, still capped.
		var h retryAfterHinter
		if errors.As(err, &h) && h.RetryAfterHint() > sleep {
			sleep = h.RetryAfterHint()
			if opts.MaxDelay > 0 && sleep > opts.MaxDelay {
				sleep = opts.MaxDelay
			}
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		// Next backoff with overflow guard and cap.
		next := time.Duration(float64(backoff) * opts.Multiplier)
		if next < backoff {
			next = backoff
		}
		backoff = next
		if opts.MaxDelay > 0 && backoff > opts.MaxDelay {
			backoff = opts.MaxDelay
		}
	}
}

// delay applies +/-20% jitter (when enabled) and the MaxDelay cap.
func delay(backoff time.Duration, opts Options, rng *rand.Rand) time.Duration {
	sleep := backoff
	if opts.Jitter {
		d := float64(backoff) * 0.2
		j := (rng.Float64()*2 - 1) * d
		sleep = time.Duration(math.Max(0, float64(backoff)+j))
	}
	if opts.MaxDelay > 0 && sleep > opts.MaxDelay {
		sleep = opts.MaxDelay
	}
	return sleep
}
