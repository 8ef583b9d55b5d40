package resilience

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/errors"
)

// WithTimeout runs fn under a deadline. When the deadline passes first the
// error matches both apperrors.ErrTimeout and context.DeadlineExceeded; fn
// keeps running in the background until it notices its context is done.
// A timeout <= 0 runs fn directly.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	ctx2, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx2) }()

	select {
	case err := <-done:
		return err
	case <-ctx2.Done():
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return fmt.Errorf("%s: %w: %w (limit %v)", name, apperrors.ErrTimeout, context.DeadlineExceeded, timeout)
}
