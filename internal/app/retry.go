package service

import (
	"context"
	"time"
)

// retry runs fn up to attempts times, doubling the delay between tries up to
// max. The last error is returned.
func retry(ctx context.Context, attempts int, initial, maxDelay time.Duration, fn func() error) error {
	if attempts <= 1 {
		return fn()
	}
	d := initial
	var err error
	for i := range attempts {
		if i > 0 {
			t := time.NewTimer(d)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
			d = min(d*2, maxDelay)
		}
		if err = fn(); err == nil {
			return nil
		}
	}
	return err
}
