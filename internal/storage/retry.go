package storage

import (
	"context"
	"time"
)

// Retry runs op, retrying transient backing-store failures with doubling
// delays. Domain errors (duplicate, not-found, status conflict) abort
// immediately; the last error is returned once attempts are exhausted.
func Retry(ctx context.Context, attempts int, base time.Duration, op func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	delay := base
	var err error
	for i := 0; i < attempts; i++ {
		if err = op(); err == nil || !IsTransient(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
