package llm

import (
	"context"
	"time"
)

// withRetry runs fn up to maxRetries+1 times with exponential backoff.
// Every LLM call is retried uniformly: the provider SDKs don't expose a
// stable transient/permanent error taxonomy, so (unlike graphstore's
// write-conflict classification) we retry unconditionally up to the cap
// and surface the last error.
func withRetry(ctx context.Context, maxRetries int, fn func(ctx context.Context) error) error {
	var lastErr error
	attempts := maxRetries + 1

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < attempts-1 {
			backoff := 100 * time.Millisecond * time.Duration(1<<attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return lastErr
}
