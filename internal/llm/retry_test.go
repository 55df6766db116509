package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), 2, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryReturnsLastErrorAfterExhausted(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), 1, func(ctx context.Context) error {
		calls++
		return errors.New("permanent")
	})
	assert.Error(t, err)
	assert.Equal(t, 2, calls) // initial attempt + 1 retry
}

func TestWithRetryRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := withRetry(ctx, 3, func(ctx context.Context) error {
		t.Fatal("fn should not be invoked on an already-cancelled context")
		return nil
	})
	assert.Error(t, err)
}
