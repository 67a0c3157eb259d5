package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferencemesh/modelmesh/internal/core/status"
)

func TestDoSucceedsWithoutRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultPolicy(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	policy := &Policy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
	err := Do(context.Background(), policy, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	calls := 0
	policy := &Policy{MaxRetries: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, ErrorChecker: StatusErrorChecker{}}
	err := Do(context.Background(), policy, func() error {
		calls++
		return status.New(status.InvalidShape, "bad request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := &Policy{MaxRetries: 10, BaseDelay: 50 * time.Millisecond, MaxDelay: 50 * time.Millisecond}

	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, policy, func() error {
		return errors.New("always fails")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStatusErrorCheckerClassification(t *testing.T) {
	checker := StatusErrorChecker{}
	assert.True(t, checker.IsRetryable(status.New(status.ModelVersionNotLoadedYet, "loading")))
	assert.True(t, checker.IsRetryable(status.New(status.InternalError, "boom")))
	assert.False(t, checker.IsRetryable(status.New(status.InvalidShape, "bad")))
	assert.False(t, checker.IsRetryable(status.New(status.ModelVersionNotLoadedAnymore, "gone")))
}
