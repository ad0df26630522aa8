package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fetchcore/internal/domain/model"
)

func fastPolicy(maxAttempts int) model.RetryPolicy {
	return model.RetryPolicy{
		MaxAttempts:   maxAttempts,
		InitialDelay:  time.Millisecond,
		BackoffFactor: 1.5,
		MaxDelay:      5 * time.Millisecond,
	}
}

func TestDoRetriesTransportErrorUntilSuccess(t *testing.T) {
	attempts := 0
	result, err := Do(context.Background(), fastPolicy(5), func(ctx context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", model.ErrTransport
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsImmediatelyOnNonRetriableError(t *testing.T) {
	attempts := 0
	_, err := Do(context.Background(), fastPolicy(5), func(ctx context.Context) (string, error) {
		attempts++
		return "", model.ErrCircuitOpen
	})

	assert.ErrorIs(t, err, model.ErrCircuitOpen)
	assert.Equal(t, 1, attempts)
}

func TestDoRespectsMaxAttempts(t *testing.T) {
	attempts := 0
	_, err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) (string, error) {
		attempts++
		return "", model.ErrTransport
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoWithZeroMaxAttemptsRunsOnce(t *testing.T) {
	attempts := 0
	_, err := Do(context.Background(), model.RetryPolicy{}, func(ctx context.Context) (string, error) {
		attempts++
		return "", model.ErrTransport
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDoStopsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	_, err := Do(ctx, fastPolicy(5), func(ctx context.Context) (string, error) {
		attempts++
		return "", model.ErrTransport
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled) || attempts <= 1)
}
