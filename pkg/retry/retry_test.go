package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(maxRetries int) *Config {
	return &Config{
		MaxRetries:    maxRetries,
		BackoffFactor: 2,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
	}
}

func TestRetrier_Do(t *testing.T) {
	transient := errors.New("transient")
	fatal := errors.New("fatal")

	tests := []struct {
		name         string
		maxRetries   int
		failures     int
		failWith     error
		wantErr      error
		wantAttempts int
	}{
		{name: "first try", maxRetries: 3, failures: 0, wantAttempts: 1},
		{name: "succeeds after retries", maxRetries: 3, failures: 2, failWith: transient, wantAttempts: 3},
		{name: "retries exhausted", maxRetries: 2, failures: 10, failWith: transient, wantErr: transient, wantAttempts: 3},
		{name: "permanent stops at once", maxRetries: 5, failures: 10, failWith: Permanent(fatal), wantErr: fatal, wantAttempts: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := NewRetrier(fastConfig(tt.maxRetries)).Do(context.Background(), func() error {
				attempts++
				if attempts <= tt.failures {
					return tt.failWith
				}
				return nil
			})

			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantAttempts, attempts)
		})
	}
}

func TestRetrier_PermanentUnwraps(t *testing.T) {
	fatal := errors.New("fatal")
	err := NewRetrier(fastConfig(3)).Do(context.Background(), func() error {
		return Permanent(fatal)
	})

	assert.Same(t, fatal, err)
	assert.Nil(t, Permanent(nil))
}

func TestRetrier_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	retrier := NewRetrier(&Config{MaxRetries: 5, BackoffFactor: 2, InitialDelay: time.Second, MaxDelay: time.Second})

	err := retrier.Do(ctx, func() error {
		cancel()
		return errors.New("operation error after cancel")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetrier_BackoffIsCapped(t *testing.T) {
	config := &Config{
		MaxRetries:    3,
		BackoffFactor: 10,
		InitialDelay:  10 * time.Millisecond,
		MaxDelay:      20 * time.Millisecond,
	}

	start := time.Now()
	_ = NewRetrier(config).Do(context.Background(), func() error { return errors.New("error") })
	elapsed := time.Since(start)

	// 10ms, then 20ms twice because of the cap.
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}
