package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
	}
}

func TestDo(t *testing.T) {
	tests := []struct {
		name         string
		failures     int
		attempts     int
		wantErr      bool
		wantObserved int
		wantCalls    int
	}{
		{
			name:         "succeeds first time",
			failures:     0,
			attempts:     3,
			wantObserved: 0,
			wantCalls:    1,
		},
		{
			name:         "fails twice then succeeds",
			failures:     2,
			attempts:     5,
			wantObserved: 2,
			wantCalls:    3,
		},
		{
			name:         "exhausts attempts",
			failures:     10,
			attempts:     3,
			wantErr:      true,
			wantObserved: 2,
			wantCalls:    3,
		},
		{
			name:         "zero attempts means a single try",
			failures:     1,
			attempts:     0,
			wantErr:      true,
			wantObserved: 0,
			wantCalls:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			var observed []error

			result, err := Do(context.Background(), fastPolicy(tt.attempts),
				func(ctx context.Context) (string, error) {
					calls++
					if calls <= tt.failures {
						return "", fmt.Errorf("attempt %d failed", calls)
					}
					return "ok", nil
				},
				func(err error) {
					observed = append(observed, err)
				},
			)

			assert.Equal(t, tt.wantCalls, calls)
			assert.Len(t, observed, tt.wantObserved)
			for i, obsErr := range observed {
				assert.EqualError(t, obsErr, fmt.Sprintf("attempt %d failed", i+1))
			}

			if tt.wantErr {
				require.Error(t, err)
				assert.EqualError(t, err, fmt.Sprintf("attempt %d failed", calls))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "ok", result)
		})
	}
}

func TestDo_Permanent(t *testing.T) {
	errFatal := errors.New("bad request")
	calls := 0

	_, err := Do(context.Background(), fastPolicy(5),
		func(ctx context.Context) (int, error) {
			calls++
			return 0, Permanent(errFatal)
		},
		nil,
	)

	require.Error(t, err)
	assert.ErrorIs(t, err, errFatal)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	policy := Policy{MaxAttempts: 10, InitialInterval: time.Hour, MaxInterval: time.Hour, Multiplier: 2}

	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, policy, func(ctx context.Context) (int, error) {
			return 0, errors.New("unavailable")
		}, func(error) {
			cancel()
		})
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not return after context cancellation")
	}
}

func TestPermanent_Nil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, p.InitialInterval)
	assert.Equal(t, 30*time.Second, p.MaxInterval)
	assert.InDelta(t, 2.0, p.Multiplier, 0.0001)
}
