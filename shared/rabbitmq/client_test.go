package rabbitmq

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newDisconnectedClient(cfg *Config) *Client {
	return &Client{
		config:   cfg,
		logger:   slog.New(slog.DiscardHandler),
		declared: make(map[string]struct{}),
	}
}

func TestClient_PublishPolicy(t *testing.T) {
	tests := []struct {
		name         string
		config       *Config
		wantAttempts int
		wantInitial  time.Duration
		wantMult     float64
	}{
		{
			name:         "defaults",
			config:       &Config{},
			wantAttempts: 4,
			wantInitial:  100 * time.Millisecond,
			wantMult:     2.0,
		},
		{
			name:         "configured",
			config:       &Config{PublishRetries: 5, PublishRetryDelay: time.Second, PublishBackoffMult: 1.5},
			wantAttempts: 6,
			wantInitial:  time.Second,
			wantMult:     1.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := newDisconnectedClient(tt.config).publishPolicy()
			assert.Equal(t, tt.wantAttempts, policy.MaxAttempts)
			assert.Equal(t, tt.wantInitial, policy.InitialInterval)
			assert.Equal(t, tt.wantMult, policy.Multiplier)
			assert.GreaterOrEqual(t, policy.MaxInterval, policy.InitialInterval)
		})
	}
}

func TestClient_NotConnected(t *testing.T) {
	c := newDisconnectedClient(&Config{ExchangeName: "helix"})
	ctx := context.Background()

	assert.ErrorIs(t, c.PublishTo(ctx, "q", []byte("{}"), "application/json"), ErrNotConnected)
	assert.ErrorIs(t, c.PublishWithRetry(ctx, []byte("{}"), "application/json"), ErrNotConnected)
	assert.ErrorIs(t, c.DeclareQueue("ubuntu.2204"), ErrNotConnected)
	assert.ErrorIs(t, c.SetQos(10), ErrNotConnected)

	_, err := c.Consume("worker-1")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, c.IsConnected())
	assert.ErrorIs(t, c.HealthCheck(ctx), ErrNotConnected)
}
