package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/docqa/backend/pkg/retry"
)

func TestNewClient_UnreachableServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Port 1 is reserved and refuses connections.
	_, err := NewClient(ctx, Config{
		Host:  "127.0.0.1",
		Port:  1,
		Retry: retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond},
	})
	assert.ErrorContains(t, err, "failed to connect to redis")
}
