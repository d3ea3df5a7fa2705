package limiter

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisWindow(t *testing.T, capacity int, window time.Duration) *RedisWindow {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client, err := NewRedisClient(context.Background(), addr)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return NewRedisWindow(client, "test-"+uuid.NewString(), capacity, window)
}

func TestRedisWindowBoundary(t *testing.T) {
	ctx := context.Background()
	r := newTestRedisWindow(t, 3, 10*time.Second)

	base := time.Now()
	offset := time.Duration(0)
	r.now = func() time.Time { return base.Add(offset) }

	for i := 0; i < 3; i++ {
		_, limited := r.Hit(ctx, "k")
		assert.False(t, limited, "hit %d", i+1)
		offset += time.Second
	}

	wait, limited := r.Hit(ctx, "k")
	assert.True(t, limited)
	assert.Equal(t, 7*time.Second, wait)

	offset += 7 * time.Second
	_, limited = r.Hit(ctx, "k")
	assert.False(t, limited)
}

func TestRedisWindowResetAndReconfigure(t *testing.T) {
	ctx := context.Background()
	r := newTestRedisWindow(t, 1, time.Minute)

	r.Hit(ctx, "k")
	_, limited := r.Hit(ctx, "k")
	assert.True(t, limited)

	r.Reset(ctx, "k")
	_, limited = r.Hit(ctx, "k")
	assert.False(t, limited)

	r.Reconfigure(1, time.Minute)
	_, limited = r.Hit(ctx, "k")
	assert.False(t, limited)
}
