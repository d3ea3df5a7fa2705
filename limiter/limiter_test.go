package limiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBucket(capacity int, window time.Duration) (*Bucket, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	b := NewBucket("test", capacity, window)
	b.now = clock.Now
	return b, clock
}

func TestBucketBoundary(t *testing.T) {
	ctx := context.Background()
	b, clock := newTestBucket(3, 10*time.Second)

	for i := 0; i < 3; i++ {
		_, limited := b.Hit(ctx, "k")
		assert.False(t, limited, "hit %d", i+1)
		clock.Advance(time.Second)
	}

	wait, limited := b.Hit(ctx, "k")
	assert.True(t, limited)
	assert.Equal(t, 7*time.Second, wait)

	// The first event leaves the window exactly 10s after it happened.
	clock.Advance(7 * time.Second)
	_, limited = b.Hit(ctx, "k")
	assert.False(t, limited)
}

func TestBucketLimitedHitsAreNotRecorded(t *testing.T) {
	ctx := context.Background()
	b, clock := newTestBucket(1, 10*time.Second)

	_, limited := b.Hit(ctx, "k")
	assert.False(t, limited)
	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
		_, limited = b.Hit(ctx, "k")
		assert.True(t, limited)
	}

	clock.Advance(5 * time.Second)
	_, limited = b.Hit(ctx, "k")
	assert.False(t, limited)
}

func TestBucketKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBucket(1, time.Minute)

	_, limited := b.Hit(ctx, "a")
	assert.False(t, limited)
	_, limited = b.Hit(ctx, "b")
	assert.False(t, limited)
	_, limited = b.Hit(ctx, "a")
	assert.True(t, limited)
}

func TestBucketReset(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBucket(1, time.Minute)

	b.Hit(ctx, "k")
	_, limited := b.Hit(ctx, "k")
	assert.True(t, limited)

	b.Reset(ctx, "k")
	_, limited = b.Hit(ctx, "k")
	assert.False(t, limited)
}

func TestBucketReconfigure(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBucket(1, time.Minute)

	b.Hit(ctx, "k")
	b.Reconfigure(2, 30*time.Second)

	capacity, window := b.Settings()
	assert.Equal(t, 2, capacity)
	assert.Equal(t, 30*time.Second, window)

	_, limited := b.Hit(ctx, "k")
	assert.False(t, limited)
	_, limited = b.Hit(ctx, "k")
	assert.False(t, limited)
	_, limited = b.Hit(ctx, "k")
	assert.True(t, limited)
}

func TestBucketZeroCapacityAlwaysLimits(t *testing.T) {
	b, _ := newTestBucket(0, time.Minute)
	wait, limited := b.Hit(context.Background(), "k")
	assert.True(t, limited)
	assert.Equal(t, time.Minute, wait)
}

func TestBucketCleanup(t *testing.T) {
	ctx := context.Background()
	b, clock := newTestBucket(5, 10*time.Second)

	b.Hit(ctx, "old")
	clock.Advance(8 * time.Second)
	b.Hit(ctx, "fresh")
	clock.Advance(3 * time.Second)

	assert.Equal(t, 1, b.Cleanup())
	assert.Equal(t, 0, b.Cleanup())
}

func TestBucketConcurrentHits(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBucket(50, time.Hour)

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, limited := b.Hit(ctx, "k"); !limited {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, accepted)
}
