package limiter

import (
	"context"
	"sync"
	"time"
)

// Limiter is a keyed sliding-window rate limiter. Hit records one event for
// key and reports the remaining cooldown once the events inside the trailing
// window would exceed the capacity. Limited hits are not recorded.
type Limiter interface {
	Hit(ctx context.Context, key string) (wait time.Duration, limited bool)
	Reset(ctx context.Context, key string)
	Reconfigure(capacity int, window time.Duration)
	Cleanup() int
}

// Bucket is an in-memory Limiter keeping a log of event times per key.
type Bucket struct {
	name     string
	mu       sync.Mutex
	capacity int
	window   time.Duration
	events   map[string][]time.Time
	now      func() time.Time
}

// NewBucket creates an in-memory limiter allowing capacity events per window.
func NewBucket(name string, capacity int, window time.Duration) *Bucket {
	return &Bucket{
		name:     name,
		capacity: capacity,
		window:   window,
		events:   make(map[string][]time.Time),
		now:      time.Now,
	}
}

func (b *Bucket) Hit(_ context.Context, key string) (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	events := b.prune(b.events[key], now)
	if len(events) >= b.capacity {
		b.events[key] = events
		if len(events) == 0 {
			return b.window, true
		}
		return events[0].Add(b.window).Sub(now), true
	}
	b.events[key] = append(events, now)
	return 0, false
}

func (b *Bucket) Reset(_ context.Context, key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.events, key)
}

// Reconfigure swaps capacity and window together and drops in-flight counts.
func (b *Bucket) Reconfigure(capacity int, window time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.capacity = capacity
	b.window = window
	b.events = make(map[string][]time.Time)
}

// Settings returns the current capacity and window.
func (b *Bucket) Settings() (int, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity, b.window
}

// Keys returns the number of tracked keys.
func (b *Bucket) Keys() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Cleanup removes keys with no events left in the window and returns how
// many were removed.
func (b *Bucket) Cleanup() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	removed := 0
	for key, events := range b.events {
		if events = b.prune(events, now); len(events) == 0 {
			delete(b.events, key)
			removed++
		} else {
			b.events[key] = events
		}
	}
	return removed
}

func (b *Bucket) prune(events []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-b.window)
	i := 0
	for i < len(events) && !events[i].After(cutoff) {
		i++
	}
	return events[i:]
}
