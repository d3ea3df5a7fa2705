package tasks

import (
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handle identifies one scheduled callback.
type Handle string

// TimerService runs callbacks once at a point in time. It holds no durable
// state; owners re-register their timers on startup.
type TimerService struct {
	mu      sync.Mutex
	timers  map[Handle]*time.Timer
	wg      sync.WaitGroup
	stopped bool
	now     func() time.Time
}

// NewTimerService creates an empty timer service.
func NewTimerService() *TimerService {
	return &TimerService{
		timers: make(map[Handle]*time.Timer),
		now:    time.Now,
	}
}

// ScheduleAt registers fn to run once at the given time. Past times run
// immediately. A stopped service returns an empty handle and never runs fn.
func (t *TimerService) ScheduleAt(at time.Time, fn func()) Handle {
	return t.After(at.Sub(t.now()), fn)
}

// After registers fn to run once after d.
func (t *TimerService) After(d time.Duration, fn func()) Handle {
	if d < 0 {
		d = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		log.Printf("[Timer] Service stopped, dropping callback scheduled in %v", d)
		return ""
	}

	h := Handle(uuid.NewString())
	// fire takes the lock, so a zero delay cannot run before the map entry exists.
	t.timers[h] = time.AfterFunc(d, func() { t.fire(h, fn) })
	return h
}

// Cancel stops the callback behind h. It reports whether the callback was
// still pending; once Cancel returns true the callback never runs.
func (t *TimerService) Cancel(h Handle) bool {
	if h == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	timer, ok := t.timers[h]
	if !ok {
		return false
	}
	timer.Stop()
	delete(t.timers, h)
	return true
}

// Scheduled reports whether h is still waiting to fire.
func (t *TimerService) Scheduled(h Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.timers[h]
	return ok
}

// Pending returns the number of callbacks waiting to fire.
func (t *TimerService) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}

// Stop cancels every pending callback and waits for running ones to return.
func (t *TimerService) Stop() {
	t.mu.Lock()
	t.stopped = true
	for h, timer := range t.timers {
		timer.Stop()
		delete(t.timers, h)
	}
	t.mu.Unlock()

	t.wg.Wait()
	log.Println("[Timer] Timer service stopped.")
}

func (t *TimerService) fire(h Handle, fn func()) {
	// A missing entry means Cancel or Stop won.
	t.mu.Lock()
	if _, ok := t.timers[h]; !ok {
		t.mu.Unlock()
		return
	}
	delete(t.timers, h)
	t.wg.Add(1)
	t.mu.Unlock()

	// Run outside the lock so fn may schedule or cancel.
	defer t.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Timer] Callback %s panicked: %v\n%s", h, r, debug.Stack())
		}
	}()
	fn()
}
