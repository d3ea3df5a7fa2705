package bot

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/memorial36b/aaravosbot/limiter"
)

// BotProvider defines the methods the scheduler needs from the Bot.
type BotProvider interface {
	Limiters() []limiter.Limiter
	RefreshGauges(ctx context.Context)
}

// Scheduler runs the periodic housekeeping tasks.
type Scheduler struct {
	bot             BotProvider
	done            chan struct{}
	stopOnce        sync.Once
	wg              sync.WaitGroup
	cleanupInterval time.Duration
	gaugeInterval   time.Duration
}

// NewScheduler creates a new scheduler.
func NewScheduler(bot BotProvider) *Scheduler {
	return &Scheduler{
		bot:             bot,
		done:            make(chan struct{}),
		cleanupInterval: 10 * time.Minute,
		gaugeInterval:   time.Minute,
	}
}

// Start begins all scheduled tasks.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.startScheduledTasks()
}

// Stop terminates all scheduled tasks gracefully. It is safe to call before
// Start and more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		log.Println("Stopping scheduler...")
		close(s.done)
		s.wg.Wait()
		log.Println("Scheduler stopped.")
	})
}

func (s *Scheduler) startScheduledTasks() {
	defer s.wg.Done()
	cleanupTicker := time.NewTicker(s.cleanupInterval)
	gaugeTicker := time.NewTicker(s.gaugeInterval)
	defer cleanupTicker.Stop()
	defer gaugeTicker.Stop()

	s.refreshGauges()
	for {
		select {
		case <-cleanupTicker.C:
			s.cleanupLimiters()
		case <-gaugeTicker.C:
			s.refreshGauges()
		case <-s.done:
			return
		}
	}
}

func (s *Scheduler) cleanupLimiters() {
	removed := 0
	for _, l := range s.bot.Limiters() {
		removed += l.Cleanup()
	}
	if removed > 0 {
		log.Printf("Pruned %d idle rate limit keys", removed)
	}
}

func (s *Scheduler) refreshGauges() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.bot.RefreshGauges(ctx)
}
