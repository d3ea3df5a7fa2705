package moderation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/memorial36b/aaravosbot/model"
	"github.com/memorial36b/aaravosbot/tasks"
	"github.com/memorial36b/aaravosbot/telemetry"
	"github.com/memorial36b/aaravosbot/transport"
	"github.com/memorial36b/aaravosbot/utils"
	"github.com/memorial36b/aaravosbot/utils/database"
)

// MinMuteDuration is the shortest mute accepted.
const MinMuteDuration = 10 * time.Second

var (
	ErrNotMuted        = errors.New("user is not muted")
	ErrInvalidDuration = fmt.Errorf("mute duration must be at least %v", MinMuteDuration)
	ErrNotReady        = errors.New("mute records have not been restored yet")
)

// MuteStore is the persistence the mute manager needs.
type MuteStore interface {
	UpsertMuteRecord(ctx context.Context, record model.MuteRecord) error
	GetMuteRecord(ctx context.Context, userID string) (*model.MuteRecord, error)
	ListMuteRecords(ctx context.Context) ([]model.MuteRecord, error)
	DeleteMuteRecord(ctx context.Context, userID string) error
}

type muteTimer struct {
	handle tasks.Handle
	gen    uint64
}

// MuteManager owns timed mutes. Every persisted record has exactly one
// scheduled unmute once Restore has run.
type MuteManager struct {
	store     MuteStore
	chat      transport.Chat
	timers    Scheduler
	roles     Roles
	joinDelay time.Duration

	locks *utils.KeyedMutex

	mu      sync.Mutex
	handles map[string]muteTimer
	nextGen uint64

	ready atomic.Bool
	now   func() time.Time
}

func NewMuteManager(store MuteStore, chat transport.Chat, timers Scheduler, roles Roles, joinDelay time.Duration) *MuteManager {
	return &MuteManager{
		store:     store,
		chat:      chat,
		timers:    timers,
		roles:     roles,
		joinDelay: joinDelay,
		locks:     utils.NewKeyedMutex(),
		handles:   make(map[string]muteTimer),
		now:       time.Now,
	}
}

// Ready reports whether Restore has completed.
func (m *MuteManager) Ready() bool {
	return m.ready.Load()
}

// Scheduled returns the number of pending unmute timers.
func (m *MuteManager) Scheduled() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}

// Mute mutes userID for d, replacing any mute already running. The muted
// role is applied first so a failure leaves nothing behind.
func (m *MuteManager) Mute(ctx context.Context, userID string, d time.Duration) (model.MuteRecord, error) {
	if !m.Ready() {
		return model.MuteRecord{}, ErrNotReady
	}
	if d < MinMuteDuration {
		return model.MuteRecord{}, ErrInvalidDuration
	}

	unlock := m.locks.Lock(userID)
	defer unlock()

	if err := m.roles.Mute(ctx, m.chat, userID); err != nil {
		return model.MuteRecord{}, fmt.Errorf("failed to mute user %s: %w", userID, err)
	}

	// Persist, rolling the roles back if that fails.
	end := m.now().Add(d)
	record := model.MuteRecord{UserID: userID, EndTime: end.Unix()}
	if err := m.store.UpsertMuteRecord(ctx, record); err != nil {
		if revertErr := m.roles.Unmute(ctx, m.chat, userID); revertErr != nil {
			log.Printf("[Mute] Failed to revert roles for user %s after store error: %v", userID, revertErr)
		}
		return model.MuteRecord{}, err
	}

	// Replaces any timer from an earlier mute.
	m.schedule(userID, end, nil)
	log.Printf("[Mute] Muted user %s until %s", userID, end.UTC().Format(time.RFC3339))
	return record, nil
}

// Unmute lifts the mute on userID early.
func (m *MuteManager) Unmute(ctx context.Context, userID string) error {
	if !m.Ready() {
		return ErrNotReady
	}

	unlock := m.locks.Lock(userID)
	defer unlock()

	// Check the record exists.
	if _, err := m.store.GetMuteRecord(ctx, userID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return ErrNotMuted
		}
		return err
	}

	if err := m.roles.Unmute(ctx, m.chat, userID); err != nil {
		if !errors.Is(err, transport.ErrUnknownMember) {
			return fmt.Errorf("failed to unmute user %s: %w", userID, err)
		}
		log.Printf("[Mute] User %s is not in the server, clearing their mute anyway", userID)
	}

	// Drop the timer and the record together.
	m.cancel(userID)
	if err := m.store.DeleteMuteRecord(ctx, userID); err != nil {
		return err
	}
	log.Printf("[Mute] Unmuted user %s", userID)
	return nil
}

// IsMuted reports whether userID has a mute record.
func (m *MuteManager) IsMuted(ctx context.Context, userID string) (bool, error) {
	_, err := m.store.GetMuteRecord(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Restore schedules an unmute for every persisted record. Records already
// past due are expired before Restore returns, after which the manager
// accepts commands. It returns how many timers were scheduled and how many
// of them had already expired.
func (m *MuteManager) Restore(ctx context.Context) (scheduled, expired int, err error) {
	log.Println("[Mute] Restoring mute timers from database...")

	records, err := m.store.ListMuteRecords(ctx)
	if err != nil {
		return 0, 0, err
	}

	// Past-due records get a timer too and fire right away.
	now := m.now()
	var pastDue []chan struct{}
	for _, record := range records {
		unlock := m.locks.Lock(record.UserID)
		var done chan struct{}
		if !record.Ends().After(now) {
			done = make(chan struct{})
			pastDue = append(pastDue, done)
		}
		m.schedule(record.UserID, record.Ends(), done)
		unlock()
	}

	// Wait for the past-due unmutes before accepting commands.
	for _, done := range pastDue {
		select {
		case <-done:
		case <-ctx.Done():
			return len(records), 0, fmt.Errorf("failed to expire past-due mutes: %w", ctx.Err())
		}
	}

	m.ready.Store(true)
	log.Printf("[Mute] Restored %d mute timers, %d were past due", len(records), len(pastDue))
	return len(records), len(pastDue), nil
}

// OnMemberJoin re-applies the muted role to a returning member who is still
// muted. The unmute timer is left alone, and the re-mute is skipped if the
// record is gone by the time the delay ends.
func (m *MuteManager) OnMemberJoin(ctx context.Context, userID string) (bool, error) {
	muted, err := m.IsMuted(ctx, userID)
	if err != nil || !muted {
		return false, err
	}

	m.timers.After(m.joinDelay, func() {
		unlock := m.locks.Lock(userID)
		defer unlock()

		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()

		// The mute may have ended during the delay.
		if _, err := m.store.GetMuteRecord(ctx, userID); err != nil {
			if !errors.Is(err, database.ErrNotFound) {
				log.Printf("[Mute] Failed to re-check mute for rejoining user %s: %v", userID, err)
			}
			return
		}
		if err := m.roles.Mute(ctx, m.chat, userID); err != nil {
			log.Printf("[Mute] Failed to re-mute rejoining user %s: %v", userID, err)
			return
		}
		log.Printf("[Mute] Re-applied mute to rejoining user %s", userID)
	})
	return true, nil
}

// schedule replaces userID's unmute timer. The caller holds the user lock.
// done, if set, is closed once the expiry has run.
func (m *MuteManager) schedule(userID string, at time.Time, done chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.handles[userID]; ok {
		m.timers.Cancel(old.handle)
	}
	m.nextGen++
	gen := m.nextGen
	h := m.timers.ScheduleAt(at, func() {
		if done != nil {
			defer close(done)
		}
		m.expire(userID, gen)
	})
	m.handles[userID] = muteTimer{handle: h, gen: gen}
}

// cancel drops userID's timer. The caller holds the user lock.
func (m *MuteManager) cancel(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.handles[userID]; ok {
		m.timers.Cancel(t.handle)
		delete(m.handles, userID)
	}
}

// expire runs when a mute ends. A timer replaced after it started firing
// sees a different generation and does nothing.
func (m *MuteManager) expire(userID string, gen uint64) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	m.mu.Lock()
	t, ok := m.handles[userID]
	if !ok || t.gen != gen {
		m.mu.Unlock()
		return
	}
	delete(m.handles, userID)
	m.mu.Unlock()

	telemetry.Inc(telemetry.TimerCallbacks)

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	if err := m.roles.Unmute(ctx, m.chat, userID); err != nil {
		if errors.Is(err, transport.ErrUnknownMember) {
			log.Printf("[Mute] User %s left the server before their mute ended", userID)
		} else {
			log.Printf("[Mute] Failed to unmute user %s: %v", userID, err)
		}
	}

	// Delete the record even when the unmute failed.
	if err := m.store.DeleteMuteRecord(ctx, userID); err != nil {
		log.Printf("[Mute] Failed to delete mute record for user %s: %v", userID, err)
		return
	}
	log.Printf("[Mute] Mute for user %s ended", userID)
}
