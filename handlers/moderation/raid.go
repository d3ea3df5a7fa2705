package moderation

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/memorial36b/aaravosbot/limiter"
	"github.com/memorial36b/aaravosbot/model"
	"github.com/memorial36b/aaravosbot/telemetry"
	"github.com/memorial36b/aaravosbot/transport"
)

const joinKey = "join"

var ErrRaidInactive = errors.New("raid mode is not active")

// RaidGuard turns raid mode on when too many members join inside the
// configured window, then mutes every later joiner until raid mode is
// disabled. Raid state is not persisted.
type RaidGuard struct {
	limiter limiter.Limiter
	chat    transport.Chat
	timers  Scheduler
	roles   Roles
	delay   time.Duration

	// OnActivate is called once each time raid mode switches on.
	OnActivate func()

	mu     sync.Mutex
	active bool
	roster []string
	listed map[string]bool
	// epoch counts Disable calls.
	epoch uint64
}

// NewRaidGuard creates an inactive guard. delay postpones the mute of each
// joiner so other bots assigning join roles finish first.
func NewRaidGuard(l limiter.Limiter, chat transport.Chat, timers Scheduler, roles Roles, delay time.Duration) *RaidGuard {
	return &RaidGuard{
		limiter: l,
		chat:    chat,
		timers:  timers,
		roles:   roles,
		delay:   delay,
		listed:  make(map[string]bool),
	}
}

// RaidCapacity converts the user threshold into limiter capacity: the join
// that reaches the threshold is the first one over capacity.
func RaidCapacity(s model.RaidSettings) (int, time.Duration) {
	return s.Users - 1, time.Duration(s.Seconds) * time.Second
}

// OnJoin handles one member join and reports whether it switched raid mode on.
func (r *RaidGuard) OnJoin(ctx context.Context, userID string) bool {
	r.mu.Lock()
	// Already in raid mode: roster the joiner and mute them.
	if r.active {
		if !r.listed[userID] {
			r.listed[userID] = true
			r.roster = append(r.roster, userID)
		}
		r.mu.Unlock()
		r.muteJoiner(userID)
		return false
	}

	// The join that goes over capacity switches raid mode on.
	_, limited := r.limiter.Hit(ctx, joinKey)
	if limited {
		r.active = true
		r.limiter.Reset(ctx, joinKey)
	}
	r.mu.Unlock()

	if limited {
		log.Println("[Raid] Raid mode activated")
		telemetry.Inc(telemetry.RaidActivations)
		telemetry.UpdateRaidGauge(true)
		if r.OnActivate != nil {
			r.OnActivate()
		}
	}
	return limited
}

func (r *RaidGuard) muteJoiner(userID string) {
	apply := func() {
		// Disable may have run while the delay was pending.
		r.mu.Lock()
		if !r.active || !r.listed[userID] {
			r.mu.Unlock()
			return
		}
		epoch := r.epoch
		r.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		if err := r.roles.Mute(ctx, r.chat, userID); err != nil {
			log.Printf("[Raid] Failed to mute joining user %s: %v", userID, err)
			return
		}

		// Disable ran during the call and may have unmuted first, so undo.
		r.mu.Lock()
		disabled := r.epoch != epoch
		r.mu.Unlock()
		if disabled {
			if err := r.roles.Unmute(ctx, r.chat, userID); err != nil {
				log.Printf("[Raid] Failed to undo mute of user %s: %v", userID, err)
			}
			return
		}
		log.Printf("[Raid] Muted joining user %s", userID)
	}

	if r.delay > 0 {
		r.timers.After(r.delay, apply)
		return
	}
	apply()
}

// Disable turns raid mode off and unmutes every roster member still in the
// server. It returns how many were unmuted.
func (r *RaidGuard) Disable(ctx context.Context) (int, error) {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return 0, ErrRaidInactive
	}
	// Take the roster and reset state before any platform call.
	roster := r.roster
	r.roster = nil
	r.listed = make(map[string]bool)
	r.active = false
	r.epoch++
	r.mu.Unlock()
	telemetry.UpdateRaidGauge(false)

	unmuted := 0
	for _, userID := range roster {
		err := r.roles.Unmute(ctx, r.chat, userID)
		switch {
		case err == nil:
			unmuted++
		case errors.Is(err, transport.ErrUnknownMember):
			log.Printf("[Raid] Roster user %s already left", userID)
		default:
			log.Printf("[Raid] Failed to unmute roster user %s: %v", userID, err)
		}
	}

	log.Printf("[Raid] Raid mode disabled, unmuted %d users", unmuted)
	return unmuted, nil
}

// Active reports whether raid mode is on.
func (r *RaidGuard) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Roster returns the users muted by the current raid, in join order.
func (r *RaidGuard) Roster() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.roster...)
}

// Reconfigure rebuilds the join limiter in place. Joins counted so far are
// dropped.
func (r *RaidGuard) Reconfigure(s model.RaidSettings) {
	capacity, window := RaidCapacity(s)
	r.limiter.Reconfigure(capacity, window)
	log.Printf("[Raid] Reconfigured: %d users in %d seconds", s.Users, s.Seconds)
}
