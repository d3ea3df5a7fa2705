package moderation

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/memorial36b/aaravosbot/limiter"
	"github.com/memorial36b/aaravosbot/model"
	"github.com/memorial36b/aaravosbot/telemetry"
	"github.com/memorial36b/aaravosbot/transport"
)

// floodScanLimit is how much channel history is searched for the flooder's
// messages.
const floodScanLimit = 50

// FloodGuard deletes a user's recent messages once they send too many inside
// the configured window.
type FloodGuard struct {
	limiter limiter.Limiter
	chat    transport.Chat

	mu       sync.RWMutex
	messages int
}

func NewFloodGuard(l limiter.Limiter, chat transport.Chat, s model.FloodSettings) *FloodGuard {
	return &FloodGuard{limiter: l, chat: chat, messages: s.Messages}
}

// FloodCapacity converts the message threshold into limiter capacity.
func FloodCapacity(s model.FloodSettings) (int, time.Duration) {
	return s.Messages - 1, time.Duration(s.Seconds) * time.Second
}

// OnMessage counts m against its author. When the author goes over the
// limit their window is reset and up to the configured number of their most
// recent messages in the channel, m included, are deleted.
func (f *FloodGuard) OnMessage(ctx context.Context, m *transport.Message) (int, error) {
	if m.Author.Bot || m.Private() {
		return 0, nil
	}
	if _, limited := f.limiter.Hit(ctx, m.Author.ID); !limited {
		return 0, nil
	}
	f.limiter.Reset(ctx, m.Author.ID)

	f.mu.RLock()
	limit := f.messages
	f.mu.RUnlock()

	history, err := f.chat.History(ctx, m.ChannelID, floodScanLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to scan history for flood by %s: %w", m.Author.ID, err)
	}

	var ids []string
	for _, h := range history {
		if len(ids) == limit {
			break
		}
		if h.Author.ID == m.Author.ID {
			ids = append(ids, h.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if err := f.chat.DeleteBulk(ctx, m.ChannelID, ids); err != nil {
		return 0, fmt.Errorf("failed to delete flood messages from %s: %w", m.Author.ID, err)
	}
	telemetry.Add(telemetry.FloodDeletions, len(ids))
	log.Printf("[Flood] Deleted %d messages from user %s in channel %s", len(ids), m.Author.ID, m.ChannelID)
	return len(ids), nil
}

// Reconfigure rebuilds the limiter in place and updates the deletion cap.
func (f *FloodGuard) Reconfigure(s model.FloodSettings) {
	f.mu.Lock()
	f.messages = s.Messages
	f.mu.Unlock()

	capacity, window := FloodCapacity(s)
	f.limiter.Reconfigure(capacity, window)
	log.Printf("[Flood] Reconfigured: %d messages in %d seconds", s.Messages, s.Seconds)
}
