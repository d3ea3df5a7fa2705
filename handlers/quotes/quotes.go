// Package quotes posts messages that collect enough 📷 reactions to the
// storybook channel.
package quotes

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/memorial36b/aaravosbot/model"
	"github.com/memorial36b/aaravosbot/telemetry"
	"github.com/memorial36b/aaravosbot/transport"
	"github.com/memorial36b/aaravosbot/utils"
)

const (
	CameraEmoji      = "📷"
	DefaultThreshold = 6
	quoteColor       = 0xFFD700
)

var ErrInvalidThreshold = errors.New("threshold must be at least 1")

type Store interface {
	IsQuoted(ctx context.Context, messageID string) (bool, error)
	AddQuoted(ctx context.Context, quoted model.QuotedMessage) error
}

// Quoter watches camera reactions. Work is serialized per message so
// concurrent reactions cannot quote the same message twice.
type Quoter struct {
	store     Store
	chat      transport.Chat
	channelID string
	threshold atomic.Int64
	locks     *utils.KeyedMutex
	now       func() time.Time
}

func NewQuoter(store Store, chat transport.Chat, storybookChannelID string, threshold int) *Quoter {
	q := &Quoter{
		store:     store,
		chat:      chat,
		channelID: storybookChannelID,
		locks:     utils.NewKeyedMutex(),
		now:       time.Now,
	}
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	q.threshold.Store(int64(threshold))
	return q
}

func (q *Quoter) Threshold() int {
	return int(q.threshold.Load())
}

// SetThreshold changes the number of cameras needed to quote a message.
func (q *Quoter) SetThreshold(n int) error {
	if n < 1 {
		return ErrInvalidThreshold
	}
	q.threshold.Store(int64(n))
	return nil
}

// OnReaction quotes the reacted message when its camera count is exactly the
// threshold. It reports whether a quote was posted.
func (q *Quoter) OnReaction(ctx context.Context, r *transport.Reaction) (bool, error) {
	if r.Emoji != CameraEmoji || r.GuildID == "" || q.channelID == "" {
		return false, nil
	}

	unlock := q.locks.Lock(r.MessageID)
	defer unlock()

	msg, err := q.chat.Message(ctx, r.ChannelID, r.MessageID)
	if err != nil {
		return false, fmt.Errorf("failed to fetch message %s: %w", r.MessageID, err)
	}
	// Only the reaction that lands exactly on the threshold quotes.
	if msg.ReactionCount(CameraEmoji) != q.Threshold() {
		return false, nil
	}

	quoted, err := q.store.IsQuoted(ctx, msg.ID)
	if err != nil || quoted {
		return false, err
	}

	channelName := r.ChannelID
	if ch, err := q.chat.Channel(ctx, r.ChannelID); err == nil {
		channelName = ch.Name
	}

	// Post, then remember it so the message is never quoted twice.
	if _, err := q.chat.SendEmbed(ctx, q.channelID, QuoteEmbed(msg, channelName)); err != nil {
		return false, fmt.Errorf("failed to post quote of message %s: %w", msg.ID, err)
	}
	if err := q.store.AddQuoted(ctx, model.QuotedMessage{
		ChannelID: msg.ChannelID,
		MessageID: msg.ID,
		QuotedAt:  q.now().Unix(),
	}); err != nil {
		return true, err
	}
	telemetry.Inc(telemetry.QuotesPosted)

	if err := q.chat.DeleteAllReactions(ctx, msg.ChannelID, msg.ID); err != nil {
		log.Printf("[Quotes] Failed to clear reactions on message %s: %v", msg.ID, err)
	}
	log.Printf("[Quotes] Quoted message %s from channel %s", msg.ID, msg.ChannelID)
	return true, nil
}

// QuoteEmbed renders a message for the storybook.
func QuoteEmbed(msg *transport.Message, channelName string) *transport.Embed {
	embed := &transport.Embed{
		Color:         quoteColor,
		AuthorName:    msg.Author.Distinct(),
		AuthorIconURL: msg.Author.AvatarURL,
		Description:   msg.Content,
		Footer:        "#" + channelName,
		Timestamp:     msg.Timestamp.UTC(),
	}
	if len(msg.Attachments) > 0 {
		embed.ImageURL = msg.Attachments[0].URL
	}
	return embed
}
