package moderation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/memorial36b/aaravosbot/transport"
	"github.com/memorial36b/aaravosbot/utils"
)

const (
	cancelEmoji = "❌"
	// MaxPurge is the most messages a purge scans.
	MaxPurge   = 100
	embedColor = 0xFFD700
)

// WarnRequest describes one interactive warning.
type WarnRequest struct {
	ChannelID       string
	Moderator       transport.User
	Target          transport.User
	ModLogChannelID string
	Timeout         time.Duration
}

// Warn prompts the moderator for the warning text, then DMs it to the target
// and logs it. The prompt and the reply are deleted afterwards. A cancel
// reaction returns transport.ErrCanceled and no reply in time returns
// transport.ErrTimeout.
func Warn(ctx context.Context, chat transport.Chat, req WarnRequest) (string, error) {
	prompt, err := chat.Send(ctx, req.ChannelID, "**What should the warning message be?** Press "+cancelEmoji+" to cancel.")
	if err != nil {
		return "", err
	}
	defer deleteQuietly(chat, prompt)

	if err := chat.React(ctx, prompt.ChannelID, prompt.ID, cancelEmoji); err != nil {
		log.Printf("[Warn] Failed to add cancel reaction: %v", err)
	}

	reply, err := transport.AwaitReply(ctx, chat, prompt, req.Moderator.ID, cancelEmoji, req.Timeout)
	if err != nil {
		return "", err
	}
	defer deleteQuietly(chat, reply)

	reason := strings.TrimSpace(reply.Content)
	if reason == "" {
		return "", errors.New("warning message is empty")
	}

	if req.ModLogChannelID != "" {
		if _, err := chat.SendEmbed(ctx, req.ModLogChannelID, WarnEmbed(req.Target, req.Moderator, reason)); err != nil {
			log.Printf("[Warn] Failed to post warning log for user %s: %v", req.Target.ID, err)
		}
	}

	utils.SendPrivateMessage(ctx, chat, req.Target.ID,
		"**You've received a warning from one of the staff members.**\n**Reason:** "+reason)
	return reason, nil
}

// PurgeFilter narrows a purge to one author or to messages containing Text.
// The zero value deletes everything scanned.
type PurgeFilter struct {
	UserID string
	Text   string
}

func (f PurgeFilter) match(m *transport.Message) bool {
	switch {
	case f.UserID != "":
		return m.Author.ID == f.UserID
	case f.Text != "":
		return strings.Contains(strings.ToLower(m.Content), strings.ToLower(f.Text))
	default:
		return true
	}
}

// Purge scans the last scan messages of a channel and deletes those matching
// filter. It returns how many were deleted.
func Purge(ctx context.Context, chat transport.Chat, channelID string, scan int, filter PurgeFilter) (int, error) {
	if scan < 1 || scan > MaxPurge {
		return 0, fmt.Errorf("purge count must be between 1 and %d", MaxPurge)
	}

	history, err := chat.History(ctx, channelID, scan)
	if err != nil {
		return 0, err
	}

	var ids []string
	for _, m := range history {
		if filter.match(m) {
			ids = append(ids, m.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := chat.DeleteBulk(ctx, channelID, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// MuteEmbed is the mod-log entry for a mute.
func MuteEmbed(target, moderator transport.User, d time.Duration, reason string) *transport.Embed {
	return &transport.Embed{
		AuthorName:    "MUTE | User: " + target.Distinct(),
		AuthorIconURL: target.AvatarURL,
		Description: fmt.Sprintf("🔇 **%s was muted for %s.**%s\n\n**Muted by:** %s (%s)",
			target.Mention(), utils.FormatDuration(d), reasonLine(reason), moderator.Mention(), moderator.Distinct()),
		Timestamp: time.Now(),
		Color:     embedColor,
	}
}

// MuteNotice is posted to the muted channel for the muted user.
func MuteNotice(target transport.User, d time.Duration, reason string) string {
	return fmt.Sprintf("**%s, you've been muted for %s.**%s", target.Mention(), utils.FormatDuration(d), reasonLine(reason))
}

// WarnEmbed is the mod-log entry for a warning.
func WarnEmbed(target, moderator transport.User, reason string) *transport.Embed {
	return &transport.Embed{
		AuthorName:    "WARNING | User: " + target.Distinct(),
		AuthorIconURL: target.AvatarURL,
		Description: fmt.Sprintf("⚠ **%s was issued a warning by %s.**\n**Reason:** %s\n\n**Issued by:** %s (%s)",
			target.Mention(), moderator.Mention(), reason, moderator.Mention(), moderator.Distinct()),
		Timestamp: time.Now(),
		Color:     embedColor,
	}
}

// RaidEmbed is posted to the mod log when raid mode switches on.
func RaidEmbed(prefix string) *transport.Embed {
	return &transport.Embed{
		Title:       "🚨 Raid mode activated",
		Description: "New members are being muted as they join.\nUse `" + prefix + "unraid` to disable raid mode and unmute them.",
		Timestamp:   time.Now(),
		Color:       0xE74C3C,
	}
}

func reasonLine(reason string) string {
	if reason == "" {
		return ""
	}
	return "\n**Reason:** " + reason
}

func deleteQuietly(chat transport.Chat, m *transport.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := chat.Delete(ctx, m.ChannelID, m.ID); err != nil {
		log.Printf("Failed to delete temporary message %s: %v", m.ID, err)
	}
}
