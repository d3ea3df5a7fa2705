package moderation

import (
	"context"
	"time"

	"github.com/memorial36b/aaravosbot/tasks"
	"github.com/memorial36b/aaravosbot/transport"
)

// callTimeout bounds platform calls made from timer callbacks.
const callTimeout = 30 * time.Second

// Scheduler is the part of the timer service the guards use.
type Scheduler interface {
	ScheduleAt(at time.Time, fn func()) tasks.Handle
	After(d time.Duration, fn func()) tasks.Handle
	Cancel(h tasks.Handle) bool
}

// Roles swaps a member between the member and muted roles.
type Roles struct {
	MemberRoleID string
	MutedRoleID  string
}

// Mute adds the muted role and removes the member role.
func (r Roles) Mute(ctx context.Context, chat transport.Chat, userID string) error {
	return chat.ModifyRoles(ctx, userID, []string{r.MutedRoleID}, []string{r.MemberRoleID})
}

// Unmute adds the member role back and removes the muted role.
func (r Roles) Unmute(ctx context.Context, chat transport.Chat, userID string) error {
	return chat.ModifyRoles(ctx, userID, []string{r.MemberRoleID}, []string{r.MutedRoleID})
}
