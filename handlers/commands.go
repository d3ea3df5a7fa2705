package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/memorial36b/aaravosbot/config"
	"github.com/memorial36b/aaravosbot/handlers/contact"
	"github.com/memorial36b/aaravosbot/handlers/moderation"
	"github.com/memorial36b/aaravosbot/model"
	"github.com/memorial36b/aaravosbot/transport"
	"github.com/memorial36b/aaravosbot/utils"
)

const warnTimeout = 5 * time.Minute

type command struct {
	level utils.Level
	run   func(ctx context.Context, c *invocation) error
}

// invocation is one parsed command message.
type invocation struct {
	msg  *transport.Message
	args []string
	raw  string
}

// restAfter returns the raw argument text after the first n words.
func (c *invocation) restAfter(n int) string {
	s := strings.TrimSpace(c.raw)
	for i := 0; i < n && s != ""; i++ {
		idx := strings.IndexAny(s, " \t\n")
		if idx < 0 {
			return ""
		}
		s = strings.TrimSpace(s[idx:])
	}
	return s
}

func (r *Router) commandTable() map[string]command {
	return map[string]command{
		"mute":        {utils.ModeratorLevel, r.cmdMute},
		"unmute":      {utils.ModeratorLevel, r.cmdUnmute},
		"warn":        {utils.ModeratorLevel, r.cmdWarn},
		"purge":       {utils.ModeratorLevel, r.cmdPurge},
		"unraid":      {utils.ModeratorLevel, r.cmdUnraid},
		"raidconfig":  {utils.ModeratorLevel, r.cmdRaidConfig},
		"floodconfig": {utils.ModeratorLevel, r.cmdFloodConfig},
		"end":         {utils.ModeratorLevel, r.cmdEnd},
		"asbcams":     {utils.ModeratorLevel, r.cmdCams},
		"ping":        {utils.UserLevel, r.cmdPing},
		"sysinfo":     {utils.AdministratorLevel, r.cmdSysInfo},
	}
}

func (r *Router) runCommand(ctx context.Context, m *transport.Message, body string) {
	name, raw, _ := strings.Cut(strings.TrimSpace(body), " ")
	cmd, ok := r.commands[strings.ToLower(name)]
	if !ok {
		return
	}
	if !r.permissions().Has(m.Author.ID, m.MemberRoles, cmd.level) {
		log.Printf("User %s lacks %s permission for command %s", m.Author.ID, cmd.level, name)
		return
	}

	inv := &invocation{msg: m, args: utils.SplitArgs(raw), raw: raw}
	if err := cmd.run(ctx, inv); err != nil {
		log.Printf("Command %s from user %s failed: %v", name, m.Author.ID, err)
	}
}

func (r *Router) reply(ctx context.Context, c *invocation, format string, args ...any) error {
	_, err := r.Chat.Send(ctx, c.msg.ChannelID, fmt.Sprintf(format, args...))
	return err
}

// target resolves the first argument to a user.
func (r *Router) target(ctx context.Context, c *invocation) (*transport.User, error) {
	if len(c.args) == 0 {
		return nil, r.reply(ctx, c, "**Please specify a user.**")
	}
	id, ok := utils.ParseUserID(c.args[0])
	if !ok {
		return nil, r.reply(ctx, c, "**That's not a valid user.**")
	}
	user, err := r.Chat.User(ctx, id)
	if err != nil {
		return nil, r.reply(ctx, c, "**That's not a valid user.**")
	}
	return user, nil
}

func (r *Router) cmdMute(ctx context.Context, c *invocation) error {
	user, err := r.target(ctx, c)
	if user == nil {
		return err
	}
	if len(c.args) < 2 {
		return r.reply(ctx, c, "**Please specify a mute duration.**")
	}
	d, err := utils.ParseDuration(c.args[1])
	if err != nil {
		return r.reply(ctx, c, "**That's not a valid duration.** Use a format like `1d2h30m`.")
	}
	reason := c.restAfter(2)

	if _, err := r.Mutes.Mute(ctx, user.ID, d); err != nil {
		switch {
		case errors.Is(err, moderation.ErrInvalidDuration):
			return r.reply(ctx, c, "**Mutes must last at least %s.**", utils.FormatDuration(moderation.MinMuteDuration))
		case errors.Is(err, moderation.ErrNotReady):
			return r.reply(ctx, c, "**Mutes are still being restored. Try again in a moment.**")
		default:
			r.reply(ctx, c, "**Failed to mute %s.**", user.Distinct())
			return err
		}
	}

	cfg := r.Config.GetConfig()
	if cfg.ModLogChannelID != "" {
		if _, err := r.Chat.SendEmbed(ctx, cfg.ModLogChannelID, moderation.MuteEmbed(*user, c.msg.Author, d, reason)); err != nil {
			log.Printf("[Mute] Failed to post mute log for user %s: %v", user.ID, err)
		}
	}
	if cfg.MutedChannelID != "" {
		if _, err := r.Chat.Send(ctx, cfg.MutedChannelID, moderation.MuteNotice(*user, d, reason)); err != nil {
			log.Printf("[Mute] Failed to post mute notice for user %s: %v", user.ID, err)
		}
	}
	return r.reply(ctx, c, "**Muted %s for %s.**", user.Distinct(), utils.FormatDuration(d))
}

func (r *Router) cmdUnmute(ctx context.Context, c *invocation) error {
	user, err := r.target(ctx, c)
	if user == nil {
		return err
	}
	if err := r.Mutes.Unmute(ctx, user.ID); err != nil {
		if errors.Is(err, moderation.ErrNotMuted) {
			return r.reply(ctx, c, "**That user is not muted.**")
		}
		r.reply(ctx, c, "**Failed to unmute %s.**", user.Distinct())
		return err
	}
	utils.LogInfo(r.Chat, r.Config.GetConfig().ModLogChannelID, "Mute", "Unmute",
		fmt.Sprintf("%s was unmuted by %s", user.Mention(), c.msg.Author.Distinct()))
	return r.reply(ctx, c, "**Unmuted %s.**", user.Distinct())
}

func (r *Router) cmdWarn(ctx context.Context, c *invocation) error {
	user, err := r.target(ctx, c)
	if user == nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), warnTimeout+eventTimeout)
	defer cancel()
	_, err = moderation.Warn(ctx, r.Chat, moderation.WarnRequest{
		ChannelID:       c.msg.ChannelID,
		Moderator:       c.msg.Author,
		Target:          *user,
		ModLogChannelID: r.Config.GetConfig().ModLogChannelID,
		Timeout:         warnTimeout,
	})
	switch {
	case errors.Is(err, transport.ErrCanceled), errors.Is(err, transport.ErrTimeout):
		return r.reply(ctx, c, "**Canceled warning.**")
	case err != nil:
		r.reply(ctx, c, "**Failed to warn %s.**", user.Distinct())
		return err
	}
	return r.reply(ctx, c, "**Warned %s.**", user.Distinct())
}

func (r *Router) cmdPurge(ctx context.Context, c *invocation) error {
	if len(c.args) == 0 {
		return r.reply(ctx, c, "**Please specify how many messages to purge (1-%d).**", moderation.MaxPurge)
	}
	n, err := strconv.Atoi(c.args[0])
	if err != nil || n < 1 || n > moderation.MaxPurge {
		return r.reply(ctx, c, "**Purge count must be between 1 and %d.**", moderation.MaxPurge)
	}

	var filter moderation.PurgeFilter
	if len(c.args) > 1 {
		if id, ok := utils.ParseUserID(c.args[1]); ok {
			filter.UserID = id
		} else {
			filter.Text = c.args[1]
		}
	}

	if err := r.Chat.Delete(ctx, c.msg.ChannelID, c.msg.ID); err != nil {
		log.Printf("Failed to delete purge command message %s: %v", c.msg.ID, err)
	}
	deleted, err := moderation.Purge(ctx, r.Chat, c.msg.ChannelID, n, filter)
	if err != nil {
		r.reply(ctx, c, "**Failed to purge messages.**")
		return err
	}

	notice, err := r.Chat.Send(ctx, c.msg.ChannelID, fmt.Sprintf("**Deleted %s.**", utils.Plural(deleted, "message")))
	if err != nil {
		return err
	}
	r.Timers.After(5*time.Second, func() {
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		defer cancel()
		r.Chat.Delete(ctx, notice.ChannelID, notice.ID)
	})
	return nil
}

func (r *Router) cmdUnraid(ctx context.Context, c *invocation) error {
	unmuted, err := r.Raid.Disable(ctx)
	if errors.Is(err, moderation.ErrRaidInactive) {
		return r.reply(ctx, c, "**Raid mode is not active.**")
	}
	if err != nil {
		r.reply(ctx, c, "**Raid mode disabled, but some members could not be unmuted.**")
		return err
	}
	utils.LogInfo(r.Chat, r.Config.GetConfig().ModLogChannelID, "Raid", "Disable",
		fmt.Sprintf("Raid mode disabled by %s; %s unmuted", c.msg.Author.Distinct(), utils.Plural(unmuted, "member")))
	return r.reply(ctx, c, "**Raid mode disabled. Unmuted %s.**", utils.Plural(unmuted, "member"))
}

// guardSetting parses "set <field> <n>".
func guardSetting(args []string, fields ...string) (string, int, bool) {
	if len(args) != 3 || strings.ToLower(args[0]) != "set" {
		return "", 0, false
	}
	field := strings.ToLower(args[1])
	n, err := strconv.Atoi(args[2])
	if err != nil {
		return "", 0, false
	}
	for _, f := range fields {
		if f == field {
			return field, n, true
		}
	}
	return "", 0, false
}

func (r *Router) cmdRaidConfig(ctx context.Context, c *invocation) error {
	if len(c.args) == 0 || strings.EqualFold(c.args[0], "check") {
		s := r.Guards.Load().Raid
		return r.reply(ctx, c, "**Raid mode triggers when %d users join within %d seconds.**", s.Users, s.Seconds)
	}
	field, n, ok := guardSetting(c.args, "users", "seconds")
	if !ok {
		return r.reply(ctx, c, "**Usage:** `raidconfig check` or `raidconfig set users|seconds <number>`")
	}

	s, err := r.Guards.MutateAndApply(func(s *model.GuardSettings) error {
		if field == "users" {
			s.Raid.Users = n
		} else {
			s.Raid.Seconds = n
		}
		return nil
	}, func(s model.GuardSettings) {
		r.Raid.Reconfigure(s.Raid)
	})
	if err != nil {
		return r.replyGuardError(ctx, c, err)
	}
	return r.reply(ctx, c, "**Raid mode now triggers when %d users join within %d seconds.**", s.Raid.Users, s.Raid.Seconds)
}

func (r *Router) cmdFloodConfig(ctx context.Context, c *invocation) error {
	if len(c.args) == 0 || strings.EqualFold(c.args[0], "check") {
		s := r.Guards.Load().Flood
		return r.reply(ctx, c, "**Flood deletion triggers at %d messages within %d seconds.**", s.Messages, s.Seconds)
	}
	field, n, ok := guardSetting(c.args, "messages", "seconds")
	if !ok {
		return r.reply(ctx, c, "**Usage:** `floodconfig check` or `floodconfig set messages|seconds <number>`")
	}

	s, err := r.Guards.MutateAndApply(func(s *model.GuardSettings) error {
		if field == "messages" {
			s.Flood.Messages = n
		} else {
			s.Flood.Seconds = n
		}
		return nil
	}, func(s model.GuardSettings) {
		r.Flood.Reconfigure(s.Flood)
	})
	if err != nil {
		return r.replyGuardError(ctx, c, err)
	}
	return r.reply(ctx, c, "**Flood deletion now triggers at %d messages within %d seconds.**", s.Flood.Messages, s.Flood.Seconds)
}

func (r *Router) replyGuardError(ctx context.Context, c *invocation, err error) error {
	if errors.Is(err, config.ErrInvalidGuardSettings) {
		return r.reply(ctx, c, "**Invalid setting:** %v", err)
	}
	r.reply(ctx, c, "**Failed to save the setting.**")
	return err
}

func (r *Router) cmdEnd(ctx context.Context, c *invocation) error {
	err := r.Contact.End(ctx, c.msg.ChannelID, c.msg.Author)
	if errors.Is(err, contact.ErrNotContactChannel) {
		return r.reply(ctx, c, "**This isn't a staff contact channel.**")
	}
	if err != nil {
		r.reply(ctx, c, "**Failed to end the chat session. Try again.**")
		return err
	}
	return nil
}

func (r *Router) cmdCams(ctx context.Context, c *invocation) error {
	if len(c.args) == 0 {
		return r.reply(ctx, c, "**Messages need %d camera reactions to be quoted.**", r.Quotes.Threshold())
	}
	n, err := strconv.Atoi(c.args[0])
	if err != nil || r.Quotes.SetThreshold(n) != nil {
		return r.reply(ctx, c, "**The camera count must be a positive number.**")
	}
	return r.reply(ctx, c, "**Set number of camera reactions required to quote a message to %d.**", n)
}

func (r *Router) cmdPing(ctx context.Context, c *invocation) error {
	start := time.Now()
	msg, err := r.Chat.Send(ctx, c.msg.ChannelID, "**Ping!**")
	if err != nil {
		return err
	}
	_, err = r.Chat.Edit(ctx, msg.ChannelID, msg.ID, fmt.Sprintf("**Pong!** Time taken: %dms", time.Since(start).Milliseconds()))
	return err
}
