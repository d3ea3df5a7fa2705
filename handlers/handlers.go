package handlers

import (
	"context"
	"log"

	"github.com/bwmarrin/discordgo"
	"github.com/memorial36b/aaravosbot/bot"
	"github.com/memorial36b/aaravosbot/transport"
	"github.com/memorial36b/aaravosbot/utils"
)

// Register builds the router for b and subscribes it to gateway events.
func Register(b *bot.Bot) *Router {
	r := NewRouter(Deps{
		Chat:    b.Chat,
		Events:  b.Chat.Awaiter,
		Contact: b.Contact,
		Mutes:   b.Mutes,
		Raid:    b.Raid,
		Flood:   b.Flood,
		Quotes:  b.Quotes,
		Guards:  b.Guards,
		Timers:  b.Timers,
		Config:  b,
		Latency: b.Session.HeartbeatLatency,
	})
	b.Raid.OnActivate = r.OnRaidActivated
	addHandlers(b, r)
	return r
}

func addHandlers(b *bot.Bot, r *Router) {
	b.Session.AddHandler(func(s *discordgo.Session, e *discordgo.Ready) {
		log.Printf("Logged in as: %v", transport.FromUser(e.User).Distinct())
		r.SetBotID(e.User.ID)
		utils.LogInfo(b.Chat, b.GetConfig().ModLogChannelID, "System", "Ready", "Connected to the gateway.")
	})
	b.Session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		defer cancel()
		r.OnMessage(ctx, transport.FromMessage(m.Message))
	})
	b.Session.AddHandler(func(s *discordgo.Session, e *discordgo.MessageReactionAdd) {
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		defer cancel()
		r.OnReaction(ctx, transport.FromReaction(e.MessageReaction))
	})
	b.Session.AddHandler(func(s *discordgo.Session, e *discordgo.GuildMemberAdd) {
		if e.GuildID != b.GetConfig().GuildID || e.User == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		defer cancel()
		r.OnMemberJoin(ctx, transport.FromUser(e.User))
	})
}
