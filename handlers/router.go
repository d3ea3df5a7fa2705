package handlers

import (
	"context"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/memorial36b/aaravosbot/config"
	"github.com/memorial36b/aaravosbot/handlers/contact"
	"github.com/memorial36b/aaravosbot/handlers/moderation"
	"github.com/memorial36b/aaravosbot/handlers/quotes"
	"github.com/memorial36b/aaravosbot/model"
	"github.com/memorial36b/aaravosbot/tasks"
	"github.com/memorial36b/aaravosbot/transport"
	"github.com/memorial36b/aaravosbot/utils"
)

const eventTimeout = 30 * time.Second

// EventSink receives every event before routing so pending awaits can
// resolve.
type EventSink interface {
	HandleMessage(m *transport.Message) bool
	HandleReaction(r *transport.Reaction) bool
}

// Deps are the components the router dispatches to.
type Deps struct {
	Chat    transport.Chat
	Events  EventSink
	Contact *contact.Manager
	Mutes   *moderation.MuteManager
	Raid    *moderation.RaidGuard
	Flood   *moderation.FloodGuard
	Quotes  *quotes.Quoter
	Guards  *config.GuardStore
	Timers  *tasks.TimerService
	Config  model.BotConfigProvider
	// Latency reports the gateway heartbeat latency, if known.
	Latency func() time.Duration
}

// Router turns platform events into calls on the core components.
type Router struct {
	Deps
	selfID   atomic.Value // string
	commands map[string]command
}

func NewRouter(deps Deps) *Router {
	r := &Router{Deps: deps}
	r.selfID.Store("")
	r.commands = r.commandTable()
	return r
}

// SetBotID records the bot's own user ID once the gateway is ready.
func (r *Router) SetBotID(id string) {
	r.selfID.Store(id)
	r.Contact.SetBotID(id)
}

func (r *Router) isSelf(userID string) bool {
	id, _ := r.selfID.Load().(string)
	return id != "" && userID == id
}

func (r *Router) permissions() utils.Permissions {
	cfg := r.Config.GetConfig()
	p := utils.Permissions{
		OwnerID:    cfg.OwnerID,
		OwnerLevel: utils.ParseLevel(cfg.OwnerPermission),
	}
	if cfg.ModeratorRoleID != "" {
		p.ModeratorRoleIDs = []string{cfg.ModeratorRoleID}
	}
	if cfg.AdministratorRoleID != "" {
		p.AdministratorRoleIDs = []string{cfg.AdministratorRoleID}
	}
	return p
}

// OnMessage routes a newly created message.
func (r *Router) OnMessage(ctx context.Context, m *transport.Message) {
	if r.isSelf(m.Author.ID) {
		return
	}
	if r.Events != nil && r.Events.HandleMessage(m) {
		return
	}

	if m.Private() {
		if err := r.Contact.OnPrivateMessage(ctx, m); err != nil {
			log.Printf("[Contact] Failed to handle DM from user %s: %v", m.Author.ID, err)
		}
		return
	}
	if m.Author.Bot {
		return
	}

	if _, err := r.Contact.OnGroupMessage(ctx, m); err != nil {
		log.Printf("[Contact] Failed to relay message %s: %v", m.ID, err)
	}
	// A flood deletion swallows the message, command or not.
	if deleted, err := r.Flood.OnMessage(ctx, m); err != nil {
		log.Printf("[Flood] %v", err)
	} else if deleted > 0 {
		return
	}

	prefix := r.Config.GetConfig().CommandPrefix
	if strings.HasPrefix(m.Content, prefix) {
		r.runCommand(ctx, m, strings.TrimPrefix(m.Content, prefix))
	}
}

// OnReaction routes a reaction add.
func (r *Router) OnReaction(ctx context.Context, react *transport.Reaction) {
	if r.isSelf(react.UserID) {
		return
	}
	if r.Events != nil && r.Events.HandleReaction(react) {
		return
	}
	if _, err := r.Quotes.OnReaction(ctx, react); err != nil {
		log.Printf("[Quotes] %v", err)
	}
}

// OnMemberJoin re-applies an active mute and feeds the raid guard.
func (r *Router) OnMemberJoin(ctx context.Context, user transport.User) {
	if user.Bot {
		return
	}
	if _, err := r.Mutes.OnMemberJoin(ctx, user.ID); err != nil {
		log.Printf("[Mute] Failed to check rejoin of user %s: %v", user.ID, err)
	}
	r.Raid.OnJoin(ctx, user.ID)
}

// OnRaidActivated posts the raid warning to the mod log.
func (r *Router) OnRaidActivated() {
	cfg := r.Config.GetConfig()
	if cfg.ModLogChannelID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	if _, err := r.Chat.SendEmbed(ctx, cfg.ModLogChannelID, moderation.RaidEmbed(cfg.CommandPrefix)); err != nil {
		log.Printf("[Raid] Failed to post raid warning: %v", err)
	}
}
