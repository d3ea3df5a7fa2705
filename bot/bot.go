package bot

import (
	"context"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/memorial36b/aaravosbot/config"
	"github.com/memorial36b/aaravosbot/handlers/contact"
	"github.com/memorial36b/aaravosbot/handlers/moderation"
	"github.com/memorial36b/aaravosbot/handlers/quotes"
	"github.com/memorial36b/aaravosbot/limiter"
	"github.com/memorial36b/aaravosbot/model"
	"github.com/memorial36b/aaravosbot/tasks"
	"github.com/memorial36b/aaravosbot/telemetry"
	"github.com/memorial36b/aaravosbot/transport"
	"github.com/memorial36b/aaravosbot/utils/database"
	"github.com/redis/go-redis/v9"
)

type Bot struct {
	Session *discordgo.Session
	Chat    *transport.Discord
	Store   *database.Store
	Timers  *tasks.TimerService
	Guards  *config.GuardStore

	Mutes   *moderation.MuteManager
	Raid    *moderation.RaidGuard
	Flood   *moderation.FloodGuard
	Contact *contact.Manager
	Quotes  *quotes.Quoter

	config    atomic.Value // *model.Config
	limiters  []limiter.Limiter
	redis     *redis.Client
	scheduler *Scheduler
	metrics   *http.Server
}

func (b *Bot) GetConfig() *model.Config {
	return b.config.Load().(*model.Config)
}

// Limiters returns the rate limiters the scheduler prunes.
func (b *Bot) Limiters() []limiter.Limiter {
	return b.limiters
}

func New(cfg *model.Config, store *database.Store) (*Bot, error) {
	dg, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, err
	}
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsDirectMessageReactions |
		discordgo.IntentMessageContent

	guards, err := config.OpenGuardStore(config.GuardSettingsPath(cfg))
	if err != nil {
		return nil, err
	}

	telemetry.Init()

	b := &Bot{
		Session: dg,
		Chat:    transport.NewDiscord(dg, cfg.GuildID),
		Store:   store,
		Timers:  tasks.NewTimerService(),
		Guards:  guards,
	}
	b.config.Store(cfg)

	if cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rdb, err := limiter.NewRedisClient(ctx, cfg.RedisAddr)
		cancel()
		if err != nil {
			log.Printf("Redis unavailable, using in-memory rate limits: %v", err)
		} else {
			b.redis = rdb
		}
	}

	settings := guards.Load()
	raidCapacity, raidWindow := moderation.RaidCapacity(settings.Raid)
	floodCapacity, floodWindow := moderation.FloodCapacity(settings.Flood)
	raidLimiter := b.newLimiter("raid", raidCapacity, raidWindow)
	floodLimiter := b.newLimiter("flood", floodCapacity, floodWindow)

	roles := moderation.Roles{MemberRoleID: cfg.MemberRoleID, MutedRoleID: cfg.MutedRoleID}
	b.Mutes = moderation.NewMuteManager(store, b.Chat, b.Timers, roles, cfg.JoinRoleDelay)
	b.Raid = moderation.NewRaidGuard(raidLimiter, b.Chat, b.Timers, roles, cfg.JoinRoleDelay)
	b.Flood = moderation.NewFloodGuard(floodLimiter, b.Chat, settings.Flood)
	b.Contact = contact.NewManager(store, b.Chat, b.Timers, contact.Config{
		StaffCategoryID:  cfg.StaffCategoryID,
		ChatLogChannelID: cfg.ChatLogChannelID,
		EndCommand:       cfg.CommandPrefix + "end",
		ConfirmTimeout:   cfg.ContactConfirmTimeout,
		DeleteGrace:      cfg.ContactDeleteGrace,
	})
	b.Quotes = quotes.NewQuoter(store, b.Chat, cfg.StorybookChannelID, cfg.QuoteThreshold)
	b.scheduler = NewScheduler(b)
	return b, nil
}

func (b *Bot) newLimiter(name string, capacity int, window time.Duration) limiter.Limiter {
	var l limiter.Limiter
	if b.redis != nil {
		l = limiter.NewRedisWindow(b.redis, name, capacity, window)
	} else {
		l = limiter.NewBucket(name, capacity, window)
	}
	b.limiters = append(b.limiters, l)
	return l
}

// RefreshGauges samples the state the metrics gauges report.
func (b *Bot) RefreshGauges(ctx context.Context) {
	active, pending, err := b.Store.CountContactSessions(ctx)
	if err != nil {
		log.Printf("Failed to count contact sessions: %v", err)
	} else {
		telemetry.SetGauge(telemetry.ActiveContactSessions, active)
		telemetry.SetGauge(telemetry.PendingContactOffers, pending)
	}
	telemetry.SetGauge(telemetry.ScheduledMutes, b.Mutes.Scheduled())
	telemetry.UpdateRaidGauge(b.Raid.Active())
}

func (b *Bot) Close() {
	log.Println("Gracefully shutting down.")
	b.scheduler.Stop()
	b.Contact.Stop()
	b.Timers.Stop()

	if b.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := b.metrics.Shutdown(ctx); err != nil {
			log.Printf("Failed to stop metrics server: %v", err)
		}
		cancel()
	}
	if b.redis != nil {
		b.redis.Close()
	}
	b.Session.Close()
}
