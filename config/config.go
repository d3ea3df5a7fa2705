package config

import (
	"errors"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/memorial36b/aaravosbot/model"
)

// Load loads the configuration from environment variables, reading a .env
// file first when one exists.
func Load() (*model.Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Info: .env file not found, relying on environment variables")
	}

	token := os.Getenv("BOT_TOKEN")
	if token == "" {
		return nil, errors.New("BOT_TOKEN environment variable not set")
	}

	guildID := os.Getenv("GUILD_ID")
	if guildID == "" {
		return nil, errors.New("GUILD_ID environment variable not set")
	}

	modLogChannelID := os.Getenv("MOD_LOG_CHANNEL_ID")
	if modLogChannelID == "" {
		log.Println("Warning: MOD_LOG_CHANNEL_ID not set, staff log embeds will be disabled")
	}

	chatLogChannelID := os.Getenv("CHAT_LOG_CHANNEL_ID")
	if chatLogChannelID == "" {
		log.Println("Warning: CHAT_LOG_CHANNEL_ID not set, contact transcripts cannot be uploaded")
	}

	cfg := &model.Config{
		BotToken:      token,
		GuildID:       guildID,
		CommandPrefix: getenv("COMMAND_PREFIX", "+"),
		DataPath:      getenv("DATA_PATH", "data"),

		MemberRoleID:        os.Getenv("MEMBER_ROLE_ID"),
		MutedRoleID:         os.Getenv("MUTED_ROLE_ID"),
		ModeratorRoleID:     os.Getenv("MODERATOR_ROLE_ID"),
		AdministratorRoleID: os.Getenv("ADMINISTRATOR_ROLE_ID"),
		OwnerID:             os.Getenv("OWNER_ID"),
		OwnerPermission:     getenv("OWNER_PERMISSION", "administrator"),

		StaffCategoryID:    os.Getenv("STAFF_CATEGORY_ID"),
		ChatLogChannelID:   chatLogChannelID,
		ModLogChannelID:    modLogChannelID,
		MutedChannelID:     os.Getenv("MUTED_CHANNEL_ID"),
		StorybookChannelID: os.Getenv("STORYBOOK_CHANNEL_ID"),

		ContactConfirmTimeout: durationEnv("CONTACT_CONFIRM_TIMEOUT", 60*time.Second),
		ContactDeleteGrace:    durationEnv("CONTACT_DELETE_GRACE", 5*time.Second),
		JoinRoleDelay:         durationEnv("JOIN_ROLE_DELAY", 3*time.Second),
		QuoteThreshold:        intEnv("QUOTE_THRESHOLD", 6),

		RedisAddr:   os.Getenv("REDIS_ADDR"),
		MetricsAddr: os.Getenv("METRICS_ADDR"),
	}

	if cfg.MutedRoleID == "" {
		log.Println("Warning: MUTED_ROLE_ID not set, mutes will not change roles")
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		log.Printf("Warning: Invalid %s value %q, using default of %v. Error: %v", key, raw, fallback, err)
		return fallback
	}
	return d
}

func intEnv(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		log.Printf("Warning: Invalid %s value %q, using default of %d. Error: %v", key, raw, fallback, err)
		return fallback
	}
	return n
}

// DatabasePath is the sqlite file under the data directory.
func DatabasePath(cfg *model.Config) string {
	return filepath.Join(cfg.DataPath, "aaravos.db")
}

// GuardSettingsPath is the raid and flood settings file under the data directory.
func GuardSettingsPath(cfg *model.Config) string {
	return filepath.Join(cfg.DataPath, "guard_settings.yml")
}
