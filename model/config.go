package model

import "time"

// Config stores the application configuration.
type Config struct {
	BotToken      string
	GuildID       string
	CommandPrefix string
	DataPath      string

	MemberRoleID        string
	MutedRoleID         string
	ModeratorRoleID     string
	AdministratorRoleID string
	OwnerID             string
	OwnerPermission     string

	StaffCategoryID    string
	ChatLogChannelID   string
	ModLogChannelID    string
	MutedChannelID     string
	StorybookChannelID string

	ContactConfirmTimeout time.Duration
	ContactDeleteGrace    time.Duration
	JoinRoleDelay         time.Duration
	QuoteThreshold        int

	RedisAddr   string
	MetricsAddr string
}

// RaidSettings holds the join threshold that turns raid mode on.
type RaidSettings struct {
	Users   int `mapstructure:"users" yaml:"users"`
	Seconds int `mapstructure:"seconds" yaml:"seconds"`
}

// FloodSettings holds the per-user message threshold for flood deletion.
type FloodSettings struct {
	Messages int `mapstructure:"messages" yaml:"messages"`
	Seconds  int `mapstructure:"seconds" yaml:"seconds"`
}

// GuardSettings is the persisted raid and flood configuration.
type GuardSettings struct {
	Raid  RaidSettings  `mapstructure:"raid" yaml:"raid"`
	Flood FloodSettings `mapstructure:"flood" yaml:"flood"`
}

// DefaultGuardSettings returns the settings used when no file exists yet.
func DefaultGuardSettings() GuardSettings {
	return GuardSettings{
		Raid:  RaidSettings{Users: 5, Seconds: 10},
		Flood: FloodSettings{Messages: 5, Seconds: 5},
	}
}
