package utils

import "strings"

// Level is a command permission level.
type Level int

const (
	UserLevel Level = iota
	ModeratorLevel
	AdministratorLevel
)

func (l Level) String() string {
	switch l {
	case ModeratorLevel:
		return "moderator"
	case AdministratorLevel:
		return "administrator"
	default:
		return "user"
	}
}

// ParseLevel maps a config value to a Level, falling back to UserLevel.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "moderator":
		return ModeratorLevel
	case "administrator", "admin":
		return AdministratorLevel
	default:
		return UserLevel
	}
}

// Permissions is the permission oracle. The owner's level is fixed by
// OwnerLevel instead of their roles so it can be lowered for testing.
type Permissions struct {
	OwnerID              string
	OwnerLevel           Level
	ModeratorRoleIDs     []string
	AdministratorRoleIDs []string
}

// Has reports whether a member with the given roles holds level.
func (p Permissions) Has(userID string, roles []string, level Level) bool {
	if level == UserLevel {
		return true
	}
	if p.OwnerID != "" && userID == p.OwnerID {
		return p.OwnerLevel >= level
	}
	return p.levelOf(roles) >= level
}

func (p Permissions) levelOf(roles []string) Level {
	for _, roleID := range roles {
		if contains(p.AdministratorRoleIDs, roleID) {
			return AdministratorLevel
		}
	}
	for _, roleID := range roles {
		if contains(p.ModeratorRoleIDs, roleID) {
			return ModeratorLevel
		}
	}
	return UserLevel
}

// contains checks if a slice of strings contains an element.
func contains(slice []string, item string) bool {
	for _, a := range slice {
		if a != "" && a == item {
			return true
		}
	}
	return false
}
