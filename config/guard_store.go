package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/memorial36b/aaravosbot/model"
	"github.com/spf13/viper"
)

// ErrInvalidGuardSettings is returned for settings the guards cannot run with.
var ErrInvalidGuardSettings = errors.New("invalid guard settings")

// GuardStore persists the raid and flood settings as YAML.
type GuardStore struct {
	mu      sync.Mutex
	path    string
	v       *viper.Viper
	current model.GuardSettings
}

// OpenGuardStore reads the settings at path, writing the defaults there first
// if the file does not exist.
func OpenGuardStore(path string) (*GuardStore, error) {
	defaults := model.DefaultGuardSettings()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("raid.users", defaults.Raid.Users)
	v.SetDefault("raid.seconds", defaults.Raid.Seconds)
	v.SetDefault("flood.messages", defaults.Flood.Messages)
	v.SetDefault("flood.seconds", defaults.Flood.Seconds)

	g := &GuardStore{path: path, v: v}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
		if err := writeGuardSettings(path, defaults); err != nil {
			return nil, err
		}
		log.Printf("[Config] Wrote default guard settings to %s", path)
		g.current = defaults
		return g, nil
	}

	settings, err := g.read()
	if err != nil {
		return nil, err
	}
	g.current = settings
	return g, nil
}

// Load re-reads the file and returns the settings. On a read failure the
// last good settings are returned.
func (g *GuardStore) Load() model.GuardSettings {
	g.mu.Lock()
	defer g.mu.Unlock()

	settings, err := g.read()
	if err != nil {
		log.Printf("[Config] Failed to reload guard settings, keeping previous values: %v", err)
		return g.current
	}
	g.current = settings
	return settings
}

// Mutate applies fn to a copy of the settings, validates the result and
// persists it before returning. Mutations are serialized.
func (g *GuardStore) Mutate(fn func(*model.GuardSettings) error) (model.GuardSettings, error) {
	return g.MutateAndApply(fn, nil)
}

// MutateAndApply is Mutate with a commit hook. apply runs with the committed
// settings while the store is still locked, so concurrent mutations reach
// apply in the same order they reach the file.
func (g *GuardStore) MutateAndApply(fn func(*model.GuardSettings) error, apply func(model.GuardSettings)) (model.GuardSettings, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	next := g.current
	if err := fn(&next); err != nil {
		return g.current, err
	}
	if err := Validate(next); err != nil {
		return g.current, err
	}

	if err := writeGuardSettings(g.path, next); err != nil {
		return g.current, err
	}
	g.current = next
	if apply != nil {
		apply(next)
	}
	return next, nil
}

// Validate rejects settings the guards cannot run with.
func Validate(s model.GuardSettings) error {
	switch {
	case s.Raid.Users < 1:
		return fmt.Errorf("%w: raid user count must be at least 1", ErrInvalidGuardSettings)
	case s.Raid.Seconds < 1:
		return fmt.Errorf("%w: raid seconds must be at least 1", ErrInvalidGuardSettings)
	case s.Flood.Messages < 1:
		return fmt.Errorf("%w: flood message count must be at least 1", ErrInvalidGuardSettings)
	case s.Flood.Seconds < 1:
		return fmt.Errorf("%w: flood seconds must be at least 1", ErrInvalidGuardSettings)
	}
	return nil
}

func (g *GuardStore) read() (model.GuardSettings, error) {
	var settings model.GuardSettings
	if err := g.v.ReadInConfig(); err != nil {
		return settings, fmt.Errorf("failed to read guard settings from %s: %w", g.path, err)
	}
	if err := g.v.Unmarshal(&settings); err != nil {
		return settings, fmt.Errorf("failed to decode guard settings from %s: %w", g.path, err)
	}
	if err := Validate(settings); err != nil {
		return settings, fmt.Errorf("invalid guard settings in %s: %w", g.path, err)
	}
	return settings, nil
}

// writeGuardSettings uses its own viper instance so values set for writing
// never shadow what the reader later loads from disk.
func writeGuardSettings(path string, s model.GuardSettings) error {
	w := viper.New()
	w.SetConfigType("yaml")
	w.Set("raid.users", s.Raid.Users)
	w.Set("raid.seconds", s.Raid.Seconds)
	w.Set("flood.messages", s.Flood.Messages)
	w.Set("flood.seconds", s.Flood.Seconds)
	if err := w.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write guard settings to %s: %w", path, err)
	}
	return nil
}
