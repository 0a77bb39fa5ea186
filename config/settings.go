package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/Conte777/tg-session-migrator/internal/domain/migration/entities"
)

// Keys of the persisted batch settings
const (
	SettingMaxThreads       = "max_threads"
	SettingRetryDelay       = "retry_delay"
	SettingLogoutOldSession = "logout_old_session"
	SettingChange2FA        = "change_2fa"
	SettingLanguage         = "language"
)

var settingKeys = map[string]struct{}{
	SettingMaxThreads:       {},
	SettingRetryDelay:       {},
	SettingLogoutOldSession: {},
	SettingChange2FA:        {},
	SettingLanguage:         {},
}

// SettingsStore is the persisted key-value store of batch settings.
// A batch reads it once through Snapshot; later changes apply to the next batch.
type SettingsStore struct {
	mu     sync.RWMutex
	v      *viper.Viper
	path   string
	logger zerolog.Logger
}

// NewSettingsStore opens the settings file at path, writing defaults when it does not exist
func NewSettingsStore(path string, logger zerolog.Logger) (*SettingsStore, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	defaults := entities.DefaultBatchSettings()
	v.SetDefault(SettingMaxThreads, defaults.MaxThreads)
	v.SetDefault(SettingRetryDelay, int(defaults.RetryDelay/time.Second))
	v.SetDefault(SettingLogoutOldSession, defaults.LogoutOldSession)
	v.SetDefault(SettingChange2FA, defaults.Change2FA)
	v.SetDefault(SettingLanguage, defaults.Language)

	s := &SettingsStore{
		v:      v,
		path:   path,
		logger: logger.With().Str("component", "settings").Logger(),
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create settings directory: %w", err)
			}
		}
		if err := v.WriteConfigAs(path); err != nil {
			return nil, fmt.Errorf("failed to write default settings: %w", err)
		}
		s.logger.Info().Str("path", path).Msg("Default settings file created")
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read settings %s: %w", path, err)
	}

	return s, nil
}

// Snapshot returns the current settings with numeric options clamped
func (s *SettingsStore) Snapshot() entities.BatchSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return entities.BatchSettings{
		MaxThreads:       s.v.GetInt(SettingMaxThreads),
		RetryDelay:       time.Duration(s.v.GetInt(SettingRetryDelay)) * time.Second,
		LogoutOldSession: s.v.GetBool(SettingLogoutOldSession),
		Change2FA:        s.v.GetBool(SettingChange2FA),
		Language:         s.v.GetString(SettingLanguage),
	}.Normalize()
}

// Set changes one setting in memory; Save persists it
func (s *SettingsStore) Set(key string, value any) error {
	if _, ok := settingKeys[key]; !ok {
		return fmt.Errorf("unknown setting %q", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Set(key, value)
	return nil
}

// Save writes the settings back to their file
func (s *SettingsStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// Path returns the settings file location
func (s *SettingsStore) Path() string {
	return s.path
}

// NewSettingsStoreFx opens the settings store for fx
func NewSettingsStoreFx(cfg *WorkspaceConfig, logger zerolog.Logger) (*SettingsStore, error) {
	return NewSettingsStore(cfg.SettingsFile, logger)
}
