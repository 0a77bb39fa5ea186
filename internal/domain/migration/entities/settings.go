package entities

import "time"

// Defaults of the persisted batch settings
const (
	DefaultMaxThreads       = 5
	DefaultRetryDelaySec    = 20
	DefaultLogoutOldSession = true
	DefaultChange2FA        = true
	DefaultLanguage         = "en"
)

// BatchSettings is the snapshot of batch options taken when a run starts
type BatchSettings struct {
	MaxThreads       int
	RetryDelay       time.Duration
	LogoutOldSession bool
	Change2FA        bool
	Language         string
}

// DefaultBatchSettings returns the settings used when nothing is configured
func DefaultBatchSettings() BatchSettings {
	return BatchSettings{
		MaxThreads:       DefaultMaxThreads,
		RetryDelay:       DefaultRetryDelaySec * time.Second,
		LogoutOldSession: DefaultLogoutOldSession,
		Change2FA:        DefaultChange2FA,
		Language:         DefaultLanguage,
	}
}

// Normalize clamps numeric options to their minimums
func (s BatchSettings) Normalize() BatchSettings {
	if s.MaxThreads < 1 {
		s.MaxThreads = 1
	}
	if s.RetryDelay < time.Second {
		s.RetryDelay = time.Second
	}
	if s.Language != "ru" && s.Language != "en" {
		s.Language = DefaultLanguage
	}
	return s
}
