package business

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/Conte777/tg-session-migrator/internal/domain/migration/deps"
	"github.com/Conte777/tg-session-migrator/internal/utils"
)

// SecretGenerator produces a fresh 2FA password different from previous
type SecretGenerator func(previous string) (string, error)

// CredentialRotator replaces the 2FA password of an authorized session
type CredentialRotator struct {
	generate SecretGenerator
	logger   zerolog.Logger
}

// NewCredentialRotator creates a rotator. A nil generator uses GenerateSecret.
func NewCredentialRotator(generate SecretGenerator, logger zerolog.Logger) *CredentialRotator {
	if generate == nil {
		generate = GenerateSecret
	}
	return &CredentialRotator{
		generate: generate,
		logger:   logger.With().Str("component", "credential_rotator").Logger(),
	}
}

// Rotate sets a newly generated password on the session and returns it.
// oldSecret may be empty when none is on record; if the account already has
// a password the client reports KindPasswordRequired. A rejected oldSecret
// surfaces as KindInvalidCredential. The caller must persist the returned
// secret before any further network call.
func (r *CredentialRotator) Rotate(ctx context.Context, session deps.MessagingClient, oldSecret string) (string, error) {
	newSecret, err := r.generate(oldSecret)
	if err != nil {
		return "", err
	}

	if err := session.UpdatePassword(ctx, oldSecret, newSecret); err != nil {
		return "", err
	}

	r.logger.Info().
		Bool("had_secret", oldSecret != "").
		Str("secret", utils.MaskSecret(newSecret)).
		Msg("2FA password rotated")

	return newSecret, nil
}
