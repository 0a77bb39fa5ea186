package identity

import (
	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"github.com/Conte777/tg-session-migrator/config"
)

// Module provides the identity generator for fx DI
var Module = fx.Module("identity",
	fx.Provide(NewGeneratorFx),
)

// NewGeneratorFx creates a generator for the configured platform
func NewGeneratorFx(cfg *config.TelegramConfig, logger zerolog.Logger) (*Generator, error) {
	return NewGenerator(Platform(cfg.IdentityPlatform), logger)
}
