package app

import (
	"context"

	"go.uber.org/fx"

	"github.com/Conte777/tg-session-migrator/config"
	"github.com/Conte777/tg-session-migrator/internal/domain/migration"
	"github.com/Conte777/tg-session-migrator/internal/infrastructure"
)

// CreateApp creates the fx application options
func CreateApp() fx.Option {
	return fx.Options(
		fx.Provide(
			config.Out,
			context.Background,
		),
		infrastructure.Module,
		// Domain modules
		migration.Module,
	)
}
