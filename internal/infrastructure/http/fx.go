package http

import (
	"context"

	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"github.com/Conte777/tg-session-migrator/config"
	"github.com/Conte777/tg-session-migrator/internal/infrastructure/http/server"
)

// Module provides HTTP server for fx DI
var Module = fx.Module("http",
	fx.Provide(NewServerFx),
)

// NewServerFx creates HTTP server with lifecycle hooks for fx DI.
// It returns nil when no service port is configured.
func NewServerFx(
	lc fx.Lifecycle,
	serviceCfg *config.ServiceConfig,
	logger zerolog.Logger,
) *server.Server {
	if serviceCfg.Port == "" {
		logger.Info().Msg("SERVICE_PORT not set, HTTP endpoint disabled")
		return nil
	}

	srv := server.NewServer(serviceCfg.Name, serviceCfg.Port, logger)

	// Register Prometheus metrics endpoint
	srv.RegisterMetrics()

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return srv.Start()
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})

	return srv
}
