package infrastructure

import (
	"go.uber.org/fx"

	"github.com/Conte777/tg-session-migrator/internal/infrastructure/console"
	"github.com/Conte777/tg-session-migrator/internal/infrastructure/database"
	httpfx "github.com/Conte777/tg-session-migrator/internal/infrastructure/http"
	"github.com/Conte777/tg-session-migrator/internal/infrastructure/identity"
	"github.com/Conte777/tg-session-migrator/internal/infrastructure/kafka"
	"github.com/Conte777/tg-session-migrator/internal/infrastructure/logger"
	"github.com/Conte777/tg-session-migrator/internal/infrastructure/metrics"
	"github.com/Conte777/tg-session-migrator/internal/infrastructure/proxy"
	"github.com/Conte777/tg-session-migrator/internal/infrastructure/s3"
	"github.com/Conte777/tg-session-migrator/internal/infrastructure/telegram"
	"github.com/Conte777/tg-session-migrator/internal/infrastructure/workspace"
)

// Module aggregates all infrastructure modules
var Module = fx.Module("infrastructure",
	logger.Module,
	workspace.Module, // Must be before proxy (proxy reads the file the workspace creates)
	database.Module,
	metrics.Module,
	identity.Module,
	proxy.Module,
	console.Module,
	telegram.Module,
	kafka.Module,
	s3.Module,
	httpfx.Module,
)
