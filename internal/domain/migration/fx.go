package migration

import (
	"github.com/rs/zerolog"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/Conte777/tg-session-migrator/config"
	migrationhttp "github.com/Conte777/tg-session-migrator/internal/domain/migration/delivery/http"
	"github.com/Conte777/tg-session-migrator/internal/domain/migration/deps"
	"github.com/Conte777/tg-session-migrator/internal/domain/migration/repository/file"
	"github.com/Conte777/tg-session-migrator/internal/domain/migration/repository/postgres"
	"github.com/Conte777/tg-session-migrator/internal/domain/migration/usecase/business"
	"github.com/Conte777/tg-session-migrator/internal/infrastructure/console"
	"github.com/Conte777/tg-session-migrator/internal/infrastructure/http/server"
	"github.com/Conte777/tg-session-migrator/internal/infrastructure/identity"
	"github.com/Conte777/tg-session-migrator/internal/infrastructure/kafka"
	"github.com/Conte777/tg-session-migrator/internal/infrastructure/metrics"
	"github.com/Conte777/tg-session-migrator/internal/infrastructure/proxy"
	"github.com/Conte777/tg-session-migrator/internal/infrastructure/s3"
	"github.com/Conte777/tg-session-migrator/internal/infrastructure/telegram"
	"github.com/Conte777/tg-session-migrator/internal/infrastructure/workspace"
)

// Module provides migration domain components for fx DI
var Module = fx.Module("migration",
	fx.Provide(
		// Adapters seen through the domain interfaces
		func(g *identity.Generator) deps.IdentityGenerator { return g },
		func(p *proxy.Pool) deps.ProxyPool { return p },
		func(f *telegram.ClientFactory) deps.ClientFactory { return f },
		func(c *console.CodeInput) deps.CodeInput { return c },
		func(s *config.SettingsStore) deps.SettingsSource { return s },
		NewSessionArchiverFx,
		NewEventsHealthFx,

		NewRecordStoreFx,
		NewJournalFx,
		NewReporterFx,
		NewCodeRetrieverFx,
		NewCredentialRotatorFx,
		NewMigratorFx,
		business.NewScheduler,
		func(m *business.Migrator) business.AccountMigrator { return m },
		func(s *business.Scheduler) deps.RunTracker { return s },

		migrationhttp.NewHealthHandler,
		migrationhttp.NewStatusHandler,
		migrationhttp.NewRouter,
	),
	fx.Invoke(registerRoutes),
)

// NewRecordStoreFx creates the file record store over the prepared workspace
func NewRecordStoreFx(ws *workspace.Workspace, identities deps.IdentityGenerator, logger zerolog.Logger) deps.RecordStore {
	return file.NewRepository(ws.SessionsDir, ws.NewSessionsDir, identities, logger)
}

// NewJournalFx creates the migration journal; without a database it drops entries
func NewJournalFx(db *gorm.DB) deps.Journal {
	return postgres.NewRepository(db)
}

// NewSessionArchiverFx exposes the S3 archiver, nil when archiving is disabled
func NewSessionArchiverFx(a *s3.Archiver) deps.SessionArchiver {
	if a == nil {
		return nil
	}
	return a
}

// NewEventsHealthFx exposes the event publisher health, nil when publishing is disabled
func NewEventsHealthFx(p *kafka.EventPublisher) deps.HealthChecker {
	if p == nil {
		return nil
	}
	return p
}

// NewReporterFx fans migration events out to the log, metrics and Kafka
func NewReporterFx(m *metrics.Reporter, p *kafka.EventPublisher, logger zerolog.Logger) deps.Reporter {
	reporters := business.Reporters{business.NewLogReporter(logger), m}
	if p != nil {
		reporters = append(reporters, p)
	}
	return reporters
}

// NewCodeRetrieverFx creates the login code retriever
func NewCodeRetrieverFx(cfg *config.MigrationConfig, input deps.CodeInput, logger zerolog.Logger) *business.CodeRetriever {
	return business.NewCodeRetriever(business.CodeRetrieverConfig{
		PollAttempts:   cfg.CodePollAttempts,
		PollWait:       cfg.CodePollWait,
		ManualFallback: cfg.ManualCodeFallback,
	}, input, business.SleepContext, logger)
}

// NewCredentialRotatorFx creates the 2FA password rotator
func NewCredentialRotatorFx(logger zerolog.Logger) *business.CredentialRotator {
	return business.NewCredentialRotator(business.GenerateSecret, logger)
}

// MigratorParams are the fx dependencies of the migrator
type MigratorParams struct {
	fx.In

	Config     *config.MigrationConfig
	Store      deps.RecordStore
	Clients    deps.ClientFactory
	Proxies    deps.ProxyPool
	Identities deps.IdentityGenerator
	Rotator    *business.CredentialRotator
	Codes      *business.CodeRetriever
	Archiver   deps.SessionArchiver
	Reporter   deps.Reporter
	Logger     zerolog.Logger
}

// NewMigratorFx creates the per-account migrator
func NewMigratorFx(p MigratorParams) *business.Migrator {
	return business.NewMigrator(business.MigratorConfig{
		MaxAttempts: p.Config.MaxAttempts,
	}, business.MigratorDeps{
		Store:      p.Store,
		Clients:    p.Clients,
		Proxies:    p.Proxies,
		Identities: p.Identities,
		Rotator:    p.Rotator,
		Codes:      p.Codes,
		Archiver:   p.Archiver,
		Reporter:   p.Reporter,
		Sleep:      business.SleepContext,
		Logger:     p.Logger,
	})
}

// registerRoutes registers migration HTTP routes when the endpoint is enabled
func registerRoutes(srv *server.Server, router *migrationhttp.Router) {
	if srv == nil {
		return
	}
	router.RegisterRoutes(srv.Router)
}
