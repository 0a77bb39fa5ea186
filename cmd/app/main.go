package main

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"github.com/Conte777/tg-session-migrator/config"
	"github.com/Conte777/tg-session-migrator/internal/app"
	migerrors "github.com/Conte777/tg-session-migrator/internal/domain/migration/errors"
	"github.com/Conte777/tg-session-migrator/internal/domain/migration/usecase/business"
)

func main() {
	fx.New(
		app.CreateApp(),
		fx.Invoke(run),
	).Run()
}

// run starts one migration batch and stops the application when it ends.
// The exit code is 0 only when every account was migrated.
func run(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	cfg *config.Config,
	settings *config.SettingsStore,
	scheduler *business.Scheduler,
	logger zerolog.Logger,
) {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.Info().
				Str("service", cfg.Service.Name).
				Str("sessions_dir", cfg.Workspace.SessionsDir).
				Str("new_sessions_dir", cfg.Workspace.NewSessionsDir).
				Str("settings", settings.Path()).
				Msg("Starting session migrator")

			wg.Add(1)
			go func() {
				defer wg.Done()
				code := runBatch(ctx, scheduler, logger)
				if err := shutdowner.Shutdown(fx.ExitCode(code)); err != nil {
					logger.Error().Err(err).Msg("Failed to request shutdown")
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			logger.Info().Msg("Shutting down session migrator...")
			cancel()

			done := make(chan struct{})
			go func() {
				wg.Wait()
				close(done)
			}()

			select {
			case <-done:
				logger.Info().Msg("Session migrator stopped")
				return nil
			case <-stopCtx.Done():
				logger.Warn().Msg("Timeout waiting for the batch to stop")
				return stopCtx.Err()
			}
		},
	})
}

func runBatch(ctx context.Context, scheduler *business.Scheduler, logger zerolog.Logger) (code int) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Migration batch panic recovered")
			code = 1
		}
	}()

	result, err := scheduler.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn().Msg("Migration batch cancelled")
		} else {
			logger.Error().Err(err).Msg("Migration batch failed")
		}
		return 1
	}

	event := logger.Info()
	if !result.Success {
		event = logger.Warn()
	}
	event.
		Str("run_id", result.RunID).
		Int("total", result.Total).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Dur("duration", result.Duration).
		Msg(result.Summary)

	if result.Total == 0 {
		logger.Warn().Err(migerrors.ErrNoAccounts).Msg("Put session files into the sessions directory and start again")
	}

	if !result.Success {
		return 1
	}
	return 0
}
