package s3

import (
	"context"

	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"github.com/Conte777/tg-session-migrator/config"
	"github.com/Conte777/tg-session-migrator/internal/infrastructure/metrics"
)

// Module provides the retired session archiver for FX
var Module = fx.Module("s3",
	fx.Provide(NewArchiverFx),
)

// NewArchiverFx creates the archiver, or nil when no endpoint is configured.
// The bucket is created on start.
func NewArchiverFx(
	lc fx.Lifecycle,
	cfg *config.S3Config,
	m *metrics.Metrics,
	logger zerolog.Logger,
) (*Archiver, error) {
	if !cfg.Enabled() {
		logger.Info().Msg("S3_ENDPOINT not set, retired sessions are not archived")
		return nil, nil
	}

	archiver, err := NewArchiver(&Config{
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Bucket:    cfg.Bucket,
		UseSSL:    cfg.UseSSL,
	}, m, logger)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info().Str("bucket", cfg.Bucket).Msg("Initializing S3/MinIO archiver...")
			return archiver.EnsureBucket(ctx)
		},
	})

	return archiver, nil
}
