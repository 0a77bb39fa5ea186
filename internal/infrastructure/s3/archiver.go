package s3

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/Conte777/tg-session-migrator/internal/infrastructure/metrics"
	"github.com/Conte777/tg-session-migrator/internal/utils"
)

// Config holds S3/MinIO configuration
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// Region skips bucket location lookups when set
	Region string
}

// Archiver copies retired session files to S3-compatible storage before
// they are deleted. It implements deps.SessionArchiver.
type Archiver struct {
	client  *minio.Client
	bucket  string
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// NewArchiver creates a new S3/MinIO archiver
func NewArchiver(cfg *Config, m *metrics.Metrics, logger zerolog.Logger) (*Archiver, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &Archiver{
		client:  client,
		bucket:  cfg.Bucket,
		metrics: m,
		logger:  logger.With().Str("component", "archiver").Logger(),
		now:     time.Now,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist. The bucket stays private.
func (a *Archiver) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		a.logger.Info().Str("bucket", a.bucket).Msg("Created S3 bucket")
	}

	return nil
}

// Archive uploads every existing file of paths under one prefix per call.
// Missing files are skipped; the first upload error aborts the archive.
// Path structure: retired/{phone}/{YYYYMMDDTHHMMSSZ}/{file name}
func (a *Archiver) Archive(ctx context.Context, phone string, paths ...string) error {
	prefix := objectPrefix(phone, a.now())
	uploaded := 0

	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to stat %s: %w", p, err)
		}

		objectKey := path.Join(prefix, filepath.Base(p))
		_, err := a.client.FPutObject(ctx, a.bucket, objectKey, p, minio.PutObjectOptions{
			ContentType: contentType(p),
		})
		if err != nil {
			if a.metrics != nil {
				a.metrics.RecordArchiveError()
			}
			return fmt.Errorf("failed to upload %s to S3: %w", filepath.Base(p), err)
		}

		if a.metrics != nil {
			a.metrics.RecordArchiveUpload()
		}
		uploaded++
		a.logger.Debug().
			Str("phone", utils.MaskPhoneNumber(phone)).
			Str("object_key", objectKey).
			Msg("Uploaded retired session file to S3")
	}

	a.logger.Info().
		Str("phone", utils.MaskPhoneNumber(phone)).
		Int("files", uploaded).
		Str("prefix", prefix).
		Msg("Retired session archived")

	return nil
}

func objectPrefix(phone string, at time.Time) string {
	return path.Join("retired", phone, at.UTC().Format("20060102T150405Z"))
}

func contentType(p string) string {
	if strings.EqualFold(filepath.Ext(p), ".json") {
		return "application/json"
	}
	return "application/octet-stream"
}
