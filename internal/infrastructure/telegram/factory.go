package telegram

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/Conte777/tg-session-migrator/config"
	"github.com/Conte777/tg-session-migrator/internal/domain/migration/deps"
	"github.com/Conte777/tg-session-migrator/internal/domain/migration/entities"
)

// ClientFactory opens MTProto clients. It implements deps.ClientFactory.
type ClientFactory struct {
	connectTimeout    time.Duration
	requestsPerSecond int
	logger            zerolog.Logger
}

// NewClientFactory creates a client factory from the Telegram configuration
func NewClientFactory(cfg *config.TelegramConfig, logger zerolog.Logger) *ClientFactory {
	return &ClientFactory{
		connectTimeout:    cfg.ConnectTimeout,
		requestsPerSecond: cfg.RequestsPerSecond,
		logger:            logger,
	}
}

// New creates a client for opts without connecting it
func (f *ClientFactory) New(opts entities.ClientOptions) (deps.MessagingClient, error) {
	client, err := NewMTProtoClient(MTProtoClientConfig{
		Phone:             opts.Phone,
		SessionPath:       opts.SessionPath,
		Identity:          opts.Identity,
		Proxy:             opts.Proxy,
		ConnectTimeout:    f.connectTimeout,
		RequestsPerSecond: f.requestsPerSecond,
		Logger:            f.logger,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}
