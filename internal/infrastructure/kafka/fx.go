package kafka

import (
	"context"

	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"github.com/Conte777/tg-session-migrator/config"
	"github.com/Conte777/tg-session-migrator/internal/infrastructure/metrics"
)

// Module provides the Kafka event publisher for fx DI
var Module = fx.Module("kafka",
	fx.Provide(NewEventPublisherFx),
)

// NewEventPublisherFx creates the event publisher, or nil when no brokers are configured
func NewEventPublisherFx(
	lc fx.Lifecycle,
	kafkaCfg *config.KafkaConfig,
	serviceCfg *config.ServiceConfig,
	m *metrics.Metrics,
	logger zerolog.Logger,
) (*EventPublisher, error) {
	if !kafkaCfg.Enabled() {
		logger.Info().Msg("KAFKA_BROKERS not set, migration events are not published")
		return nil, nil
	}

	publisher, err := NewEventPublisher(PublisherConfig{
		Brokers:  kafkaCfg.Brokers,
		Topic:    kafkaCfg.EventsTopic,
		ClientID: serviceCfg.Name,
	}, m, logger)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return publisher.Close()
		},
	})

	return publisher, nil
}
