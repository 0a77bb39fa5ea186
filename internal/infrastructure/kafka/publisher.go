package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/Conte777/tg-session-migrator/internal/domain/migration/entities"
	"github.com/Conte777/tg-session-migrator/internal/infrastructure/metrics"
)

const (
	// maxSendErrors is the number of delivery failures after which the
	// publisher reports itself unhealthy
	maxSendErrors = 100

	// enqueueTimeout bounds how long Report waits for room in the producer queue
	enqueueTimeout = 5 * time.Second

	defaultCloseTimeout = 10 * time.Second
)

// PublisherConfig holds configuration for the event publisher
type PublisherConfig struct {
	Brokers         []string
	Topic           string
	ClientID        string
	MaxMessageBytes int
	MaxRetries      int
}

// EventPublisher sends migration events to Kafka using an asynchronous producer.
// It implements deps.Reporter: publishing never blocks or fails a migration.
type EventPublisher struct {
	producer sarama.AsyncProducer
	topic    string
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	wg         sync.WaitGroup
	closeOnce  sync.Once
	closeMu    sync.RWMutex
	closed     bool
	closeErr   error
	sendErrors atomic.Int64
}

// NewEventPublisher creates a publisher connected to the given brokers
func NewEventPublisher(cfg PublisherConfig, m *metrics.Metrics, logger zerolog.Logger) (*EventPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers specified")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 1000000
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "tg-session-migrator"
	}

	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Net.MaxOpenRequests = 1
	config.Producer.MaxMessageBytes = cfg.MaxMessageBytes
	config.Producer.Retry.Max = cfg.MaxRetries
	// events of one run land on one partition and keep their order
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.ClientID = cfg.ClientID
	config.Version = sarama.V2_6_0_0

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	p := newEventPublisher(producer, cfg.Topic, m, logger)

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Msg("Kafka event publisher initialized")

	return p, nil
}

func newEventPublisher(producer sarama.AsyncProducer, topic string, m *metrics.Metrics, logger zerolog.Logger) *EventPublisher {
	p := &EventPublisher{
		producer: producer,
		topic:    topic,
		metrics:  m,
		logger:   logger.With().Str("component", "event-publisher").Logger(),
	}

	p.wg.Add(2)
	go p.handleSuccesses()
	go p.handleErrors()

	return p
}

// Report queues the event for delivery. Failures are logged and counted.
func (p *EventPublisher) Report(ctx context.Context, event entities.Event) {
	if err := p.Publish(ctx, event); err != nil {
		p.logger.Warn().
			Err(err).
			Str("type", string(event.Type)).
			Str("run_id", event.RunID).
			Msg("Failed to queue migration event")
	}
}

// Publish queues one event, keyed by its run id
func (p *EventPublisher) Publish(ctx context.Context, event entities.Event) error {
	if event.Type == "" {
		return fmt.Errorf("event type is required")
	}

	value, err := json.Marshal(event)
	if err != nil {
		p.recordError("marshal")
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     p.topic,
		Key:       sarama.StringEncoder(event.RunID),
		Value:     sarama.ByteEncoder(value),
		Timestamp: event.Time,
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
		},
		Metadata: time.Now(),
	}

	p.closeMu.RLock()
	defer p.closeMu.RUnlock()

	if p.closed {
		p.recordError("producer_closed")
		return fmt.Errorf("event publisher is closed")
	}

	timer := time.NewTimer(enqueueTimeout)
	defer timer.Stop()

	select {
	case p.producer.Input() <- msg:
		p.logger.Debug().
			Str("type", string(event.Type)).
			Str("run_id", event.RunID).
			Str("phone", event.Phone).
			Msg("Migration event queued for sending to Kafka")
		return nil
	case <-ctx.Done():
		p.recordError("cancelled")
		return fmt.Errorf("context cancelled while sending event: %w", ctx.Err())
	case <-timer.C:
		p.recordError("queue_full")
		return fmt.Errorf("timeout queueing event after %s", enqueueTimeout)
	}
}

func (p *EventPublisher) handleSuccesses() {
	defer p.wg.Done()

	for msg := range p.producer.Successes() {
		if queued, ok := msg.Metadata.(time.Time); ok && p.metrics != nil {
			p.metrics.RecordKafkaMessage(time.Since(queued).Seconds())
		}
		p.logger.Debug().
			Str("topic", msg.Topic).
			Int32("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("Event sent to Kafka successfully")
	}
}

func (p *EventPublisher) handleErrors() {
	defer p.wg.Done()

	for producerErr := range p.producer.Errors() {
		p.sendErrors.Add(1)
		p.recordError(classifyProducerError(producerErr.Err))
		p.logger.Error().
			Err(producerErr.Err).
			Str("topic", producerErr.Msg.Topic).
			Msg("Failed to send event to Kafka")
	}
}

func (p *EventPublisher) recordError(errorType string) {
	if p.metrics != nil {
		p.metrics.RecordKafkaError(errorType)
	}
}

func classifyProducerError(err error) string {
	switch {
	case errors.Is(err, sarama.ErrMessageSizeTooLarge):
		return "message_too_large"
	case errors.Is(err, sarama.ErrOutOfBrokers):
		return "out_of_brokers"
	case errors.Is(err, sarama.ErrNotEnoughReplicas):
		return "not_enough_replicas"
	case errors.Is(err, sarama.ErrRequestTimedOut):
		return "timeout"
	default:
		return "send"
	}
}

// IsHealthy returns true while the publisher is open and deliveries mostly succeed
func (p *EventPublisher) IsHealthy() bool {
	p.closeMu.RLock()
	closed := p.closed
	p.closeMu.RUnlock()

	if closed {
		return false
	}
	return p.sendErrors.Load() < maxSendErrors
}

// Close flushes pending events and shuts the producer down.
// Close is idempotent.
func (p *EventPublisher) Close() error {
	return p.CloseWithTimeout(defaultCloseTimeout)
}

// CloseWithTimeout is Close with a custom bound on waiting for the flush
func (p *EventPublisher) CloseWithTimeout(timeout time.Duration) error {
	p.closeOnce.Do(func() {
		p.logger.Info().Dur("timeout", timeout).Msg("Closing Kafka event publisher")

		p.closeMu.Lock()
		p.closed = true
		p.closeMu.Unlock()

		var errs []error
		if err := p.producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer close failed: %w", err))
		}

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(timeout):
			errs = append(errs, fmt.Errorf("close timeout after %s: handlers did not finish in time", timeout))
		}

		if n := p.sendErrors.Load(); n > 0 {
			p.logger.Warn().Int64("error_count", n).Msg("Kafka event publisher closed with send errors")
		}

		p.closeErr = errors.Join(errs...)
		if p.closeErr != nil {
			p.logger.Error().Err(p.closeErr).Msg("Kafka event publisher closed with errors")
		} else {
			p.logger.Info().Msg("Kafka event publisher closed successfully")
		}
	})

	return p.closeErr
}
