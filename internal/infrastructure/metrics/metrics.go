package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of the session migrator
type Metrics struct {
	// Batch metrics
	BatchesTotal     prometheus.Counter
	BatchDuration    prometheus.Histogram
	BatchAccounts    prometheus.Gauge
	AccountsInFlight prometheus.Gauge

	// Per-account metrics
	MigrationsTotal   *prometheus.CounterVec
	MigrationFailures *prometheus.CounterVec
	MigrationDuration prometheus.Histogram
	MigrationAttempts prometheus.Histogram
	StateTransitions  *prometheus.CounterVec
	SecretRotations   prometheus.Counter
	RetireFailures    prometheus.Counter
	RateLimits        prometheus.Counter

	// Kafka metrics
	KafkaMessagesProduced prometheus.Counter
	KafkaProduceErrors    *prometheus.CounterVec
	KafkaProduceDuration  prometheus.Histogram

	// Archive metrics
	ArchiveUploads      prometheus.Counter
	ArchiveUploadErrors prometheus.Counter
}

var (
	// DefaultMetrics is the default metrics instance
	DefaultMetrics *Metrics
	once           sync.Once
)

// GetDefaultMetrics returns the singleton metrics instance
func GetDefaultMetrics() *Metrics {
	once.Do(func() {
		DefaultMetrics = NewMetrics()
	})
	return DefaultMetrics
}

func init() {
	GetDefaultMetrics()
}

// NewMetrics creates a new Metrics instance registered with the default registry
func NewMetrics() *Metrics {
	return &Metrics{
		BatchesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "migrator_batches_total",
			Help: "Total number of migration batches started",
		}),
		BatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "migrator_batch_duration_seconds",
			Help:    "Duration of migration batches",
			Buckets: []float64{10, 30, 60, 300, 600, 1800, 3600, 7200},
		}),
		BatchAccounts: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "migrator_batch_accounts",
			Help: "Number of accounts in the current or last batch",
		}),
		AccountsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "migrator_accounts_in_flight",
			Help: "Number of accounts being migrated right now",
		}),

		MigrationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "migrator_migrations_total",
				Help: "Total number of finished account migrations",
			},
			[]string{"result"},
		),
		MigrationFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "migrator_migration_failures_total",
				Help: "Total number of failed account migrations by reason",
			},
			[]string{"reason"},
		),
		MigrationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "migrator_migration_duration_seconds",
			Help:    "Duration of single account migrations",
			Buckets: []float64{5, 15, 30, 60, 120, 240, 480, 900},
		}),
		MigrationAttempts: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "migrator_migration_attempts",
			Help:    "Code request and sign-in cycles used per account",
			Buckets: []float64{1, 2, 3, 4, 5},
		}),
		StateTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "migrator_state_transitions_total",
				Help: "Total number of migration state transitions",
			},
			[]string{"state"},
		),
		SecretRotations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "migrator_secret_rotations_total",
			Help: "Total number of 2FA passwords changed",
		}),
		RetireFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "migrator_retire_failures_total",
			Help: "Total number of migrated accounts whose old session was not retired",
		}),
		RateLimits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "migrator_rate_limits_total",
			Help: "Total number of rate limit responses from Telegram",
		}),

		KafkaMessagesProduced: promauto.NewCounter(prometheus.CounterOpts{
			Name: "migrator_kafka_messages_produced_total",
			Help: "Total number of migration events sent to Kafka",
		}),
		KafkaProduceErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "migrator_kafka_produce_errors_total",
				Help: "Total number of Kafka produce errors",
			},
			[]string{"error_type"},
		),
		KafkaProduceDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "migrator_kafka_produce_duration_seconds",
			Help:    "Time spent handing an event to the Kafka producer",
			Buckets: prometheus.DefBuckets,
		}),

		ArchiveUploads: promauto.NewCounter(prometheus.CounterOpts{
			Name: "migrator_archive_uploads_total",
			Help: "Total number of retired session files uploaded",
		}),
		ArchiveUploadErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "migrator_archive_upload_errors_total",
			Help: "Total number of failed retired session uploads",
		}),
	}
}

// RecordBatchStart records the start of a batch
func (m *Metrics) RecordBatchStart(accounts int) {
	m.BatchesTotal.Inc()
	m.BatchAccounts.Set(float64(accounts))
}

// RecordBatchFinish records the end of a batch
func (m *Metrics) RecordBatchFinish(duration float64) {
	m.BatchDuration.Observe(duration)
}

// RecordAccountStart marks an account as in flight
func (m *Metrics) RecordAccountStart() {
	m.AccountsInFlight.Inc()
}

// RecordMigration records a finished account migration
func (m *Metrics) RecordMigration(success bool, reason string, attempts int, duration float64) {
	m.AccountsInFlight.Dec()
	m.MigrationDuration.Observe(duration)
	if attempts > 0 {
		m.MigrationAttempts.Observe(float64(attempts))
	}

	if success {
		m.MigrationsTotal.WithLabelValues("success").Inc()
		return
	}

	m.MigrationsTotal.WithLabelValues("failed").Inc()
	if reason == "" {
		reason = "unknown"
	}
	m.MigrationFailures.WithLabelValues(reason).Inc()
}

// RecordStateTransition records a state machine transition
func (m *Metrics) RecordStateTransition(state string) {
	m.StateTransitions.WithLabelValues(state).Inc()
}

// RecordSecretRotation records a changed 2FA password
func (m *Metrics) RecordSecretRotation() {
	m.SecretRotations.Inc()
}

// RecordRetireFailure records a migrated account whose old session survived
func (m *Metrics) RecordRetireFailure() {
	m.RetireFailures.Inc()
}

// RecordRateLimit records a rate limit event from Telegram API
func (m *Metrics) RecordRateLimit() {
	m.RateLimits.Inc()
}

// RecordKafkaMessage records a Kafka message production with duration
func (m *Metrics) RecordKafkaMessage(duration float64) {
	m.KafkaMessagesProduced.Inc()
	m.KafkaProduceDuration.Observe(duration)
}

// RecordKafkaError records a Kafka production error with error type
func (m *Metrics) RecordKafkaError(errorType string) {
	if errorType == "" {
		errorType = "unknown"
	}
	m.KafkaProduceErrors.WithLabelValues(errorType).Inc()
}

// RecordArchiveUpload records an uploaded retired session file
func (m *Metrics) RecordArchiveUpload() {
	m.ArchiveUploads.Inc()
}

// RecordArchiveError records a failed upload
func (m *Metrics) RecordArchiveError() {
	m.ArchiveUploadErrors.Inc()
}
