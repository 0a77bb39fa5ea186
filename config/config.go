package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds all configuration for the session migrator
type Config struct {
	Workspace WorkspaceConfig
	Migration MigrationConfig
	Telegram  TelegramConfig
	Kafka     KafkaConfig
	Database  DatabaseConfig
	S3        S3Config
	Logging   LoggingConfig
	Service   ServiceConfig
}

// WorkspaceConfig holds the locations of the files the migrator works on
type WorkspaceConfig struct {
	SessionsDir    string
	NewSessionsDir string
	ProxyFile      string
	SettingsFile   string
}

// MigrationConfig holds static migration policy
type MigrationConfig struct {
	MaxAttempts        int
	CodePollAttempts   int
	CodePollWait       time.Duration
	ManualCodeFallback bool
}

// TelegramConfig holds MTProto client configuration
type TelegramConfig struct {
	// IdentityPlatform selects the device family of generated identities
	IdentityPlatform  string
	RequestsPerSecond int
	ConnectTimeout    time.Duration
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Brokers     []string
	EventsTopic string
}

// Enabled reports whether migration events are published
func (c *KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Enabled reports whether the migration journal is stored
func (c *DatabaseConfig) Enabled() bool {
	return c.Host != ""
}

// GetDSN returns database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// S3Config holds S3-compatible storage configuration for retired sessions
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Enabled reports whether retired sessions are archived
func (c *S3Config) Enabled() bool {
	return c.Endpoint != ""
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string
}

// ServiceConfig holds service configuration
type ServiceConfig struct {
	Name string
	// Port of the health/metrics/status endpoint, empty disables it
	Port string
}

// Result is fx.Out struct for providing config dependencies
type Result struct {
	fx.Out

	Config          *Config
	WorkspaceConfig *WorkspaceConfig
	MigrationConfig *MigrationConfig
	TelegramConfig  *TelegramConfig
	KafkaConfig     *KafkaConfig
	DatabaseConfig  *DatabaseConfig
	S3Config        *S3Config
	LoggingConfig   *LoggingConfig
	ServiceConfig   *ServiceConfig
}

// Out returns fx-compatible config result
func Out() (Result, error) {
	cfg, err := Load()
	if err != nil {
		return Result{}, err
	}

	return Result{
		Config:          cfg,
		WorkspaceConfig: &cfg.Workspace,
		MigrationConfig: &cfg.Migration,
		TelegramConfig:  &cfg.Telegram,
		KafkaConfig:     &cfg.Kafka,
		DatabaseConfig:  &cfg.Database,
		S3Config:        &cfg.S3,
		LoggingConfig:   &cfg.Logging,
		ServiceConfig:   &cfg.Service,
	}, nil
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	maxAttempts, err := getEnvInt("MIGRATION_MAX_ATTEMPTS", 3)
	if err != nil {
		return nil, err
	}

	pollAttempts, err := getEnvInt("CODE_POLL_ATTEMPTS", 3)
	if err != nil {
		return nil, err
	}

	rps, err := getEnvInt("TELEGRAM_RPS", 10)
	if err != nil {
		return nil, err
	}

	manualFallback, err := getEnvBool("MANUAL_CODE_FALLBACK", true)
	if err != nil {
		return nil, err
	}

	useSSL, err := getEnvBool("S3_USE_SSL", false)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Workspace: WorkspaceConfig{
			SessionsDir:    getEnv("SESSIONS_DIR", "sessions"),
			NewSessionsDir: getEnv("NEW_SESSIONS_DIR", "new_sessions"),
			ProxyFile:      getEnv("PROXY_FILE", "proxy.txt"),
			SettingsFile:   getEnv("SETTINGS_FILE", "config.json"),
		},
		Migration: MigrationConfig{
			MaxAttempts:        maxAttempts,
			CodePollAttempts:   pollAttempts,
			CodePollWait:       getEnvDuration("CODE_POLL_WAIT", 60*time.Second),
			ManualCodeFallback: manualFallback,
		},
		Telegram: TelegramConfig{
			IdentityPlatform:  strings.ToLower(getEnv("IDENTITY_PLATFORM", "windows")),
			RequestsPerSecond: rps,
			ConnectTimeout:    getEnvDuration("TELEGRAM_CONNECT_TIMEOUT", 30*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:     getEnvList("KAFKA_BROKERS"),
			EventsTopic: getEnv("KAFKA_TOPIC_MIGRATION_EVENTS", "session.migration.events"),
		},
		Database: DatabaseConfig{
			Host:     os.Getenv("DATABASE_HOST"),
			Port:     getEnv("DATABASE_PORT", "5432"),
			User:     getEnv("DATABASE_USER", "migrator"),
			Password: getEnv("DATABASE_PASSWORD", ""),
			DBName:   getEnv("DATABASE_NAME", "migrator"),
			SSLMode:  getEnv("DATABASE_SSLMODE", "disable"),
		},
		S3: S3Config{
			Endpoint:  os.Getenv("S3_ENDPOINT"),
			AccessKey: getEnv("S3_ACCESS_KEY", ""),
			SecretKey: getEnv("S3_SECRET_KEY", ""),
			Bucket:    getEnv("S3_BUCKET", "retired-sessions"),
			UseSSL:    useSSL,
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Service: ServiceConfig{
			Name: getEnv("SERVICE_NAME", "tg-session-migrator"),
			Port: os.Getenv("SERVICE_PORT"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Workspace.SessionsDir == "" {
		return fmt.Errorf("SESSIONS_DIR is required")
	}

	if c.Workspace.NewSessionsDir == "" {
		return fmt.Errorf("NEW_SESSIONS_DIR is required")
	}

	if filepath.Clean(c.Workspace.SessionsDir) == filepath.Clean(c.Workspace.NewSessionsDir) {
		return fmt.Errorf("SESSIONS_DIR and NEW_SESSIONS_DIR must differ")
	}

	if c.Migration.MaxAttempts < 1 {
		return fmt.Errorf("MIGRATION_MAX_ATTEMPTS must be at least 1")
	}

	if c.Migration.CodePollAttempts < 1 {
		return fmt.Errorf("CODE_POLL_ATTEMPTS must be at least 1")
	}

	if c.Migration.CodePollWait <= 0 {
		return fmt.Errorf("CODE_POLL_WAIT must be positive")
	}

	switch c.Telegram.IdentityPlatform {
	case "windows", "macos", "linux":
	default:
		return fmt.Errorf("IDENTITY_PLATFORM must be one of windows, macos, linux")
	}

	if c.Telegram.RequestsPerSecond < 1 {
		return fmt.Errorf("TELEGRAM_RPS must be at least 1")
	}

	if c.Kafka.Enabled() && c.Kafka.EventsTopic == "" {
		return fmt.Errorf("KAFKA_TOPIC_MIGRATION_EVENTS is required when KAFKA_BROKERS is set")
	}

	if c.Database.Enabled() && c.Database.DBName == "" {
		return fmt.Errorf("DATABASE_NAME is required when DATABASE_HOST is set")
	}

	if c.S3.Enabled() {
		if c.S3.AccessKey == "" || c.S3.SecretKey == "" {
			return fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY are required when S3_ENDPOINT is set")
		}
		if c.S3.Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when S3_ENDPOINT is set")
		}
	}

	return nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

// getEnvDuration gets environment variable as duration with default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}

// getEnvList splits a comma separated variable, dropping empty items
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
