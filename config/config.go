package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/database"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/kafka"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/recompute"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/redis"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/tracing/exporters"
)

type Config struct {
	AppName                       string   `env:"APP_NAME" envDefault:"canon"`
	Version                       string   `env:"APP_VERSION" envDefault:"dev"`
	Port                          int      `env:"PORT" envDefault:"3004"`
	LogLevel                      string   `env:"LOG_LEVEL" envDefault:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" envDefault:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" envDefault:"120"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" envDefault:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" envDefault:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" envDefault:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" envDefault:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" envDefault:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" envDefault:"GET,POST,PUT,DELETE"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" envDefault:"5"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// PostgreSQL
	DatabaseHost                  string        `env:"DB_HOST" envDefault:"localhost"`
	DatabasePort                  int           `env:"DB_PORT" envDefault:"5432"`
	DatabaseUserName              string        `env:"DB_USER_NAME" envDefault:"postgres"`
	DatabasePassword              string        `env:"DB_PASSWORD" envDefault:""`
	DatabaseName                  string        `env:"DB_NAME" envDefault:"canon"`
	DatabaseSSLMode               string        `env:"DB_SSL_MODE" envDefault:"disable"`
	DatabaseMaxOpenConns          int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DatabaseMaxIdleConns          int           `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DatabaseConnMaxLifetime       time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"10m"`
	DatabaseMigrationFolderPath   string        `env:"DB_MIGRATION_FOLDER_PATH" envDefault:"db/pg"`
	DatabaseMigrationVersion      uint          `env:"DB_MIGRATION_VERSION" envDefault:"0"`
	DatabaseMigrationForce        int           `env:"DB_MIGRATION_FORCE" envDefault:"0"`
	DatabaseMigrationAutoRollback bool          `env:"DB_MIGRATION_AUTO_ROLLBACK" envDefault:"true"`
	DatabaseMigrateOnStart        bool          `env:"DB_MIGRATE_ON_START" envDefault:"true"`

	// Redis (recompute lock, dead letters, alias map invalidation)
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"10"`
	DLQStream     string `env:"DLQ_STREAM" envDefault:"canon:dlq"`

	// Kafka consumer (ledger events)
	KafkaBrokers         []string      `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaInputTopic      string        `env:"KAFKA_INPUT_TOPIC" envDefault:"ledger-events"`
	KafkaConsumerGroup   string        `env:"KAFKA_CONSUMER_GROUP" envDefault:"canon-consumer"`
	KafkaConsumerEnabled bool          `env:"KAFKA_CONSUMER_ENABLED" envDefault:"true"`
	KafkaMaxAttempts     int           `env:"KAFKA_MAX_ATTEMPTS" envDefault:"5"`
	KafkaRetryBackoff    time.Duration `env:"KAFKA_RETRY_BACKOFF" envDefault:"500ms"`

	// Kafka producer (entity events)
	KafkaOutputTopic  string `env:"KAFKA_OUTPUT_TOPIC" envDefault:"entity-events"`
	KafkaBatchSize    int    `env:"KAFKA_BATCH_SIZE" envDefault:"100"`
	KafkaBatchTimeout int    `env:"KAFKA_BATCH_TIMEOUT_MS" envDefault:"100"`
	KafkaRequiredAcks int    `env:"KAFKA_REQUIRED_ACKS" envDefault:"1"`
	KafkaCompression  string `env:"KAFKA_COMPRESSION" envDefault:"snappy"`

	// Tracing
	TracingEnabled   bool    `env:"TRACING_ENABLED" envDefault:"false"`
	OTLPEndpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	OTLPProtocol     string  `env:"OTEL_EXPORTER_OTLP_PROTOCOL" envDefault:"grpc"`
	OTLPInsecure     bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	TraceSampleRatio float64 `env:"OTEL_TRACES_SAMPLER_ARG" envDefault:"1"`

	// Processing
	RecomputeWorkers     int           `env:"RECOMPUTE_WORKERS" envDefault:"8"`
	RecomputeLockTTL     time.Duration `env:"RECOMPUTE_LOCK_TTL" envDefault:"2m"`
	ExcludedRevenueTypes []string      `env:"EXCLUDED_REVENUE_TYPES" envDefault:"Trade"`
	AuditWorkers         int           `env:"AUDIT_WORKERS" envDefault:"8"`
	SignalRulesFile      string        `env:"SIGNAL_RULES_FILE" envDefault:""`
	OwnerTableFile       string        `env:"OWNER_TABLE_FILE" envDefault:""`
	BackfillLookback     time.Duration `env:"BACKFILL_LOOKBACK" envDefault:"8760h"`
}

// Load reads the given .env files, when present, and then the environment.
// Variables already set in the environment win over the files.
func Load(envFiles ...string) (*Config, error) {
	existing := make([]string, 0, len(envFiles))
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) > 0 {
		if err := godotenv.Load(existing...); err != nil {
			return nil, fmt.Errorf("load env files: %w", err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 {
		errs = append(errs, errors.New("PORT must be positive"))
	}
	if c.RecomputeWorkers < 1 {
		errs = append(errs, errors.New("RECOMPUTE_WORKERS must be at least 1"))
	}
	if c.RecomputeLockTTL < time.Second {
		errs = append(errs, errors.New("RECOMPUTE_LOCK_TTL must be at least 1s"))
	}
	if c.KafkaConsumerEnabled && len(c.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is required when the consumer is enabled"))
	}
	return errors.Join(errs...)
}

func (c *Config) Database() database.Config {
	return database.Config{
		Host:            c.DatabaseHost,
		Port:            c.DatabasePort,
		User:            c.DatabaseUserName,
		Password:        c.DatabasePassword,
		Name:            c.DatabaseName,
		SSLMode:         c.DatabaseSSLMode,
		MaxOpenConns:    c.DatabaseMaxOpenConns,
		MaxIdleConns:    c.DatabaseMaxIdleConns,
		ConnMaxLifetime: c.DatabaseConnMaxLifetime,
	}
}

func (c *Config) Migration() *database.MigrationConfig {
	return &database.MigrationConfig{
		MigrationFolderPath: c.DatabaseMigrationFolderPath,
		Version:             c.DatabaseMigrationVersion,
		Force:               c.DatabaseMigrationForce,
		AutoRollback:        c.DatabaseMigrationAutoRollback,
	}
}

func (c *Config) Redis() redis.Config {
	return redis.Config{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
		PoolSize: c.RedisPoolSize,
	}
}

func (c *Config) Consumer() kafka.ConsumerConfig {
	return kafka.ConsumerConfig{
		Brokers:       c.KafkaBrokers,
		Topic:         c.KafkaInputTopic,
		ConsumerGroup: c.KafkaConsumerGroup,
		MaxAttempts:   c.KafkaMaxAttempts,
		RetryBackoff:  c.KafkaRetryBackoff,
	}
}

func (c *Config) Producer() kafka.ProducerConfig {
	return kafka.ProducerConfig{
		Brokers:      c.KafkaBrokers,
		Topic:        c.KafkaOutputTopic,
		BatchSize:    c.KafkaBatchSize,
		BatchTimeout: time.Duration(c.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: c.KafkaRequiredAcks,
		Compression:  c.KafkaCompression,
	}
}

func (c *Config) Recompute() recompute.Config {
	return recompute.Config{
		Workers:              c.RecomputeWorkers,
		LockTTL:              c.RecomputeLockTTL,
		ExcludedRevenueTypes: c.ExcludedRevenueTypes,
	}
}

func (c *Config) OTLP() exporters.OTLPConfig {
	return exporters.OTLPConfig{
		Endpoint:  c.OTLPEndpoint,
		Protocol:  c.OTLPProtocol,
		Insecure:  c.OTLPInsecure,
		Timeout:   10 * time.Second,
		UserAgent: c.AppName + "/" + c.Version,
	}
}

func (c *Config) TraceProvider() exporters.ProviderConfig {
	return exporters.ProviderConfig{
		ServiceName:    c.AppName,
		ServiceVersion: c.Version,
		SampleRatio:    c.TraceSampleRatio,
	}
}
