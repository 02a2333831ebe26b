package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	log "github.com/sirupsen/logrus"
)

// Драйверы хранилищ.
const (
	SessionDriverMemory = "memory"
	SessionDriverRedis  = "redis"

	DurableDriverMemory   = "memory"
	DurableDriverPostgres = "postgres"
	DurableDriverRemote   = "remote"

	EventSinkLog   = "log"
	EventSinkKafka = "kafka"
	EventSinkRedis = "redis"
)

// EnvPrefix задаёт префикс переменных окружения сервиса.
const EnvPrefix = "DRAFTS_"

// Config описывает настройки запуска сервиса.
type Config struct {
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
	GRPCAddr    string `env:"GRPC_ADDR" envDefault:":50051"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	SessionDriver string        `env:"SESSION_DRIVER" envDefault:"memory"`
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"30m"`
	LockTTL       time.Duration `env:"LOCK_TTL" envDefault:"10s"`
	RedisURL      string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	DurableDriver       string `env:"DURABLE_DRIVER" envDefault:"memory"`
	PostgresDSN         string `env:"POSTGRES_DSN"`
	PostgresAutoMigrate bool   `env:"POSTGRES_AUTO_MIGRATE" envDefault:"true"`
	RemoteBaseURL       string `env:"REMOTE_BASE_URL"`
	RemoteToken         string `env:"REMOTE_TOKEN"`
	// CatalogSeed: позиции in-memory каталога в формате id:price:currency[:tax].
	CatalogSeed []string `env:"CATALOG_SEED" envSeparator:","`

	EventSink     string   `env:"EVENT_SINK" envDefault:"log"`
	KafkaBrokers  []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic    string   `env:"KAFKA_TOPIC" envDefault:"drafts.events"`
	KafkaDLQTopic string   `env:"KAFKA_DLQ_TOPIC" envDefault:"drafts.dlq"`
	RedisStream   string   `env:"REDIS_STREAM" envDefault:"drafts:events"`

	// EventQueueSize: очередь асинхронной записи аудит-событий; 0 пишет синхронно.
	EventQueueSize int `env:"EVENT_QUEUE_SIZE" envDefault:"1024"`

	RetryMaxAttempts  int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	RetryInitialDelay time.Duration `env:"RETRY_INITIAL_DELAY" envDefault:"100ms"`
	RetryMaxDelay     time.Duration `env:"RETRY_MAX_DELAY" envDefault:"2s"`
	CallTimeout       time.Duration `env:"CALL_TIMEOUT" envDefault:"3s"`
	BreakerFailures   int           `env:"BREAKER_MAX_FAILURES" envDefault:"5"`
	BreakerReset      time.Duration `env:"BREAKER_RESET_TIMEOUT" envDefault:"30s"`
	CommitResultTTL   time.Duration `env:"COMMIT_RESULT_TTL" envDefault:"24h"`

	RecordPrivilege  string `env:"RECORD_PRIVILEGE" envDefault:"owner"`
	RecordVisibility string `env:"RECORD_VISIBILITY" envDefault:"private"`

	OutboxPollInterval  time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"1s"`
	OutboxBatchSize     int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
	OutboxMaxAttempts   int           `env:"OUTBOX_MAX_ATTEMPTS" envDefault:"3"`
	OutboxRetryDelay    time.Duration `env:"OUTBOX_RETRY_DELAY" envDefault:"50ms"`
	CleanupInterval     time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1m"`
	CleanupBatchSize    int           `env:"CLEANUP_BATCH_SIZE" envDefault:"500"`
	ReconcileInterval   time.Duration `env:"RECONCILE_INTERVAL" envDefault:"1m"`
	ReconcileMaxAttempt int           `env:"RECONCILE_MAX_ATTEMPTS" envDefault:"5"`
	SweepInterval       time.Duration `env:"SWEEP_INTERVAL" envDefault:"30s"`
	ShutdownTimeout     time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// DefaultConfig возвращает конфигурацию со значениями по умолчанию.
func DefaultConfig() Config {
	var cfg Config
	// Значения по умолчанию берутся из тегов, окружение не читается.
	_ = env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}})
	return cfg
}

// LoadConfig читает конфигурацию из окружения с префиксом DRAFTS_.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error

	switch c.SessionDriver {
	case SessionDriverMemory:
	case SessionDriverRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			errs = append(errs, errors.New("redis url is required for redis session driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported session driver %q", c.SessionDriver))
	}

	switch c.DurableDriver {
	case DurableDriverMemory:
	case DurableDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres dsn is required for postgres durable driver"))
		}
	case DurableDriverRemote:
		if strings.TrimSpace(c.RemoteBaseURL) == "" {
			errs = append(errs, errors.New("remote base url is required for remote durable driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported durable driver %q", c.DurableDriver))
	}

	switch c.EventSink {
	case EventSinkLog:
	case EventSinkKafka:
		if len(c.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("kafka brokers are required for kafka event sink"))
		}
	case EventSinkRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			errs = append(errs, errors.New("redis url is required for redis event sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported event sink %q", c.EventSink))
	}

	if c.EventQueueSize < 0 {
		errs = append(errs, errors.New("event queue size must not be negative"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("session ttl must be positive"))
	}
	if c.LockTTL <= 0 || c.LockTTL >= c.SessionTTL {
		errs = append(errs, errors.New("lock ttl must be positive and shorter than session ttl"))
	}
	if c.RetryMaxAttempts < 1 {
		errs = append(errs, errors.New("retry max attempts must be at least 1"))
	}
	if c.CallTimeout <= 0 {
		errs = append(errs, errors.New("call timeout must be positive"))
	}
	// Блокировка продлевается перед каждым вызовом и должна его пережить.
	if c.CallTimeout >= c.LockTTL {
		errs = append(errs, errors.New("call timeout must be shorter than lock ttl"))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid log level %q", c.LogLevel))
	}
	if _, err := parseCatalogSeed(c.CatalogSeed); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
