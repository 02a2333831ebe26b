// Package postgres хранит в PostgreSQL записи коммитов,
// каталог, результаты коммитов, outbox, журнал и карантин orphan-записей.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

const (
	applicationName = "draft-service"
	pingTimeout     = 5 * time.Second

	// opTimeout ограничивает одиночный запрос, если у вызывающего нет своего дедлайна.
	opTimeout = 5 * time.Second
)

// Pool задаёт параметры пула соединений database/sql.
type Pool struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// DefaultPool рассчитан на один инстанс сервиса рядом с PgBouncer или без него.
var DefaultPool = Pool{
	MaxOpen:     25,
	MaxIdle:     25,
	MaxLifetime: 30 * time.Minute,
	MaxIdleTime: 5 * time.Minute,
}

// Option настраивает Open.
type Option func(*openSettings)

type openSettings struct {
	pool    Pool
	appName string
}

// WithPool переопределяет параметры пула.
func WithPool(p Pool) Option {
	return func(s *openSettings) { s.pool = p }
}

// WithApplicationName задаёт application_name, видимый в pg_stat_activity.
func WithApplicationName(name string) Option {
	return func(s *openSettings) { s.appName = name }
}

// Store владеет пулом соединений; репозитории пакета строятся поверх него.
type Store struct {
	db *sql.DB
}

// Open разбирает DSN драйвером pgx, открывает пул и проверяет доступность базы.
func Open(ctx context.Context, dsn string, options ...Option) (*Store, error) {
	settings := openSettings{pool: DefaultPool, appName: applicationName}
	for _, option := range options {
		option(&settings)
	}

	connConfig, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if _, ok := connConfig.RuntimeParams["application_name"]; !ok && settings.appName != "" {
		connConfig.RuntimeParams["application_name"] = settings.appName
	}

	db := stdlib.OpenDB(*connConfig)
	db.SetMaxOpenConns(settings.pool.MaxOpen)
	db.SetMaxIdleConns(settings.pool.MaxIdle)
	db.SetConnMaxLifetime(settings.pool.MaxLifetime)
	db.SetConnMaxIdleTime(settings.pool.MaxIdleTime)

	store := &Store{db: db}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres %s:%d: %w", connConfig.Host, connConfig.Port, err)
	}
	return store, nil
}

// DB отдаёт пул для миграций и тестов.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping используется health-проверкой готовности.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// EnsureSchema доводит схему до последней версии.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, opTimeout)
}
