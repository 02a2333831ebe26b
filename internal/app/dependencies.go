package app

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/drafts/internal/clock"
	"github.com/vladislavdragonenkov/drafts/internal/domain"
	"github.com/vladislavdragonenkov/drafts/internal/health"
	"github.com/vladislavdragonenkov/drafts/internal/storage/memory"
	"github.com/vladislavdragonenkov/drafts/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/drafts/internal/storage/redis"
	"github.com/vladislavdragonenkov/drafts/internal/storage/remote"
)

// DurableBackend: durable-хранилище с индексом регистраций.
type DurableBackend interface {
	domain.DurableRepository
	domain.RegistrationIndex
}

// Dependencies содержит хранилища приложения, выбранные конфигурацией.
type Dependencies struct {
	Sessions domain.SessionStore
	// Sweepable задан только для in-memory сессий: Redis удаляет ключи по TTL сам.
	Sweepable *memory.SessionStore
	Durable   DurableBackend
	Catalog   domain.Catalog
	Results   domain.IdempotencyRepository
	Orphans   domain.OrphanRepository
	Outbox    domain.OutboxRepository
	Timeline  domain.TimelineRepository
	Redis     goredis.UniversalClient
	Clock     clock.Clock
	Logger    *log.Entry

	checks  map[string]health.Checker
	closers []func() error
}

// NewDependencies создаёт хранилища по конфигурации.
// При ошибке уже открытые соединения закрываются.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	deps := &Dependencies{
		Clock:  clock.NewSystem(),
		Logger: logger,
		checks: make(map[string]health.Checker),
	}
	if err := deps.init(ctx, cfg); err != nil {
		if closeErr := deps.Close(); closeErr != nil {
			logger.WithError(closeErr).Warn("failed to close partially initialized storage")
		}
		return nil, err
	}
	return deps, nil
}

func (deps *Dependencies) init(ctx context.Context, cfg Config) error {
	logger := deps.Logger
	seed, err := parseCatalogSeed(cfg.CatalogSeed)
	if err != nil {
		return err
	}

	if cfg.SessionDriver == SessionDriverRedis || cfg.EventSink == EventSinkRedis {
		if err := deps.openRedis(ctx, cfg.RedisURL); err != nil {
			return err
		}
	}

	switch cfg.SessionDriver {
	case SessionDriverRedis:
		deps.Sessions = redisstore.NewSessionStore(deps.Redis,
			redisstore.WithLogger(logger.WithField("component", "redis-session-store")),
			redisstore.WithTTL(cfg.SessionTTL),
			redisstore.WithLockTTL(cfg.LockTTL),
		)
	default:
		sessions := memory.NewSessionStore(deps.Clock, cfg.SessionTTL, cfg.LockTTL)
		deps.Sessions = sessions
		deps.Sweepable = sessions
	}

	var store *postgres.Store
	if cfg.DurableDriver == DurableDriverPostgres || (cfg.DurableDriver == DurableDriverRemote && cfg.PostgresDSN != "") {
		if store, err = deps.openPostgres(ctx, cfg); err != nil {
			return err
		}
	}

	switch cfg.DurableDriver {
	case DurableDriverPostgres:
		deps.Durable = postgres.NewDurableRepository(store)
	case DurableDriverRemote:
		client, err := remote.NewClient(cfg.RemoteBaseURL,
			remote.WithToken(cfg.RemoteToken),
			remote.WithLogger(logger.WithField("component", "remote-durable")),
		)
		if err != nil {
			return fmt.Errorf("remote durable client: %w", err)
		}
		deps.Durable = client
	default:
		deps.Durable = memory.NewDurableRepository()
	}

	if store != nil {
		for _, product := range seed {
			if err := postgres.UpsertProduct(ctx, store, product); err != nil {
				return fmt.Errorf("seed catalog: %w", err)
			}
		}
		deps.Catalog = postgres.NewCatalog(store)
		deps.Results = postgres.NewIdempotencyRepository(store)
		deps.Orphans = postgres.NewOrphanRepository(store)
		deps.Outbox = postgres.NewOutboxRepository(store)
		deps.Timeline = postgres.NewTimelineRepository(store)
	} else {
		deps.Catalog = memory.NewCatalog(seed...)
		deps.Results = memory.NewIdempotencyRepositoryWithClock(deps.Clock)
		deps.Orphans = memory.NewQuarantineWithClock(deps.Clock)
		deps.Outbox = memory.NewOutboxWithClock(deps.Clock)
		deps.Timeline = memory.NewTimelineWithClock(deps.Clock)
	}

	logger.WithFields(log.Fields{
		"session_driver": cfg.SessionDriver,
		"durable_driver": cfg.DurableDriver,
		"catalog_seed":   len(seed),
	}).Info("storage initialized")
	return nil
}

func (deps *Dependencies) openRedis(ctx context.Context, url string) error {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	deps.addCloser(client.Close)
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	deps.Redis = client
	deps.checks["redis"] = health.NewRedisChecker("redis", client)
	return nil
}

func (deps *Dependencies) openPostgres(ctx context.Context, cfg Config) (*postgres.Store, error) {
	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	deps.addCloser(store.Close)
	if cfg.PostgresAutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
	}
	deps.checks["postgres"] = health.NewFuncChecker("postgres", store.Ping)
	return store, nil
}

func (deps *Dependencies) addCloser(fn func() error) {
	deps.closers = append(deps.closers, fn)
}

// RegisterHealth добавляет проверки хранилищ как критичные.
func (deps *Dependencies) RegisterHealth(h *health.Handler) {
	for name, checker := range deps.checks {
		h.RegisterChecker(name, checker)
	}
}

// Close закрывает соединения в обратном порядке открытия.
func (deps *Dependencies) Close() error {
	var errs []error
	for i := len(deps.closers) - 1; i >= 0; i-- {
		if err := deps.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	deps.closers = nil
	return errors.Join(errs...)
}
