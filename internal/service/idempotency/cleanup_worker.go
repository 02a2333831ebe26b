// Package idempotency удаляет устаревшие результаты коммитов.
//
// Пока результат жив, повторный Commit той же сессии получает сохранённый ответ.
// После удаления повтор ведёт себя как коммит неизвестной сессии.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/drafts/internal/clock"
	"github.com/vladislavdragonenkov/drafts/internal/domain"
)

const (
	defaultInterval   = 10 * time.Minute
	defaultBatchSize  = 500
	defaultMaxBatches = 20
)

var (
	sweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drafts_commit_results_cleanup_runs_total",
		Help: "Commit result cleanup runs grouped by result.",
	}, []string{"result"})
	sweptResults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "drafts_commit_results_cleanup_deleted_total",
		Help: "Expired commit results removed from the store.",
	})
)

type settings struct {
	logger     *log.Entry
	clock      clock.Clock
	interval   time.Duration
	batchSize  int
	maxBatches int
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*settings)

func WithLogger(logger *log.Entry) CleanupOption {
	return func(s *settings) { s.logger = logger }
}

func WithClock(c clock.Clock) CleanupOption {
	return func(s *settings) { s.clock = c }
}

// WithInterval задаёт паузу между проходами.
func WithInterval(interval time.Duration) CleanupOption {
	return func(s *settings) { s.interval = interval }
}

// WithBatchSize задаёт число записей, удаляемых одним запросом.
func WithBatchSize(n int) CleanupOption {
	return func(s *settings) { s.batchSize = n }
}

// WithMaxBatches ограничивает число запросов за проход, остаток ждёт следующего.
func WithMaxBatches(n int) CleanupOption {
	return func(s *settings) { s.maxBatches = n }
}

// CleanupWorker периодически удаляет результаты коммитов с истёкшим TTL.
type CleanupWorker struct {
	results domain.IdempotencyRepository
	cfg     settings
}

// NewCleanupWorker создаёт воркер очистки.
func NewCleanupWorker(results domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	cfg := settings{
		interval:   defaultInterval,
		batchSize:  defaultBatchSize,
		maxBatches: defaultMaxBatches,
	}
	for _, option := range options {
		option(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = log.WithField("component", "commit-results-cleanup")
	}
	if cfg.clock == nil {
		cfg.clock = clock.NewSystem()
	}
	if cfg.interval <= 0 {
		cfg.interval = defaultInterval
	}
	if cfg.batchSize <= 0 {
		cfg.batchSize = defaultBatchSize
	}
	if cfg.maxBatches <= 0 {
		cfg.maxBatches = defaultMaxBatches
	}
	return &CleanupWorker{results: results, cfg: cfg}
}

// Run выполняет проход сразу и затем раз в interval до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.results == nil {
		w.cfg.logger.Warn("commit result cleanup is disabled: store is nil")
		return
	}

	ticker := time.NewTicker(w.cfg.interval)
	defer ticker.Stop()

	for {
		w.runOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) runOnce(ctx context.Context) {
	started := w.cfg.clock.Now()
	removed, err := w.DeleteExpired(ctx, started)
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		sweepRuns.WithLabelValues("error").Inc()
		w.cfg.logger.WithError(err).WithField("removed", removed).Warn("commit result cleanup failed")
		return
	}

	sweepRuns.WithLabelValues("ok").Inc()
	if removed > 0 {
		w.cfg.logger.WithFields(log.Fields{
			"removed": removed,
			"cutoff":  started.Format(time.RFC3339),
		}).Info("expired commit results removed")
	}
}

// DeleteExpired удаляет результаты с TTL не позже before порциями по batchSize.
// Нулевой before означает текущее время. Проход останавливается на неполной
// порции или после maxBatches запросов.
func (w *CleanupWorker) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = w.cfg.clock.Now()
	}

	total := 0
	for batch := 0; batch < w.cfg.maxBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, err := w.results.DeleteExpired(ctx, before, w.cfg.batchSize)
		if err != nil {
			return total, err
		}
		total += n
		sweptResults.Add(float64(n))

		if n < w.cfg.batchSize {
			break
		}
	}
	return total, nil
}
