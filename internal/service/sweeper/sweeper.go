// Package sweeper удаляет истёкшие черновики из хранилища без собственного TTL.
package sweeper

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/drafts/internal/domain"
)

const defaultInterval = 30 * time.Second

var expiredDrafts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "drafts_expired_sessions_total",
	Help: "Drafts removed by TTL grouped by kind.",
}, []string{"kind"})

// Store: хранилище, умеющее вычищать истёкшие черновики.
// Redis истекает черновики сам, поэтому sweeper нужен только памяти.
type Store interface {
	Sweep(ctx context.Context) ([]domain.Draft, error)
}

// Option настраивает Sweeper.
type Option func(*Sweeper)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Sweeper) { s.logger = logger }
}

// WithEvents задаёт publisher событий draft.expired.
func WithEvents(events domain.EventPublisher) Option {
	return func(s *Sweeper) { s.events = events }
}

// WithInterval задаёт интервал очистки.
func WithInterval(interval time.Duration) Option {
	return func(s *Sweeper) { s.interval = interval }
}

// Sweeper периодически удаляет истёкшие черновики.
type Sweeper struct {
	store    Store
	events   domain.EventPublisher
	logger   *log.Entry
	interval time.Duration
}

// New создаёт sweeper.
func New(store Store, opts ...Option) *Sweeper {
	s := &Sweeper{store: store, interval: defaultInterval}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "draft-sweeper")
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	return s
}

// Run выполняет очистку до отмены ctx.
func (s *Sweeper) Run(ctx context.Context) {
	if s.store == nil {
		s.logger.Warn("draft sweeper is disabled: store is nil")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce удаляет истёкшие черновики и возвращает их число.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	expired, err := s.store.Sweep(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("failed to sweep expired drafts")
		return 0
	}

	for _, draft := range expired {
		expiredDrafts.WithLabelValues(string(draft.Kind)).Inc()
		if s.events != nil {
			s.events.Publish(ctx, domain.EventDraftExpired, draft.ID, map[string]any{
				"kind":        string(draft.Kind),
				"owner_id":    draft.OwnerID,
				"items":       len(draft.Items),
				"total_minor": draft.TotalMinor,
			})
		}
	}
	if len(expired) > 0 {
		s.logger.WithField("count", len(expired)).Info("expired drafts removed")
	}
	return len(expired)
}
