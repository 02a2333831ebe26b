package saga

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/drafts/internal/domain"
	"github.com/vladislavdragonenkov/drafts/internal/metrics"
)

const (
	defaultReconcileInterval    = time.Minute
	defaultReconcileBatchSize   = 50
	defaultReconcileMaxAttempts = 5
	defaultReconcileCallTimeout = 5 * time.Second
)

// ReconcilerOptions задаёт параметры сверки orphan-записей.
type ReconcilerOptions struct {
	Logger      *log.Entry
	Events      domain.EventPublisher
	Metrics     *metrics.CommitMetrics
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	CallTimeout time.Duration
}

// ReconcilerOption настраивает Reconciler.
type ReconcilerOption func(*ReconcilerOptions)

// WithReconcileLogger задаёт logger.
func WithReconcileLogger(logger *log.Entry) ReconcilerOption {
	return func(opts *ReconcilerOptions) { opts.Logger = logger }
}

// WithReconcileEvents задаёт publisher событий.
func WithReconcileEvents(events domain.EventPublisher) ReconcilerOption {
	return func(opts *ReconcilerOptions) { opts.Events = events }
}

// WithReconcileMetrics включает метрики сверки.
func WithReconcileMetrics(m *metrics.CommitMetrics) ReconcilerOption {
	return func(opts *ReconcilerOptions) { opts.Metrics = m }
}

// WithReconcileInterval задаёт интервал между циклами.
func WithReconcileInterval(interval time.Duration) ReconcilerOption {
	return func(opts *ReconcilerOptions) { opts.Interval = interval }
}

// WithReconcileBatchSize задаёт размер батча.
func WithReconcileBatchSize(size int) ReconcilerOption {
	return func(opts *ReconcilerOptions) { opts.BatchSize = size }
}

// WithReconcileMaxAttempts задаёт число попыток удаления до статуса abandoned.
func WithReconcileMaxAttempts(attempts int) ReconcilerOption {
	return func(opts *ReconcilerOptions) { opts.MaxAttempts = attempts }
}

// Reconciler повторяет компенсирующие удаления записей из карантина.
// После MaxAttempts запись помечается abandoned и требует ручного разбора.
type Reconciler struct {
	orphans domain.OrphanRepository
	durable domain.DurableRepository
	opts    ReconcilerOptions
}

// NewReconciler создаёт воркер сверки.
func NewReconciler(orphans domain.OrphanRepository, durable domain.DurableRepository, options ...ReconcilerOption) *Reconciler {
	opts := ReconcilerOptions{
		Interval:    defaultReconcileInterval,
		BatchSize:   defaultReconcileBatchSize,
		MaxAttempts: defaultReconcileMaxAttempts,
		CallTimeout: defaultReconcileCallTimeout,
	}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "orphan-reconciler")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultReconcileInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultReconcileBatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultReconcileMaxAttempts
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultReconcileCallTimeout
	}
	return &Reconciler{orphans: orphans, durable: durable, opts: opts}
}

// Run выполняет сверку до отмены ctx.
func (r *Reconciler) Run(ctx context.Context) {
	if r.orphans == nil || r.durable == nil {
		r.opts.Logger.Warn("orphan reconciler is disabled: repository is nil")
		return
	}

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		r.ReconcileOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ReconcileOnce обрабатывает один батч и возвращает число снятых и брошенных записей.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (resolved, abandoned int) {
	pending, err := r.orphans.ListPending(ctx, r.opts.BatchSize)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.opts.Logger.WithError(err).Warn("failed to list orphan records")
		}
		return 0, 0
	}

	for _, orphan := range pending {
		if ctx.Err() != nil {
			return resolved, abandoned
		}
		switch r.reconcile(ctx, orphan) {
		case domain.OrphanStatusResolved:
			resolved++
		case domain.OrphanStatusAbandoned:
			abandoned++
		}
	}
	return resolved, abandoned
}

func (r *Reconciler) reconcile(ctx context.Context, orphan domain.OrphanRecord) domain.OrphanStatus {
	entry := r.opts.Logger.WithFields(log.Fields{
		"orphan_id":  orphan.ID,
		"record_id":  orphan.RecordID,
		"session_id": orphan.SessionID,
	})

	callCtx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
	err := r.durable.Delete(callCtx, orphan.RecordID)
	cancel()

	if err == nil || errors.Is(err, domain.ErrRecordNotFound) {
		if markErr := r.orphans.MarkResolved(ctx, orphan.ID); markErr != nil {
			entry.WithError(markErr).Warn("failed to mark orphan as resolved")
			return domain.OrphanStatusPending
		}
		r.opts.Metrics.Orphan(string(domain.OrphanStatusResolved))
		r.publish(ctx, domain.EventOrphanResolved, orphan)
		entry.Info("orphan record removed")
		return domain.OrphanStatusResolved
	}

	abandon := orphan.Attempts+1 >= r.opts.MaxAttempts
	if markErr := r.orphans.MarkAttempt(ctx, orphan.ID, err.Error(), abandon); markErr != nil {
		entry.WithError(markErr).Warn("failed to record orphan attempt")
		return domain.OrphanStatusPending
	}
	if abandon {
		r.opts.Metrics.Orphan(string(domain.OrphanStatusAbandoned))
		entry.WithError(err).WithField("attempts", orphan.Attempts+1).
			Error("orphan record abandoned, manual reconciliation required")
		return domain.OrphanStatusAbandoned
	}
	r.opts.Metrics.Orphan("retry")
	entry.WithError(err).Warn("orphan delete failed, will retry")
	return domain.OrphanStatusPending
}

func (r *Reconciler) publish(ctx context.Context, name string, orphan domain.OrphanRecord) {
	if r.opts.Events == nil {
		return
	}
	r.opts.Events.Publish(ctx, name, orphan.SessionID, map[string]any{
		"record_id": orphan.RecordID,
		"orphan_id": orphan.ID,
	})
}
