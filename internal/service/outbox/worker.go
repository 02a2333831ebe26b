// Package outbox доставляет события черновиков из outbox во внешний брокер.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/drafts/internal/clock"
	"github.com/vladislavdragonenkov/drafts/internal/domain"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = 10 * time.Second
)

var (
	publishAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drafts_outbox_publish_attempts_total",
		Help: "Outbox publish attempts grouped by result.",
	}, []string{"result"})
	pendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "drafts_outbox_pending_records",
		Help: "Pending records in the outbox.",
	})
	oldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "drafts_outbox_oldest_pending_age_seconds",
		Help: "Age of the oldest pending outbox record.",
	})
)

type settings struct {
	logger       *log.Entry
	clock        clock.Clock
	dlq          domain.OutboxPublisher
	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
	retryBase    time.Duration
}

// Option настраивает Worker.
type Option func(*settings)

func WithLogger(logger *log.Entry) Option {
	return func(s *settings) { s.logger = logger }
}

// WithClock задаёт часы для метрики возраста backlog.
func WithClock(c clock.Clock) Option {
	return func(s *settings) { s.clock = c }
}

// WithDLQPublisher задаёт publisher для сообщений, исчерпавших попытки.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(s *settings) { s.dlq = publisher }
}

func WithPollInterval(interval time.Duration) Option {
	return func(s *settings) { s.pollInterval = interval }
}

func WithBatchSize(n int) Option {
	return func(s *settings) { s.batchSize = n }
}

// WithMaxAttempts задаёт число попыток публикации одного сообщения за цикл.
func WithMaxAttempts(n int) Option {
	return func(s *settings) { s.maxAttempts = n }
}

// WithRetryBaseDelay задаёт первую паузу между попытками; 0 отключает паузы.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(s *settings) { s.retryBase = max(delay, 0) }
}

// Worker публикует pending-события из outbox в брокер.
// Сообщение, не доставленное за maxAttempts попыток, уходит в DLQ
// и помечается failed; при остановке сервиса остаётся pending.
type Worker struct {
	outbox    domain.OutboxRepository
	publisher domain.OutboxPublisher
	cfg       settings
}

func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	cfg := settings{
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
		maxAttempts:  defaultMaxAttempts,
		retryBase:    defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = log.WithField("component", "outbox-worker")
	}
	if cfg.clock == nil {
		cfg.clock = clock.NewSystem()
	}
	if cfg.pollInterval <= 0 {
		cfg.pollInterval = defaultPollInterval
	}
	if cfg.batchSize <= 0 {
		cfg.batchSize = defaultBatchSize
	}
	if cfg.maxAttempts <= 0 {
		cfg.maxAttempts = defaultMaxAttempts
	}
	return &Worker{outbox: repo, publisher: publisher, cfg: cfg}
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.outbox == nil || w.publisher == nil {
		w.cfg.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.cfg.pollInterval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce выполняет один цикл доставки и возвращает число доставленных
// и окончательно неудачных сообщений.
func (w *Worker) ProcessOnce(ctx context.Context) (sent, failed int) {
	if ctx.Err() != nil {
		return 0, 0
	}
	defer w.observeBacklog(ctx)

	batch, err := w.outbox.PullPending(ctx, w.cfg.batchSize)
	if err != nil {
		w.cfg.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return 0, 0
	}

	for _, msg := range batch {
		if ctx.Err() != nil {
			break
		}
		delivered, stopped := w.deliver(ctx, msg)
		switch {
		case stopped:
			return sent, failed
		case delivered:
			sent++
		default:
			failed++
		}
	}
	return sent, failed
}

// deliver возвращает stopped=true, если ctx отменён и сообщение осталось pending.
func (w *Worker) deliver(ctx context.Context, msg domain.OutboxMessage) (delivered, stopped bool) {
	entry := w.cfg.logger.WithFields(log.Fields{
		"outbox_id":  msg.ID,
		"event_type": msg.EventType,
		"session_id": msg.AggregateID,
	})

	err := w.publishWithRetry(ctx, msg)
	if err == nil {
		if markErr := w.outbox.MarkSent(ctx, msg.ID); markErr != nil {
			entry.WithError(markErr).Warn("failed to mark outbox message as sent")
		}
		return true, false
	}
	if ctx.Err() != nil {
		return false, true
	}

	publishAttempts.WithLabelValues("failed").Inc()
	entry.WithError(err).Error("outbox publish failed after retries")
	if dlqErr := w.deadLetter(ctx, msg, err); dlqErr != nil {
		publishAttempts.WithLabelValues("dlq_failed").Inc()
		entry.WithError(dlqErr).Warn("failed to publish to DLQ")
	}
	if markErr := w.outbox.MarkFailed(ctx, msg.ID); markErr != nil {
		entry.WithError(markErr).Warn("failed to mark outbox message as failed")
	}
	return false, false
}

func (w *Worker) publishWithRetry(ctx context.Context, msg domain.OutboxMessage) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = w.publisher.Publish(ctx, msg); err == nil {
			publishAttempts.WithLabelValues("sent").Inc()
			return nil
		}
		publishAttempts.WithLabelValues("retry_error").Inc()
		if attempt >= w.cfg.maxAttempts {
			return fmt.Errorf("publish failed after %d attempts: %w", attempt, err)
		}
		if err := sleep(ctx, backoff(w.cfg.retryBase, attempt)); err != nil {
			return err
		}
	}
}

func (w *Worker) deadLetter(ctx context.Context, msg domain.OutboxMessage, cause error) error {
	if w.cfg.dlq == nil {
		return nil
	}
	body, err := json.Marshal(NewDeadLetter(msg, cause))
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	dead := msg
	dead.Payload = body
	if err := w.cfg.dlq.Publish(ctx, dead); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}

func (w *Worker) observeBacklog(ctx context.Context) {
	stats, err := w.outbox.Stats(ctx)
	if err != nil {
		w.cfg.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}
	pendingRecords.Set(float64(stats.PendingCount))
	oldestPendingAge.Set(backlogAge(stats, w.cfg.clock.Now()).Seconds())
}

func backlogAge(stats domain.OutboxStats, now time.Time) time.Duration {
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		return 0
	}
	return max(now.Sub(stats.OldestPendingAt), 0)
}

// backoff возвращает base*2^(attempt-1), ограниченное maxRetryDelay.
func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempt; i++ {
		if delay *= 2; delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
