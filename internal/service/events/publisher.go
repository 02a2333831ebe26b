// Package events записывает аудит-события черновиков в outbox и timeline.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/drafts/internal/clock"
	"github.com/vladislavdragonenkov/drafts/internal/domain"
	"github.com/vladislavdragonenkov/drafts/internal/metrics"
)

const defaultWriteTimeout = 2 * time.Second

// Publisher реализует domain.EventPublisher: событие ставится в outbox
// и дописывается в timeline сессии. Ошибки и паники только логируются.
// С очередью (WithQueue) запись выполняет Run, а Publish не ждёт хранилище.
type Publisher struct {
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	logger   *log.Entry
	clock    clock.Clock
	metrics  *metrics.CommitMetrics
	timeout  time.Duration
	queue    chan queuedEvent
}

type queuedEvent struct {
	entry     *log.Entry
	name      string
	sessionID string
	body      map[string]any
	occurred  time.Time
}

// Option настраивает Publisher.
type Option func(*Publisher)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(p *Publisher) { p.logger = logger }
}

// WithClock подменяет источник времени.
func WithClock(c clock.Clock) Option {
	return func(p *Publisher) { p.clock = c }
}

// WithMetrics включает счётчики записанных событий.
func WithMetrics(m *metrics.CommitMetrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

// WithWriteTimeout ограничивает время записи одного события.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(p *Publisher) { p.timeout = timeout }
}

// WithQueue включает асинхронную запись через очередь на size событий.
// Событие, не поместившееся в очередь, отбрасывается с предупреждением.
func WithQueue(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.queue = make(chan queuedEvent, size)
		}
	}
}

// NewPublisher создаёт publisher. Любой из репозиториев может быть nil.
func NewPublisher(outbox domain.OutboxRepository, timeline domain.TimelineRepository, opts ...Option) *Publisher {
	p := &Publisher{
		outbox:   outbox,
		timeline: timeline,
		timeout:  defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = log.WithField("component", "event-publisher")
	}
	if p.clock == nil {
		p.clock = clock.NewSystem()
	}
	if p.timeout <= 0 {
		p.timeout = defaultWriteTimeout
	}
	return p
}

// Publish никогда не возвращает ошибку и не паникует.
func (p *Publisher) Publish(ctx context.Context, name, sessionID string, payload map[string]any) {
	entry := p.logger.WithFields(log.Fields{
		"event":        name,
		"session_id":   sessionID,
		"operation_id": domain.OperationIDFromContext(ctx),
	})
	defer recoverPanic(entry)

	occurred := p.clock.Now()
	body := make(map[string]any, len(payload)+3)
	for k, v := range payload {
		body[k] = v
	}
	body["session_id"] = sessionID
	body["ts"] = occurred.Format(time.RFC3339Nano)
	if opID := domain.OperationIDFromContext(ctx); opID != "" {
		body["operation_id"] = opID
	}
	event := queuedEvent{entry: entry, name: name, sessionID: sessionID, body: body, occurred: occurred}

	if p.queue == nil {
		// Отмена запроса не должна терять аудит уже выполненного действия.
		p.write(context.WithoutCancel(ctx), event)
		return
	}
	select {
	case p.queue <- event:
	default:
		p.metrics.Event("queue", false)
		entry.Warn("event queue full, dropping event")
	}
}

// Run пишет события из очереди до отмены ctx, затем дописывает накопленное.
// Без очереди сразу возвращается.
func (p *Publisher) Run(ctx context.Context) {
	if p.queue == nil {
		return
	}
	p.logger.WithField("capacity", cap(p.queue)).Info("event writer started")
	for {
		select {
		case event := <-p.queue:
			p.write(context.Background(), event)
		case <-ctx.Done():
			p.drain()
			p.logger.Info("event writer stopped")
			return
		}
	}
}

func (p *Publisher) drain() {
	for {
		select {
		case event := <-p.queue:
			p.write(context.Background(), event)
		default:
			return
		}
	}
}

func (p *Publisher) write(ctx context.Context, event queuedEvent) {
	defer recoverPanic(event.entry)

	writeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	p.enqueue(writeCtx, event.entry, event.name, event.sessionID, event.body)
	p.appendTimeline(writeCtx, event.entry, event.name, event.sessionID, event.body, event.occurred)
}

func recoverPanic(entry *log.Entry) {
	if r := recover(); r != nil {
		entry.WithField("panic", fmt.Sprint(r)).Error("event publisher panicked")
	}
}

func (p *Publisher) enqueue(ctx context.Context, entry *log.Entry, name, sessionID string, body map[string]any) {
	if p.outbox == nil {
		return
	}
	data, err := json.Marshal(body)
	if err != nil {
		p.metrics.Event("outbox", false)
		entry.WithError(err).Error("marshal event failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: domain.AggregateDraft,
		AggregateID:   sessionID,
		EventType:     name,
		Payload:       data,
	}
	if _, err := p.outbox.Enqueue(ctx, msg); err != nil {
		p.metrics.Event("outbox", false)
		entry.WithError(err).Error("enqueue event failed")
		return
	}
	p.metrics.Event("outbox", true)
}

func (p *Publisher) appendTimeline(ctx context.Context, entry *log.Entry, name, sessionID string, body map[string]any, occurred time.Time) {
	if p.timeline == nil || sessionID == "" {
		return
	}
	reason, _ := body["reason"].(string)

	event := domain.TimelineEvent{
		SessionID: sessionID,
		Type:      name,
		Reason:    reason,
		Occurred:  occurred,
	}
	if err := p.timeline.Append(ctx, event); err != nil {
		p.metrics.Event("timeline", false)
		entry.WithError(err).Warn("append timeline event failed")
		return
	}
	p.metrics.Event("timeline", true)
}

var _ domain.EventPublisher = (*Publisher)(nil)
