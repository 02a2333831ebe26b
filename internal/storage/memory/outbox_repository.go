package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/drafts/internal/clock"
	"github.com/vladislavdragonenkov/drafts/internal/domain"
)

type deliveryState uint8

const (
	statePending deliveryState = iota
	stateSent
	stateFailed
)

type queuedEvent struct {
	msg      domain.OutboxMessage
	seq      uint64
	state    deliveryState
	queuedAt time.Time
}

// Outbox: in-memory очередь событий черновиков до доставки в брокер.
type Outbox struct {
	mu     sync.RWMutex
	clock  clock.Clock
	seq    uint64
	events map[string]*queuedEvent
}

// NewOutboxRepository создаёт in-memory outbox на системных часах.
func NewOutboxRepository() *Outbox {
	return NewOutboxWithClock(clock.NewSystem())
}

// NewOutboxWithClock создаёт outbox с заданным источником времени.
func NewOutboxWithClock(c clock.Clock) *Outbox {
	return &Outbox{clock: c, events: make(map[string]*queuedEvent)}
}

func (o *Outbox) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.AggregateID == "" || msg.EventType == "" {
		return domain.OutboxMessage{}, domain.ErrOutboxMessageInvalid
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.AggregateType == "" {
		msg.AggregateType = domain.AggregateDraft
	}
	msg.Payload = slices.Clone(msg.Payload)

	o.mu.Lock()
	defer o.mu.Unlock()

	o.seq++
	o.events[msg.ID] = &queuedEvent{msg: msg, seq: o.seq, queuedAt: o.clock.Now()}
	return msg, nil
}

// PullPending возвращает pending-события в порядке постановки.
func (o *Outbox) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	pending := o.pending()
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}

	batch := make([]domain.OutboxMessage, 0, len(pending))
	for _, ev := range pending {
		batch = append(batch, ev.msg)
	}
	return batch, nil
}

func (o *Outbox) Stats(_ context.Context) (domain.OutboxStats, error) {
	pending := o.pending()
	stats := domain.OutboxStats{PendingCount: int64(len(pending))}
	if len(pending) > 0 {
		stats.OldestPendingAt = pending[0].queuedAt
	}
	return stats, nil
}

func (o *Outbox) MarkSent(_ context.Context, id string) error {
	return o.settle(id, stateSent)
}

func (o *Outbox) MarkFailed(_ context.Context, id string) error {
	return o.settle(id, stateFailed)
}

// AllPending возвращает все недоставленные события.
func (o *Outbox) AllPending() []domain.OutboxMessage {
	batch, _ := o.PullPending(context.Background(), 0)
	return batch
}

func (o *Outbox) settle(id string, state deliveryState) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	ev, ok := o.events[id]
	if !ok || ev.state != statePending {
		return fmt.Errorf("%w: message %s is not pending", domain.ErrOutboxPublish, id)
	}
	ev.state = state
	return nil
}

func (o *Outbox) pending() []queuedEvent {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]queuedEvent, 0, len(o.events))
	for _, ev := range o.events {
		if ev.state == statePending {
			out = append(out, *ev)
		}
	}
	slices.SortFunc(out, func(a, b queuedEvent) int { return cmp.Compare(a.seq, b.seq) })
	return out
}

var _ domain.OutboxRepository = (*Outbox)(nil)
