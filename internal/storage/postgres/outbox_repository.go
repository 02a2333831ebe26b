package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/drafts/internal/domain"
)

const defaultOutboxPullLimit = 100

// Статусы строк outbox_messages.
const (
	outboxPending = "pending"
	outboxSent    = "sent"
	outboxFailed  = "failed"
)


// draftOutbox хранит события черновиков до доставки в брокер.
type draftOutbox struct {
	db *sql.DB
}

// NewOutboxRepository создаёт PostgreSQL-outbox событий черновиков.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &draftOutbox{db: store.DB()}
}

// Enqueue вызывается в той же логической операции, что и смена состояния черновика.
func (o *draftOutbox) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.AggregateID == "" || msg.EventType == "" {
		return domain.OutboxMessage{}, domain.ErrOutboxMessageInvalid
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.AggregateType == "" {
		msg.AggregateType = domain.AggregateDraft
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := o.db.ExecContext(ctx, `
		INSERT INTO outbox_messages (id, aggregate_type, aggregate_id, event_type, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, payloadOrNull(msg.Payload), outboxPending, time.Now().UTC())
	if err != nil {
		return domain.OutboxMessage{}, classify("outbox.enqueue", err)
	}
	return msg, nil
}

// PullPending возвращает pending-сообщения в порядке записи.
func (o *draftOutbox) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxPullLimit
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := o.db.QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload
		FROM outbox_messages
		WHERE status = $1
		ORDER BY created_at, id
		LIMIT $2
	`, outboxPending, limit)
	if err != nil {
		return nil, classify("outbox.pull", err)
	}
	defer rows.Close()

	batch := make([]domain.OutboxMessage, 0, limit)
	for rows.Next() {
		var msg domain.OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		batch = append(batch, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("outbox.pull", err)
	}
	return batch, nil
}

func (o *draftOutbox) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	err := o.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(created_at) FROM outbox_messages WHERE status = $1`, outboxPending,
	).Scan(&stats.PendingCount, &oldest)
	if err != nil {
		return domain.OutboxStats{}, classify("outbox.stats", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (o *draftOutbox) MarkSent(ctx context.Context, id string) error {
	return o.settle(ctx, id, outboxSent)
}

func (o *draftOutbox) MarkFailed(ctx context.Context, id string) error {
	return o.settle(ctx, id, outboxFailed)
}

// settle переводит pending-сообщение в итоговый статус; повторная отметка не проходит.
func (o *draftOutbox) settle(ctx context.Context, id, status string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := o.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $2, attempt_count = attempt_count + 1, updated_at = $3
		WHERE id = $1 AND status = $4
	`, id, status, time.Now().UTC(), outboxPending)
	if err != nil {
		return classify("outbox.settle", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("outbox rows affected: %w", err)
	} else if n == 0 {
		return fmt.Errorf("%w: message %s is not pending", domain.ErrOutboxPublish, id)
	}
	return nil
}

// payload в схеме NOT NULL, пустое тело хранится как JSON null.
func payloadOrNull(payload []byte) []byte {
	if len(payload) == 0 {
		return []byte("null")
	}
	return payload
}

var _ domain.OutboxRepository = (*draftOutbox)(nil)
