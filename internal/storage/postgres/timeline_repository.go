package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/drafts/internal/domain"
)


// draftTimeline: аудит-журнал черновика, только дописывается.
type draftTimeline struct {
	db *sql.DB
}

// NewTimelineRepository создаёт PostgreSQL-журнал событий черновика.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &draftTimeline{db: store.DB()}
}

func (t *draftTimeline) Append(ctx context.Context, event domain.TimelineEvent) error {
	if event.SessionID == "" || event.Type == "" {
		return domain.ErrTimelineEventInvalid
	}
	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := t.db.ExecContext(ctx,
		`INSERT INTO timeline_events (session_id, type, reason, occurred) VALUES ($1, $2, $3, $4)`,
		event.SessionID, event.Type, event.Reason, event.Occurred)
	if err != nil {
		return classify("timeline.append", err)
	}
	return nil
}

// List возвращает события в порядке возникновения; при равном времени порядок записи.
func (t *draftTimeline) List(ctx context.Context, sessionID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := t.db.QueryContext(ctx, `
		SELECT type, reason, occurred
		FROM timeline_events
		WHERE session_id = $1
		ORDER BY occurred, id
	`, sessionID)
	if err != nil {
		return nil, classify("timeline.list", err)
	}
	defer rows.Close()

	var events []domain.TimelineEvent
	for rows.Next() {
		event := domain.TimelineEvent{SessionID: sessionID}
		if err := rows.Scan(&event.Type, &event.Reason, &event.Occurred); err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		event.Occurred = event.Occurred.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("timeline.list", err)
	}
	return events, nil
}

var _ domain.TimelineRepository = (*draftTimeline)(nil)
