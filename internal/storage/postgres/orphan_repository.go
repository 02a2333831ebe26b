package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/drafts/internal/domain"
)

type orphanRepository struct {
	db *sql.DB
}

// NewOrphanRepository создаёт PostgreSQL-карантин записей, не удалённых компенсацией.
func NewOrphanRepository(store *Store) domain.OrphanRepository {
	return &orphanRepository{db: store.DB()}
}

func (r *orphanRepository) Quarantine(ctx context.Context, orphan domain.OrphanRecord) (domain.OrphanRecord, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	if orphan.ID == "" {
		orphan.ID = uuid.NewString()
	}
	orphan.Status = domain.OrphanStatusPending
	orphan.CreatedAt = now
	orphan.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO orphan_records (
			id, record_id, idempotency_key, session_id, reason, attempts, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, orphan.ID, orphan.RecordID, orphan.IdempotencyKey, orphan.SessionID, orphan.Reason, orphan.Attempts,
		string(orphan.Status), now)
	if err != nil {
		if isUniqueViolation(err) {
			return r.pendingByRecord(ctx, orphan.RecordID)
		}
		return domain.OrphanRecord{}, fmt.Errorf("quarantine orphan record %s: %w", orphan.RecordID, err)
	}
	return orphan, nil
}

func (r *orphanRepository) ListPending(ctx context.Context, limit int) ([]domain.OrphanRecord, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = defaultOutboxPullLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, record_id, idempotency_key, session_id, reason, attempts, status, created_at, updated_at
		FROM orphan_records
		WHERE status = 'pending'
		ORDER BY created_at, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending orphans: %w", err)
	}
	defer rows.Close()

	result := make([]domain.OrphanRecord, 0)
	for rows.Next() {
		orphan, err := scanOrphan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, orphan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orphan rows: %w", err)
	}
	return result, nil
}

func (r *orphanRepository) MarkResolved(ctx context.Context, id string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE orphan_records SET status = 'resolved', updated_at = $2 WHERE id = $1
	`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("resolve orphan %s: %w", id, err)
	}
	return orphanAffected(res)
}

func (r *orphanRepository) MarkAttempt(ctx context.Context, id, reason string, abandon bool) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	status := domain.OrphanStatusPending
	if abandon {
		status = domain.OrphanStatusAbandoned
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE orphan_records
		SET attempts = attempts + 1, reason = $2, status = $3, updated_at = $4
		WHERE id = $1
	`, id, reason, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record orphan attempt %s: %w", id, err)
	}
	return orphanAffected(res)
}

func (r *orphanRepository) pendingByRecord(ctx context.Context, recordID string) (domain.OrphanRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, record_id, idempotency_key, session_id, reason, attempts, status, created_at, updated_at
		FROM orphan_records
		WHERE record_id = $1 AND status = 'pending'
	`, recordID)
	orphan, err := scanOrphan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.OrphanRecord{}, domain.ErrOrphanNotFound
	}
	return orphan, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrphan(row rowScanner) (domain.OrphanRecord, error) {
	var (
		orphan domain.OrphanRecord
		status string
	)
	if err := row.Scan(
		&orphan.ID, &orphan.RecordID, &orphan.IdempotencyKey, &orphan.SessionID, &orphan.Reason,
		&orphan.Attempts, &status, &orphan.CreatedAt, &orphan.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.OrphanRecord{}, err
		}
		return domain.OrphanRecord{}, fmt.Errorf("scan orphan record: %w", err)
	}
	orphan.Status = domain.OrphanStatus(status)
	return orphan, nil
}

func orphanAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("orphan rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrOrphanNotFound
	}
	return nil
}

var _ domain.OrphanRepository = (*orphanRepository)(nil)
