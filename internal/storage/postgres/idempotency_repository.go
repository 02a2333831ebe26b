package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/drafts/internal/domain"
)

const (
	defaultResultTTL = 24 * time.Hour

	resultColumns = `key, request_hash, response_body, status_code, status, ttl_at, created_at, updated_at`

	// Истёкшая запись перезаписывается новым коммитом, живая остаётся нетронутой.
	claimResultSQL = `
		INSERT INTO idempotency_keys (key, request_hash, status, ttl_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (key) DO UPDATE SET
			request_hash  = EXCLUDED.request_hash,
			status        = EXCLUDED.status,
			response_body = NULL,
			status_code   = NULL,
			ttl_at        = EXCLUDED.ttl_at,
			created_at    = EXCLUDED.created_at,
			updated_at    = EXCLUDED.updated_at
		WHERE idempotency_keys.ttl_at <= EXCLUDED.created_at
		RETURNING ` + resultColumns
)

// commitResults хранит итоги коммитов в таблице idempotency_keys.
type commitResults struct {
	db  *sql.DB
	now func() time.Time
}

// NewIdempotencyRepository создаёт PostgreSQL-хранилище результатов коммитов.
func NewIdempotencyRepository(store *Store) domain.IdempotencyRepository {
	return &commitResults{db: store.DB(), now: func() time.Time { return time.Now().UTC() }}
}

func (r *commitResults) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key, requestHash, err := domain.NormalizeIdempotencyInput(key, requestHash)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	now := r.now()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultResultTTL)
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	row := r.db.QueryRowContext(ctx, claimResultSQL,
		key, requestHash, string(domain.IdempotencyStatusProcessing), ttlAt, now)
	record, err := scanResult(row)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, classify("results.claim", err)
	}

	// Ключ занят живой записью.
	existing, err := r.load(ctx, key, time.Time{})
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	if existing.RequestHash != requestHash {
		return existing, domain.ErrIdempotencyHashMismatch
	}
	return existing, domain.ErrIdempotencyKeyAlreadyExists
}

// Get не возвращает истёкшие записи, даже если очистка до них ещё не дошла.
func (r *commitResults) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	if key = strings.TrimSpace(key); key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return r.load(ctx, key, r.now())
}

func (r *commitResults) MarkDone(ctx context.Context, key string, responseBody []byte, statusCode int) error {
	return r.finish(ctx, key, domain.IdempotencyStatusDone, responseBody, statusCode)
}

func (r *commitResults) MarkFailed(ctx context.Context, key string, responseBody []byte, statusCode int) error {
	return r.finish(ctx, key, domain.IdempotencyStatusFailed, responseBody, statusCode)
}

// DeleteExpired удаляет не более limit записей, начиная с самых старых по TTL.
func (r *commitResults) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now()
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query, args := `DELETE FROM idempotency_keys WHERE ttl_at <= $1`, []any{before}
	if limit > 0 {
		query = `
			DELETE FROM idempotency_keys
			WHERE key IN (
				SELECT key FROM idempotency_keys
				WHERE ttl_at <= $1
				ORDER BY ttl_at, key
				LIMIT $2
				FOR UPDATE SKIP LOCKED
			)`
		args = append(args, limit)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, classify("results.cleanup", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("commit results rows affected: %w", err)
	}
	return int(removed), nil
}

// load читает запись по ключу; ненулевой aliveAt отсекает истёкшие.
func (r *commitResults) load(ctx context.Context, key string, aliveAt time.Time) (domain.IdempotencyRecord, error) {
	query, args := `SELECT `+resultColumns+` FROM idempotency_keys WHERE key = $1`, []any{key}
	if !aliveAt.IsZero() {
		query += ` AND ttl_at > $2`
		args = append(args, aliveAt)
	}

	record, err := scanResult(r.db.QueryRowContext(ctx, query, args...))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	case err != nil:
		return domain.IdempotencyRecord{}, classify("results.get", err)
	}
	return record, nil
}

func (r *commitResults) finish(ctx context.Context, key string, status domain.IdempotencyStatus, body []byte, statusCode int) error {
	if key = strings.TrimSpace(key); key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET response_body = $2, status_code = $3, status = $4, updated_at = $5
		WHERE key = $1 AND (status <> 'done' OR $4 = 'done')
	`, key, body, statusCode, string(status), r.now())
	if err != nil {
		return classify("results.finish", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("commit results rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	// Ноль строк: ключа нет либо успешный итог уже зафиксирован.
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM idempotency_keys WHERE key = $1)`, key).Scan(&exists); err != nil {
		return classify("results.finish", err)
	}
	if !exists {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

func scanResult(row *sql.Row) (domain.IdempotencyRecord, error) {
	var (
		record     domain.IdempotencyRecord
		status     string
		statusCode sql.NullInt64
	)
	if err := row.Scan(&record.Key, &record.RequestHash, &record.ResponseBody, &statusCode, &status,
		&record.TTLAt, &record.CreatedAt, &record.UpdatedAt); err != nil {
		return domain.IdempotencyRecord{}, err
	}

	record.Status = domain.IdempotencyStatus(status)
	if !record.Status.Valid() {
		return domain.IdempotencyRecord{}, domain.Fatal("results.scan", fmt.Errorf("unknown status %q for key %s", status, record.Key))
	}
	record.StatusCode = int(statusCode.Int64)
	record.TTLAt = record.TTLAt.UTC()
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	return record, nil
}

var _ domain.IdempotencyRepository = (*commitResults)(nil)
