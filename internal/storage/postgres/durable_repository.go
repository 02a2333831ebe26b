package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/drafts/internal/domain"
)

const registrationUniqueConstraint = "uq_durable_records_registration"

// DurableRepository хранит записи коммитов в таблице durable_records.
// Create идемпотентен по idempotency_key; повтор возвращает id существующей записи.
type DurableRepository struct {
	db *sql.DB
}

// NewDurableRepository создаёт PostgreSQL-реализацию DurableRepository и RegistrationIndex.
func NewDurableRepository(store *Store) *DurableRepository {
	return &DurableRepository{db: store.DB()}
}

func (r *DurableRepository) Create(ctx context.Context, record domain.DurableRecord) (string, error) {
	key := strings.TrimSpace(record.IdempotencyKey)
	if key == "" {
		return "", domain.Fatal("create", domain.ErrIdempotencyKeyRequired)
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	attributes, err := json.Marshal(nonNilAttributes(record.Attributes))
	if err != nil {
		return "", domain.Fatal("create", fmt.Errorf("marshal attributes: %w", err))
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var id string
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO durable_records (
			id, idempotency_key, session_id, owner_id, kind, ref_id, quantity,
			unit_price_minor, unit_tax_minor, total_minor, currency,
			holder_id, period, attributes, privilege, visibility, status,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$18)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id
	`,
		record.ID, key, record.SessionID, record.OwnerID, string(record.Kind), record.RefID, record.Quantity,
		record.UnitPriceMinor, record.UnitTaxMinor, record.TotalMinor, record.Currency,
		record.HolderID, record.Period, attributes, record.Privilege, record.Visibility, record.Status,
		record.CreatedAt,
	).Scan(&id)

	switch {
	case err == nil:
		return id, nil
	case errors.Is(err, sql.ErrNoRows):
		// Запись с этим ключом уже есть: повтор после таймаута или ретрая.
		return r.idByKey(ctx, key)
	case isUniqueViolationOf(err, registrationUniqueConstraint):
		return "", domain.ErrDuplicateRecord
	default:
		return "", classify("create", err)
	}
}

func (r *DurableRepository) Update(ctx context.Context, id string, patch domain.RecordPatch) error {
	attributes, err := json.Marshal(nonNilAttributes(patch.Attributes))
	if err != nil {
		return domain.Fatal("update", fmt.Errorf("marshal attributes: %w", err))
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE durable_records
		SET status = COALESCE(NULLIF($2, ''), status),
		    attributes = attributes || $3::jsonb,
		    updated_at = $4
		WHERE id = $1
	`, id, patch.Status, attributes, time.Now().UTC())
	if err != nil {
		return classify("update", err)
	}
	return expectAffected(res, "update")
}

func (r *DurableRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM durable_records WHERE id = $1`, id)
	if err != nil {
		return classify("delete", err)
	}
	return expectAffected(res, "delete")
}

func (r *DurableRepository) ExistsForHolderPeriod(ctx context.Context, holderID, period, excludeSessionID string) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM durable_records
			WHERE kind = 'registration' AND holder_id = $1 AND period = $2
				AND ($3 = '' OR session_id <> $3)
		)
	`, holderID, period, excludeSessionID).Scan(&exists)
	if err != nil {
		return false, classify("exists", err)
	}
	return exists, nil
}

// Get возвращает запись по идентификатору.
func (r *DurableRepository) Get(ctx context.Context, id string) (domain.DurableRecord, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var (
		record     domain.DurableRecord
		kind       string
		attributes []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, idempotency_key, session_id, owner_id, kind, ref_id, quantity,
		       unit_price_minor, unit_tax_minor, total_minor, currency,
		       holder_id, period, attributes, privilege, visibility, status, created_at
		FROM durable_records
		WHERE id = $1
	`, id).Scan(
		&record.ID, &record.IdempotencyKey, &record.SessionID, &record.OwnerID, &kind, &record.RefID, &record.Quantity,
		&record.UnitPriceMinor, &record.UnitTaxMinor, &record.TotalMinor, &record.Currency,
		&record.HolderID, &record.Period, &attributes, &record.Privilege, &record.Visibility, &record.Status, &record.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.DurableRecord{}, domain.ErrRecordNotFound
		}
		return domain.DurableRecord{}, classify("get", err)
	}

	record.Kind = domain.RecordKind(kind)
	if len(attributes) > 0 {
		if err := json.Unmarshal(attributes, &record.Attributes); err != nil {
			return domain.DurableRecord{}, fmt.Errorf("decode attributes of %s: %w", id, err)
		}
	}
	return record, nil
}

func (r *DurableRepository) idByKey(ctx context.Context, key string) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM durable_records WHERE idempotency_key = $1`, key).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Запись удалили между INSERT и SELECT; вызывающий повторит.
			return "", domain.Transient("create", domain.ErrRecordNotFound)
		}
		return "", classify("create", err)
	}
	return id, nil
}

func expectAffected(res sql.Result, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return domain.ErrRecordNotFound
	}
	return nil
}

func nonNilAttributes(attrs map[string]string) map[string]string {
	if attrs == nil {
		return map[string]string{}
	}
	return attrs
}

var (
	_ domain.DurableRepository = (*DurableRepository)(nil)
	_ domain.RegistrationIndex = (*DurableRepository)(nil)
)
