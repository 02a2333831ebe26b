package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/drafts/internal/clock"
	"github.com/vladislavdragonenkov/drafts/internal/domain"
)

// commitResults хранит итоги коммитов по ключу commit:<session_id>.
// Просроченная запись не видна Get и удаляется DeleteExpired.
type commitResults struct {
	mu      sync.RWMutex
	clock   clock.Clock
	records map[string]domain.IdempotencyRecord
}

// NewIdempotencyRepository создаёт in-memory хранилище результатов коммита.
func NewIdempotencyRepository() domain.IdempotencyRepository {
	return NewIdempotencyRepositoryWithClock(clock.NewSystem())
}

// NewIdempotencyRepositoryWithClock создаёт хранилище с заданным источником времени.
func NewIdempotencyRepositoryWithClock(c clock.Clock) domain.IdempotencyRepository {
	if c == nil {
		c = clock.NewSystem()
	}
	return &commitResults{clock: c, records: make(map[string]domain.IdempotencyRecord)}
}

func (r *commitResults) CreateProcessing(_ context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key, requestHash, err := domain.NormalizeIdempotencyInput(key, requestHash)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	now := r.clock.Now()
	if ttlAt.IsZero() {
		ttlAt = now.Add(24 * time.Hour)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.records[key]; ok && !existing.Expired(now) {
		if existing.RequestHash != requestHash {
			return copyResult(existing), domain.ErrIdempotencyHashMismatch
		}
		return copyResult(existing), domain.ErrIdempotencyKeyAlreadyExists
	}

	record := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.records[key] = record
	return copyResult(record), nil
}

func (r *commitResults) Get(_ context.Context, key string) (domain.IdempotencyRecord, error) {
	record, ok, err := r.lookup(key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return record, nil
}

func (r *commitResults) MarkDone(_ context.Context, key string, responseBody []byte, statusCode int) error {
	return r.finish(key, domain.IdempotencyStatusDone, responseBody, statusCode)
}

func (r *commitResults) MarkFailed(_ context.Context, key string, responseBody []byte, statusCode int) error {
	return r.finish(key, domain.IdempotencyStatusFailed, responseBody, statusCode)
}

// DeleteExpired удаляет не более limit записей, начиная с самых старых по TTL.
func (r *commitResults) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.clock.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	expired := make([]domain.IdempotencyRecord, 0)
	for _, record := range r.records {
		if record.Expired(before) {
			expired = append(expired, record)
		}
	}
	slices.SortFunc(expired, func(a, b domain.IdempotencyRecord) int {
		return cmp.Or(a.TTLAt.Compare(b.TTLAt), cmp.Compare(a.Key, b.Key))
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	for _, record := range expired {
		delete(r.records, record.Key)
	}
	return len(expired), nil
}

func (r *commitResults) lookup(key string) (domain.IdempotencyRecord, bool, error) {
	key, err := resultKey(key)
	if err != nil {
		return domain.IdempotencyRecord{}, false, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[key]
	if !ok || record.Expired(r.clock.Now()) {
		return domain.IdempotencyRecord{}, false, nil
	}
	return copyResult(record), true, nil
}

func (r *commitResults) finish(key string, status domain.IdempotencyStatus, body []byte, statusCode int) error {
	key, err := resultKey(key)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	// Успешный итог окончательный.
	if record.Status == domain.IdempotencyStatusDone && status != domain.IdempotencyStatusDone {
		return nil
	}
	record.Status = status
	record.ResponseBody = slices.Clone(body)
	record.StatusCode = statusCode
	record.UpdatedAt = r.clock.Now()
	r.records[key] = record
	return nil
}

func resultKey(key string) (string, error) {
	if key = strings.TrimSpace(key); key == "" {
		return "", domain.ErrIdempotencyKeyRequired
	}
	return key, nil
}

func copyResult(src domain.IdempotencyRecord) domain.IdempotencyRecord {
	dst := src
	dst.ResponseBody = slices.Clone(src.ResponseBody)
	return dst
}

var _ domain.IdempotencyRepository = (*commitResults)(nil)
