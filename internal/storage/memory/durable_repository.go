package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/drafts/internal/domain"
)

// DurableRepository: in-memory система хранения записей коммита.
// Уникальность обеспечивается по ключу идемпотентности и по паре holder/period для регистраций.
type DurableRepository struct {
	mu      sync.RWMutex
	records map[string]domain.DurableRecord
	byKey   map[string]string
}

// NewDurableRepository создаёт пустое хранилище.
func NewDurableRepository() *DurableRepository {
	return &DurableRepository{
		records: make(map[string]domain.DurableRecord),
		byKey:   make(map[string]string),
	}
}

func (r *DurableRepository) Create(_ context.Context, record domain.DurableRecord) (string, error) {
	key := strings.TrimSpace(record.IdempotencyKey)
	if key == "" {
		return "", domain.Fatal("create", domain.ErrIdempotencyKeyRequired)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byKey[key]; ok {
		return id, nil
	}
	if record.Kind == domain.RecordKindRegistration && r.registrationExistsLocked(record.HolderID, record.Period, "") {
		return "", domain.ErrDuplicateRecord
	}

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	r.records[record.ID] = cloneRecord(record)
	r.byKey[key] = record.ID
	return record.ID, nil
}

func (r *DurableRepository) Update(_ context.Context, id string, patch domain.RecordPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return domain.ErrRecordNotFound
	}
	if patch.Status != "" {
		record.Status = patch.Status
	}
	if len(patch.Attributes) > 0 {
		attrs := maps.Clone(record.Attributes)
		if attrs == nil {
			attrs = make(map[string]string, len(patch.Attributes))
		}
		maps.Copy(attrs, patch.Attributes)
		record.Attributes = attrs
	}
	r.records[id] = record
	return nil
}

func (r *DurableRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return domain.ErrRecordNotFound
	}
	delete(r.records, id)
	delete(r.byKey, record.IdempotencyKey)
	return nil
}

func (r *DurableRepository) ExistsForHolderPeriod(_ context.Context, holderID, period, excludeSessionID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.registrationExistsLocked(holderID, period, excludeSessionID), nil
}

// Get возвращает запись по идентификатору.
func (r *DurableRepository) Get(id string) (domain.DurableRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[id]
	if !ok {
		return domain.DurableRecord{}, domain.ErrRecordNotFound
	}
	return cloneRecord(record), nil
}

// ListBySession возвращает записи сессии в порядке создания (используется в тестах).
func (r *DurableRepository) ListBySession(sessionID string) []domain.DurableRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.DurableRecord
	for _, record := range r.records {
		if record.SessionID == sessionID {
			out = append(out, cloneRecord(record))
		}
	}
	slices.SortFunc(out, func(a, b domain.DurableRecord) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.IdempotencyKey, b.IdempotencyKey))
	})
	return out
}

// Count возвращает общее число записей.
func (r *DurableRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

func (r *DurableRepository) registrationExistsLocked(holderID, period, excludeSessionID string) bool {
	if holderID == "" || period == "" {
		return false
	}
	for _, record := range r.records {
		if excludeSessionID != "" && record.SessionID == excludeSessionID {
			continue
		}
		if record.Kind == domain.RecordKindRegistration && record.HolderID == holderID && record.Period == period {
			return true
		}
	}
	return false
}

func cloneRecord(src domain.DurableRecord) domain.DurableRecord {
	src.Attributes = maps.Clone(src.Attributes)
	return src
}

var (
	_ domain.DurableRepository = (*DurableRepository)(nil)
	_ domain.RegistrationIndex = (*DurableRepository)(nil)
)
