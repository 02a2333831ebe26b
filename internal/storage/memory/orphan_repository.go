package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/drafts/internal/clock"
	"github.com/vladislavdragonenkov/drafts/internal/domain"
)

const defaultQuarantineLimit = 100

// Quarantine хранит durable-записи, оставшиеся после неудачной компенсации.
// На одну запись приходится не больше одного pending-элемента.
type Quarantine struct {
	mu       sync.RWMutex
	clock    clock.Clock
	orphans  map[string]domain.OrphanRecord
	byRecord map[string]string
}

func NewOrphanRepository() *Quarantine {
	return NewQuarantineWithClock(clock.NewSystem())
}

func NewQuarantineWithClock(c clock.Clock) *Quarantine {
	return &Quarantine{
		clock:    c,
		orphans:  make(map[string]domain.OrphanRecord),
		byRecord: make(map[string]string),
	}
}

func (q *Quarantine) Quarantine(_ context.Context, orphan domain.OrphanRecord) (domain.OrphanRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if id, ok := q.byRecord[orphan.RecordID]; ok {
		return q.orphans[id], nil
	}

	now := q.clock.Now().UTC()
	if orphan.ID == "" {
		orphan.ID = uuid.NewString()
	}
	orphan.Status = domain.OrphanStatusPending
	orphan.CreatedAt, orphan.UpdatedAt = now, now
	q.orphans[orphan.ID] = orphan
	q.byRecord[orphan.RecordID] = orphan.ID
	return orphan, nil
}

// ListPending возвращает старейшие pending-записи первыми.
func (q *Quarantine) ListPending(_ context.Context, limit int) ([]domain.OrphanRecord, error) {
	if limit <= 0 {
		limit = defaultQuarantineLimit
	}

	q.mu.RLock()
	pending := make([]domain.OrphanRecord, 0, len(q.byRecord))
	for _, id := range q.byRecord {
		pending = append(pending, q.orphans[id])
	}
	q.mu.RUnlock()

	slices.SortFunc(pending, func(a, b domain.OrphanRecord) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return pending[:min(limit, len(pending))], nil
}

func (q *Quarantine) MarkResolved(_ context.Context, id string) error {
	return q.update(id, func(o *domain.OrphanRecord) {
		o.Status = domain.OrphanStatusResolved
	})
}

// MarkAttempt фиксирует неудачную попытку сверки; abandon снимает запись с очереди.
func (q *Quarantine) MarkAttempt(_ context.Context, id, reason string, abandon bool) error {
	return q.update(id, func(o *domain.OrphanRecord) {
		o.Attempts++
		o.Reason = reason
		if abandon {
			o.Status = domain.OrphanStatusAbandoned
		}
	})
}

func (q *Quarantine) update(id string, apply func(*domain.OrphanRecord)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	orphan, ok := q.orphans[id]
	if !ok {
		return domain.ErrOrphanNotFound
	}
	apply(&orphan)
	orphan.UpdatedAt = q.clock.Now().UTC()
	q.orphans[id] = orphan
	if orphan.Status != domain.OrphanStatusPending {
		delete(q.byRecord, orphan.RecordID)
	}
	return nil
}

// All возвращает копию карантина вместе с закрытыми записями.
func (q *Quarantine) All() []domain.OrphanRecord {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]domain.OrphanRecord, 0, len(q.orphans))
	for _, orphan := range q.orphans {
		out = append(out, orphan)
	}
	return out
}

var _ domain.OrphanRepository = (*Quarantine)(nil)
