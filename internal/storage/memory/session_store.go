package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/drafts/internal/clock"
	"github.com/vladislavdragonenkov/drafts/internal/domain"
)

const (
	defaultSessionTTL = 30 * time.Minute
	defaultLockTTL    = 10 * time.Second
)

type commitLock struct {
	token     string
	expiresAt time.Time
}

// SessionStore: in-memory реализация domain.SessionStore для разработки и тестов.
// Истечение TTL проверяется при каждом чтении, Sweep удаляет брошенные черновики.
type SessionStore struct {
	mu      sync.Mutex
	drafts  map[string]domain.Draft
	locks   map[string]commitLock
	clock   clock.Clock
	ttl     time.Duration
	lockTTL time.Duration
}

// NewSessionStore создаёт хранилище черновиков с заданными TTL.
func NewSessionStore(c clock.Clock, ttl, lockTTL time.Duration) *SessionStore {
	if c == nil {
		c = clock.NewSystem()
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	return &SessionStore{
		drafts:  make(map[string]domain.Draft),
		locks:   make(map[string]commitLock),
		clock:   c,
		ttl:     ttl,
		lockTTL: lockTTL,
	}
}

func (s *SessionStore) CreateSession(_ context.Context, ownerID string, kind domain.DraftKind) (domain.Draft, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return domain.Draft{}, domain.ErrOwnerRequired
	}

	draft := domain.NewDraft(uuid.NewString(), ownerID, kind, s.clock.Now(), s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[draft.ID] = draft.Clone()
	return draft, nil
}

func (s *SessionStore) GetSession(_ context.Context, id string) (domain.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	draft, err := s.loadLocked(id)
	if err != nil {
		return domain.Draft{}, err
	}
	return draft.Clone(), nil
}

func (s *SessionStore) StageItem(_ context.Context, id string, item domain.LineItem) (domain.Draft, error) {
	return s.mutate(id, func(d *domain.Draft) (bool, error) {
		return d.StageItem(item)
	})
}

func (s *SessionStore) UnstageItem(_ context.Context, id, itemID string) (domain.Draft, error) {
	return s.mutate(id, func(d *domain.Draft) (bool, error) {
		return d.UnstageItem(itemID)
	})
}

func (s *SessionStore) SetField(_ context.Context, id, name, value string) (domain.Draft, error) {
	return s.mutate(id, func(d *domain.Draft) (bool, error) {
		return d.SetField(name, value)
	})
}

func (s *SessionStore) UnsetField(_ context.Context, id, name string) (domain.Draft, error) {
	return s.mutate(id, func(d *domain.Draft) (bool, error) {
		return d.UnsetField(name)
	})
}

func (s *SessionStore) Transition(_ context.Context, id string, expectedVersion int64, to domain.DraftState) (domain.Draft, error) {
	return s.mutate(id, func(d *domain.Draft) (bool, error) {
		if expectedVersion >= 0 && d.Version != expectedVersion {
			return false, domain.ErrDraftVersionConflict
		}
		if err := d.Advance(to); err != nil {
			return false, err
		}
		return true, nil
	})
}

func (s *SessionStore) ClearSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.drafts, id)
	delete(s.locks, id)
	return nil
}

func (s *SessionStore) TryAcquireCommitLock(_ context.Context, id, token string) (bool, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.locks[id]; ok && now.Before(current.expiresAt) {
		return false, nil
	}
	s.locks[id] = commitLock{token: token, expiresAt: now.Add(s.lockTTL)}
	return true, nil
}

func (s *SessionStore) ExtendCommitLock(_ context.Context, id, token string) (bool, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.locks[id]
	if !ok || current.token != token || !now.Before(current.expiresAt) {
		return false, nil
	}
	current.expiresAt = now.Add(s.lockTTL)
	s.locks[id] = current
	return true, nil
}

func (s *SessionStore) ReleaseCommitLock(_ context.Context, id, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.locks[id]; ok && current.token == token {
		delete(s.locks, id)
	}
	return nil
}

// Sweep удаляет истёкшие черновики и возвращает их в состоянии EXPIRED.
func (s *SessionStore) Sweep(_ context.Context) ([]domain.Draft, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	expired := make([]domain.Draft, 0)
	for id, draft := range s.drafts {
		if !draft.Expired(now) {
			continue
		}
		delete(s.drafts, id)
		delete(s.locks, id)
		if err := draft.Advance(domain.DraftStateExpired); err != nil {
			// COMMITTING не истекает по графу переходов; такие черновики просто удаляются.
			continue
		}
		expired = append(expired, draft)
	}
	return expired, nil
}

// Len возвращает число живых черновиков (используется в тестах).
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.drafts)
}

func (s *SessionStore) mutate(id string, fn func(*domain.Draft) (bool, error)) (domain.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	draft, err := s.loadLocked(id)
	if err != nil {
		return domain.Draft{}, err
	}

	changed, err := fn(&draft)
	if err != nil {
		return domain.Draft{}, err
	}
	if changed {
		draft.Touch(s.clock.Now(), s.ttl)
		s.drafts[id] = draft.Clone()
	}
	return draft.Clone(), nil
}

func (s *SessionStore) loadLocked(id string) (domain.Draft, error) {
	draft, ok := s.drafts[id]
	if !ok {
		return domain.Draft{}, domain.ErrSessionNotFound
	}
	if draft.Expired(s.clock.Now()) {
		delete(s.drafts, id)
		delete(s.locks, id)
		return domain.Draft{}, domain.ErrSessionNotFound
	}
	return draft.Clone(), nil
}

var _ domain.SessionStore = (*SessionStore)(nil)
