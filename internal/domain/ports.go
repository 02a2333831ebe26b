package domain

//go:generate mockgen -destination=mocks/mock_ports.go -package=mocks github.com/vladislavdragonenkov/drafts/internal/domain Catalog,DurableRepository,RegistrationIndex,EventPublisher,IdempotencyRepository

import (
	"context"
	"time"
)

// SessionStore хранит черновики с TTL и блокировку коммита.
// Все изменения черновика атомарны относительно одного id.
type SessionStore interface {
	CreateSession(ctx context.Context, ownerID string, kind DraftKind) (Draft, error)
	GetSession(ctx context.Context, id string) (Draft, error)
	StageItem(ctx context.Context, id string, item LineItem) (Draft, error)
	UnstageItem(ctx context.Context, id, itemID string) (Draft, error)
	SetField(ctx context.Context, id, name, value string) (Draft, error)
	UnsetField(ctx context.Context, id, name string) (Draft, error)
	// Transition переводит черновик в новое состояние, если версия не изменилась.
	// expectedVersion < 0 отключает проверку версии.
	Transition(ctx context.Context, id string, expectedVersion int64, to DraftState) (Draft, error)
	ClearSession(ctx context.Context, id string) error
	// TryAcquireCommitLock: атомарный compare-and-set с коротким TTL.
	TryAcquireCommitLock(ctx context.Context, id, token string) (bool, error)
	// ExtendCommitLock продлевает блокировку, только пока её держит token.
	// false означает, что блокировка истекла или перешла к другому коммиту.
	ExtendCommitLock(ctx context.Context, id, token string) (bool, error)
	ReleaseCommitLock(ctx context.Context, id, token string) error
}

// Catalog: внешний справочник цен, только чтение.
type Catalog interface {
	Lookup(ctx context.Context, refID string) (Product, error)
}

// DurableRepository: узкий интерфейс системы хранения без транзакций.
type DurableRepository interface {
	// Create идемпотентен по IdempotencyKey: повтор возвращает существующий id.
	Create(ctx context.Context, record DurableRecord) (string, error)
	Update(ctx context.Context, id string, patch RecordPatch) error
	Delete(ctx context.Context, id string) error
}

// RegistrationIndex проверяет уникальность регистрации в durable-хранилище.
// Записи сессии excludeSessionID не учитываются: возобновлённый коммит
// не должен конфликтовать с собственной регистрацией.
type RegistrationIndex interface {
	ExistsForHolderPeriod(ctx context.Context, holderID, period, excludeSessionID string) (bool, error)
}

// EventPublisher публикует аудит-события по принципу fire-and-forget.
type EventPublisher interface {
	Publish(ctx context.Context, name, sessionID string, payload map[string]any)
}

// OutboxPublisher публикует сообщение во внешний брокер.
type OutboxPublisher interface {
	Publish(ctx context.Context, msg OutboxMessage) error
}

// OutboxMessage описывает событие для transactional outbox.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats содержит агрегированную статистику pending-сообщений.
type OutboxStats struct {
	PendingCount    int64
	OldestPendingAt time.Time
}

// OutboxRepository определяет хранилище исходящих событий.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит аудит-журнал черновика.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, sessionID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит результаты коммитов для повторных вызовов.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, statusCode int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, statusCode int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OrphanRepository: карантин записей, оставшихся после неудачной компенсации.
type OrphanRepository interface {
	Quarantine(ctx context.Context, orphan OrphanRecord) (OrphanRecord, error)
	ListPending(ctx context.Context, limit int) ([]OrphanRecord, error)
	MarkResolved(ctx context.Context, id string) error
	MarkAttempt(ctx context.Context, id, reason string, abandon bool) error
}
