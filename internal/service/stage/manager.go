// Package stage собирает черновик по шагам: позиции, поля регистрации, пересчёт сумм.
package stage

import (
	"context"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/drafts/internal/clock"
	"github.com/vladislavdragonenkov/drafts/internal/domain"
)

// Manager выполняет операции подготовки черновика. Durable-хранилище не затрагивается.
type Manager struct {
	sessions domain.SessionStore
	catalog  domain.Catalog
	events   domain.EventPublisher
	policy   domain.AccessPolicy
	clock    clock.Clock
	logger   *log.Entry
}

// Option настраивает Manager.
type Option func(*Manager)

// WithEvents задаёт publisher аудит-событий.
func WithEvents(events domain.EventPublisher) Option {
	return func(m *Manager) { m.events = events }
}

// WithPolicy подменяет политику доступа.
func WithPolicy(policy domain.AccessPolicy) Option {
	return func(m *Manager) { m.policy = policy }
}

// WithClock подменяет источник времени для снимков позиций.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager создаёт Manager поверх хранилища сессий и каталога.
func NewManager(sessions domain.SessionStore, catalog domain.Catalog, opts ...Option) *Manager {
	m := &Manager{
		sessions: sessions,
		catalog:  catalog,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.policy == nil {
		m.policy = domain.DefaultAccessPolicy()
	}
	if m.clock == nil {
		m.clock = clock.NewSystem()
	}
	if m.logger == nil {
		m.logger = log.WithField("component", "stage-manager")
	}
	return m
}

// Open явно создаёт пустой черновик указанного вида.
func (m *Manager) Open(ctx context.Context, actor domain.Actor, kind domain.DraftKind) (domain.Draft, error) {
	if !kind.Valid() {
		return domain.Draft{}, domain.WrapOp(ctx, "stage.open", "", domain.ValidationError{
			Field:   "kind",
			Message: "must be cart or registration",
		})
	}
	draft, err := m.create(ctx, actor, kind)
	return draft, domain.WrapOp(ctx, "stage.open", draft.ID, err)
}

// Get возвращает черновик, если актору разрешён доступ.
func (m *Manager) Get(ctx context.Context, actor domain.Actor, sessionID string) (domain.Draft, error) {
	draft, err := m.load(ctx, actor, sessionID)
	return draft, domain.WrapOp(ctx, "stage.get", sessionID, err)
}

// Add добавляет или заменяет позицию снимком актуальной цены каталога.
// Пустой sessionID создаёт новый черновик корзины.
func (m *Manager) Add(ctx context.Context, actor domain.Actor, sessionID, refID string, quantity int32) (domain.Draft, error) {
	draft, err := m.add(ctx, actor, sessionID, refID, quantity)
	if draft.ID != "" {
		sessionID = draft.ID
	}
	return draft, domain.WrapOp(ctx, "stage.add", sessionID, err)
}

func (m *Manager) add(ctx context.Context, actor domain.Actor, sessionID, refID string, quantity int32) (domain.Draft, error) {
	refID = strings.TrimSpace(refID)
	if refID == "" {
		return domain.Draft{}, domain.ValidationError{Field: "ref_id", Message: "is required", Err: domain.ErrRefIDRequired}
	}
	if quantity <= 0 {
		return domain.Draft{}, domain.ValidationError{Field: "quantity", Message: "must be a positive integer", Err: domain.ErrQuantityInvalid}
	}

	product, err := m.catalog.Lookup(ctx, refID)
	switch {
	case errors.Is(err, domain.ErrProductNotFound):
		return domain.Draft{}, domain.ValidationError{Field: "ref_id", Message: "unknown reference " + refID, Err: err}
	case err != nil:
		return domain.Draft{}, err
	case !product.Active:
		return domain.Draft{}, domain.ValidationError{Field: "ref_id", Message: "reference " + refID + " is not available", Err: domain.ErrProductInactive}
	}

	current, err := m.loadOrCreate(ctx, actor, sessionID, domain.DraftKindCart)
	if err != nil {
		return domain.Draft{}, err
	}

	item := domain.NewLineItem(product, quantity, m.clock.Now())
	updated, err := m.sessions.StageItem(ctx, current.ID, item)
	if err != nil {
		return domain.Draft{}, mapMutationError(err)
	}

	if updated.Version != current.Version {
		m.publish(ctx, domain.EventItemStaged, updated, map[string]any{
			"item_id":     item.ID,
			"quantity":    item.Quantity,
			"total_minor": updated.TotalMinor,
			"currency":    updated.Currency,
		})
	}
	m.logger.WithFields(log.Fields{
		"session_id": updated.ID,
		"item_id":    item.ID,
		"quantity":   quantity,
	}).Debug("item staged")
	return updated, nil
}

// Remove удаляет позицию; отсутствующая позиция не является ошибкой.
func (m *Manager) Remove(ctx context.Context, actor domain.Actor, sessionID, itemID string) (domain.Draft, error) {
	draft, err := m.mutate(ctx, actor, sessionID, func(id string) (domain.Draft, error) {
		return m.sessions.UnstageItem(ctx, id, strings.TrimSpace(itemID))
	}, domain.EventItemUnstaged, map[string]any{"item_id": itemID})
	return draft, domain.WrapOp(ctx, "stage.remove", sessionID, err)
}

// SetField задаёт поле регистрации. Пустой sessionID создаёт черновик регистрации.
func (m *Manager) SetField(ctx context.Context, actor domain.Actor, sessionID, name, value string) (domain.Draft, error) {
	draft, err := m.setField(ctx, actor, sessionID, name, value)
	if draft.ID != "" {
		sessionID = draft.ID
	}
	return draft, domain.WrapOp(ctx, "stage.set_field", sessionID, err)
}

func (m *Manager) setField(ctx context.Context, actor domain.Actor, sessionID, name, value string) (domain.Draft, error) {
	if strings.TrimSpace(name) == "" {
		return domain.Draft{}, domain.ValidationError{Field: "name", Message: "is required", Err: domain.ErrFieldNameRequired}
	}
	current, err := m.loadOrCreate(ctx, actor, sessionID, domain.DraftKindRegistration)
	if err != nil {
		return domain.Draft{}, err
	}

	updated, err := m.sessions.SetField(ctx, current.ID, name, value)
	if err != nil {
		return domain.Draft{}, mapMutationError(err)
	}
	if updated.Version != current.Version {
		m.publish(ctx, domain.EventFieldSet, updated, map[string]any{"field": strings.TrimSpace(name)})
	}
	return updated, nil
}

// UnsetField удаляет поле регистрации.
func (m *Manager) UnsetField(ctx context.Context, actor domain.Actor, sessionID, name string) (domain.Draft, error) {
	draft, err := m.mutate(ctx, actor, sessionID, func(id string) (domain.Draft, error) {
		return m.sessions.UnsetField(ctx, id, name)
	}, domain.EventFieldUnset, map[string]any{"field": strings.TrimSpace(name)})
	return draft, domain.WrapOp(ctx, "stage.unset_field", sessionID, err)
}

func (m *Manager) mutate(
	ctx context.Context,
	actor domain.Actor,
	sessionID string,
	apply func(id string) (domain.Draft, error),
	event string,
	payload map[string]any,
) (domain.Draft, error) {
	current, err := m.load(ctx, actor, sessionID)
	if err != nil {
		return domain.Draft{}, err
	}

	updated, err := apply(current.ID)
	if err != nil {
		return domain.Draft{}, mapMutationError(err)
	}
	if updated.Version != current.Version {
		m.publish(ctx, event, updated, payload)
	}
	return updated, nil
}

func (m *Manager) loadOrCreate(ctx context.Context, actor domain.Actor, sessionID string, kind domain.DraftKind) (domain.Draft, error) {
	if strings.TrimSpace(sessionID) == "" {
		return m.create(ctx, actor, kind)
	}
	return m.load(ctx, actor, sessionID)
}

func (m *Manager) create(ctx context.Context, actor domain.Actor, kind domain.DraftKind) (domain.Draft, error) {
	if strings.TrimSpace(actor.ID) == "" {
		return domain.Draft{}, domain.ErrOwnerRequired
	}
	draft, err := m.sessions.CreateSession(ctx, actor.ID, kind)
	if err != nil {
		return domain.Draft{}, err
	}
	m.publish(ctx, domain.EventDraftCreated, draft, map[string]any{
		"owner_id": draft.OwnerID,
		"kind":     string(draft.Kind),
	})
	m.logger.WithFields(log.Fields{
		"session_id": draft.ID,
		"kind":       draft.Kind,
	}).Info("draft created")
	return draft, nil
}

func (m *Manager) load(ctx context.Context, actor domain.Actor, sessionID string) (domain.Draft, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.Draft{}, domain.ErrSessionNotFound
	}
	draft, err := m.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Draft{}, err
	}
	if !m.policy.CanMutate(actor, draft) {
		return domain.Draft{}, domain.ErrForbidden
	}
	return draft, nil
}

func (m *Manager) publish(ctx context.Context, name string, draft domain.Draft, payload map[string]any) {
	if m.events == nil {
		return
	}
	body := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		body[k] = v
	}
	body["state"] = string(draft.State)
	body["version"] = draft.Version
	m.events.Publish(ctx, name, draft.ID, body)
}

// mapMutationError приводит ошибки снимка к ValidationError с привязкой к полю.
func mapMutationError(err error) error {
	switch {
	case errors.Is(err, domain.ErrQuantityInvalid):
		return domain.ValidationError{Field: "quantity", Message: "must be a positive integer", Err: err}
	case errors.Is(err, domain.ErrCurrencyMismatch):
		return domain.ValidationError{Field: "currency", Message: "item currency differs from draft currency", Err: err}
	case errors.Is(err, domain.ErrFieldNameRequired):
		return domain.ValidationError{Field: "name", Message: "is required", Err: err}
	default:
		return err
	}
}
