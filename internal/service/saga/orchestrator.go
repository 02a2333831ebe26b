// Package saga фиксирует черновик в durable-хранилище как сагу:
// последовательная запись, компенсация в обратном порядке, повтор по сохранённому результату.
package saga

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/drafts/internal/clock"
	"github.com/vladislavdragonenkov/drafts/internal/domain"
	"github.com/vladislavdragonenkov/drafts/internal/metrics"
)

const (
	opCommit             = "commit"
	defaultResultTTL     = 24 * time.Hour
	compensationDeadline = 30 * time.Second
)

// Validator проверяет черновик целиком перед коммитом.
type Validator interface {
	Validate(ctx context.Context, draft domain.Draft) error
}

// Deps: обязательные зависимости оркестратора.
type Deps struct {
	Sessions  domain.SessionStore
	Durable   domain.DurableRepository
	Catalog   domain.Catalog
	Validator Validator
	Results   domain.IdempotencyRepository
	Orphans   domain.OrphanRepository
}

// Option настраивает Orchestrator.
type Option func(*Orchestrator)

// WithEvents задаёт publisher аудит-событий.
func WithEvents(events domain.EventPublisher) Option {
	return func(o *Orchestrator) { o.events = events }
}

// WithPolicy подменяет политику доступа и значения доступа записей.
func WithPolicy(policy domain.AccessPolicy) Option {
	return func(o *Orchestrator) { o.policy = policy }
}

// WithMetrics включает метрики коммитов.
func WithMetrics(m *metrics.CommitMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithRetryConfig задаёт повторы вызовов хранилища.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(o *Orchestrator) { o.retryCfg = cfg }
}

// WithCircuitBreaker задаёт circuit breaker для записи в хранилище.
func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(o *Orchestrator) { o.breaker = cb }
}

// WithClock подменяет источник времени.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithResultTTL задаёт срок хранения результата коммита для повторов.
func WithResultTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) { o.resultTTL = ttl }
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithTokenGenerator подменяет генератор токенов блокировки.
func WithTokenGenerator(fn func() string) Option {
	return func(o *Orchestrator) { o.newToken = fn }
}

// Orchestrator выполняет Commit черновика.
type Orchestrator struct {
	sessions  domain.SessionStore
	durable   domain.DurableRepository
	catalog   domain.Catalog
	validator Validator
	results   domain.IdempotencyRepository
	orphans   domain.OrphanRepository

	events    domain.EventPublisher
	policy    domain.AccessPolicy
	metrics   *metrics.CommitMetrics
	retryCfg  RetryConfig
	breaker   *CircuitBreaker
	retry     *retrier
	clock     clock.Clock
	resultTTL time.Duration
	logger    *log.Entry
	newToken  func() string
}

// NewOrchestrator создаёт оркестратор коммитов.
func NewOrchestrator(deps Deps, opts ...Option) (*Orchestrator, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errors.New("saga: session store is required")
	case deps.Durable == nil:
		return nil, errors.New("saga: durable repository is required")
	case deps.Catalog == nil:
		return nil, errors.New("saga: catalog is required")
	case deps.Validator == nil:
		return nil, errors.New("saga: validator is required")
	case deps.Results == nil:
		return nil, errors.New("saga: commit result store is required")
	case deps.Orphans == nil:
		return nil, errors.New("saga: orphan repository is required")
	}

	o := &Orchestrator{
		sessions:  deps.Sessions,
		durable:   deps.Durable,
		catalog:   deps.Catalog,
		validator: deps.Validator,
		results:   deps.Results,
		orphans:   deps.Orphans,
		retryCfg:  DefaultRetryConfig(),
		resultTTL: defaultResultTTL,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = log.WithField("component", "commit-orchestrator")
	}
	if o.clock == nil {
		o.clock = clock.NewSystem()
	}
	if o.policy == nil {
		o.policy = domain.DefaultAccessPolicy()
	}
	if o.resultTTL <= 0 {
		o.resultTTL = defaultResultTTL
	}
	if o.newToken == nil {
		o.newToken = uuid.NewString
	}
	if o.breaker == nil {
		o.breaker = NewCircuitBreaker(5, 30*time.Second, o.clock, o.logger.WithField("component", "circuit-breaker"))
	}
	o.breaker.OnStateChange(func(state CircuitState) {
		o.metrics.BreakerOpen(state == CircuitOpen)
	})
	o.retry = newRetrier(o.retryCfg, o.breaker, o.metrics, o.logger)
	return o, nil
}

// Commit переносит черновик в durable-хранилище.
// При FAILED и CONFLICT возвращается и итог, и ошибка.
func (o *Orchestrator) Commit(ctx context.Context, actor domain.Actor, sessionID string) (domain.CommitResult, error) {
	result, err := o.commit(ctx, actor, sessionID)
	return result, domain.WrapOp(ctx, opCommit, sessionID, err)
}

func (o *Orchestrator) commit(ctx context.Context, actor domain.Actor, sessionID string) (domain.CommitResult, error) {
	entry := o.logger.WithFields(log.Fields{
		"session_id":   sessionID,
		"operation_id": domain.OperationIDFromContext(ctx),
	})

	if replay, ok, err := o.replay(ctx, actor, sessionID); err != nil || ok {
		if ok {
			o.metrics.CommitOutcome("", metrics.OutcomeReplayed)
			entry.Info("commit replayed from stored result")
		}
		return replay, err
	}

	draft, err := o.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return domain.CommitResult{}, err
	}
	if !o.policy.CanMutate(actor, draft) {
		return domain.CommitResult{}, domain.ErrForbidden
	}
	if draft.State == domain.DraftStateConflict {
		return domain.CommitResult{}, &domain.ConflictError{Reason: domain.ConflictRestageRequired, Err: domain.ErrIllegalTransition}
	}

	token := o.newToken()
	acquired, err := o.sessions.TryAcquireCommitLock(ctx, sessionID, token)
	if err != nil {
		return domain.CommitResult{}, err
	}
	if !acquired {
		o.metrics.CommitOutcome(string(draft.Kind), metrics.OutcomeRejected)
		return domain.CommitResult{}, &domain.ConflictError{Reason: domain.ConflictCommitInProgress, Err: domain.ErrDraftCommitting}
	}
	defer o.releaseLock(ctx, entry, sessionID, token)

	// Черновик мог измениться между чтением и захватом блокировки.
	if draft, err = o.sessions.GetSession(ctx, sessionID); err != nil {
		return domain.CommitResult{}, err
	}

	started := o.clock.Now()
	o.metrics.CommitStarted()
	outcome := metrics.OutcomeRejected
	defer func() {
		o.metrics.CommitFinished(string(draft.Kind), outcome, o.clock.Now().Sub(started))
	}()

	if err := o.validator.Validate(ctx, draft); err != nil {
		return domain.CommitResult{}, err
	}
	if err := o.checkPrices(ctx, draft); err != nil {
		if !domain.IsConflict(err) {
			return domain.CommitResult{}, err
		}
		outcome = metrics.OutcomeConflict
		return o.conflictWithoutWrites(ctx, entry, draft, err)
	}

	o.registerAttempt(ctx, entry, draft)

	draft, err = o.enterCommitting(ctx, draft)
	if err != nil {
		return domain.CommitResult{}, err
	}
	o.publish(ctx, domain.EventCommitStarted, draft, map[string]any{"items": len(draft.Items)})

	ids, err := o.persist(ctx, entry, draft, token)
	if errors.Is(err, domain.ErrCommitLockLost) {
		return o.lockLost(entry, err)
	}
	if err != nil {
		result, lost := o.fail(ctx, entry, draft, token, err)
		if lost {
			return o.lockLost(entry, err)
		}
		if result.Status == domain.CommitStatusConflict {
			outcome = metrics.OutcomeConflict
			return result, &domain.ConflictError{Reason: domain.ConflictDuplicate, ItemID: failedItem(err), Err: err}
		}
		outcome = metrics.OutcomeFailed
		return result, err
	}

	if err := o.holdLock(ctx, sessionID, token); errors.Is(err, domain.ErrCommitLockLost) {
		return o.lockLost(entry, err)
	}

	outcome = metrics.OutcomeCommitted
	return o.succeed(ctx, entry, draft, ids), nil
}

// lockLost завершает коммит, блокировку которого перехватил другой коммит.
// Записи идемпотентны по ключу и принадлежат новому держателю, поэтому
// ни откат, ни смена состояния, ни фиксация итога не выполняются.
func (o *Orchestrator) lockLost(entry *log.Entry, cause error) (domain.CommitResult, error) {
	entry.WithError(cause).Warn("commit lock lost, leaving records to the current holder")
	return domain.CommitResult{}, &domain.ConflictError{Reason: domain.ConflictCommitInProgress, Err: domain.ErrCommitLockLost}
}

// holdLock продлевает блокировку коммита перед каждым обращением к хранилищу.
func (o *Orchestrator) holdLock(ctx context.Context, sessionID, token string) error {
	held, err := o.sessions.ExtendCommitLock(ctx, sessionID, token)
	if err != nil {
		return domain.Transient("extend_lock", err)
	}
	if !held {
		return domain.ErrCommitLockLost
	}
	return nil
}

// replay возвращает сохранённый успешный результат, если он есть.
// Чужой результат отдаётся только тем, кому политика разрешает менять черновик владельца.
func (o *Orchestrator) replay(ctx context.Context, actor domain.Actor, sessionID string) (domain.CommitResult, bool, error) {
	record, err := o.results.Get(ctx, domain.CommitResultKey(sessionID))
	switch {
	case errors.Is(err, domain.ErrIdempotencyKeyNotFound):
		return domain.CommitResult{}, false, nil
	case err != nil:
		return domain.CommitResult{}, false, fmt.Errorf("load commit result: %w", err)
	case !record.Replayable():
		return domain.CommitResult{}, false, nil
	}

	owner := ""
	if actor.ID != "" && record.RequestHash == requestHash(actor.ID, sessionID) {
		owner = actor.ID
	}
	if !o.policy.CanMutate(actor, domain.Draft{ID: sessionID, OwnerID: owner}) {
		return domain.CommitResult{}, false, domain.ErrForbidden
	}

	result, err := record.Result()
	if err != nil {
		return domain.CommitResult{}, false, err
	}
	return result, true, nil
}

// checkPrices сверяет снимки позиций с каталогом; подмены цены не происходит.
func (o *Orchestrator) checkPrices(ctx context.Context, draft domain.Draft) error {
	for _, item := range draft.Items {
		product, err := o.catalog.Lookup(ctx, item.RefID)
		if errors.Is(err, domain.ErrProductNotFound) {
			return &domain.ConflictError{Reason: domain.ConflictStalePrice, ItemID: item.ID, Err: err}
		}
		if err != nil {
			return fmt.Errorf("lookup %s: %w", item.RefID, err)
		}
		if !product.Matches(item) {
			return &domain.ConflictError{Reason: domain.ConflictStalePrice, ItemID: item.ID}
		}
	}
	return nil
}

// enterCommitting переводит черновик в COMMITTING с проверкой версии.
// COMMITTING после сбоя процесса продолжается: записи идемпотентны по ключу.
func (o *Orchestrator) enterCommitting(ctx context.Context, draft domain.Draft) (domain.Draft, error) {
	var err error
	if draft.State != domain.DraftStateReady && draft.State != domain.DraftStateCommitting {
		draft, err = o.sessions.Transition(ctx, draft.ID, draft.Version, domain.DraftStateReady)
		if err != nil {
			return domain.Draft{}, concurrentModification(err)
		}
	}
	if draft.State == domain.DraftStateReady {
		draft, err = o.sessions.Transition(ctx, draft.ID, draft.Version, domain.DraftStateCommitting)
		if err != nil {
			return domain.Draft{}, concurrentModification(err)
		}
	}
	return draft, nil
}

// conflictWithoutWrites доводит черновик до CONFLICT, ничего не записывая в хранилище.
func (o *Orchestrator) conflictWithoutWrites(ctx context.Context, entry *log.Entry, draft domain.Draft, cause error) (domain.CommitResult, error) {
	committing, err := o.enterCommitting(ctx, draft)
	if err != nil {
		return domain.CommitResult{}, err
	}
	if _, err := o.sessions.Transition(ctx, committing.ID, committing.Version, domain.DraftStateConflict); err != nil {
		entry.WithError(err).Warn("failed to mark draft as conflict")
	}

	result := o.resultFor(draft, domain.CommitStatusConflict, nil)
	result.Reason = string(domain.ConflictReasonOf(cause))
	o.registerAttempt(ctx, entry, draft)
	o.storeResult(ctx, entry, result, false)
	o.publish(ctx, domain.EventCommitConflict, committing, map[string]any{
		"reason":  result.Reason,
		"item_id": itemOf(cause),
	})
	entry.WithField("item_id", itemOf(cause)).Warn("commit rejected: snapshot price is stale")
	return result, cause
}

type persisted struct {
	id  string
	key string
}

// persist пишет записи последовательно, продлевая блокировку перед каждой записью.
// При ошибке уже записанные id передаются в persistError для компенсации.
// Потеря блокировки возвращается без persistError: откатывать нечего.
func (o *Orchestrator) persist(ctx context.Context, entry *log.Entry, draft domain.Draft, token string) ([]string, error) {
	plan := buildPlan(draft, o.policy.RecordDefaults(draft), o.clock.Now())
	done := make([]persisted, 0, len(plan.records))

	for _, record := range plan.records {
		var id string
		err := o.retry.call(ctx, "create", true, func(callCtx context.Context) error {
			if err := o.holdLock(callCtx, draft.ID, token); err != nil {
				return err
			}
			var createErr error
			id, createErr = o.durable.Create(callCtx, record)
			return createErr
		})
		if errors.Is(err, domain.ErrCommitLockLost) {
			return nil, err
		}
		if err != nil {
			return nil, &persistError{done: done, key: record.IdempotencyKey, itemID: itemIDOf(record), err: err}
		}
		done = append(done, persisted{id: id, key: record.IdempotencyKey})
		entry.WithFields(log.Fields{"record_id": id, "item_id": itemIDOf(record)}).Debug("record persisted")
	}

	if plan.header >= 0 {
		headerID := done[plan.header].id
		err := o.retry.call(ctx, "update", true, func(callCtx context.Context) error {
			if err := o.holdLock(callCtx, draft.ID, token); err != nil {
				return err
			}
			return o.durable.Update(callCtx, headerID, domain.RecordPatch{Status: domain.RecordStatusActive})
		})
		if errors.Is(err, domain.ErrCommitLockLost) {
			return nil, err
		}
		if err != nil {
			return nil, &persistError{done: done, key: plan.records[plan.header].IdempotencyKey, itemID: domain.RegistrationItemID, err: err}
		}
	}

	ids := make([]string, 0, len(done))
	for _, p := range done {
		ids = append(ids, p.id)
	}
	return ids, nil
}

// persistError несёт записанные до сбоя записи для компенсации.
type persistError struct {
	done   []persisted
	key    string
	itemID string
	err    error
}

func (e *persistError) Error() string { return fmt.Sprintf("persist %s: %v", e.key, e.err) }
func (e *persistError) Unwrap() error { return e.err }

// fail откатывает записанное, переводит черновик в FAILED или CONFLICT и сохраняет итог.
// lost=true: блокировку перехватили во время отката, итог не фиксируется.
func (o *Orchestrator) fail(ctx context.Context, entry *log.Entry, draft domain.Draft, token string, cause error) (domain.CommitResult, bool) {
	// Откат и фиксация итога выполняются и после отмены запроса.
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationDeadline)
	defer cancel()

	var pe *persistError
	if errors.As(cause, &pe) && !o.compensate(cleanupCtx, entry, draft, token, pe.done) {
		return domain.CommitResult{}, true
	}

	status, state, event := domain.CommitStatusFailed, domain.DraftStateFailed, domain.EventCommitFailed
	if errors.Is(cause, domain.ErrDuplicateRecord) {
		status, state, event = domain.CommitStatusConflict, domain.DraftStateConflict, domain.EventCommitConflict
	}
	if _, err := o.sessions.Transition(cleanupCtx, draft.ID, -1, state); err != nil {
		entry.WithError(err).WithField("state", state).Warn("failed to record commit outcome on draft")
	}

	result := o.resultFor(draft, status, nil)
	result.Reason = cause.Error()
	if status == domain.CommitStatusConflict {
		result.Reason = string(domain.ConflictDuplicate)
	}
	o.storeResult(cleanupCtx, entry, result, false)
	o.publish(cleanupCtx, event, draft, map[string]any{"reason": result.Reason})

	entry.WithError(cause).WithField("status", status).Warn("commit rolled back")
	return result, false
}

// compensate удаляет записанные записи в обратном порядке. Отсутствующая запись считается удалённой.
// Неудалённая запись уходит в карантин и никогда не прерывает откат остальных.
// Перед каждым удалением блокировка продлевается; false: её перехватил другой коммит
// и оставшиеся записи уже принадлежат ему. Сбой продления откат не останавливает.
func (o *Orchestrator) compensate(ctx context.Context, entry *log.Entry, draft domain.Draft, token string, done []persisted) bool {
	for i := len(done) - 1; i >= 0; i-- {
		p := done[i]
		held, err := o.sessions.ExtendCommitLock(ctx, draft.ID, token)
		if err != nil {
			entry.WithError(err).Warn("failed to extend commit lock during rollback")
		} else if !held {
			entry.WithField("remaining", i+1).Warn("commit lock lost during rollback, stopping")
			return false
		}
		err = o.retry.call(ctx, "delete", false, func(callCtx context.Context) error {
			return o.durable.Delete(callCtx, p.id)
		})
		switch {
		case err == nil:
			o.metrics.Compensation(metrics.CompensationDeleted)
			o.publish(ctx, domain.EventRecordCompensated, draft, map[string]any{"record_id": p.id})
		case errors.Is(err, domain.ErrRecordNotFound):
			o.metrics.Compensation(metrics.CompensationNotFound)
		default:
			o.metrics.Compensation(metrics.CompensationOrphaned)
			o.quarantine(ctx, entry, draft, p, err)
		}
	}
	return true
}

func (o *Orchestrator) quarantine(ctx context.Context, entry *log.Entry, draft domain.Draft, p persisted, cause error) {
	warning := &domain.OrphanRecordWarning{SessionID: draft.ID, RecordID: p.id, Err: cause}
	entry.WithError(warning).WithField("record_id", p.id).Warn("compensating delete failed, record quarantined")

	orphan, err := o.orphans.Quarantine(ctx, domain.OrphanRecord{
		RecordID:       p.id,
		IdempotencyKey: p.key,
		SessionID:      draft.ID,
		Reason:         cause.Error(),
		Status:         domain.OrphanStatusPending,
	})
	if err != nil {
		entry.WithError(err).WithField("record_id", p.id).Error("failed to quarantine orphan record, manual reconciliation required")
		return
	}
	o.publish(ctx, domain.EventOrphanRecord, draft, map[string]any{
		"record_id": p.id,
		"orphan_id": orphan.ID,
		"reason":    cause.Error(),
	})
}

func (o *Orchestrator) succeed(ctx context.Context, entry *log.Entry, draft domain.Draft, ids []string) domain.CommitResult {
	// Записи уже в хранилище: итог фиксируется даже при отмене запроса.
	ctx = context.WithoutCancel(ctx)

	if _, err := o.sessions.Transition(ctx, draft.ID, -1, domain.DraftStateCommitted); err != nil {
		entry.WithError(err).Warn("failed to mark draft as committed")
	}

	result := o.resultFor(draft, domain.CommitStatusCommitted, ids)
	o.storeResult(ctx, entry, result, true)

	if err := o.sessions.ClearSession(ctx, draft.ID); err != nil {
		entry.WithError(err).Warn("failed to clear committed session")
	}
	o.publish(ctx, domain.EventDraftCommitted, draft, map[string]any{
		"committed_ids": ids,
		"total_minor":   draft.TotalMinor,
		"currency":      draft.Currency,
	})

	entry.WithFields(log.Fields{
		"records":     len(ids),
		"total_minor": draft.TotalMinor,
	}).Info("draft committed")
	return result
}

func (o *Orchestrator) resultFor(draft domain.Draft, status domain.CommitStatus, ids []string) domain.CommitResult {
	if ids == nil {
		ids = []string{}
	}
	return domain.CommitResult{
		SessionID:    draft.ID,
		Status:       status,
		CommittedIDs: ids,
		TotalMinor:   draft.TotalMinor,
		Currency:     draft.Currency,
	}
}

// registerAttempt создаёт запись результата в статусе processing.
// Существующая запись (прошлая неудачная попытка) переиспользуется.
func (o *Orchestrator) registerAttempt(ctx context.Context, entry *log.Entry, draft domain.Draft) {
	key := domain.CommitResultKey(draft.ID)
	_, err := o.results.CreateProcessing(ctx, key, requestHash(draft.OwnerID, draft.ID), o.clock.Now().Add(o.resultTTL))
	if err != nil && !domain.IsIdempotencyConflict(err) {
		entry.WithError(err).Warn("failed to register commit attempt")
	}
}

func (o *Orchestrator) storeResult(ctx context.Context, entry *log.Entry, result domain.CommitResult, done bool) {
	body, err := json.Marshal(result)
	if err != nil {
		entry.WithError(err).Error("marshal commit result failed")
		return
	}
	key := domain.CommitResultKey(result.SessionID)
	if !done {
		// Успешный итог не перезаписывается неудачей.
		if record, err := o.results.Get(ctx, key); err == nil && record.Replayable() {
			entry.WithField("status", result.Status).Warn("commit result already done, keeping it")
			return
		}
	}
	if done {
		err = o.results.MarkDone(ctx, key, body, http.StatusOK)
	} else {
		err = o.results.MarkFailed(ctx, key, body, http.StatusConflict)
	}
	if err != nil {
		entry.WithError(err).WithField("status", result.Status).Warn("failed to store commit result")
	}
}

func (o *Orchestrator) releaseLock(ctx context.Context, entry *log.Entry, sessionID, token string) {
	if err := o.sessions.ReleaseCommitLock(context.WithoutCancel(ctx), sessionID, token); err != nil {
		entry.WithError(err).Warn("failed to release commit lock")
	}
}

func (o *Orchestrator) publish(ctx context.Context, name string, draft domain.Draft, payload map[string]any) {
	if o.events == nil {
		return
	}
	body := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	body["kind"] = string(draft.Kind)
	o.events.Publish(ctx, name, draft.ID, body)
}

func concurrentModification(err error) error {
	if domain.IsVersionConflict(err) {
		return &domain.ConflictError{Reason: domain.ConflictConcurrentModification, Err: err}
	}
	return err
}

func failedItem(err error) string {
	var pe *persistError
	if errors.As(err, &pe) {
		return pe.itemID
	}
	return ""
}

func itemOf(err error) string {
	var conflict *domain.ConflictError
	if errors.As(err, &conflict) {
		return conflict.ItemID
	}
	return ""
}

// requestHash привязывает запись результата к владельцу и сессии.
func requestHash(ownerID, sessionID string) string {
	sum := sha256.Sum256([]byte(ownerID + "|" + sessionID))
	return hex.EncodeToString(sum[:])
}
