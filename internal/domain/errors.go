package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSessionNotFound возвращается, если черновик отсутствует или истёк по TTL.
	ErrSessionNotFound = errors.New("session not found")
	// ErrItemNotFound возвращается, если позиция отсутствует в черновике.
	ErrItemNotFound = errors.New("item not found")
	// ErrProductNotFound возвращается каталогом для неизвестного ref_id.
	ErrProductNotFound = errors.New("product not found")
	// ErrProductInactive — позиция каталога существует, но недоступна для заказа.
	ErrProductInactive = errors.New("product is inactive")
	// ErrRecordNotFound возвращается durable-хранилищем для отсутствующей записи.
	ErrRecordNotFound = errors.New("record not found")
	// Ошибка отсутствующего идентификатора владельца.
	ErrOwnerRequired = errors.New("owner_id is required")
	// Ошибка при некорректном количестве (<= 0).
	ErrQuantityInvalid = errors.New("quantity must be a positive integer")
	// Ошибка отсутствующего ref_id.
	ErrRefIDRequired = errors.New("ref_id is required")
	// Ошибка пустого имени поля.
	ErrFieldNameRequired = errors.New("field name is required")
	// Ошибка, если валюта позиции не совпадает с валютой черновика.
	ErrCurrencyMismatch = errors.New("currency does not match draft currency")
	// ErrDraftVersionConflict сигнализирует о конфликте версий черновика.
	ErrDraftVersionConflict = errors.New("draft version conflict")
	// ErrDraftCommitting — черновик заблокирован текущим коммитом.
	ErrDraftCommitting = errors.New("draft is being committed")
	// ErrDraftClosed — черновик в терминальном состоянии и больше не изменяется.
	ErrDraftClosed = errors.New("draft is closed")
	// ErrCommitLockLost — блокировка коммита истекла и перешла к другому вызову.
	ErrCommitLockLost = errors.New("commit lock lost")
	// ErrIllegalTransition — переход между состояниями запрещён.
	ErrIllegalTransition = errors.New("illegal state transition")
	// ErrForbidden — актор не владеет черновиком и не имеет повышенной роли.
	ErrForbidden = errors.New("actor is not allowed to access draft")
	// ErrDuplicateRecord — durable-хранилище обнаружило нарушение уникальности.
	ErrDuplicateRecord = errors.New("duplicate record")
	// ErrBackendTransient — временная ошибка durable-хранилища, можно повторить.
	ErrBackendTransient = errors.New("transient backend error")
	// ErrBackendFatal — терминальная ошибка durable-хранилища, повтор бессмыслен.
	ErrBackendFatal = errors.New("fatal backend error")
	// ErrCircuitOpen — circuit breaker отсекает вызовы к хранилищу.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrOutboxMessageInvalid — у события нет черновика или типа.
	ErrOutboxMessageInvalid = errors.New("outbox message requires aggregate id and event type")
	// ErrTimelineEventInvalid — событие журнала без сессии или типа.
	ErrTimelineEventInvalid = errors.New("timeline event requires session id and type")
	// ErrOrphanNotFound возвращается, если запись карантина отсутствует.
	ErrOrphanNotFound = errors.New("orphan record not found")

	// ErrIdempotencyKeyRequired — пустой ключ идемпотентности.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой хеш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyNotFound — запись по ключу отсутствует.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrIdempotencyKeyAlreadyExists — ключ уже зарегистрирован тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ переиспользован с другим запросом.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
)

// ValidationError описывает нарушение бизнес-правила с привязкой к полю.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e ValidationError) Unwrap() error { return e.Err }

// ValidationErrors — список нарушений, возвращается вызывающему как есть.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Error())
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Unwrap раскрывает причины нарушений для errors.Is.
func (v ValidationErrors) Unwrap() []error {
	causes := make([]error, 0, len(v))
	for _, e := range v {
		causes = append(causes, e)
	}
	return causes
}

// Fields возвращает список полей с ошибками в исходном порядке.
func (v ValidationErrors) Fields() []string {
	fields := make([]string, 0, len(v))
	for _, e := range v {
		fields = append(fields, e.Field)
	}
	return fields
}

// ConflictReason уточняет природу конфликта.
type ConflictReason string

const (
	ConflictStalePrice             ConflictReason = "stale_price"
	ConflictDuplicate              ConflictReason = "duplicate"
	ConflictCommitInProgress       ConflictReason = "commit_in_progress"
	ConflictConcurrentModification ConflictReason = "concurrent_modification"
	ConflictRestageRequired        ConflictReason = "restage_required"
)

// ConflictError — вызывающий должен пересобрать черновик или повторить позже.
type ConflictError struct {
	Reason ConflictReason
	ItemID string
	Err    error
}

func (e *ConflictError) Error() string {
	msg := "conflict: " + string(e.Reason)
	if e.ItemID != "" {
		msg += " (item " + e.ItemID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConflictError) Unwrap() error { return e.Err }

// BackendError классифицирует ошибку durable-хранилища как временную или терминальную.
type BackendError struct {
	Op        string
	Retryable bool
	Err       error
}

// Transient создаёт повторяемую ошибку хранилища.
func Transient(op string, err error) error {
	return &BackendError{Op: op, Retryable: true, Err: err}
}

// Fatal создаёт терминальную ошибку хранилища.
func Fatal(op string, err error) error {
	return &BackendError{Op: op, Retryable: false, Err: err}
}

func (e *BackendError) Error() string {
	kind := "fatal"
	if e.Retryable {
		kind = "transient"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s backend error in %s", kind, e.Op)
	}
	return fmt.Sprintf("%s backend error in %s: %v", kind, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Is сопоставляет BackendError с ErrBackendTransient/ErrBackendFatal.
func (e *BackendError) Is(target error) bool {
	switch target {
	case ErrBackendTransient:
		return e.Retryable
	case ErrBackendFatal:
		return !e.Retryable
	default:
		return false
	}
}

// OrphanRecordWarning — компенсирующее удаление не удалось, запись требует сверки.
// Только логируется и никогда не возвращается вызывающему.
type OrphanRecordWarning struct {
	SessionID string
	RecordID  string
	Err       error
}

func (w *OrphanRecordWarning) Error() string {
	return fmt.Sprintf("orphan record %s left by session %s: %v", w.RecordID, w.SessionID, w.Err)
}

func (w *OrphanRecordWarning) Unwrap() error { return w.Err }

// OpError несёт идентификаторы сессии и операции для корреляции в аудите.
type OpError struct {
	Op          string
	SessionID   string
	OperationID string
	Err         error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s session=%s operation=%s: %v", e.Op, e.SessionID, e.OperationID, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// WrapOp оборачивает err в OpError с идентификатором операции из ctx.
// nil и уже обёрнутая ошибка возвращаются без изменений.
func WrapOp(ctx context.Context, op, sessionID string, err error) error {
	if err == nil {
		return nil
	}
	var existing *OpError
	if errors.As(err, &existing) {
		return err
	}
	return &OpError{Op: op, SessionID: sessionID, OperationID: OperationIDFromContext(ctx), Err: err}
}

// IsNotFound проверяет, относится ли ошибка к отсутствующей сущности.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrRecordNotFound)
}

// IsConflict проверяет, является ли ошибка конфликтом.
func IsConflict(err error) bool {
	var conflict *ConflictError
	return errors.As(err, &conflict)
}

// ConflictReasonOf возвращает причину конфликта или пустую строку.
func ConflictReasonOf(err error) ConflictReason {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return conflict.Reason
	}
	return ""
}

// IsValidation проверяет, содержит ли ошибка нарушения валидации.
func IsValidation(err error) bool {
	var list ValidationErrors
	if errors.As(err, &list) {
		return true
	}
	var single ValidationError
	return errors.As(err, &single)
}

// IsTransient проверяет, можно ли повторить операцию.
func IsTransient(err error) bool {
	return errors.Is(err, ErrBackendTransient)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrDraftVersionConflict)
}

// IsIdempotencyConflict проверяет, что ключ идемпотентности уже занят.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
