package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// IdempotencyStatus: стадия записи результата коммита.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing: коммит начат, итог ещё не записан.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone: коммит завершён, повтор возвращает сохранённый итог.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed: попытка не удалась, повторный коммит выполняется заново.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// IdempotencyRecord: сохранённый итог коммита сессии.
// ResponseBody содержит CommitResult в JSON, StatusCode — HTTP-код итога.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	StatusCode   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Replayable сообщает, можно ли вернуть итог без повторной записи.
func (r IdempotencyRecord) Replayable() bool {
	return r.Status == IdempotencyStatusDone && len(r.ResponseBody) > 0
}

// Expired сообщает, что запись пережила срок хранения.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.TTLAt.IsZero() && !r.TTLAt.After(now)
}

// Result декодирует сохранённый CommitResult.
func (r IdempotencyRecord) Result() (CommitResult, error) {
	var result CommitResult
	if err := json.Unmarshal(r.ResponseBody, &result); err != nil {
		return CommitResult{}, fmt.Errorf("decode commit result %s: %w", r.Key, err)
	}
	return result, nil
}

// NormalizeIdempotencyInput обрезает пробелы и проверяет обязательные значения.
func NormalizeIdempotencyInput(key, requestHash string) (string, string, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)
	switch {
	case key == "":
		return "", "", ErrIdempotencyKeyRequired
	case requestHash == "":
		return "", "", ErrIdempotencyRequestHashRequired
	}
	return key, requestHash, nil
}
