package outbox

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/drafts/internal/domain"
)

// DeadLetter описывает тело сообщения в DLQ: исходное событие и причина отказа.
type DeadLetter struct {
	OutboxID     string          `json:"outbox_id"`
	EventType    string          `json:"event_type"`
	SessionID    string          `json:"session_id"`
	Payload      json.RawMessage `json:"payload"`
	PublishError string          `json:"publish_error"`
}

var errNoOriginalEvent = errors.New("dead letter has no original event")

// NewDeadLetter упаковывает сообщение, которое не удалось доставить.
func NewDeadLetter(msg domain.OutboxMessage, cause error) DeadLetter {
	payload := json.RawMessage(msg.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	dl := DeadLetter{
		OutboxID:  msg.ID,
		EventType: msg.EventType,
		SessionID: msg.AggregateID,
		Payload:   payload,
	}
	if cause != nil {
		dl.PublishError = cause.Error()
	}
	return dl
}

// ParseDeadLetter разбирает тело DLQ-сообщения.
func ParseDeadLetter(data []byte) (DeadLetter, error) {
	var dl DeadLetter
	if err := json.Unmarshal(data, &dl); err != nil {
		return DeadLetter{}, fmt.Errorf("decode dead letter: %w", err)
	}
	return dl, nil
}

// Original восстанавливает outbox-сообщение для повторной публикации.
func (d DeadLetter) Original() (domain.OutboxMessage, error) {
	if len(d.Payload) == 0 || string(d.Payload) == "null" {
		return domain.OutboxMessage{}, errNoOriginalEvent
	}
	return domain.OutboxMessage{
		ID:            d.OutboxID,
		AggregateType: domain.AggregateDraft,
		AggregateID:   d.SessionID,
		EventType:     d.EventType,
		Payload:       []byte(d.Payload),
	}, nil
}
