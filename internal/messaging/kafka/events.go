package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/drafts/internal/domain"
)

// Топики по умолчанию.
const (
	TopicDraftEvents     = "drafts.events"
	TopicDeadLetterQueue = "drafts.dlq"
)

// Заголовки записей.
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderOriginalTopic = "x-original-topic"
	HeaderFailedAt      = "x-failed-at"
)

// Envelope: формат записи в топике событий черновиков.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope оборачивает outbox-сообщение; пустой payload становится {}.
func NewEnvelope(msg domain.OutboxMessage, now time.Time) Envelope {
	payload := json.RawMessage(msg.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		PublishedAt:   now.UTC(),
	}
}

func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope %s: %w", e.EventType, e.ID, err)
	}
	return data, nil
}

// OutboxMessage восстанавливает исходное outbox-сообщение.
func (e Envelope) OutboxMessage() domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            e.ID,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		EventType:     e.EventType,
		Payload:       []byte(e.Payload),
	}
}

// ParseEnvelope разбирает запись из топика событий.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode draft event: %w", err)
	}
	return env, nil
}
