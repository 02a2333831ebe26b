package kafka

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/drafts/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в топик событий.
// Ключ сообщения — id сессии, поэтому события одного черновика идут по порядку.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// NewOutboxPublisher создаёт Kafka-паблишер для outbox.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicDraftEvents
	}
	return &OutboxTopicPublisher{producer: producer, topic: topic, now: time.Now}
}

func (p *OutboxTopicPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	value, err := NewEnvelope(msg, p.now()).Encode()
	if err != nil {
		return err
	}
	return p.producer.Send(ctx, Message{
		Topic: p.topic,
		Key:   partitionKey(msg),
		Value: value,
		Headers: map[string]string{
			HeaderEventType:     msg.EventType,
			HeaderAggregateType: msg.AggregateType,
		},
	})
}

// DLQPublisher отправляет сообщения, исчерпавшие попытки, в dead-letter топик.
// Заголовок x-original-topic нужен dlq-replay для возврата сообщения.
type DLQPublisher struct {
	producer *Producer
	topic    string
	source   string
	now      func() time.Time
}

// NewDLQPublisher создаёт паблишер dead-letter очереди.
func NewDLQPublisher(producer *Producer, topic, sourceTopic string) *DLQPublisher {
	if topic == "" {
		topic = TopicDeadLetterQueue
	}
	return &DLQPublisher{producer: producer, topic: topic, source: sourceTopic, now: time.Now}
}

func (p *DLQPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	now := p.now()
	value, err := NewEnvelope(msg, now).Encode()
	if err != nil {
		return err
	}
	return p.producer.Send(ctx, Message{
		Topic: p.topic,
		Key:   partitionKey(msg),
		Value: value,
		Headers: map[string]string{
			HeaderEventType:     msg.EventType,
			HeaderOriginalTopic: p.source,
			HeaderFailedAt:      now.UTC().Format(time.RFC3339),
		},
	})
}

func partitionKey(msg domain.OutboxMessage) string {
	if msg.AggregateID != "" {
		return msg.AggregateID
	}
	return msg.ID
}

var (
	_ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
	_ domain.OutboxPublisher = (*DLQPublisher)(nil)
)
