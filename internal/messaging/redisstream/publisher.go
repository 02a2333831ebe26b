// Package redisstream доставляет outbox-события в Redis Stream.
package redisstream

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/drafts/internal/domain"
)

const (
	// DefaultStream: stream событий черновиков.
	DefaultStream = "drafts:events"
	// defaultMaxLen ограничивает длину stream (приблизительно, MAXLEN ~).
	defaultMaxLen = 100000
)

// Publisher пишет outbox-сообщения в Redis Stream через XADD.
type Publisher struct {
	client goredis.UniversalClient
	stream string
	maxLen int64
	logger *log.Entry
}

// NewPublisher создаёт паблишер; пустые stream и maxLen заменяются значениями по умолчанию.
func NewPublisher(client goredis.UniversalClient, stream string, maxLen int64, logger *log.Entry) *Publisher {
	if stream == "" {
		stream = DefaultStream
	}
	if maxLen <= 0 {
		maxLen = defaultMaxLen
	}
	if logger == nil {
		logger = log.WithField("component", "redis-stream-publisher")
	}
	return &Publisher{client: client, stream: stream, maxLen: maxLen, logger: logger}
}

func (p *Publisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if p == nil || p.client == nil {
		return errors.New("redis stream publisher is not initialized")
	}

	id, err := p.client.XAdd(ctx, p.args(msg)).Result()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}

	p.logger.WithFields(log.Fields{
		"stream":     p.stream,
		"entry_id":   id,
		"event_type": msg.EventType,
		"session_id": msg.AggregateID,
	}).Debug("event appended to redis stream")
	return nil
}

func (p *Publisher) args(msg domain.OutboxMessage) *goredis.XAddArgs {
	return &goredis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: []any{
			"id", msg.ID,
			"aggregate_type", msg.AggregateType,
			"aggregate_id", msg.AggregateID,
			"event_type", msg.EventType,
			"payload", string(msg.Payload),
		},
	}
}

var _ domain.OutboxPublisher = (*Publisher)(nil)
