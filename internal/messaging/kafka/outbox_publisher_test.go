package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/drafts/internal/domain"
)

var publishedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func headers(msg *sarama.ProducerMessage) map[string]string {
	out := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		out[string(h.Key)] = string(h.Value)
	}
	return out
}

func committed(sessionID string) domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            "outbox-" + sessionID,
		AggregateType: domain.AggregateDraft,
		AggregateID:   sessionID,
		EventType:     domain.EventDraftCommitted,
		Payload:       []byte(`{"total_minor":25}`),
	}
}

func TestOutboxPublisher_KeysBySession(t *testing.T) {
	sync := mocks.NewSyncProducer(t, nil)
	sync.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, TopicDraftEvents, msg.Topic)
		key, _ := msg.Key.Encode()
		assert.Equal(t, "sess-1", string(key))
		assert.Equal(t, map[string]string{
			HeaderEventType:     domain.EventDraftCommitted,
			HeaderAggregateType: domain.AggregateDraft,
		}, headers(msg))

		value, _ := msg.Value.Encode()
		env, err := ParseEnvelope(value)
		require.NoError(t, err)
		assert.JSONEq(t, `{"total_minor":25}`, string(env.Payload))
		assert.True(t, env.PublishedAt.Equal(publishedAt))
		return nil
	})

	publisher := NewOutboxPublisher(NewProducerFromSync(sync, nil), "")
	publisher.now = func() time.Time { return publishedAt }

	require.NoError(t, publisher.Publish(context.Background(), committed("sess-1")))
	require.NoError(t, sync.Close())
}

func TestOutboxPublisher_FallsBackToMessageID(t *testing.T) {
	sync := mocks.NewSyncProducer(t, nil)
	sync.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, _ := msg.Key.Encode()
		assert.Equal(t, "outbox-7", string(key))
		return nil
	})

	err := NewOutboxPublisher(NewProducerFromSync(sync, nil), "custom").
		Publish(context.Background(), domain.OutboxMessage{ID: "outbox-7", EventType: domain.EventOrphanRecord})
	require.NoError(t, err)
	require.NoError(t, sync.Close())
}

func TestOutboxPublisher_BrokerError(t *testing.T) {
	sync := mocks.NewSyncProducer(t, nil)
	sync.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := NewOutboxPublisher(NewProducerFromSync(sync, nil), "").Publish(context.Background(), committed("sess-2"))
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, sync.Close())
}

func TestDLQPublisher_MarksOriginalTopic(t *testing.T) {
	sync := mocks.NewSyncProducer(t, nil)
	sync.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, TopicDeadLetterQueue, msg.Topic)
		h := headers(msg)
		assert.Equal(t, TopicDraftEvents, h[HeaderOriginalTopic])
		assert.Equal(t, "2026-03-01T12:00:00Z", h[HeaderFailedAt])
		return nil
	})

	dlq := NewDLQPublisher(NewProducerFromSync(sync, nil), "", TopicDraftEvents)
	dlq.now = func() time.Time { return publishedAt }

	require.NoError(t, dlq.Publish(context.Background(), committed("sess-6")))
	require.NoError(t, sync.Close())
}

func TestPublishers_NilProducer(t *testing.T) {
	ctx := context.Background()

	assert.ErrorIs(t, NewOutboxPublisher(nil, "").Publish(ctx, committed("s")), errNoProducer)
	assert.ErrorIs(t, NewDLQPublisher(nil, "", "").Publish(ctx, committed("s")), errNoProducer)
}
