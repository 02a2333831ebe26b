package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/drafts/internal/domain"
	"github.com/vladislavdragonenkov/drafts/internal/health"
	"github.com/vladislavdragonenkov/drafts/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/drafts/internal/messaging/redisstream"
	"github.com/vladislavdragonenkov/drafts/internal/service/events"
)

const redisStreamMaxLen = 100_000

// eventSink: брокер, в который outbox worker доставляет события.
type eventSink struct {
	publisher domain.OutboxPublisher
	dlq       domain.OutboxPublisher
	producer  *kafka.Producer
}

// initEventSink выбирает брокер событий. Недоступная Kafka не мешает старту:
// события остаются в outbox, а сервис работает с log sink.
func initEventSink(cfg Config, deps *Dependencies, logger *log.Entry) eventSink {
	switch cfg.EventSink {
	case EventSinkKafka:
		producer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
		if err != nil || producer == nil {
			break
		}
		deps.addCloser(func() error {
			closeKafka(producer, logger)
			return nil
		})
		return eventSink{
			publisher: kafka.NewOutboxPublisher(producer, cfg.KafkaTopic),
			dlq:       kafka.NewDLQPublisher(producer, cfg.KafkaDLQTopic, cfg.KafkaTopic),
			producer:  producer,
		}
	case EventSinkRedis:
		if deps.Redis == nil {
			break
		}
		logger.WithField("stream", cfg.RedisStream).Info("redis stream event sink initialized")
		return eventSink{
			publisher: redisstream.NewPublisher(deps.Redis, cfg.RedisStream, redisStreamMaxLen,
				logger.WithField("component", "redis-stream-publisher")),
		}
	}
	return eventSink{publisher: events.NewLogSink(logger.WithField("component", "event-log-sink"))}
}

// registerHealth добавляет брокер как необязательную зависимость.
func (s eventSink) registerHealth(h *health.Handler) {
	if s.producer == nil {
		return
	}
	h.RegisterOptional("kafka", health.NewFuncChecker("kafka", s.producer.Ping))
}

// initKafkaProducer создаёт Kafka producer, если заданы брокеры.
// Возвращает nil, nil если список брокеров пуст.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers, logger.WithField("component", "kafka-producer"))
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, falling back to log sink")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
