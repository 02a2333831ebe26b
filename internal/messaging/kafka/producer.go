// Package kafka доставляет события черновиков из outbox в Kafka.
package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const clientID = "draft-service"

var errNoProducer = errors.New("kafka producer is not initialized")

// Message описывает запись для отправки в топик.
type Message struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

func (m Message) toSarama() *sarama.ProducerMessage {
	out := &sarama.ProducerMessage{
		Topic: m.Topic,
		Key:   sarama.StringEncoder(m.Key),
		Value: sarama.ByteEncoder(m.Value),
	}
	for k, v := range m.Headers {
		out.Headers = append(out.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	return out
}

// Producer оборачивает синхронный идемпотентный producer поверх sarama.
type Producer struct {
	sync    sarama.SyncProducer
	logger  *log.Entry
	brokers []string
	config  *sarama.Config
}

// producerConfig включает идемпотентность: брокер отбрасывает дубли
// при ретраях, порядок внутри партиции сохраняется.
func producerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

// NewProducer подключается к брокерам.
func NewProducer(brokers []string, logger *log.Entry) (*Producer, error) {
	cfg := producerConfig()
	sync, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	p := NewProducerFromSync(sync, logger)
	p.brokers = brokers
	p.config = cfg
	return p, nil
}

// NewProducerFromSync оборачивает готовый sarama.SyncProducer.
func NewProducerFromSync(sync sarama.SyncProducer, logger *log.Entry) *Producer {
	if logger == nil {
		logger = log.WithField("component", "kafka-producer")
	}
	return &Producer{sync: sync, logger: logger}
}

// Send отправляет запись и ждёт подтверждения всех реплик.
// sarama не принимает контекст, поэтому отмена проверяется только до отправки.
func (p *Producer) Send(ctx context.Context, msg Message) error {
	if p == nil || p.sync == nil {
		return errNoProducer
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	entry := p.logger.WithFields(log.Fields{"topic": msg.Topic, "key": msg.Key})
	partition, offset, err := p.sync.SendMessage(msg.toSarama())
	if err != nil {
		entry.WithError(err).Warn("kafka send failed")
		return fmt.Errorf("send to %s: %w", msg.Topic, err)
	}
	entry.WithFields(log.Fields{"partition": partition, "offset": offset}).Debug("kafka message acknowledged")
	return nil
}

func (p *Producer) Close() error {
	if p == nil || p.sync == nil {
		return nil
	}
	if err := p.sync.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}

// Ping проверяет, что хотя бы один брокер принимает соединения.
func (p *Producer) Ping(ctx context.Context) error {
	if p == nil || len(p.brokers) == 0 {
		return nil
	}
	done := make(chan error, 1)
	go func() {
		client, err := sarama.NewClient(p.brokers, p.config)
		if err != nil {
			done <- err
			return
		}
		done <- client.Close()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
