// Команда dlq-replay возвращает события черновиков из DLQ в основной топик.
// По умолчанию работает в режиме dry-run и только печатает кандидатов.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/drafts/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/drafts/internal/service/outbox"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
	brokersEnv         = "DRAFTS_KAFKA_BROKERS"
)

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	limit       int
	execute     bool
	idleTimeout time.Duration
}

func (c config) mode() string {
	if c.execute {
		return "execute"
	}
	return "dry-run"
}

// offsetClient: часть sarama.Client, нужная для определения границ партиций.
type offsetClient interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, time int64) (int64, error)
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	_ = godotenv.Load()

	cfg, err := readConfig(flag.CommandLine, os.Args[1:], os.Getenv)
	if err != nil {
		log.WithError(err).Fatal("invalid dlq-replay configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("dlq replay failed")
	}
}

func readConfig(fs *flag.FlagSet, args []string, getenv func(string) string) (config, error) {
	cfg := config{}
	brokers := fs.String("brokers", "", "Kafka brokers, comma-separated (fallback: "+brokersEnv+")")
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ topic to read")
	fs.StringVar(&cfg.targetTopic, "target-topic", "", "target topic (default: original topic header or "+kafka.TopicDraftEvents+")")
	fs.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max messages to scan")
	fs.BoolVar(&cfg.execute, "execute", false, "publish messages; default is dry-run")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	raw := *brokers
	if strings.TrimSpace(raw) == "" {
		raw = getenv(brokersEnv)
	}
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.brokers = append(cfg.brokers, b)
		}
	}

	if len(cfg.brokers) == 0 {
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or %s)", brokersEnv)
	}
	if strings.TrimSpace(cfg.sourceTopic) == "" {
		return config{}, errors.New("source-topic is required")
	}
	if cfg.limit <= 0 {
		return config{}, errors.New("limit must be > 0")
	}
	if cfg.idleTimeout <= 0 {
		return config{}, errors.New("idle-timeout must be > 0")
	}
	return cfg, nil
}

func run(ctx context.Context, cfg config) error {
	client, err := sarama.NewClient(cfg.brokers, sarama.NewConfig())
	if err != nil {
		return fmt.Errorf("create kafka client: %w", err)
	}
	defer func() { _ = client.Close() }()

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		return fmt.Errorf("create kafka consumer: %w", err)
	}
	defer func() { _ = consumer.Close() }()

	r := &replayer{cfg: cfg, offsets: client, consumer: consumer, now: time.Now}
	if cfg.execute {
		producer, err := kafka.NewProducer(cfg.brokers, log.WithField("component", "dlq-replay"))
		if err != nil {
			return err
		}
		defer func() { _ = producer.Close() }()
		r.producer = producer
	}
	return r.replay(ctx)
}

// replayer вычитывает DLQ до текущего конца каждой партиции.
type replayer struct {
	cfg      config
	offsets  offsetClient
	consumer sarama.Consumer
	producer *kafka.Producer
	now      func() time.Time

	processed int
	replayed  int
	skipped   int
}

func (r *replayer) replay(ctx context.Context) error {
	if r.cfg.execute && r.producer == nil {
		return errors.New("producer is required in execute mode")
	}

	partitions, err := r.offsets.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return fmt.Errorf("get partitions for %s: %w", r.cfg.sourceTopic, err)
	}
	slices.Sort(partitions)

	for _, partition := range partitions {
		if r.processed >= r.cfg.limit {
			break
		}
		if err := r.drainPartition(ctx, partition); err != nil {
			return err
		}
	}

	log.WithFields(log.Fields{
		"mode":      r.cfg.mode(),
		"processed": r.processed,
		"replayed":  r.replayed,
		"skipped":   r.skipped,
	}).Info("dlq replay finished")
	return nil
}

// bounds возвращает [first, end) партиции на момент запуска.
func (r *replayer) bounds(partition int32) (first, end int64, err error) {
	if first, err = r.offsets.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetOldest); err != nil {
		return 0, 0, fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	if end, err = r.offsets.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetNewest); err != nil {
		return 0, 0, fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	return first, end, nil
}

func (r *replayer) drainPartition(ctx context.Context, partition int32) error {
	first, end, err := r.bounds(partition)
	if err != nil || end <= first {
		return err
	}

	pc, err := r.consumer.ConsumePartition(r.cfg.sourceTopic, partition, first)
	if err != nil {
		return fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	for r.processed < r.cfg.limit {
		var msg *sarama.ConsumerMessage
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle.C:
			return nil
		case m, ok := <-pc.Messages():
			if !ok || m == nil || m.Offset >= end {
				return nil
			}
			msg = m
		}
		idle.Reset(r.cfg.idleTimeout)

		if err := r.handle(ctx, msg); err != nil {
			return err
		}
		if msg.Offset+1 >= end {
			return nil
		}
	}
	return nil
}

func (r *replayer) handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	r.processed++
	entry := log.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	out, err := buildReplay(msg, r.cfg.targetTopic, r.now())
	if err != nil {
		r.skipped++
		entry.WithError(err).Warn("skip unsupported dlq message")
		return nil
	}

	if !r.cfg.execute {
		entry.WithFields(log.Fields{"target_topic": out.Topic, "session_id": out.Key}).Info("dlq replay candidate")
		r.replayed++
		return nil
	}
	if err := r.producer.Send(ctx, out); err != nil {
		return fmt.Errorf("publish replay: %w", err)
	}
	r.replayed++
	return nil
}

// buildReplay восстанавливает исходное событие из DLQ-сообщения.
func buildReplay(msg *sarama.ConsumerMessage, targetTopic string, now time.Time) (kafka.Message, error) {
	env, err := kafka.ParseEnvelope(msg.Value)
	if err != nil {
		return kafka.Message{}, err
	}
	dead, err := outbox.ParseDeadLetter(env.Payload)
	if err != nil {
		return kafka.Message{}, err
	}
	original, err := dead.Original()
	if err != nil {
		return kafka.Message{}, err
	}
	original.ID = firstNonEmpty(original.ID, env.ID)
	original.AggregateType = firstNonEmpty(env.AggregateType, original.AggregateType)
	original.AggregateID = firstNonEmpty(original.AggregateID, env.AggregateID)
	original.EventType = firstNonEmpty(original.EventType, env.EventType)

	value, err := kafka.NewEnvelope(original, now).Encode()
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Topic: firstNonEmpty(targetTopic, originalTopic(msg), kafka.TopicDraftEvents),
		Key:   original.AggregateID,
		Value: value,
		Headers: map[string]string{
			kafka.HeaderEventType:     original.EventType,
			kafka.HeaderAggregateType: original.AggregateType,
		},
	}, nil
}

func originalTopic(msg *sarama.ConsumerMessage) string {
	i := slices.IndexFunc(msg.Headers, func(h *sarama.RecordHeader) bool {
		return h != nil && string(h.Key) == kafka.HeaderOriginalTopic
	})
	if i < 0 {
		return ""
	}
	return string(msg.Headers[i].Value)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
