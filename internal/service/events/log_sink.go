package events

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/drafts/internal/domain"
)

// LogSink: приёмник outbox для окружений без брокера: сообщение пишется в лог.
type LogSink struct {
	logger *log.Entry
}

// NewLogSink создаёт приёмник; nil logger заменяется компонентным.
func NewLogSink(logger *log.Entry) *LogSink {
	if logger == nil {
		logger = log.WithField("component", "event-log-sink")
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(_ context.Context, msg domain.OutboxMessage) error {
	s.logger.WithFields(log.Fields{
		"outbox_id":  msg.ID,
		"event_type": msg.EventType,
		"session_id": msg.AggregateID,
		"payload":    string(msg.Payload),
	}).Info("draft event")
	return nil
}

var _ domain.OutboxPublisher = (*LogSink)(nil)
