package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/drafts/internal/domain"
	"github.com/vladislavdragonenkov/drafts/internal/storage/memory"
)

func committedEvent(sessionID string) domain.OutboxMessage {
	return domain.OutboxMessage{
		AggregateID: sessionID,
		EventType:   domain.EventDraftCommitted,
		Payload:     []byte(`{"total_minor":25}`),
	}
}

func enqueue(t *testing.T, repo *memory.Outbox, msgs ...domain.OutboxMessage) []string {
	t.Helper()
	ids := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		stored, err := repo.Enqueue(context.Background(), msg)
		require.NoError(t, err)
		ids = append(ids, stored.ID)
	}
	return ids
}

func TestWorker_DeliversAndMarksSent(t *testing.T) {
	repo := memory.NewOutboxRepository()
	enqueue(t, repo, committedEvent("sess-1"), committedEvent("sess-2"))
	broker := &fakeBroker{}

	sent, failed := NewWorker(repo, broker, WithRetryBaseDelay(0)).ProcessOnce(context.Background())

	assert.Equal(t, 2, sent)
	assert.Zero(t, failed)
	assert.Empty(t, repo.AllPending())
	assert.Equal(t, []string{"sess-1", "sess-2"}, broker.sessions())
}

func TestWorker_DeadLettersAfterRetries(t *testing.T) {
	repo := memory.NewOutboxRepository()
	ids := enqueue(t, repo, committedEvent("sess-2"))
	broker := &fakeBroker{errs: []error{errors.New("broker unavailable")}, sticky: true}
	dlq := &fakeBroker{}

	worker := NewWorker(repo, broker, WithDLQPublisher(dlq), WithRetryBaseDelay(0), WithMaxAttempts(3))
	sent, failed := worker.ProcessOnce(context.Background())

	assert.Zero(t, sent)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 3, broker.calls())
	assert.Empty(t, repo.AllPending(), "exhausted message is marked failed")

	require.Equal(t, 1, dlq.calls())
	dead, err := ParseDeadLetter(dlq.last().Payload)
	require.NoError(t, err)
	assert.Equal(t, ids[0], dead.OutboxID)
	assert.Equal(t, "sess-2", dead.SessionID)
	assert.Contains(t, dead.PublishError, "broker unavailable")
	original, err := dead.Original()
	require.NoError(t, err)
	assert.JSONEq(t, `{"total_minor":25}`, string(original.Payload))
}

func TestWorker_RecoversWithinAttempts(t *testing.T) {
	repo := memory.NewOutboxRepository()
	enqueue(t, repo, committedEvent("sess-3"))
	broker := &fakeBroker{errs: []error{errors.New("attempt 1"), errors.New("attempt 2")}}

	sent, failed := NewWorker(repo, broker, WithRetryBaseDelay(0), WithMaxAttempts(3)).ProcessOnce(context.Background())

	assert.Equal(t, 1, sent)
	assert.Zero(t, failed)
	assert.Equal(t, 3, broker.calls())
}

func TestWorker_ShutdownDuringBackoffKeepsPending(t *testing.T) {
	repo := memory.NewOutboxRepository()
	enqueue(t, repo, committedEvent("sess-4"))
	broker := &fakeBroker{errs: []error{errors.New("down")}, sticky: true}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	sent, failed := NewWorker(repo, broker, WithRetryBaseDelay(time.Second), WithMaxAttempts(5)).ProcessOnce(ctx)

	assert.Zero(t, sent)
	assert.Zero(t, failed)
	assert.Len(t, repo.AllPending(), 1)
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	repo := memory.NewOutboxRepository()
	broker := &fakeBroker{}
	worker := NewWorker(repo, broker, WithPollInterval(5*time.Millisecond), WithRetryBaseDelay(0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	enqueue(t, repo, committedEvent("sess-5"))
	require.Eventually(t, func() bool { return broker.calls() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

func TestBackoff(t *testing.T) {
	assert.Zero(t, backoff(0, 3))
	assert.Equal(t, 50*time.Millisecond, backoff(50*time.Millisecond, 1))
	assert.Equal(t, 200*time.Millisecond, backoff(50*time.Millisecond, 3))
	assert.Equal(t, maxRetryDelay, backoff(time.Second, 60))
}

func TestBacklogAge(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Zero(t, backlogAge(domain.OutboxStats{}, now))
	assert.Equal(t, time.Minute, backlogAge(domain.OutboxStats{PendingCount: 2, OldestPendingAt: now.Add(-time.Minute)}, now))
	assert.Zero(t, backlogAge(domain.OutboxStats{PendingCount: 1, OldestPendingAt: now.Add(time.Second)}, now))
}

func TestDeadLetter_WithoutPayload(t *testing.T) {
	dead := NewDeadLetter(domain.OutboxMessage{ID: "m-1", AggregateID: "s"}, nil)

	assert.JSONEq(t, `null`, string(dead.Payload))
	_, err := dead.Original()
	assert.ErrorIs(t, err, errNoOriginalEvent)
}

// fakeBroker возвращает ошибки из errs по очереди; sticky повторяет последнюю.
type fakeBroker struct {
	mu        sync.Mutex
	errs      []error
	sticky    bool
	published []domain.OutboxMessage
	attempts  int
}

func (b *fakeBroker) Publish(_ context.Context, msg domain.OutboxMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempts++
	if len(b.errs) > 0 {
		err := b.errs[0]
		if !b.sticky || len(b.errs) > 1 {
			b.errs = b.errs[1:]
		}
		return err
	}
	b.published = append(b.published, msg)
	return nil
}

func (b *fakeBroker) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

func (b *fakeBroker) last() domain.OutboxMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published[len(b.published)-1]
}

func (b *fakeBroker) sessions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.published))
	for _, msg := range b.published {
		out = append(out, msg.AggregateID)
	}
	return out
}

var _ domain.OutboxPublisher = (*fakeBroker)(nil)
