package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/drafts/internal/clock"
	"github.com/vladislavdragonenkov/drafts/internal/domain"
)

func TestOutbox_DeliversInEnqueueOrder(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := clock.NewManual(start)
	outbox := NewOutboxWithClock(c)

	staged, err := outbox.Enqueue(ctx, domain.OutboxMessage{
		AggregateID: "sess-1",
		EventType:   domain.EventItemStaged,
		Payload:     []byte(`{"item_id":"A"}`),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, staged.ID)
	assert.Equal(t, domain.AggregateDraft, staged.AggregateType)

	c.Advance(time.Second)
	committed, err := outbox.Enqueue(ctx, domain.OutboxMessage{AggregateID: "sess-1", EventType: domain.EventDraftCommitted})
	require.NoError(t, err)

	batch, err := outbox.PullPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, staged.ID, batch[0].ID)

	stats, err := outbox.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.PendingCount)
	assert.Equal(t, start, stats.OldestPendingAt)

	require.NoError(t, outbox.MarkSent(ctx, staged.ID))
	stats, err = outbox.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, start.Add(time.Second), stats.OldestPendingAt)
	assert.Equal(t, []string{committed.ID}, ids(outbox.AllPending()))
}

func TestOutbox_SettleOnlyOnce(t *testing.T) {
	ctx := context.Background()
	outbox := NewOutboxRepository()

	msg, err := outbox.Enqueue(ctx, domain.OutboxMessage{AggregateID: "sess-2", EventType: domain.EventCommitFailed})
	require.NoError(t, err)

	require.NoError(t, outbox.MarkFailed(ctx, msg.ID))
	assert.ErrorIs(t, outbox.MarkSent(ctx, msg.ID), domain.ErrOutboxPublish)
	assert.ErrorIs(t, outbox.MarkFailed(ctx, "missing"), domain.ErrOutboxPublish)
	assert.Empty(t, outbox.AllPending())
}

func TestOutbox_RejectsEventsWithoutDraft(t *testing.T) {
	_, err := NewOutboxRepository().Enqueue(context.Background(), domain.OutboxMessage{EventType: domain.EventDraftCreated})
	assert.ErrorIs(t, err, domain.ErrOutboxMessageInvalid)
}

func TestOutbox_PayloadIsCopied(t *testing.T) {
	outbox := NewOutboxRepository()
	payload := []byte(`{"n":1}`)

	_, err := outbox.Enqueue(context.Background(), domain.OutboxMessage{AggregateID: "s", EventType: domain.EventFieldSet, Payload: payload})
	require.NoError(t, err)
	payload[2] = 'x'

	assert.JSONEq(t, `{"n":1}`, string(outbox.AllPending()[0].Payload))
}

func ids(msgs []domain.OutboxMessage) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}
