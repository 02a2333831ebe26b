package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/drafts/internal/domain"
)

func draftEvent(sessionID, eventType string) domain.OutboxMessage {
	return domain.OutboxMessage{
		AggregateID: sessionID,
		EventType:   eventType,
		Payload:     []byte(`{"session_id":"` + sessionID + `"}`),
	}
}

func TestDraftOutbox_PostgresDeliveryCycle(t *testing.T) {
	outbox := NewOutboxRepository(openPostgresStoreForIntegrationTest(t))
	ctx := context.Background()

	created, err := outbox.Enqueue(ctx, draftEvent("sess-1", domain.EventDraftCreated))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, domain.AggregateDraft, created.AggregateType)

	time.Sleep(2 * time.Millisecond)
	committed := draftEvent("sess-1", domain.EventDraftCommitted)
	committed.ID = "evt-commit-1"
	_, err = outbox.Enqueue(ctx, committed)
	require.NoError(t, err)

	pending, err := outbox.PullPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, created.ID, pending[0].ID, "events leave in write order")
	assert.JSONEq(t, `{"session_id":"sess-1"}`, string(pending[1].Payload))

	stats, err := outbox.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.PendingCount)
	assert.False(t, stats.OldestPendingAt.IsZero())

	require.NoError(t, outbox.MarkSent(ctx, created.ID))
	require.NoError(t, outbox.MarkFailed(ctx, "evt-commit-1"))

	pending, err = outbox.PullPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	stats, err = outbox.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.PendingCount)
	assert.True(t, stats.OldestPendingAt.IsZero())
}

func TestDraftOutbox_PostgresSettleOnlyPending(t *testing.T) {
	outbox := NewOutboxRepository(openPostgresStoreForIntegrationTest(t))
	ctx := context.Background()

	assert.ErrorIs(t, outbox.MarkSent(ctx, "missing"), domain.ErrOutboxPublish)

	msg, err := outbox.Enqueue(ctx, draftEvent("sess-2", domain.EventCommitFailed))
	require.NoError(t, err)
	require.NoError(t, outbox.MarkSent(ctx, msg.ID))
	assert.ErrorIs(t, outbox.MarkFailed(ctx, msg.ID), domain.ErrOutboxPublish, "sent message stays sent")
}

func TestDraftOutbox_PostgresRejectsAnonymousEvent(t *testing.T) {
	outbox := NewOutboxRepository(openPostgresStoreForIntegrationTest(t))

	_, err := outbox.Enqueue(context.Background(), domain.OutboxMessage{EventType: domain.EventDraftCreated})
	assert.ErrorIs(t, err, domain.ErrOutboxMessageInvalid)
}

func TestDraftOutbox_PostgresPullLimit(t *testing.T) {
	outbox := NewOutboxRepository(openPostgresStoreForIntegrationTest(t))
	ctx := context.Background()

	for _, sid := range []string{"a", "b", "c"} {
		_, err := outbox.Enqueue(ctx, draftEvent(sid, domain.EventItemStaged))
		require.NoError(t, err)
	}

	batch, err := outbox.PullPending(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, batch, 2)
}
