package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/drafts/internal/domain"
)

func TestDraftTimeline_PostgresOrdersByOccurrence(t *testing.T) {
	timeline := NewTimelineRepository(openPostgresStoreForIntegrationTest(t))
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Minute).Truncate(time.Microsecond)

	// Пишем не по порядку: журнал сортирует по времени события.
	require.NoError(t, timeline.Append(ctx, domain.TimelineEvent{
		SessionID: "sess-t", Type: domain.EventItemStaged, Occurred: base.Add(time.Second),
	}))
	require.NoError(t, timeline.Append(ctx, domain.TimelineEvent{
		SessionID: "sess-t", Type: domain.EventDraftCreated, Occurred: base,
	}))
	require.NoError(t, timeline.Append(ctx, domain.TimelineEvent{
		SessionID: "sess-t", Type: domain.EventDraftCommitted, Reason: "committed",
	}))
	require.NoError(t, timeline.Append(ctx, domain.TimelineEvent{
		SessionID: "other", Type: domain.EventDraftCreated,
	}))

	events, err := timeline.List(ctx, "sess-t")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, []string{domain.EventDraftCreated, domain.EventItemStaged, domain.EventDraftCommitted},
		[]string{events[0].Type, events[1].Type, events[2].Type})
	assert.True(t, events[0].Occurred.Equal(base))
	assert.Equal(t, "committed", events[2].Reason)
	assert.Equal(t, "sess-t", events[2].SessionID)
}

func TestDraftTimeline_PostgresEmptyAndInvalid(t *testing.T) {
	timeline := NewTimelineRepository(openPostgresStoreForIntegrationTest(t))
	ctx := context.Background()

	events, err := timeline.List(ctx, "missing-session")
	require.NoError(t, err)
	assert.Empty(t, events)

	assert.ErrorIs(t, timeline.Append(ctx, domain.TimelineEvent{Type: domain.EventDraftCreated}), domain.ErrTimelineEventInvalid)
}
