package saga

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/vladislavdragonenkov/drafts/internal/domain"
	"github.com/vladislavdragonenkov/drafts/internal/domain/mocks"
	"github.com/vladislavdragonenkov/drafts/internal/storage/memory"
)

func TestReconciler_ResolvesDeletedAndMissingRecords(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx := context.Background()

	orphans := memory.NewOrphanRepository()
	_, err := orphans.Quarantine(ctx, domain.OrphanRecord{RecordID: "rec-1", SessionID: "sess-1"})
	require.NoError(t, err)
	_, err = orphans.Quarantine(ctx, domain.OrphanRecord{RecordID: "rec-2", SessionID: "sess-1"})
	require.NoError(t, err)

	durable := mocks.NewMockDurableRepository(ctrl)
	durable.EXPECT().Delete(gomock.Any(), "rec-1").Return(nil)
	durable.EXPECT().Delete(gomock.Any(), "rec-2").Return(domain.ErrRecordNotFound)

	events := mocks.NewMockEventPublisher(ctrl)
	events.EXPECT().Publish(gomock.Any(), domain.EventOrphanResolved, "sess-1", gomock.Any()).Times(2)

	reconciler := NewReconciler(orphans, durable, WithReconcileEvents(events), WithReconcileLogger(testLogger()))
	resolved, abandoned := reconciler.ReconcileOnce(ctx)

	assert.Equal(t, 2, resolved)
	assert.Zero(t, abandoned)

	pending, err := orphans.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestReconciler_AbandonsAfterMaxAttempts(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx := context.Background()

	orphans := memory.NewOrphanRepository()
	_, err := orphans.Quarantine(ctx, domain.OrphanRecord{RecordID: "rec-9", SessionID: "sess-9"})
	require.NoError(t, err)

	durable := mocks.NewMockDurableRepository(ctrl)
	durable.EXPECT().Delete(gomock.Any(), "rec-9").
		Return(domain.Transient("delete", errUnavailable)).Times(3)

	reconciler := NewReconciler(orphans, durable, WithReconcileMaxAttempts(3), WithReconcileLogger(testLogger()))

	for i := 0; i < 2; i++ {
		resolved, abandoned := reconciler.ReconcileOnce(ctx)
		assert.Zero(t, resolved)
		assert.Zero(t, abandoned)
	}
	_, abandoned := reconciler.ReconcileOnce(ctx)
	assert.Equal(t, 1, abandoned)

	all := orphans.All()
	require.Len(t, all, 1)
	assert.Equal(t, domain.OrphanStatusAbandoned, all[0].Status)
	assert.Equal(t, 3, all[0].Attempts)

	// Брошенная запись больше не выбирается.
	resolved, abandoned := reconciler.ReconcileOnce(ctx)
	assert.Zero(t, resolved+abandoned)
}

func TestReconciler_RunStopsOnCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	reconciler := NewReconciler(memory.NewOrphanRepository(), mocks.NewMockDurableRepository(ctrl), WithReconcileLogger(testLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		reconciler.Run(ctx)
	}()
	<-done
}
