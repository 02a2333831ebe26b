package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/drafts/internal/domain"
)

func sampleLineRecord(sessionID, itemID string) domain.DurableRecord {
	return domain.DurableRecord{
		IdempotencyKey: domain.IdempotencyKey(sessionID, itemID),
		SessionID:      sessionID,
		OwnerID:        "user-1",
		Kind:           domain.RecordKindLineItem,
		RefID:          itemID,
		Quantity:       2,
		UnitPriceMinor: 10,
		UnitTaxMinor:   1,
		TotalMinor:     22,
		Currency:       "USD",
		Privilege:      domain.PrivilegeOwner,
		Visibility:     domain.VisibilityPrivate,
		Status:         domain.RecordStatusActive,
	}
}

func TestDurableRepository_PostgresCreateIsIdempotent(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewDurableRepository(store)
	ctx := context.Background()

	first, err := repo.Create(ctx, sampleLineRecord("sess-1", "A"))
	require.NoError(t, err)
	require.NotEmpty(t, first)

	again, err := repo.Create(ctx, sampleLineRecord("sess-1", "A"))
	require.NoError(t, err)
	require.Equal(t, first, again)

	got, err := repo.Get(ctx, first)
	require.NoError(t, err)
	require.Equal(t, "sess-1:A", got.IdempotencyKey)
	require.Equal(t, int64(22), got.TotalMinor)
	require.Equal(t, domain.RecordKindLineItem, got.Kind)
}

func TestDurableRepository_PostgresRegistrationUniqueness(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewDurableRepository(store)
	ctx := context.Background()

	header := domain.DurableRecord{
		IdempotencyKey: domain.IdempotencyKey("sess-1", domain.RegistrationItemID),
		SessionID:      "sess-1",
		OwnerID:        "user-1",
		Kind:           domain.RecordKindRegistration,
		HolderID:       "person-7",
		Period:         "2026",
		Attributes:     map[string]string{"membership_type": "regular"},
		Privilege:      domain.PrivilegeOwner,
		Visibility:     domain.VisibilityPrivate,
		Status:         domain.RecordStatusPending,
	}
	id, err := repo.Create(ctx, header)
	require.NoError(t, err)

	exists, err := repo.ExistsForHolderPeriod(ctx, "person-7", "2026", "")
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = repo.ExistsForHolderPeriod(ctx, "person-7", "2026", header.SessionID)
	require.NoError(t, err)
	require.False(t, exists, "own session does not count")

	duplicate := header
	duplicate.IdempotencyKey = domain.IdempotencyKey("sess-2", domain.RegistrationItemID)
	duplicate.SessionID = "sess-2"
	_, err = repo.Create(ctx, duplicate)
	require.ErrorIs(t, err, domain.ErrDuplicateRecord)

	require.NoError(t, repo.Update(ctx, id, domain.RecordPatch{
		Status:     domain.RecordStatusActive,
		Attributes: map[string]string{"contact_email": "a@example.com"},
	}))
	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.RecordStatusActive, got.Status)
	require.Equal(t, "regular", got.Attributes["membership_type"])
	require.Equal(t, "a@example.com", got.Attributes["contact_email"])
}

func TestDurableRepository_PostgresDeleteAndMissing(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewDurableRepository(store)
	ctx := context.Background()

	id, err := repo.Create(ctx, sampleLineRecord("sess-1", "B"))
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, id))
	require.ErrorIs(t, repo.Delete(ctx, id), domain.ErrRecordNotFound)
	require.ErrorIs(t, repo.Update(ctx, id, domain.RecordPatch{Status: "active"}), domain.ErrRecordNotFound)

	// После удаления ключ свободен: повторный коммит создаёт новую запись.
	recreated, err := repo.Create(ctx, sampleLineRecord("sess-1", "B"))
	require.NoError(t, err)
	require.NotEqual(t, id, recreated)
}

func TestCatalogAndOrphans_Postgres(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, UpsertProduct(ctx, store, domain.Product{ID: "A", Name: "Widget", PriceMinor: 10, TaxMinor: 1, Currency: "USD", Active: true}))
	catalog := NewCatalog(store)

	product, err := catalog.Lookup(ctx, "A")
	require.NoError(t, err)
	require.Equal(t, int64(10), product.PriceMinor)

	_, err = catalog.Lookup(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrProductNotFound)

	orphans := NewOrphanRepository(store)
	first, err := orphans.Quarantine(ctx, domain.OrphanRecord{RecordID: "rec-1", SessionID: "sess-1", Reason: "delete timeout"})
	require.NoError(t, err)
	dup, err := orphans.Quarantine(ctx, domain.OrphanRecord{RecordID: "rec-1", SessionID: "sess-1", Reason: "again"})
	require.NoError(t, err)
	require.Equal(t, first.ID, dup.ID)

	require.NoError(t, orphans.MarkAttempt(ctx, first.ID, "still failing", false))
	pending, err := orphans.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, 1, pending[0].Attempts)

	require.NoError(t, orphans.MarkResolved(ctx, first.ID))
	pending, err = orphans.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
	require.ErrorIs(t, orphans.MarkResolved(ctx, "missing"), domain.ErrOrphanNotFound)
}
