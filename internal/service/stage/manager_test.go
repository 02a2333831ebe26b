package stage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/vladislavdragonenkov/drafts/internal/clock"
	"github.com/vladislavdragonenkov/drafts/internal/domain"
	"github.com/vladislavdragonenkov/drafts/internal/domain/mocks"
	"github.com/vladislavdragonenkov/drafts/internal/storage/memory"
)

var (
	owner    = domain.Actor{ID: "user-1", Role: domain.RoleMember}
	stranger = domain.Actor{ID: "user-2", Role: domain.RoleMember}
	staff    = domain.Actor{ID: "staff-1", Role: domain.RoleStaff}
)

type fixture struct {
	manager  *Manager
	sessions *memory.SessionStore
	catalog  *memory.Catalog
	clock    *clock.Manual
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	c := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	sessions := memory.NewSessionStore(c, 15*time.Minute, 5*time.Second)
	catalog := memory.NewCatalog(
		domain.Product{ID: "A", Name: "Annual fee", PriceMinor: 10, Currency: "EUR", Active: true},
		domain.Product{ID: "B", Name: "Badge", PriceMinor: 15, Currency: "EUR", Active: true},
		domain.Product{ID: "U", Name: "Dollar item", PriceMinor: 5, Currency: "USD", Active: true},
		domain.Product{ID: "X", Name: "Retired", PriceMinor: 1, Currency: "EUR", Active: false},
	)
	opts = append([]Option{WithClock(c)}, opts...)
	return fixture{
		manager:  NewManager(sessions, catalog, opts...),
		sessions: sessions,
		catalog:  catalog,
		clock:    c,
	}
}

func TestManager_AddCreatesDraftAndTotals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft, err := f.manager.Add(ctx, owner, "", "A", 1)
	require.NoError(t, err)
	assert.Equal(t, domain.DraftKindCart, draft.Kind)
	assert.Equal(t, domain.DraftStateStaging, draft.State)

	draft, err = f.manager.Add(ctx, owner, draft.ID, "B", 1)
	require.NoError(t, err)
	assert.EqualValues(t, 25, draft.TotalMinor)
	assert.Equal(t, "EUR", draft.Currency)
	require.Len(t, draft.Items, 2)
	assert.Equal(t, "A", draft.Items[0].ID)
}

func TestManager_AddIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft, err := f.manager.Add(ctx, owner, "", "A", 2)
	require.NoError(t, err)

	again, err := f.manager.Add(ctx, owner, draft.ID, "A", 2)
	require.NoError(t, err)
	assert.Equal(t, draft.Version, again.Version)
	assert.Len(t, again.Items, 1)
	assert.EqualValues(t, 20, again.TotalMinor)
}

func TestManager_InterleavedAddRemove(t *testing.T) {
	type step struct {
		remove   bool
		ref      string
		quantity int32
		noop     bool
	}
	type line struct {
		id       string
		quantity int32
	}

	tests := []struct {
		name  string
		steps []step
		want  []line
		total int64
	}{
		{
			name:  "duplicate add then remove",
			steps: []step{{ref: "A", quantity: 1}, {ref: "A", quantity: 1, noop: true}, {remove: true, ref: "A"}},
			want:  []line{},
			total: 0,
		},
		{
			name: "re-added item goes last",
			steps: []step{
				{ref: "A", quantity: 1}, {ref: "B", quantity: 1},
				{remove: true, ref: "A"}, {ref: "A", quantity: 1},
			},
			want:  []line{{"B", 1}, {"A", 1}},
			total: 25,
		},
		{
			name: "duplicate remove is noop",
			steps: []step{
				{ref: "A", quantity: 1}, {ref: "B", quantity: 1},
				{remove: true, ref: "B"}, {remove: true, ref: "B", noop: true}, {ref: "B", quantity: 2},
			},
			want:  []line{{"A", 1}, {"B", 2}},
			total: 40,
		},
		{
			name: "new quantity replaces in place",
			steps: []step{
				{ref: "A", quantity: 1}, {ref: "B", quantity: 1},
				{ref: "A", quantity: 3}, {ref: "A", quantity: 3, noop: true},
			},
			want:  []line{{"A", 3}, {"B", 1}},
			total: 45,
		},
		{
			name: "remove before first add",
			steps: []step{
				{remove: true, ref: "A", noop: true}, {ref: "A", quantity: 1},
				{ref: "A", quantity: 1, noop: true}, {remove: true, ref: "B", noop: true},
			},
			want:  []line{{"A", 1}},
			total: 10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			draft, err := f.manager.Open(ctx, owner, domain.DraftKindCart)
			require.NoError(t, err)

			for i, s := range tt.steps {
				before := draft.Version
				if s.remove {
					draft, err = f.manager.Remove(ctx, owner, draft.ID, s.ref)
				} else {
					draft, err = f.manager.Add(ctx, owner, draft.ID, s.ref, s.quantity)
				}
				require.NoError(t, err, "step %d", i)
				if s.noop {
					assert.Equal(t, before, draft.Version, "step %d must not change the draft", i)
				} else {
					assert.Greater(t, draft.Version, before, "step %d must change the draft", i)
				}
			}

			stored, err := f.manager.Get(ctx, owner, draft.ID)
			require.NoError(t, err)
			got := make([]line, 0, len(stored.Items))
			for _, item := range stored.Items {
				got = append(got, line{item.ID, item.Quantity})
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.total, stored.TotalMinor)
		})
	}
}

func TestManager_AddValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft, err := f.manager.Add(ctx, owner, "", "A", 1)
	require.NoError(t, err)

	tests := []struct {
		name     string
		refID    string
		quantity int32
		field    string
		cause    error
	}{
		{name: "zero quantity", refID: "A", quantity: 0, field: "quantity", cause: domain.ErrQuantityInvalid},
		{name: "empty ref", refID: " ", quantity: 1, field: "ref_id", cause: domain.ErrRefIDRequired},
		{name: "unknown product", refID: "nope", quantity: 1, field: "ref_id", cause: domain.ErrProductNotFound},
		{name: "inactive product", refID: "X", quantity: 1, field: "ref_id", cause: domain.ErrProductInactive},
		{name: "currency mismatch", refID: "U", quantity: 1, field: "currency", cause: domain.ErrCurrencyMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.manager.Add(ctx, owner, draft.ID, tt.refID, tt.quantity)
			require.Error(t, err)
			assert.True(t, domain.IsValidation(err))
			assert.ErrorIs(t, err, tt.cause)

			var verr domain.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	current, err := f.manager.Get(ctx, owner, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, draft.Version, current.Version)
}

func TestManager_RemoveIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft, err := f.manager.Add(ctx, owner, "", "A", 1)
	require.NoError(t, err)

	draft, err = f.manager.Remove(ctx, owner, draft.ID, "A")
	require.NoError(t, err)
	assert.Empty(t, draft.Items)
	assert.Zero(t, draft.TotalMinor)

	again, err := f.manager.Remove(ctx, owner, draft.ID, "A")
	require.NoError(t, err)
	assert.Equal(t, draft.Version, again.Version)
}

func TestManager_RemoveMissingSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Remove(context.Background(), owner, "missing", "A")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestManager_OwnerRule(t *testing.T) {
	f := newFixture(t)
	ctx := domain.WithOperationID(context.Background(), "op-42")

	draft, err := f.manager.Add(ctx, owner, "", "A", 1)
	require.NoError(t, err)

	_, err = f.manager.Add(ctx, stranger, draft.ID, "B", 1)
	require.ErrorIs(t, err, domain.ErrForbidden)

	var opErr *domain.OpError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, "stage.add", opErr.Op)
	assert.Equal(t, draft.ID, opErr.SessionID)
	assert.Equal(t, "op-42", opErr.OperationID)

	_, err = f.manager.Get(ctx, stranger, draft.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.manager.Add(ctx, staff, draft.ID, "B", 1)
	assert.NoError(t, err)
}

func TestManager_ExpiredSessionIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft, err := f.manager.Add(ctx, owner, "", "A", 1)
	require.NoError(t, err)

	f.clock.Advance(16 * time.Minute)

	_, err = f.manager.Get(ctx, owner, draft.ID)
	assert.True(t, domain.IsNotFound(err))
	_, err = f.manager.Add(ctx, owner, draft.ID, "B", 1)
	assert.True(t, domain.IsNotFound(err))
}

func TestManager_FieldsCreateRegistrationDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft, err := f.manager.SetField(ctx, owner, "", "membership_type", " regular ")
	require.NoError(t, err)
	assert.Equal(t, domain.DraftKindRegistration, draft.Kind)
	assert.Equal(t, "regular", draft.Field("membership_type"))

	draft, err = f.manager.UnsetField(ctx, owner, draft.ID, "membership_type")
	require.NoError(t, err)
	assert.Empty(t, draft.Fields)

	_, err = f.manager.SetField(ctx, owner, draft.ID, "  ", "x")
	assert.True(t, domain.IsValidation(err))
}

func TestManager_OpenValidatesKind(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Open(context.Background(), owner, "wishlist")
	assert.True(t, domain.IsValidation(err))

	draft, err := f.manager.Open(context.Background(), owner, domain.DraftKindRegistration)
	require.NoError(t, err)
	assert.Equal(t, domain.DraftStateInitiated, draft.State)

	_, err = f.manager.Open(context.Background(), domain.Actor{}, domain.DraftKindCart)
	assert.ErrorIs(t, err, domain.ErrOwnerRequired)
}

func TestManager_CommittingDraftRejectsMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft, err := f.manager.Add(ctx, owner, "", "A", 1)
	require.NoError(t, err)
	draft, err = f.sessions.Transition(ctx, draft.ID, draft.Version, domain.DraftStateReady)
	require.NoError(t, err)

	_, err = f.manager.Add(ctx, owner, draft.ID, "B", 1)
	assert.Equal(t, domain.ConflictCommitInProgress, domain.ConflictReasonOf(err))
}

func TestManager_PublishesOnlyEffectiveChanges(t *testing.T) {
	ctrl := gomock.NewController(t)
	events := mocks.NewMockEventPublisher(ctrl)

	gomock.InOrder(
		events.EXPECT().Publish(gomock.Any(), domain.EventDraftCreated, gomock.Any(), gomock.Any()),
		events.EXPECT().Publish(gomock.Any(), domain.EventItemStaged, gomock.Any(), gomock.Any()).
			Do(func(_ context.Context, _, _ string, payload map[string]any) {
				assert.Equal(t, "A", payload["item_id"])
				assert.EqualValues(t, 10, payload["total_minor"])
			}),
		events.EXPECT().Publish(gomock.Any(), domain.EventItemUnstaged, gomock.Any(), gomock.Any()),
	)

	f := newFixture(t, WithEvents(events))
	ctx := context.Background()

	draft, err := f.manager.Add(ctx, owner, "", "A", 1)
	require.NoError(t, err)
	_, err = f.manager.Add(ctx, owner, draft.ID, "A", 1)
	require.NoError(t, err)
	_, err = f.manager.Remove(ctx, owner, draft.ID, "A")
	require.NoError(t, err)
	_, err = f.manager.Remove(ctx, owner, draft.ID, "A")
	require.NoError(t, err)
}

func TestManager_CatalogErrorIsPropagated(t *testing.T) {
	ctrl := gomock.NewController(t)
	catalog := mocks.NewMockCatalog(ctrl)
	catalog.EXPECT().Lookup(gomock.Any(), "A").Return(domain.Product{}, domain.Transient("lookup", errors.New("timeout")))

	manager := NewManager(memory.NewSessionStore(nil, 0, 0), catalog)

	_, err := manager.Add(context.Background(), owner, "", "A", 1)
	assert.True(t, domain.IsTransient(err))
	assert.False(t, domain.IsValidation(err))
}
