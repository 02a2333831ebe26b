package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func product(id string, price, tax int64) Product {
	return Product{ID: id, Name: "product " + id, PriceMinor: price, TaxMinor: tax, Currency: "EUR", Active: true}
}

func TestDraft_StageItemComputesTotalsAndAdvancesState(t *testing.T) {
	d := NewDraft("sess-1", "owner-1", DraftKindCart, testNow, time.Minute)

	changed, err := d.StageItem(NewLineItem(product("A", 10, 0), 2, testNow))
	require.NoError(t, err)
	require.True(t, changed)
	changed, err = d.StageItem(NewLineItem(product("B", 5, 0), 1, testNow))
	require.NoError(t, err)
	require.True(t, changed)

	assert.Equal(t, DraftStateStaging, d.State)
	assert.Equal(t, int64(25), d.TotalMinor)
	assert.Equal(t, "EUR", d.Currency)
	require.Len(t, d.Items, 2)
	assert.Equal(t, "A", d.Items[0].ID)
	assert.Equal(t, "B", d.Items[1].ID)
}

func TestDraft_StageItemIsIdempotent(t *testing.T) {
	d := NewDraft("sess-1", "owner-1", DraftKindCart, testNow, time.Minute)
	item := NewLineItem(product("A", 10, 2), 3, testNow)

	_, err := d.StageItem(item)
	require.NoError(t, err)
	snapshot := d.Clone()

	changed, err := d.StageItem(item)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, snapshot, d)
	assert.Equal(t, int64(36), d.TotalMinor)
}

func TestDraft_AddRemoveSequenceMatchesSingleApplication(t *testing.T) {
	type op struct {
		add bool
		id  string
		qty int32
	}
	ops := []op{
		{add: true, id: "A", qty: 1},
		{add: true, id: "B", qty: 2},
		{add: false, id: "A"},
		{add: true, id: "C", qty: 1},
		{add: true, id: "B", qty: 4},
		{add: false, id: "Z"},
	}

	apply := func(d *Draft, o op) {
		if o.add {
			_, err := d.StageItem(NewLineItem(product(o.id, 7, 1), o.qty, testNow))
			require.NoError(t, err)
			return
		}
		_, err := d.UnstageItem(o.id)
		require.NoError(t, err)
	}

	once := NewDraft("s", "o", DraftKindCart, testNow, time.Minute)
	twice := NewDraft("s", "o", DraftKindCart, testNow, time.Minute)
	for _, o := range ops {
		apply(&once, o)
		apply(&twice, o)
		apply(&twice, o)
	}

	assert.Equal(t, once.Items, twice.Items)
	assert.Equal(t, once.TotalMinor, twice.TotalMinor)
	require.Len(t, once.Items, 2)
	assert.Equal(t, int32(4), once.Items[0].Quantity)
}

func TestDraft_RejectsMutationsWhileCommitting(t *testing.T) {
	d := NewDraft("sess-1", "owner-1", DraftKindCart, testNow, time.Minute)
	_, err := d.StageItem(NewLineItem(product("A", 10, 0), 1, testNow))
	require.NoError(t, err)
	require.NoError(t, d.Advance(DraftStateReady))
	require.NoError(t, d.Advance(DraftStateCommitting))

	_, err = d.StageItem(NewLineItem(product("B", 1, 0), 1, testNow))
	require.True(t, IsConflict(err))
	assert.Equal(t, ConflictCommitInProgress, ConflictReasonOf(err))

	require.NoError(t, d.Advance(DraftStateCommitted))
	_, err = d.UnstageItem("A")
	require.True(t, errors.Is(err, ErrDraftClosed))
}

func TestDraft_RestageAfterConflict(t *testing.T) {
	d := NewDraft("sess-1", "owner-1", DraftKindCart, testNow, time.Minute)
	_, err := d.StageItem(NewLineItem(product("A", 10, 0), 1, testNow))
	require.NoError(t, err)
	require.NoError(t, d.Advance(DraftStateReady))
	require.NoError(t, d.Advance(DraftStateCommitting))
	require.NoError(t, d.Advance(DraftStateConflict))

	changed, err := d.StageItem(NewLineItem(product("A", 12, 0), 1, testNow))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, DraftStateStaging, d.State)
	assert.Equal(t, int64(12), d.TotalMinor)
}

func TestDraft_CurrencyMismatch(t *testing.T) {
	d := NewDraft("sess-1", "owner-1", DraftKindCart, testNow, time.Minute)
	_, err := d.StageItem(NewLineItem(product("A", 10, 0), 1, testNow))
	require.NoError(t, err)

	usd := product("B", 10, 0)
	usd.Currency = "USD"
	_, err = d.StageItem(NewLineItem(usd, 1, testNow))
	require.ErrorIs(t, err, ErrCurrencyMismatch)
}

func TestDraft_FieldsAndExpiry(t *testing.T) {
	d := NewDraft("sess-1", "owner-1", DraftKindRegistration, testNow, time.Minute)

	changed, err := d.SetField(" period ", " 2026 ")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "2026", d.Field("period"))
	assert.Equal(t, DraftStateStaging, d.State)

	changed, err = d.SetField("period", "2026")
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = d.SetField("  ", "x")
	require.ErrorIs(t, err, ErrFieldNameRequired)

	assert.False(t, d.Expired(testNow.Add(59*time.Second)))
	assert.True(t, d.Expired(testNow.Add(time.Minute)))

	d.Touch(testNow.Add(30*time.Second), time.Minute)
	assert.False(t, d.Expired(testNow.Add(time.Minute)))
	assert.Equal(t, int64(1), d.Version)
}

func TestStaticAccessPolicy(t *testing.T) {
	policy := DefaultAccessPolicy()
	d := NewDraft("sess-1", "owner-1", DraftKindCart, testNow, time.Minute)

	assert.True(t, policy.CanMutate(Actor{ID: "owner-1", Role: RoleMember}, d))
	assert.False(t, policy.CanMutate(Actor{ID: "other", Role: RoleMember}, d))
	assert.True(t, policy.CanMutate(Actor{ID: "other", Role: RoleStaff}, d))
	assert.False(t, policy.CanMutate(Actor{}, d))
	assert.Equal(t, AccessDefaults{Privilege: "owner", Visibility: "private"}, policy.RecordDefaults(d))

	custom := NewStaticAccessPolicy("", "members")
	assert.Equal(t, AccessDefaults{Privilege: "owner", Visibility: "members"}, custom.RecordDefaults(d))
}

func TestProductMatches(t *testing.T) {
	p := product("A", 10, 1)
	item := NewLineItem(p, 2, testNow)
	assert.True(t, p.Matches(item))

	changed := p
	changed.PriceMinor = 11
	assert.False(t, changed.Matches(item))

	inactive := p
	inactive.Active = false
	assert.False(t, inactive.Matches(item))
}
