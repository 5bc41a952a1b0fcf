package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/magebridge/connector/internal/domain/integration"
	"github.com/magebridge/connector/tests/testutil"
)

const testNode = "store-main"

func orderRecord(localID int64) Record {
	return Record{
		Type:     integration.EntityTypeOrder,
		UniqueID: "100000123",
		LocalID:  localID,
		Attributes: map[string]any{
			"status":      "pending",
			"grand_total": "119.00",
		},
		Children: []ChildRecord{
			{
				Type:           integration.EntityTypeOrderLine,
				NaturalKeyCode: "sku",
				NaturalKey:     "widget-a",
				Attributes:     map[string]any{"qty": "2"},
			},
		},
	}
}

func TestReconcilerCreatesNewEntityGraph(t *testing.T) {
	store := testutil.NewFakeEntityStore()
	r := NewReconciler(store, zap.NewNop())
	ctx := context.Background()

	outcome, entity, err := r.Reconcile(ctx, testNode, orderRecord(55))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)

	localID, linked, err := store.LocalID(ctx, testNode, entity)
	require.NoError(t, err)
	assert.True(t, linked)
	assert.Equal(t, int64(55), localID)

	lines, err := store.LoadChildren(ctx, entity, integration.EntityTypeOrderLine)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "100000123:widget-a", lines[0].UniqueID)
	assert.Equal(t, "widget-a", lines[0].Attr("sku"))
	assert.Equal(t, "2", lines[0].Attr("qty"))
}

func TestReconcilerIsIdempotent(t *testing.T) {
	store := testutil.NewFakeEntityStore()
	r := NewReconciler(store, zap.NewNop())
	ctx := context.Background()

	rec := orderRecord(55)
	outcome, first, err := r.Reconcile(ctx, testNode, rec)
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, outcome)

	rec.Attributes["status"] = "processing"
	outcome, second, err := r.Reconcile(ctx, testNode, rec)
	require.NoError(t, err)

	assert.Equal(t, OutcomeUpdated, outcome)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, store.EntityCount(integration.EntityTypeOrder))
	assert.Equal(t, 1, store.EntityCount(integration.EntityTypeOrderLine))

	loaded, err := store.LoadEntity(ctx, integration.EntityTypeOrder, 0, "100000123")
	require.NoError(t, err)
	assert.Equal(t, "processing", loaded.Attr("status"))
	// values absent from the record survive
	assert.Equal(t, "119.00", loaded.Attr("grand_total"))
}

func TestReconcilerRepairsDrift(t *testing.T) {
	store := testutil.NewFakeEntityStore()
	r := NewReconciler(store, zap.NewNop())
	ctx := context.Background()

	_, entity, err := r.Reconcile(ctx, testNode, orderRecord(55))
	require.NoError(t, err)

	// the remote record was replaced: same unique id, new local id
	outcome, relinked, err := r.Reconcile(ctx, testNode, orderRecord(88))
	require.NoError(t, err)

	assert.Equal(t, OutcomeRelinked, outcome)
	assert.Equal(t, entity.ID, relinked.ID)

	localID, linked, err := store.LocalID(ctx, testNode, relinked)
	require.NoError(t, err)
	assert.True(t, linked)
	assert.Equal(t, int64(88), localID)

	_, err = store.LoadEntityLocal(ctx, testNode, integration.EntityTypeOrder, 55)
	assert.ErrorIs(t, err, integration.ErrNotFound)

	comments := store.Comments(relinked)
	require.Len(t, comments, 1)
	assert.Contains(t, comments[0], "local id 88")
}

func TestReconcilerRelinksUnlinkedEntity(t *testing.T) {
	store := testutil.NewFakeEntityStore()
	r := NewReconciler(store, zap.NewNop())
	ctx := context.Background()

	// an entity that exists locally but was never linked on this node
	entity := &integration.Entity{
		Type:       integration.EntityTypeOrder,
		UniqueID:   "100000123",
		Attributes: map[string]any{"status": "pending"},
	}
	require.NoError(t, store.CreateEntity(ctx, entity))

	outcome, linked, err := r.Reconcile(ctx, testNode, orderRecord(55))
	require.NoError(t, err)

	assert.Equal(t, OutcomeRelinked, outcome)
	assert.Equal(t, entity.ID, linked.ID)

	localID, ok, err := store.LocalID(ctx, testNode, linked)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(55), localID)
}

func TestReconcilerCreateRollsBackOnChildFailure(t *testing.T) {
	store := testutil.NewFakeEntityStore()
	r := NewReconciler(store, zap.NewNop())
	ctx := context.Background()

	rec := orderRecord(55)
	rec.Children = append(rec.Children, ChildRecord{
		Type:           integration.EntityTypeOrderLine,
		NaturalKeyCode: "sku",
		// an empty natural key makes the synthetic unique id collide
		// with nothing but the create still proceeds; fail via store
	})

	boom := errors.New("link table unavailable")
	store.FailWith("LinkEntity", boom)

	rec.Children[0].LocalID = 900
	_, _, err := r.Reconcile(ctx, testNode, rec)
	require.Error(t, err)

	store.ClearFailures()
	assert.Equal(t, 0, store.EntityCount(integration.EntityTypeOrder))
	assert.Equal(t, 0, store.EntityCount(integration.EntityTypeOrderLine))
}

func TestReconcilerMatchesChildByNaturalKey(t *testing.T) {
	store := testutil.NewFakeEntityStore()
	r := NewReconciler(store, zap.NewNop())
	ctx := context.Background()

	_, parent, err := r.Reconcile(ctx, testNode, orderRecord(55))
	require.NoError(t, err)

	// simulate a child stored under a legacy unique id
	lines, err := store.LoadChildren(ctx, parent, integration.EntityTypeOrderLine)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	legacy := lines[0]
	legacy.UniqueID = "legacy-line-id"
	require.NoError(t, store.UpdateEntity(ctx, &legacy))

	rec := orderRecord(55)
	rec.Children[0].Attributes = map[string]any{"qty": "5"}
	_, _, err = r.Reconcile(ctx, testNode, rec)
	require.NoError(t, err)

	// the natural-key fallback found the legacy row instead of
	// creating a duplicate, and repaired its unique id
	assert.Equal(t, 1, store.EntityCount(integration.EntityTypeOrderLine))
	repaired, err := store.LoadEntity(ctx, integration.EntityTypeOrderLine, 0, "100000123:widget-a")
	require.NoError(t, err)
	assert.Equal(t, "5", repaired.Attr("qty"))
}

func TestReconcilerRejectsMissingUniqueID(t *testing.T) {
	store := testutil.NewFakeEntityStore()
	r := NewReconciler(store, zap.NewNop())

	_, _, err := r.Reconcile(context.Background(), testNode, Record{
		Type:    integration.EntityTypeOrder,
		LocalID: 55,
	})
	assert.ErrorIs(t, err, integration.ErrMissingUniqueID)
}
