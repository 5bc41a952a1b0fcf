package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/magebridge/connector/internal/domain/integration"
	"github.com/magebridge/connector/internal/infrastructure/eav"
	"github.com/magebridge/connector/tests/testutil"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type remoteCall struct {
	op   string
	args []any
}

type fakeCaller struct {
	calls     []remoteCall
	responses map[string]any
	errs      map[string]error
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{
		responses: make(map[string]any),
		errs:      make(map[string]error),
	}
}

func (c *fakeCaller) Connect(ctx context.Context) error { return nil }

func (c *fakeCaller) Call(ctx context.Context, operation string, args []any) (any, error) {
	c.calls = append(c.calls, remoteCall{op: operation, args: args})
	if err := c.errs[operation]; err != nil {
		return nil, err
	}
	return c.responses[operation], nil
}

func (c *fakeCaller) callsTo(operation string) []remoteCall {
	var out []remoteCall
	for _, call := range c.calls {
		if call.op == operation {
			out = append(out, call)
		}
	}
	return out
}

type attrUpdate struct {
	typeCode string
	entityID int64
	storeID  int
	values   map[string]any
}

type fakeAttrs struct {
	records   []eav.Record
	loadErr   error
	updateErr error
	updates   []attrUpdate
}

func (a *fakeAttrs) LoadEntities(ctx context.Context, typeCode string, ids []int64, storeID int, attrCodes []string) ([]eav.Record, error) {
	if a.loadErr != nil {
		return nil, a.loadErr
	}
	return a.records, nil
}

func (a *fakeAttrs) UpdateEntity(ctx context.Context, typeCode string, entityID int64, storeID int, values map[string]any) (bool, error) {
	a.updates = append(a.updates, attrUpdate{typeCode: typeCode, entityID: entityID, storeID: storeID, values: values})
	if a.updateErr != nil {
		return false, a.updateErr
	}
	return true, nil
}

type fixture struct {
	caller      *fakeCaller
	attrs       *fakeAttrs
	store       *testutil.FakeEntityStore
	checkpoints *testutil.FakeCheckpointStore
	node        *integration.Node
}

func newFixture() *fixture {
	return &fixture{
		caller:      newFakeCaller(),
		attrs:       &fakeAttrs{},
		store:       testutil.NewFakeEntityStore(),
		checkpoints: testutil.NewFakeCheckpointStore(5 * time.Minute),
		node: &integration.Node{
			Name:      "store-main",
			BaseURL:   "http://magento.example.com/api/jsonrpc",
			APIUser:   "connector",
			APIKey:    "secret",
			LoadStock: true,
		},
	}
}

func (f *fixture) deps() Deps {
	return Deps{
		Client:      f.caller,
		Store:       f.store,
		Checkpoints: f.checkpoints,
		Logger:      zap.NewNop(),
	}
}

func (f *fixture) depsWithAttrs() Deps {
	d := f.deps()
	d.Attributes = f.attrs
	return d
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

func TestRegistry(t *testing.T) {
	f := newFixture()

	orders, err := NewOrderGateway(f.deps())
	require.NoError(t, err)
	customers, err := NewCustomerGateway(f.deps())
	require.NoError(t, err)

	t.Run("resolves gateways by entity type", func(t *testing.T) {
		reg, err := NewRegistry(orders, customers)
		require.NoError(t, err)

		gw, ok := reg.Gateway(integration.EntityTypeOrder)
		require.True(t, ok)
		assert.Equal(t, integration.EntityTypeOrder, gw.EntityType())

		_, ok = reg.Gateway(integration.EntityTypeStock)
		assert.False(t, ok)
	})

	t.Run("rejects duplicate entity types", func(t *testing.T) {
		dup, err := NewOrderGateway(f.deps())
		require.NoError(t, err)

		_, err = NewRegistry(orders, dup)
		assert.Error(t, err)
	})

	t.Run("lists gateways in stable order", func(t *testing.T) {
		reg, err := NewRegistry(orders, customers)
		require.NoError(t, err)

		all := reg.All()
		require.Len(t, all, 2)
		assert.Equal(t, integration.EntityTypeCustomer, all[0].EntityType())
		assert.Equal(t, integration.EntityTypeOrder, all[1].EntityType())
	})
}

// ---------------------------------------------------------------------------
// Retrieval passes
// ---------------------------------------------------------------------------

func TestOrderGatewayEndToEnd(t *testing.T) {
	f := newFixture()
	gw, err := NewOrderGateway(f.deps())
	require.NoError(t, err)
	require.NoError(t, gw.Init(f.node))
	ctx := context.Background()

	updatedAt := time.Now().UTC().Add(-time.Minute)
	f.caller.responses["sales_order.list"] = []any{
		map[string]any{
			"increment_id": "100000123",
			"order_id":     "55",
			"status":       "pending",
			"grand_total":  "119.00",
			"updated_at":   updatedAt.Format(integration.RemoteTimeLayout),
			"items": []any{
				map[string]any{
					"item_id":     "901",
					"sku":         "widget-a",
					"qty_ordered": "2",
					"price":       "50.00",
					"tax_amount":  "19.00",
				},
			},
		},
	}

	start := time.Now().UTC()
	require.NoError(t, gw.Retrieve(ctx))

	entity, err := f.store.LoadEntity(ctx, integration.EntityTypeOrder, 0, "100000123")
	require.NoError(t, err)
	assert.Equal(t, "pending", entity.Attr("status"))

	localID, linked, err := f.store.LocalID(ctx, "store-main", entity)
	require.NoError(t, err)
	assert.True(t, linked)
	assert.Equal(t, int64(55), localID)

	lines, err := f.store.LoadChildren(ctx, entity, integration.EntityTypeOrderLine)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "9.5", lines[0].Attr("tax_per_unit"))

	boundary := f.checkpoints.Boundary("store-main", integration.EntityTypeOrder)
	assert.False(t, boundary.Before(start))
}

func TestRunPassWindowsSubsequentFetches(t *testing.T) {
	f := newFixture()
	gw, err := NewOrderGateway(f.deps())
	require.NoError(t, err)
	require.NoError(t, gw.Init(f.node))
	ctx := context.Background()

	require.NoError(t, gw.Retrieve(ctx))
	require.NoError(t, gw.Retrieve(ctx))

	calls := f.caller.callsTo("sales_order.list")
	require.Len(t, calls, 2)
	// first pass covers all history
	assert.Empty(t, calls[0].args)
	// second pass filters on the committed boundary minus the overlap
	require.Len(t, calls[1].args, 1)
	filter, ok := calls[1].args[0].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, filter, "updated_at")
}

func TestRunPassIsolatesRecordFailures(t *testing.T) {
	f := newFixture()
	gw, err := NewOrderGateway(f.deps())
	require.NoError(t, err)
	require.NoError(t, gw.Init(f.node))
	ctx := context.Background()

	f.caller.responses["sales_order.list"] = []any{
		map[string]any{"order_id": "54"}, // no increment_id
		map[string]any{"increment_id": "100000124", "order_id": "56", "status": "pending"},
	}

	err = gw.Retrieve(ctx)
	require.Error(t, err)

	var passErr *PassError
	require.ErrorAs(t, err, &passErr)
	assert.Equal(t, 1, passErr.Processed)
	assert.Len(t, passErr.Errs, 1)

	// the good record landed and the pass still committed its boundary
	_, err = f.store.LoadEntity(ctx, integration.EntityTypeOrder, 0, "100000124")
	assert.NoError(t, err)
	assert.False(t, f.checkpoints.Boundary("store-main", integration.EntityTypeOrder).IsZero())
}

func TestRunPassAbortsOnFetchFailure(t *testing.T) {
	f := newFixture()
	gw, err := NewOrderGateway(f.deps())
	require.NoError(t, err)
	require.NoError(t, gw.Init(f.node))

	f.caller.errs["sales_order.list"] = errors.New("endpoint unreachable")

	err = gw.Retrieve(context.Background())
	require.Error(t, err)
	assert.True(t, f.checkpoints.Boundary("store-main", integration.EntityTypeOrder).IsZero())
}

func TestProductGatewayPrefersAttributeStore(t *testing.T) {
	f := newFixture()
	f.attrs.records = []eav.Record{
		{EntityID: 77, Values: map[string]any{
			"sku":        "widget-a",
			"name":       "Widget A",
			"price":      "50.00",
			"updated_at": "2026-03-10 12:00:00",
		}},
	}

	gw, err := NewProductGateway(f.depsWithAttrs())
	require.NoError(t, err)
	require.NoError(t, gw.Init(f.node))
	ctx := context.Background()

	require.NoError(t, gw.Retrieve(ctx))

	entity, err := f.store.LoadEntity(ctx, integration.EntityTypeProduct, 0, "widget-a")
	require.NoError(t, err)
	assert.Equal(t, "Widget A", entity.Attr("name"))

	localID, linked, err := f.store.LocalID(ctx, "store-main", entity)
	require.NoError(t, err)
	assert.True(t, linked)
	assert.Equal(t, int64(77), localID)

	// no RPC list call happened
	assert.Empty(t, f.caller.callsTo("catalog_product.list"))
}

func TestStockGatewaySkipsWhenDisabled(t *testing.T) {
	f := newFixture()
	f.node.LoadStock = false

	gw, err := NewStockGateway(f.deps())
	require.NoError(t, err)
	require.NoError(t, gw.Init(f.node))

	require.NoError(t, gw.Retrieve(context.Background()))
	assert.Empty(t, f.caller.calls)
	assert.True(t, f.checkpoints.Boundary("store-main", integration.EntityTypeStock).IsZero())
}

// ---------------------------------------------------------------------------
// Write-back
// ---------------------------------------------------------------------------

func TestWriteBackUsesAttributeStoreWhenLinked(t *testing.T) {
	f := newFixture()
	gw, err := NewProductGateway(f.depsWithAttrs())
	require.NoError(t, err)
	require.NoError(t, gw.Init(f.node))
	ctx := context.Background()

	entity := &integration.Entity{
		Type:       integration.EntityTypeProduct,
		UniqueID:   "widget-a",
		Attributes: map[string]any{"price": "55.00"},
	}
	require.NoError(t, f.store.CreateEntity(ctx, entity))
	require.NoError(t, f.store.LinkEntity(ctx, "store-main", entity, 77))

	require.NoError(t, gw.WriteUpdates(ctx, entity, []string{"price"}, integration.ChangeTypeUpdate))

	require.Len(t, f.attrs.updates, 1)
	assert.Equal(t, "catalog_product", f.attrs.updates[0].typeCode)
	assert.Equal(t, int64(77), f.attrs.updates[0].entityID)
	assert.Equal(t, map[string]any{"price": "55.00"}, f.attrs.updates[0].values)
	assert.Empty(t, f.caller.callsTo("catalog_product.update"))
}

func TestWriteBackFallsBackToRPCAndUnlinks(t *testing.T) {
	f := newFixture()
	f.attrs.updateErr = errors.New("product row vanished")

	gw, err := NewProductGateway(f.depsWithAttrs())
	require.NoError(t, err)
	require.NoError(t, gw.Init(f.node))
	ctx := context.Background()

	entity := &integration.Entity{
		Type:       integration.EntityTypeProduct,
		UniqueID:   "widget-a",
		Attributes: map[string]any{"price": "55.00"},
	}
	require.NoError(t, f.store.CreateEntity(ctx, entity))
	require.NoError(t, f.store.LinkEntity(ctx, "store-main", entity, 77))

	require.NoError(t, gw.WriteUpdates(ctx, entity, []string{"price"}, integration.ChangeTypeUpdate))

	// the stale link is gone and the write went through the RPC path
	_, linked, err := f.store.LocalID(ctx, "store-main", entity)
	require.NoError(t, err)
	assert.False(t, linked)
	require.Len(t, f.caller.callsTo("catalog_product.update"), 1)
}

func TestCustomerWriteBackFallsBackWithStaleLocalID(t *testing.T) {
	f := newFixture()
	f.attrs.updateErr = errors.New("customer row vanished")

	gw, err := NewCustomerGateway(f.depsWithAttrs())
	require.NoError(t, err)
	require.NoError(t, gw.Init(f.node))
	ctx := context.Background()

	entity := &integration.Entity{
		Type:       integration.EntityTypeCustomer,
		UniqueID:   "jane@example.com",
		Attributes: map[string]any{"firstname": "Jane"},
	}
	require.NoError(t, f.store.CreateEntity(ctx, entity))
	require.NoError(t, f.store.LinkEntity(ctx, "store-main", entity, 77))

	require.NoError(t, gw.WriteUpdates(ctx, entity, []string{"firstname"}, integration.ChangeTypeUpdate))

	// the attribute store was tried first, then the link was dropped
	require.Len(t, f.attrs.updates, 1)
	_, linked, err := f.store.LocalID(ctx, "store-main", entity)
	require.NoError(t, err)
	assert.False(t, linked)

	// the RPC retry still addressed the record by the id resolved
	// before the unlink
	calls := f.caller.callsTo("customer.update")
	require.Len(t, calls, 1)
	require.Len(t, calls[0].args, 2)
	assert.Equal(t, int64(77), calls[0].args[0])
}

func TestCustomerWriteBackRejectsUnlinkedUpdate(t *testing.T) {
	f := newFixture()
	gw, err := NewCustomerGateway(f.deps())
	require.NoError(t, err)
	require.NoError(t, gw.Init(f.node))
	ctx := context.Background()

	entity := &integration.Entity{
		Type:       integration.EntityTypeCustomer,
		UniqueID:   "jane@example.com",
		Attributes: map[string]any{"firstname": "Jane"},
	}
	require.NoError(t, f.store.CreateEntity(ctx, entity))

	err = gw.WriteUpdates(ctx, entity, []string{"firstname"}, integration.ChangeTypeUpdate)
	require.ErrorIs(t, err, integration.ErrNotLinked)
	assert.Empty(t, f.caller.callsTo("customer.update"))
}

func TestWriteBackSkipsAttributeStoreOffDefaultScope(t *testing.T) {
	f := newFixture()
	gw, err := NewProductGateway(f.depsWithAttrs())
	require.NoError(t, err)
	require.NoError(t, gw.Init(f.node))
	ctx := context.Background()

	entity := &integration.Entity{
		Type:       integration.EntityTypeProduct,
		StoreScope: 5,
		UniqueID:   "widget-a",
		Attributes: map[string]any{"price": "55.00"},
	}
	require.NoError(t, f.store.CreateEntity(ctx, entity))
	require.NoError(t, f.store.LinkEntity(ctx, "store-main", entity, 77))

	require.NoError(t, gw.WriteUpdates(ctx, entity, []string{"price"}, integration.ChangeTypeUpdate))

	assert.Empty(t, f.attrs.updates)
	require.Len(t, f.caller.callsTo("catalog_product.update"), 1)
}

func TestCustomerCreateLinksReturnedID(t *testing.T) {
	f := newFixture()
	gw, err := NewCustomerGateway(f.deps())
	require.NoError(t, err)
	require.NoError(t, gw.Init(f.node))
	ctx := context.Background()

	f.caller.responses["customer.create"] = "412"

	entity := &integration.Entity{
		Type:       integration.EntityTypeCustomer,
		UniqueID:   "jane@example.com",
		Attributes: map[string]any{"email": "jane@example.com", "firstname": "Jane"},
	}
	require.NoError(t, f.store.CreateEntity(ctx, entity))

	require.NoError(t, gw.WriteUpdates(ctx, entity, []string{"email", "firstname"}, integration.ChangeTypeCreate))

	localID, linked, err := f.store.LocalID(ctx, "store-main", entity)
	require.NoError(t, err)
	assert.True(t, linked)
	assert.Equal(t, int64(412), localID)
}

func TestWriteActionAddressesRecordByUniqueID(t *testing.T) {
	f := newFixture()
	gw, err := NewOrderGateway(f.deps())
	require.NoError(t, err)
	require.NoError(t, gw.Init(f.node))

	entity := &integration.Entity{Type: integration.EntityTypeOrder, UniqueID: "100000123"}
	err = gw.WriteAction(context.Background(), Action{
		Entity: entity,
		Name:   "hold",
	})
	require.NoError(t, err)

	calls := f.caller.callsTo("sales_order.hold")
	require.Len(t, calls, 1)
	assert.Equal(t, []any{"100000123"}, calls[0].args)
}
