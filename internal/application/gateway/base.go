package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/magebridge/connector/internal/application/reconcile"
	"github.com/magebridge/connector/internal/domain/integration"
)

// base carries the collaborators and helpers shared by all gateways.
// Concrete gateways embed it and provide the entity-specific fetch and
// mapping logic.
type base struct {
	entityType  integration.EntityType
	node        *integration.Node
	client      RemoteCaller
	attrs       AttributeStore
	store       integration.EntityStore
	checkpoints integration.CheckpointStore
	reconciler  *reconcile.Reconciler
	logger      *zap.Logger
}

func newBase(t integration.EntityType, deps Deps) (base, error) {
	if err := deps.validate(); err != nil {
		return base{}, err
	}
	logger := deps.Logger.Named("gateway").With(zap.String("entity_type", t.String()))
	return base{
		entityType:  t,
		client:      deps.Client,
		attrs:       deps.Attributes,
		store:       deps.Store,
		checkpoints: deps.Checkpoints,
		reconciler:  reconcile.NewReconciler(deps.Store, logger),
		logger:      logger,
	}, nil
}

// EntityType returns the entity type this gateway handles
func (b *base) EntityType() integration.EntityType {
	return b.entityType
}

// Init binds the gateway to a node
func (b *base) Init(node *integration.Node) error {
	if err := node.Validate(); err != nil {
		return err
	}
	b.node = node
	b.logger = b.logger.With(zap.String("node", node.Name))
	return nil
}

func (b *base) requireNode() error {
	if b.node == nil {
		return fmt.Errorf("gateway: %s gateway used before Init", b.entityType)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Retrieval pass
// ---------------------------------------------------------------------------

// updatedSinceFilter builds the positional filter argument for list
// operations: a window lower bound on updated_at, or no filter when no
// checkpoint exists yet.
func updatedSinceFilter(since string) []any {
	if since == "" {
		return []any{}
	}
	return []any{map[string]any{"updated_at": map[string]any{"from": since}}}
}

// runPass executes one retrieval pass: sample the boundary, compute the
// window, fetch, reconcile record by record, and commit the checkpoint
// once the pass completes. A fetch failure aborts the pass without
// moving the checkpoint; individual record failures are logged and
// collected into a PassError while the pass still completes and
// commits.
func (b *base) runPass(
	ctx context.Context,
	fetch func(ctx context.Context, since string) ([]map[string]any, error),
	handle func(ctx context.Context, row map[string]any) error,
) error {
	if err := b.requireNode(); err != nil {
		return err
	}

	windowStart, err := b.checkpoints.WindowStart(ctx, b.node.Name, b.entityType)
	if err != nil {
		return err
	}
	boundary := time.Now().UTC()

	var since string
	if !windowStart.IsZero() {
		since = integration.FormatRemoteTime(windowStart, b.node.TimezoneDelta(b.entityType))
	}

	rows, err := fetch(ctx, since)
	if err != nil {
		return fmt.Errorf("gateway: %s pass on %s: %w", b.entityType, b.node.Name, err)
	}

	var errs []error
	processed := 0
	for _, row := range rows {
		if err := handle(ctx, row); err != nil {
			b.logger.Error("Record failed, continuing pass",
				zap.Any("record", rowIdentity(row)),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		processed++
	}

	if err := b.checkpoints.Commit(ctx, b.node.Name, b.entityType, boundary); err != nil {
		return err
	}

	b.logger.Info("Retrieval pass finished",
		zap.Int("processed", processed),
		zap.Int("failed", len(errs)),
		zap.Time("boundary", boundary),
	)

	if len(errs) > 0 {
		return &PassError{Node: b.node.Name, Type: b.entityType, Processed: processed, Errs: errs}
	}
	return nil
}

// rowIdentity extracts the identifying fields of a raw record for logs.
func rowIdentity(row map[string]any) map[string]any {
	id := make(map[string]any, 3)
	for _, key := range []string{"increment_id", "entity_id", "customer_id", "product_id", "sku", "email"} {
		if v, ok := row[key]; ok {
			id[key] = v
		}
	}
	return id
}

// ---------------------------------------------------------------------------
// Write-back
// ---------------------------------------------------------------------------

// writeBack pushes attribute values outward. The attribute store path
// is taken when the entity carries a local-id link, the scope is the
// default store, and the node exposes database access; it is cheaper
// and transactional. When that path fails the local id is treated as
// stale: the link is removed and the same logical write retries through
// the RPC path. The closure receives the local id resolved before the
// unlink (zero when the entity was never linked), so RPC operations
// that address records by local id still know which record to hit.
func (b *base) writeBack(
	ctx context.Context,
	entity *integration.Entity,
	eavTypeCode string,
	values map[string]any,
	viaRPC func(ctx context.Context, localID int64) error,
) error {
	if err := b.requireNode(); err != nil {
		return err
	}

	localID, linked, err := b.store.LocalID(ctx, b.node.Name, entity)
	if err != nil {
		return err
	}

	if linked && entity.StoreScope == 0 && b.attrs != nil && eavTypeCode != "" {
		_, err := b.attrs.UpdateEntity(ctx, eavTypeCode, localID, 0, values)
		if err == nil {
			return nil
		}

		b.logger.Warn("Attribute store write failed, unlinking and falling back to RPC",
			zap.String("unique_id", entity.UniqueID),
			zap.Int64("local_id", localID),
			zap.Error(err),
		)
		if err := b.store.UnlinkEntity(ctx, b.node.Name, entity); err != nil {
			return err
		}
	}

	return viaRPC(ctx, localID)
}

// callAction invokes a remote per-record action, addressing the record
// by its business unique id.
func (b *base) callAction(ctx context.Context, opPrefix string, action Action) error {
	if err := b.requireNode(); err != nil {
		return err
	}
	if action.Entity == nil || action.Name == "" {
		return fmt.Errorf("gateway: %s action needs an entity and a name", b.entityType)
	}
	args := append([]any{action.Entity.UniqueID}, action.Args...)
	_, err := b.client.Call(ctx, opPrefix+"."+action.Name, args)
	return err
}

// ---------------------------------------------------------------------------
// Value coercion
// ---------------------------------------------------------------------------

// attrString renders a normalized remote value as a canonical string.
func attrString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case json.Number:
		return s.String()
	default:
		return fmt.Sprint(s)
	}
}

// attrInt64 coerces a normalized remote value to int64.
func attrInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		var i int64
		_, err := fmt.Sscan(n, &i)
		return i, err == nil
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// attrDecimal parses a normalized remote value as a decimal; absent,
// empty, and malformed values report false.
func attrDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case string:
		if n == "" {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(n)
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(n), true
	default:
		return decimal.Zero, false
	}
}

// mapFields translates remote field names to canonical attribute codes
// using a mapping table, then copies the node's extra attributes for
// the entity type verbatim.
func (b *base) mapFields(row map[string]any, mapping map[string]string, t integration.EntityType) map[string]any {
	attrs := make(map[string]any, len(mapping))
	for remote, code := range mapping {
		if v, ok := row[remote]; ok {
			attrs[code] = attrString(v)
		}
	}
	for _, code := range b.node.ExtraAttributesFor(t) {
		if v, ok := row[code]; ok {
			attrs[code] = attrString(v)
		}
	}
	return attrs
}
