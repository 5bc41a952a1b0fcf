// Package gateway contains the per-entity-type sync pipelines. Each
// gateway composes the checkpoint window, the remote client or the
// attribute store, reconciliation, and a field-mapping table into a
// retrieve/write-back flow for one entity type.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/magebridge/connector/internal/domain/integration"
	"github.com/magebridge/connector/internal/infrastructure/eav"
)

// RemoteCaller is the slice of the remote client the gateways use.
type RemoteCaller interface {
	// Connect authenticates against the remote endpoint
	Connect(ctx context.Context) error
	// Call invokes a named remote operation
	Call(ctx context.Context, operation string, args []any) (any, error)
}

// AttributeStore is the slice of the EAV access layer the gateways use
// as the high-throughput read/write path.
type AttributeStore interface {
	LoadEntities(ctx context.Context, typeCode string, ids []int64, storeID int, attrCodes []string) ([]eav.Record, error)
	UpdateEntity(ctx context.Context, typeCode string, entityID int64, storeID int, values map[string]any) (bool, error)
}

// Action is an outbound operation against the remote record backing an
// entity (order comment, cancel, hold).
type Action struct {
	// Entity is the canonical entity the action targets
	Entity *integration.Entity
	// Name is the remote action suffix (addComment, cancel, hold)
	Name string
	// Args are appended to the remote call after the record identifier
	Args []any
}

// Gateway is one entity type's sync pipeline.
type Gateway interface {
	// EntityType returns the entity type this gateway handles
	EntityType() integration.EntityType

	// Init binds the gateway to a node; must be called before any
	// other operation.
	Init(node *integration.Node) error

	// Retrieve runs one incremental retrieval pass: window, fetch,
	// reconcile, checkpoint.
	Retrieve(ctx context.Context) error

	// WriteUpdates pushes changed attribute values of a local entity
	// back to the node.
	WriteUpdates(ctx context.Context, entity *integration.Entity, changedCodes []string, change integration.ChangeType) error

	// WriteAction performs a remote action against an entity's record.
	WriteAction(ctx context.Context, action Action) error
}

// Deps carries the collaborators shared by all gateways of one node.
type Deps struct {
	// Client is the remote RPC client
	Client RemoteCaller
	// Attributes is the EAV access layer, nil when the node exposes
	// no direct database access
	Attributes AttributeStore
	// Store is the canonical entity store
	Store integration.EntityStore
	// Checkpoints tracks retrieval boundaries
	Checkpoints integration.CheckpointStore
	// Logger is the parent logger
	Logger *zap.Logger
}

// validate reports the first missing mandatory collaborator.
func (d Deps) validate() error {
	switch {
	case d.Client == nil:
		return errors.New("gateway: nil remote client")
	case d.Store == nil:
		return errors.New("gateway: nil entity store")
	case d.Checkpoints == nil:
		return errors.New("gateway: nil checkpoint store")
	case d.Logger == nil:
		return errors.New("gateway: nil logger")
	default:
		return nil
	}
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Registry holds the gateway for each entity type. It is built once at
// startup and closed afterwards; lookups never dispatch on strings at
// runtime.
type Registry struct {
	gateways map[integration.EntityType]Gateway
}

// NewRegistry builds a registry from the given gateways. Duplicate or
// invalid entity types are rejected.
func NewRegistry(gateways ...Gateway) (*Registry, error) {
	byType := make(map[integration.EntityType]Gateway, len(gateways))
	for _, gw := range gateways {
		t := gw.EntityType()
		if !t.IsValid() {
			return nil, fmt.Errorf("gateway: invalid entity type %q", t)
		}
		if _, exists := byType[t]; exists {
			return nil, fmt.Errorf("gateway: duplicate gateway for %q", t)
		}
		byType[t] = gw
	}
	return &Registry{gateways: byType}, nil
}

// Gateway returns the gateway for an entity type.
func (r *Registry) Gateway(t integration.EntityType) (Gateway, bool) {
	gw, ok := r.gateways[t]
	return gw, ok
}

// All returns the registered gateways in stable entity-type order.
func (r *Registry) All() []Gateway {
	types := make([]string, 0, len(r.gateways))
	for t := range r.gateways {
		types = append(types, t.String())
	}
	sort.Strings(types)

	all := make([]Gateway, len(types))
	for i, t := range types {
		all[i] = r.gateways[integration.EntityType(t)]
	}
	return all
}

// ---------------------------------------------------------------------------
// PassError
// ---------------------------------------------------------------------------

// PassError summarizes the records that failed during an otherwise
// completed retrieval pass. The checkpoint has already been committed
// when a PassError is returned; the failed records are re-covered by
// the next pass's overlap only if the remote bumps their timestamps.
type PassError struct {
	// Node is the node the pass ran against
	Node string
	// Type is the entity type of the pass
	Type integration.EntityType
	// Processed is the number of records handled successfully
	Processed int
	// Errs are the per-record failures
	Errs []error
}

// Error returns the error message
func (e *PassError) Error() string {
	return fmt.Sprintf("gateway: %s pass on %s finished with %d failed record(s), %d processed",
		e.Type, e.Node, len(e.Errs), e.Processed)
}

// Unwrap exposes the per-record failures for errors.Is/As.
func (e *PassError) Unwrap() []error {
	return e.Errs
}
