package integration

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// EntityType
// ---------------------------------------------------------------------------

// EntityType identifies a canonical entity type handled by the connector.
type EntityType string

const (
	// EntityTypeCustomer represents a customer record
	EntityTypeCustomer EntityType = "customer"
	// EntityTypeAddress represents a customer address (child of customer)
	EntityTypeAddress EntityType = "address"
	// EntityTypeOrder represents a sales order
	EntityTypeOrder EntityType = "order"
	// EntityTypeOrderLine represents a sales order line item (child of order)
	EntityTypeOrderLine EntityType = "order_line"
	// EntityTypeProduct represents a catalog product
	EntityTypeProduct EntityType = "product"
	// EntityTypeStock represents a stock level record for one product
	EntityTypeStock EntityType = "stock"
	// EntityTypeCreditMemo represents a credit memo (refund document)
	EntityTypeCreditMemo EntityType = "creditmemo"
	// EntityTypeCreditMemoLine represents a credit memo line (child of creditmemo)
	EntityTypeCreditMemoLine EntityType = "creditmemo_line"
)

// IsValid returns true if the entity type is known
func (t EntityType) IsValid() bool {
	switch t {
	case EntityTypeCustomer, EntityTypeAddress, EntityTypeOrder, EntityTypeOrderLine,
		EntityTypeProduct, EntityTypeStock, EntityTypeCreditMemo, EntityTypeCreditMemoLine:
		return true
	default:
		return false
	}
}

// String returns the string representation of EntityType
func (t EntityType) String() string {
	return string(t)
}

// ---------------------------------------------------------------------------
// ChangeType
// ---------------------------------------------------------------------------

// ChangeType classifies an outbound local mutation pushed back to a node.
type ChangeType string

const (
	// ChangeTypeCreate indicates the entity was created locally
	ChangeTypeCreate ChangeType = "create"
	// ChangeTypeUpdate indicates attribute values changed locally
	ChangeTypeUpdate ChangeType = "update"
	// ChangeTypeDelete indicates the entity was removed locally
	ChangeTypeDelete ChangeType = "delete"
)

// IsValid returns true if the change type is known
func (c ChangeType) IsValid() bool {
	switch c {
	case ChangeTypeCreate, ChangeTypeUpdate, ChangeTypeDelete:
		return true
	default:
		return false
	}
}

// ---------------------------------------------------------------------------
// Entity
// ---------------------------------------------------------------------------

// Entity is a canonical record keyed independently of any node. Identity
// across systems is carried by (Type, StoreScope, UniqueID); the remote
// internal identifier of each node is tracked separately as a link.
type Entity struct {
	// ID is the canonical identifier
	ID uuid.UUID
	// Type is the entity type
	Type EntityType
	// StoreScope is the storefront partition the record belongs to
	// (0 = default scope)
	StoreScope int
	// UniqueID is the business key matched across systems
	// (order increment number, customer email, product sku)
	UniqueID string
	// ParentID references the owning entity for child records
	// (order lines, addresses), nil for roots
	ParentID *uuid.UUID
	// Attributes maps attribute code to value
	Attributes map[string]any
	// CreatedAt is when the canonical record was created
	CreatedAt time.Time
	// UpdatedAt is when the canonical record last changed
	UpdatedAt time.Time
}

// Attr returns the value of an attribute code, nil when unset
func (e *Entity) Attr(code string) any {
	if e.Attributes == nil {
		return nil
	}
	return e.Attributes[code]
}

// SetAttr sets an attribute value, allocating the map on first use
func (e *Entity) SetAttr(code string, value any) {
	if e.Attributes == nil {
		e.Attributes = make(map[string]any)
	}
	e.Attributes[code] = value
}

// ---------------------------------------------------------------------------
// EntityStore Port
// ---------------------------------------------------------------------------

// EntityStore is the port toward the canonical entity persistence
// service. Link/unlink are idempotent: unlinking an entity that carries
// no link for the node is a no-op, and linking replaces any previous
// link for the same (node, entity) pair.
type EntityStore interface {
	// LoadEntityLocal finds the entity linked to the given remote local id
	// for a node; ErrNotFound when no link exists.
	LoadEntityLocal(ctx context.Context, node string, t EntityType, localID int64) (*Entity, error)

	// LoadEntity finds an entity by its business unique id within a store
	// scope; ErrNotFound when absent.
	LoadEntity(ctx context.Context, t EntityType, storeScope int, uniqueID string) (*Entity, error)

	// LoadChildren returns the child entities of the given type under a
	// parent entity.
	LoadChildren(ctx context.Context, parent *Entity, t EntityType) ([]Entity, error)

	// CreateEntity persists a new entity; UniqueID is required.
	CreateEntity(ctx context.Context, e *Entity) error

	// UpdateEntity persists attribute changes of an existing entity.
	UpdateEntity(ctx context.Context, e *Entity) error

	// LinkEntity records the node's local id for an entity, replacing any
	// existing link for the pair.
	LinkEntity(ctx context.Context, node string, e *Entity, localID int64) error

	// UnlinkEntity removes the node's link for an entity; a missing link
	// is not an error.
	UnlinkEntity(ctx context.Context, node string, e *Entity) error

	// LocalID returns the node's local id for an entity; the second
	// return reports whether a link exists.
	LocalID(ctx context.Context, node string, e *Entity) (int64, bool, error)

	// CreateEntityComment attaches a free-form comment to an entity.
	CreateEntityComment(ctx context.Context, e *Entity, comment string) error

	// Begin opens a transaction-scoped view of the store.
	Begin(ctx context.Context) (EntityTx, error)
}

// EntityTx is a transaction-scoped EntityStore. All operations performed
// through it become visible only after Commit; Rollback discards them.
type EntityTx interface {
	EntityStore

	// Commit makes the transaction's writes durable
	Commit() error

	// Rollback discards the transaction's writes; safe to call after Commit
	Rollback() error
}
