// Package reconcile folds remote platform records into the canonical
// entity store. Identity is matched first by the node's local id, then
// by business unique id; records matching neither create a new
// canonical entity graph.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/magebridge/connector/internal/domain/integration"
)

// Outcome reports which path a record took through the state machine.
type Outcome int

const (
	// OutcomeUpdated means the record matched an already-linked entity
	OutcomeUpdated Outcome = iota
	// OutcomeRelinked means identity drift was repaired by relinking
	OutcomeRelinked
	// OutcomeCreated means a new canonical entity graph was created
	OutcomeCreated
)

// String returns the string representation of Outcome
func (o Outcome) String() string {
	switch o {
	case OutcomeUpdated:
		return "updated"
	case OutcomeRelinked:
		return "relinked"
	case OutcomeCreated:
		return "created"
	default:
		return "unknown"
	}
}

// ChildRecord is a dependent remote record reconciled under its parent
// (order line, address). Children carry no reliable remote id before
// first sync, so they are matched by a synthetic unique id derived from
// the parent plus a natural key.
type ChildRecord struct {
	// Type is the child entity type
	Type integration.EntityType
	// NaturalKeyCode is the attribute code carrying the natural key
	NaturalKeyCode string
	// NaturalKey is the natural key value (sku, address role)
	NaturalKey string
	// LocalID is the remote internal id when known, 0 otherwise
	LocalID int64
	// Attributes are the child's attribute values
	Attributes map[string]any
}

// Record is one remote record prepared by a gateway for reconciliation.
type Record struct {
	// Type is the entity type
	Type integration.EntityType
	// StoreScope is the storefront partition
	StoreScope int
	// UniqueID is the business key (increment id, email, sku)
	UniqueID string
	// LocalID is the remote system's internal id
	LocalID int64
	// Attributes are the mapped attribute values
	Attributes map[string]any
	// Children are dependent records created/updated with the parent
	Children []ChildRecord
}

// SyntheticChildID derives the unique id a child entity is stored
// under: the parent unique id qualified by the child's natural key.
func SyntheticChildID(parentUniqueID, naturalKey string) string {
	return parentUniqueID + ":" + naturalKey
}

// Reconciler applies remote records to the canonical entity store.
type Reconciler struct {
	store  integration.EntityStore
	logger *zap.Logger
}

// NewReconciler creates a new Reconciler
func NewReconciler(store integration.EntityStore, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		logger: logger.Named("reconcile"),
	}
}

// Reconcile folds one remote record into the store and reports which
// path it took. Re-processing an already-linked record is an update,
// never a duplicate.
func (r *Reconciler) Reconcile(ctx context.Context, node string, rec Record) (Outcome, *integration.Entity, error) {
	if rec.UniqueID == "" {
		return 0, nil, fmt.Errorf("%w: reconciling %s record", integration.ErrMissingUniqueID, rec.Type)
	}

	// Common path: the local id is already linked.
	entity, err := r.store.LoadEntityLocal(ctx, node, rec.Type, rec.LocalID)
	if err == nil {
		if err := r.updateEntity(ctx, node, entity, rec); err != nil {
			return 0, nil, err
		}
		return OutcomeUpdated, entity, nil
	}
	if !errors.Is(err, integration.ErrNotFound) {
		return 0, nil, err
	}

	// Drift path: the unique id exists but carries a different (or no)
	// link. Seen when a record is replaced remote-side by hand.
	entity, err = r.store.LoadEntity(ctx, rec.Type, rec.StoreScope, rec.UniqueID)
	if err == nil {
		if err := r.relinkEntity(ctx, node, entity, rec); err != nil {
			return 0, nil, err
		}
		return OutcomeRelinked, entity, nil
	}
	if !errors.Is(err, integration.ErrNotFound) {
		return 0, nil, err
	}

	entity, err = r.createEntity(ctx, node, rec)
	if err != nil {
		return 0, nil, err
	}
	return OutcomeCreated, entity, nil
}

// updateEntity refreshes an already-linked entity in place.
func (r *Reconciler) updateEntity(ctx context.Context, node string, entity *integration.Entity, rec Record) error {
	applyAttributes(entity, rec.Attributes)
	entity.UniqueID = rec.UniqueID
	if err := r.store.UpdateEntity(ctx, entity); err != nil {
		return err
	}
	return r.reconcileChildren(ctx, node, entity, rec.Children)
}

// relinkEntity repairs identity drift: the entity found by unique id is
// detached from whatever local id it carried and linked to the new one.
func (r *Reconciler) relinkEntity(ctx context.Context, node string, entity *integration.Entity, rec Record) error {
	previousID, linked, err := r.store.LocalID(ctx, node, entity)
	if err != nil {
		return err
	}

	r.logger.Warn("Identity drift detected, relinking entity",
		zap.String("node", node),
		zap.String("entity_type", rec.Type.String()),
		zap.String("unique_id", rec.UniqueID),
		zap.Int64("previous_local_id", previousID),
		zap.Bool("was_linked", linked),
		zap.Int64("new_local_id", rec.LocalID),
	)

	if err := r.store.UnlinkEntity(ctx, node, entity); err != nil {
		return err
	}
	if err := r.store.LinkEntity(ctx, node, entity, rec.LocalID); err != nil {
		return err
	}

	comment := fmt.Sprintf("Relinked on %s: local id %d replaces %d", node, rec.LocalID, previousID)
	if !linked {
		comment = fmt.Sprintf("Relinked on %s: local id %d assigned to previously unlinked record", node, rec.LocalID)
	}
	if err := r.store.CreateEntityComment(ctx, entity, comment); err != nil {
		return err
	}

	applyAttributes(entity, rec.Attributes)
	if err := r.store.UpdateEntity(ctx, entity); err != nil {
		return err
	}
	return r.reconcileChildren(ctx, node, entity, rec.Children)
}

// createEntity creates the whole entity graph inside one transaction so
// a failure leaves no partial parent/child state behind.
func (r *Reconciler) createEntity(ctx context.Context, node string, rec Record) (*integration.Entity, error) {
	tx, err := r.store.Begin(ctx)
	if err != nil {
		return nil, err
	}

	entity := &integration.Entity{
		Type:       rec.Type,
		StoreScope: rec.StoreScope,
		UniqueID:   rec.UniqueID,
		Attributes: rec.Attributes,
	}
	if err := tx.CreateEntity(ctx, entity); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.LinkEntity(ctx, node, entity, rec.LocalID); err != nil {
		tx.Rollback()
		return nil, err
	}

	for _, child := range rec.Children {
		childEntity := &integration.Entity{
			Type:       child.Type,
			StoreScope: rec.StoreScope,
			UniqueID:   SyntheticChildID(rec.UniqueID, child.NaturalKey),
			ParentID:   &entity.ID,
			Attributes: child.Attributes,
		}
		childEntity.SetAttr(child.NaturalKeyCode, child.NaturalKey)
		if err := tx.CreateEntity(ctx, childEntity); err != nil {
			tx.Rollback()
			return nil, err
		}
		if child.LocalID != 0 {
			if err := tx.LinkEntity(ctx, node, childEntity, child.LocalID); err != nil {
				tx.Rollback()
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	r.logger.Info("Created canonical entity",
		zap.String("node", node),
		zap.String("entity_type", rec.Type.String()),
		zap.String("unique_id", rec.UniqueID),
		zap.Int64("local_id", rec.LocalID),
		zap.Int("children", len(rec.Children)),
	)
	return entity, nil
}

// reconcileChildren updates or creates dependent records under an
// existing parent. Lookup goes through the synthetic unique id first;
// the natural-key scan covers children created before the synthetic
// scheme applied to them.
func (r *Reconciler) reconcileChildren(ctx context.Context, node string, parent *integration.Entity, children []ChildRecord) error {
	for _, child := range children {
		syntheticID := SyntheticChildID(parent.UniqueID, child.NaturalKey)

		existing, err := r.store.LoadEntity(ctx, child.Type, parent.StoreScope, syntheticID)
		if err != nil && errors.Is(err, integration.ErrNotFound) {
			existing, err = r.findChildByNaturalKey(ctx, parent, child)
		}
		if err != nil && !errors.Is(err, integration.ErrNotFound) {
			return err
		}

		if existing == nil {
			childEntity := &integration.Entity{
				Type:       child.Type,
				StoreScope: parent.StoreScope,
				UniqueID:   syntheticID,
				ParentID:   &parent.ID,
				Attributes: child.Attributes,
			}
			childEntity.SetAttr(child.NaturalKeyCode, child.NaturalKey)
			if err := r.store.CreateEntity(ctx, childEntity); err != nil {
				return err
			}
			if child.LocalID != 0 {
				if err := r.store.LinkEntity(ctx, node, childEntity, child.LocalID); err != nil {
					return err
				}
			}
			continue
		}

		applyAttributes(existing, child.Attributes)
		existing.UniqueID = syntheticID
		if err := r.store.UpdateEntity(ctx, existing); err != nil {
			return err
		}
		if child.LocalID != 0 {
			if err := r.store.LinkEntity(ctx, node, existing, child.LocalID); err != nil {
				return err
			}
		}
	}
	return nil
}

// findChildByNaturalKey scans the parent's children of the given type
// for one whose natural-key attribute matches.
func (r *Reconciler) findChildByNaturalKey(ctx context.Context, parent *integration.Entity, child ChildRecord) (*integration.Entity, error) {
	siblings, err := r.store.LoadChildren(ctx, parent, child.Type)
	if err != nil {
		return nil, err
	}
	for i := range siblings {
		if fmt.Sprint(siblings[i].Attr(child.NaturalKeyCode)) == child.NaturalKey {
			return &siblings[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s child %q under %q", integration.ErrNotFound, child.Type, child.NaturalKey, parent.UniqueID)
}

// applyAttributes merges incoming values over the entity's attributes;
// codes absent from the record keep their stored values.
func applyAttributes(entity *integration.Entity, values map[string]any) {
	for code, value := range values {
		entity.SetAttr(code, value)
	}
}
