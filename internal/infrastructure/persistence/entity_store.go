package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/magebridge/connector/internal/domain/integration"
	"github.com/magebridge/connector/internal/infrastructure/persistence/models"
)

// GormEntityStore implements integration.EntityStore using GORM
type GormEntityStore struct {
	db *gorm.DB
}

// NewGormEntityStore creates a new GormEntityStore
func NewGormEntityStore(db *gorm.DB) *GormEntityStore {
	return &GormEntityStore{db: db}
}

var _ integration.EntityStore = (*GormEntityStore)(nil)

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// LoadEntityLocal finds the entity linked to the given remote local id
// for a node
func (s *GormEntityStore) LoadEntityLocal(ctx context.Context, node string, t integration.EntityType, localID int64) (*integration.Entity, error) {
	var link models.EntityLinkModel
	err := s.db.WithContext(ctx).
		Where("node = ? AND type = ? AND local_id = ?", node, t, localID).
		First(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s %s local id %d", integration.ErrNotFound, node, t, localID)
		}
		return nil, err
	}

	var model models.EntityModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", link.EntityID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// a link pointing at a deleted entity is a broken invariant
			return nil, fmt.Errorf("%w: link %s for %s %s has no entity", integration.ErrIntegrity, link.ID, node, t)
		}
		return nil, err
	}
	return model.ToDomain()
}

// LoadEntity finds an entity by its business unique id within a store scope
func (s *GormEntityStore) LoadEntity(ctx context.Context, t integration.EntityType, storeScope int, uniqueID string) (*integration.Entity, error) {
	var model models.EntityModel
	err := s.db.WithContext(ctx).
		Where("type = ? AND store_scope = ? AND unique_id = ?", t, storeScope, uniqueID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s %q in scope %d", integration.ErrNotFound, t, uniqueID, storeScope)
		}
		return nil, err
	}
	return model.ToDomain()
}

// LoadChildren returns the child entities of the given type under a parent
func (s *GormEntityStore) LoadChildren(ctx context.Context, parent *integration.Entity, t integration.EntityType) ([]integration.Entity, error) {
	var childModels []models.EntityModel
	err := s.db.WithContext(ctx).
		Where("parent_id = ? AND type = ?", parent.ID, t).
		Order("created_at ASC, unique_id ASC").
		Find(&childModels).Error
	if err != nil {
		return nil, err
	}

	children := make([]integration.Entity, len(childModels))
	for i := range childModels {
		child, err := childModels[i].ToDomain()
		if err != nil {
			return nil, err
		}
		children[i] = *child
	}
	return children, nil
}

// LocalID returns the node's local id for an entity; the second return
// reports whether a link exists
func (s *GormEntityStore) LocalID(ctx context.Context, node string, e *integration.Entity) (int64, bool, error) {
	var link models.EntityLinkModel
	err := s.db.WithContext(ctx).
		Where("node = ? AND entity_id = ?", node, e.ID).
		First(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return link.LocalID, true, nil
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

// CreateEntity persists a new entity
func (s *GormEntityStore) CreateEntity(ctx context.Context, e *integration.Entity) error {
	if e.UniqueID == "" {
		return fmt.Errorf("%w: creating %s entity", integration.ErrMissingUniqueID, e.Type)
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	var model models.EntityModel
	if err := model.FromDomain(e); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// UpdateEntity persists attribute changes of an existing entity
func (s *GormEntityStore) UpdateEntity(ctx context.Context, e *integration.Entity) error {
	e.UpdatedAt = time.Now().UTC()

	var model models.EntityModel
	if err := model.FromDomain(e); err != nil {
		return err
	}

	res := s.db.WithContext(ctx).
		Model(&models.EntityModel{}).
		Where("id = ?", e.ID).
		Updates(map[string]any{
			"store_scope": model.StoreScope,
			"unique_id":   model.UniqueID,
			"parent_id":   model.ParentID,
			"attributes":  model.Attributes,
			"updated_at":  model.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s entity %s", integration.ErrNotFound, e.Type, e.ID)
	}
	return nil
}

// LinkEntity records the node's local id for an entity, replacing any
// existing link for the pair
func (s *GormEntityStore) LinkEntity(ctx context.Context, node string, e *integration.Entity, localID int64) error {
	now := time.Now().UTC()

	res := s.db.WithContext(ctx).
		Model(&models.EntityLinkModel{}).
		Where("node = ? AND entity_id = ?", node, e.ID).
		Updates(map[string]any{
			"local_id":   localID,
			"type":       e.Type,
			"updated_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	link := models.EntityLinkModel{
		ID:        uuid.New(),
		Node:      node,
		EntityID:  e.ID,
		Type:      e.Type,
		LocalID:   localID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return s.db.WithContext(ctx).Create(&link).Error
}

// UnlinkEntity removes the node's link for an entity; a missing link is
// not an error
func (s *GormEntityStore) UnlinkEntity(ctx context.Context, node string, e *integration.Entity) error {
	return s.db.WithContext(ctx).
		Where("node = ? AND entity_id = ?", node, e.ID).
		Delete(&models.EntityLinkModel{}).Error
}

// CreateEntityComment attaches a free-form comment to an entity
func (s *GormEntityStore) CreateEntityComment(ctx context.Context, e *integration.Entity, comment string) error {
	row := models.EntityCommentModel{
		ID:        uuid.New(),
		EntityID:  e.ID,
		Comment:   comment,
		CreatedAt: time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// ---------------------------------------------------------------------------
// Transactions
// ---------------------------------------------------------------------------

// Begin opens a transaction-scoped view of the store
func (s *GormEntityStore) Begin(ctx context.Context) (integration.EntityTx, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &gormEntityTx{GormEntityStore: GormEntityStore{db: tx}, tx: tx}, nil
}

// gormEntityTx is a GormEntityStore bound to an open transaction
type gormEntityTx struct {
	GormEntityStore
	tx *gorm.DB
}

var _ integration.EntityTx = (*gormEntityTx)(nil)

// Begin on an open transaction returns the transaction itself; the
// store offers no nested transactions.
func (t *gormEntityTx) Begin(ctx context.Context) (integration.EntityTx, error) {
	return t, nil
}

// Commit makes the transaction's writes durable
func (t *gormEntityTx) Commit() error {
	return t.tx.Commit().Error
}

// Rollback discards the transaction's writes; safe to call after Commit
func (t *gormEntityTx) Rollback() error {
	err := t.tx.Rollback().Error
	if err != nil && errors.Is(err, gorm.ErrInvalidTransaction) {
		return nil
	}
	return err
}
