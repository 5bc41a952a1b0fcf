package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/magebridge/connector/internal/domain/integration"
)

// EntityModel is the persistence model for the canonical Entity.
// Attribute values are stored as a single JSON document; the store is
// schema-free on purpose so new attribute codes never require a
// migration.
type EntityModel struct {
	ID         uuid.UUID              `gorm:"type:uuid;primary_key"`
	Type       integration.EntityType `gorm:"type:varchar(30);not null;index:idx_entities_identity,priority:1,unique"`
	StoreScope int                    `gorm:"not null;default:0;index:idx_entities_identity,priority:2,unique"`
	UniqueID   string                 `gorm:"type:varchar(255);not null;index:idx_entities_identity,priority:3,unique"`
	ParentID   *uuid.UUID             `gorm:"type:uuid;index:idx_entities_parent"`
	Attributes datatypes.JSON         `gorm:"not null"`
	CreatedAt  time.Time              `gorm:"not null"`
	UpdatedAt  time.Time              `gorm:"not null"`
}

// TableName returns the table name for GORM
func (EntityModel) TableName() string {
	return "entities"
}

// ToDomain converts the persistence model to a domain Entity.
func (m *EntityModel) ToDomain() (*integration.Entity, error) {
	e := &integration.Entity{
		ID:         m.ID,
		Type:       m.Type,
		StoreScope: m.StoreScope,
		UniqueID:   m.UniqueID,
		ParentID:   m.ParentID,
		Attributes: make(map[string]any),
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
	if len(m.Attributes) > 0 {
		if err := json.Unmarshal(m.Attributes, &e.Attributes); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// FromDomain populates the persistence model from a domain Entity.
func (m *EntityModel) FromDomain(e *integration.Entity) error {
	attrs := e.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	payload, err := json.Marshal(attrs)
	if err != nil {
		return err
	}

	m.ID = e.ID
	m.Type = e.Type
	m.StoreScope = e.StoreScope
	m.UniqueID = e.UniqueID
	m.ParentID = e.ParentID
	m.Attributes = datatypes.JSON(payload)
	m.CreatedAt = e.CreatedAt
	m.UpdatedAt = e.UpdatedAt
	return nil
}

// EntityLinkModel records the remote internal id an entity carries on
// one node. An entity has at most one link per node; the remote id is
// unique per (node, type) so lookups by remote id resolve to one row.
type EntityLinkModel struct {
	ID        uuid.UUID              `gorm:"type:uuid;primary_key"`
	Node      string                 `gorm:"type:varchar(100);not null;index:idx_entity_links_pair,priority:1,unique;index:idx_entity_links_local,priority:1"`
	EntityID  uuid.UUID              `gorm:"type:uuid;not null;index:idx_entity_links_pair,priority:2,unique"`
	Type      integration.EntityType `gorm:"type:varchar(30);not null;index:idx_entity_links_local,priority:2"`
	LocalID   int64                  `gorm:"not null;index:idx_entity_links_local,priority:3"`
	CreatedAt time.Time              `gorm:"not null"`
	UpdatedAt time.Time              `gorm:"not null"`
}

// TableName returns the table name for GORM
func (EntityLinkModel) TableName() string {
	return "entity_links"
}

// EntityCommentModel is a free-form note attached to an entity, used
// for audit trails written during reconciliation.
type EntityCommentModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	EntityID  uuid.UUID `gorm:"type:uuid;not null;index:idx_entity_comments_entity"`
	Comment   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (EntityCommentModel) TableName() string {
	return "entity_comments"
}

// CheckpointModel stores the last committed retrieval boundary per
// (node, entity type).
type CheckpointModel struct {
	ID        uuid.UUID              `gorm:"type:uuid;primary_key"`
	Node      string                 `gorm:"type:varchar(100);not null;index:idx_checkpoints_key,priority:1,unique"`
	Type      integration.EntityType `gorm:"type:varchar(30);not null;index:idx_checkpoints_key,priority:2,unique"`
	Boundary  time.Time              `gorm:"not null"`
	UpdatedAt time.Time              `gorm:"not null"`
}

// TableName returns the table name for GORM
func (CheckpointModel) TableName() string {
	return "sync_checkpoints"
}
