package eav

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/magebridge/connector/internal/domain/integration"
)

var (
	// ErrUnknownEntityType indicates an entity type code with no metadata row
	ErrUnknownEntityType = errors.New("eav: unknown entity type")
)

// EntityTypeMeta describes one EAV entity type: its numeric id and the
// primary entity table all side tables hang off.
type EntityTypeMeta struct {
	ID          int64  `gorm:"column:entity_type_id"`
	Code        string `gorm:"column:entity_type_code"`
	EntityTable string `gorm:"column:entity_table"`
}

// ValueTable returns the side table holding an attribute's values:
// the explicit backend table when set, else the backend-type convention
// {entityTable}_{backendType}. Integer-backed option attributes resolve
// to the int table; their values are option ids translated on read.
func (m *EntityTypeMeta) ValueTable(a *Attribute) string {
	if a.BackendTable != "" {
		return a.BackendTable
	}
	return fmt.Sprintf("%s_%s", m.EntityTable, a.BackendType)
}

// Attribute is the metadata of one (entity type, attribute code) pair.
// Immutable after first load.
type Attribute struct {
	ID            int64  `gorm:"column:attribute_id"`
	EntityTypeID  int64  `gorm:"column:entity_type_id"`
	Code          string `gorm:"column:attribute_code"`
	BackendType   string `gorm:"column:backend_type"`
	BackendTable  string `gorm:"column:backend_table"`
	FrontendInput string `gorm:"column:frontend_input"`
}

// IsStatic reports whether the attribute lives as a column on the
// primary entity row rather than in a side table.
func (a *Attribute) IsStatic() bool {
	return a.BackendType == "static"
}

// IsOption reports whether the attribute stores an internal option id
// that must be translated to its label through the option table.
func (a *Attribute) IsOption() bool {
	if a.BackendType != "int" {
		return false
	}
	return a.FrontendInput == "select" || a.FrontendInput == "multiselect"
}

// MetadataCache memoizes entity-type and attribute metadata for the
// lifetime of the Store that owns it. It is an explicit object rather
// than package state so independent stores (and tests) never share
// entries. Attribute entries are keyed by numeric entity-type id; the
// type code must be resolved first.
type MetadataCache struct {
	mu    gosync.RWMutex
	types map[string]*EntityTypeMeta
	attrs map[int64]map[string]*Attribute
}

// NewMetadataCache creates an empty metadata cache
func NewMetadataCache() *MetadataCache {
	return &MetadataCache{
		types: make(map[string]*EntityTypeMeta),
		attrs: make(map[int64]map[string]*Attribute),
	}
}

func (c *MetadataCache) entityType(code string) (*EntityTypeMeta, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.types[code]
	return m, ok
}

func (c *MetadataCache) putEntityType(m *EntityTypeMeta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.types[m.Code] = m
}

func (c *MetadataCache) attribute(typeID int64, code string) (*Attribute, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	byCode, ok := c.attrs[typeID]
	if !ok {
		return nil, false
	}
	a, ok := byCode[code]
	return a, ok
}

func (c *MetadataCache) putAttribute(a *Attribute) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byCode, ok := c.attrs[a.EntityTypeID]
	if !ok {
		byCode = make(map[string]*Attribute)
		c.attrs[a.EntityTypeID] = byCode
	}
	byCode[a.Code] = a
}

// resolveEntityType loads entity-type metadata, serving from cache after
// the first hit.
func (s *Store) resolveEntityType(ctx context.Context, typeCode string) (*EntityTypeMeta, error) {
	if meta, ok := s.cache.entityType(typeCode); ok {
		return meta, nil
	}

	var meta EntityTypeMeta
	err := s.db.WithContext(ctx).
		Table("eav_entity_type").
		Where("entity_type_code = ?", typeCode).
		Take(&meta).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownEntityType, typeCode)
		}
		return nil, err
	}

	s.cache.putEntityType(&meta)
	return &meta, nil
}

// resolveAttributes resolves attribute codes to metadata for one entity
// type. Codes without metadata are handled per the store's policy:
// strict fails the call, lenient logs and drops them.
func (s *Store) resolveAttributes(ctx context.Context, meta *EntityTypeMeta, codes []string) (map[string]*Attribute, error) {
	resolved := make(map[string]*Attribute, len(codes))
	var missing []string
	for _, code := range codes {
		if a, ok := s.cache.attribute(meta.ID, code); ok {
			resolved[code] = a
		} else {
			missing = append(missing, code)
		}
	}

	if len(missing) > 0 {
		var rows []Attribute
		err := s.db.WithContext(ctx).
			Table("eav_attribute").
			Where("entity_type_id = ? AND attribute_code IN ?", meta.ID, missing).
			Find(&rows).Error
		if err != nil {
			return nil, err
		}
		for i := range rows {
			a := rows[i]
			s.cache.putAttribute(&a)
			resolved[a.Code] = &a
		}
	}

	for _, code := range codes {
		if _, ok := resolved[code]; ok {
			continue
		}
		if s.policy == PolicyStrict {
			return nil, fmt.Errorf("%w: %s.%s", integration.ErrUnknownAttribute, meta.Code, code)
		}
		s.logger.Warn("Skipping attribute without metadata",
			zap.String("entity_type", meta.Code),
			zap.String("attribute_code", code),
		)
	}

	return resolved, nil
}
