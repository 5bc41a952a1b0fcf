package eav

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Policy controls how attribute codes that resolve to no metadata are
// handled. The policy is fixed at construction; WithPolicy derives a
// store with a different one without reconnecting.
type Policy int

const (
	// PolicyStrict fails the whole call on an unknown attribute code
	PolicyStrict Policy = iota
	// PolicyLenient skips unknown codes with a warning
	PolicyLenient
)

// String returns the string representation of Policy
func (p Policy) String() string {
	if p == PolicyLenient {
		return "lenient"
	}
	return "strict"
}

// Record is one entity read from the attribute store: its internal id
// and the merged attribute values keyed by code.
type Record struct {
	EntityID int64
	Values   map[string]any
}

// Store is the attribute-oriented access layer over a node's database.
// It resolves attribute metadata once per (entity type, code) through
// its own MetadataCache and reads/writes the per-backend-type side
// tables directly.
type Store struct {
	db     *gorm.DB
	cache  *MetadataCache
	logger *zap.Logger
	policy Policy
}

// NewStore creates an attribute store over db. The cache is owned by
// the caller so several stores may share one warmed cache.
func NewStore(db *gorm.DB, cache *MetadataCache, logger *zap.Logger, policy Policy) *Store {
	if cache == nil {
		cache = NewMetadataCache()
	}
	return &Store{
		db:     db,
		cache:  cache,
		logger: logger.Named("eav"),
		policy: policy,
	}
}

// WithPolicy returns a store sharing the same connection and cache but
// applying a different unknown-attribute policy.
func (s *Store) WithPolicy(policy Policy) *Store {
	clone := *s
	clone.policy = policy
	return &clone
}

// valueRow is a row of one per-backend-type side table. Values are
// scanned as strings; the remote schema stores every backend type in a
// text-compatible column.
type valueRow struct {
	EntityID    int64  `gorm:"column:entity_id"`
	AttributeID int64  `gorm:"column:attribute_id"`
	Value       string `gorm:"column:value"`
}

// LoadEntities reads the requested attributes for the given entity ids
// at a store scope. A nil/empty ids slice loads all entities of the
// type; callers learn the resulting id set from the returned records.
// Side-table values are merged in two passes with store-scope values
// overriding the store-0 defaults; option-coded values are translated
// id to label, falling back to the default-scope label.
func (s *Store) LoadEntities(ctx context.Context, typeCode string, ids []int64, storeID int, attrCodes []string) ([]Record, error) {
	meta, err := s.resolveEntityType(ctx, typeCode)
	if err != nil {
		return nil, err
	}
	attrs, err := s.resolveAttributes(ctx, meta, attrCodes)
	if err != nil {
		return nil, err
	}

	records, index, err := s.loadPrimaryRows(ctx, meta, ids, attrs)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return records, nil
	}

	loadedIDs := make([]int64, len(records))
	for i := range records {
		loadedIDs[i] = records[i].EntityID
	}

	// Group non-static attributes by resolved side table.
	groups := make(map[string][]*Attribute)
	byID := make(map[int64]*Attribute)
	for _, a := range attrs {
		if a.IsStatic() {
			continue
		}
		table := meta.ValueTable(a)
		groups[table] = append(groups[table], a)
		byID[a.ID] = a
	}

	for table, group := range groups {
		attrIDs := make([]int64, len(group))
		for i, a := range group {
			attrIDs[i] = a.ID
		}
		// Default scope first, then the requested scope overriding it.
		scopes := []int{0}
		if storeID != 0 {
			scopes = append(scopes, storeID)
		}
		for _, scope := range scopes {
			var rows []valueRow
			err := s.db.WithContext(ctx).
				Table(table).
				Select("entity_id, attribute_id, value").
				Where("entity_id IN ? AND attribute_id IN ? AND store_id = ?", loadedIDs, attrIDs, scope).
				Find(&rows).Error
			if err != nil {
				return nil, err
			}
			for _, row := range rows {
				rec, ok := index[row.EntityID]
				if !ok {
					continue
				}
				rec.Values[byID[row.AttributeID].Code] = row.Value
			}
		}
	}

	if err := s.translateOptions(ctx, records, attrs, storeID); err != nil {
		return nil, err
	}

	return records, nil
}

// loadPrimaryRows fetches the primary entity rows and seeds records with
// the requested static attribute columns.
func (s *Store) loadPrimaryRows(ctx context.Context, meta *EntityTypeMeta, ids []int64, attrs map[string]*Attribute) ([]Record, map[int64]*Record, error) {
	var rows []map[string]any
	q := s.db.WithContext(ctx).Table(meta.EntityTable)
	if len(ids) > 0 {
		q = q.Where("entity_id IN ?", ids)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, nil, err
	}

	records := make([]Record, 0, len(rows))
	index := make(map[int64]*Record, len(rows))
	for _, row := range rows {
		entityID, ok := toInt64(row["entity_id"])
		if !ok {
			return nil, nil, fmt.Errorf("eav: %s row without usable entity_id", meta.EntityTable)
		}
		rec := Record{EntityID: entityID, Values: make(map[string]any)}
		for code, a := range attrs {
			if !a.IsStatic() {
				continue
			}
			if v, present := row[code]; present {
				rec.Values[code] = v
			}
		}
		records = append(records, rec)
		index[entityID] = &records[len(records)-1]
	}
	return records, index, nil
}

// optionLabelRow joins the option table with its store-scoped labels
type optionLabelRow struct {
	AttributeID int64  `gorm:"column:attribute_id"`
	OptionID    int64  `gorm:"column:option_id"`
	StoreID     int    `gorm:"column:store_id"`
	Value       string `gorm:"column:value"`
}

// translateOptions rewrites option-coded raw values into their labels.
// Store-scope labels win over store-0 defaults; values with no matching
// option are logged and passed through unchanged rather than failing
// the read.
func (s *Store) translateOptions(ctx context.Context, records []Record, attrs map[string]*Attribute, storeID int) error {
	var optionAttrIDs []int64
	optionCodes := make(map[string]*Attribute)
	for code, a := range attrs {
		if a.IsOption() {
			optionAttrIDs = append(optionAttrIDs, a.ID)
			optionCodes[code] = a
		}
	}
	if len(optionAttrIDs) == 0 {
		return nil
	}

	var rows []optionLabelRow
	err := s.db.WithContext(ctx).
		Table("eav_attribute_option_value AS v").
		Select("o.attribute_id, v.option_id, v.store_id, v.value").
		Joins("JOIN eav_attribute_option o ON o.option_id = v.option_id").
		Where("o.attribute_id IN ? AND v.store_id IN ?", optionAttrIDs, []int{0, storeID}).
		Find(&rows).Error
	if err != nil {
		return err
	}

	// labels[attributeID][optionID], store scope overriding defaults
	labels := make(map[int64]map[int64]string)
	for _, pass := range []int{0, storeID} {
		for _, row := range rows {
			if row.StoreID != pass {
				continue
			}
			byOption, ok := labels[row.AttributeID]
			if !ok {
				byOption = make(map[int64]string)
				labels[row.AttributeID] = byOption
			}
			byOption[row.OptionID] = row.Value
		}
		if storeID == 0 {
			break
		}
	}

	for i := range records {
		rec := &records[i]
		for code, a := range optionCodes {
			raw, present := rec.Values[code]
			if !present {
				continue
			}
			optionID, ok := toInt64(raw)
			if !ok {
				s.logger.Warn("Option value is not an option id, passing through",
					zap.String("attribute_code", code),
					zap.Any("value", raw),
				)
				continue
			}
			label, ok := labels[a.ID][optionID]
			if !ok {
				s.logger.Warn("No option label for value, passing through",
					zap.String("attribute_code", code),
					zap.Int64("option_id", optionID),
					zap.Int("store_id", storeID),
				)
				continue
			}
			rec.Values[code] = label
		}
	}
	return nil
}

// UpdateEntity writes attribute values for one entity at a store scope
// inside a single transaction; any failure rolls back every value in
// the call. Writing a non-static attribute at a store scope above 0
// first materializes a store-0 default row when none exists, then
// upserts the store-scoped row. The return reports whether any row
// actually changed.
func (s *Store) UpdateEntity(ctx context.Context, typeCode string, entityID int64, storeID int, values map[string]any) (bool, error) {
	meta, err := s.resolveEntityType(ctx, typeCode)
	if err != nil {
		return false, err
	}
	codes := make([]string, 0, len(values))
	for code := range values {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	attrs, err := s.resolveAttributes(ctx, meta, codes)
	if err != nil {
		return false, err
	}

	changed := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, code := range codes {
			a, ok := attrs[code]
			if !ok {
				continue // dropped by lenient policy
			}
			val := values[code]

			if a.IsStatic() {
				res := tx.Table(meta.EntityTable).
					Where("entity_id = ?", entityID).
					Update(a.Code, val)
				if res.Error != nil {
					return res.Error
				}
				changed = changed || res.RowsAffected > 0
				continue
			}

			table := meta.ValueTable(a)
			if storeID > 0 {
				if err := s.ensureDefaultRow(tx, table, a, entityID, val); err != nil {
					return err
				}
			}
			rowChanged, err := s.upsertValue(tx, table, a, entityID, storeID, val)
			if err != nil {
				return err
			}
			changed = changed || rowChanged
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// ensureDefaultRow materializes a store-0 row with the same value when
// none exists, so a default is always present beneath store overrides.
func (s *Store) ensureDefaultRow(tx *gorm.DB, table string, a *Attribute, entityID int64, val any) error {
	var count int64
	err := tx.Table(table).
		Where("entity_id = ? AND attribute_id = ? AND store_id = 0", entityID, a.ID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	return tx.Table(table).Create(map[string]any{
		"entity_type_id": a.EntityTypeID,
		"attribute_id":   a.ID,
		"store_id":       0,
		"entity_id":      entityID,
		"value":          val,
	}).Error
}

// upsertValue updates the row for the exact (entity, attribute, store)
// key when it exists, else inserts it.
func (s *Store) upsertValue(tx *gorm.DB, table string, a *Attribute, entityID int64, storeID int, val any) (bool, error) {
	var count int64
	err := tx.Table(table).
		Where("entity_id = ? AND attribute_id = ? AND store_id = ?", entityID, a.ID, storeID).
		Count(&count).Error
	if err != nil {
		return false, err
	}

	if count > 0 {
		res := tx.Table(table).
			Where("entity_id = ? AND attribute_id = ? AND store_id = ?", entityID, a.ID, storeID).
			Update("value", val)
		if res.Error != nil {
			return false, res.Error
		}
		return res.RowsAffected > 0, nil
	}

	err = tx.Table(table).Create(map[string]any{
		"entity_type_id": a.EntityTypeID,
		"attribute_id":   a.ID,
		"store_id":       storeID,
		"entity_id":      entityID,
		"value":          val,
	}).Error
	if err != nil {
		return false, err
	}
	return true, nil
}

// toInt64 coerces the value representations the SQL drivers hand back
// for integer columns.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case uint64:
		return int64(n), true
	case uint32:
		return int64(n), true
	case []byte:
		parsed, err := strconv.ParseInt(string(n), 10, 64)
		return parsed, err == nil
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}
