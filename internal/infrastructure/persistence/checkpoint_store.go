package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/magebridge/connector/internal/domain/integration"
	"github.com/magebridge/connector/internal/infrastructure/persistence/models"
)

// GormCheckpointStore implements integration.CheckpointStore using GORM.
// One connector process owns a node's checkpoints; concurrent writers
// for the same (node, type) are not supported.
type GormCheckpointStore struct {
	db      *gorm.DB
	overlap time.Duration
	logger  *zap.Logger
}

// NewGormCheckpointStore creates a checkpoint store. A non-positive
// overlap falls back to the default.
func NewGormCheckpointStore(db *gorm.DB, overlap time.Duration, logger *zap.Logger) *GormCheckpointStore {
	if overlap <= 0 {
		overlap = integration.DefaultOverlap
	}
	return &GormCheckpointStore{
		db:      db,
		overlap: overlap,
		logger:  logger.Named("checkpoint"),
	}
}

var _ integration.CheckpointStore = (*GormCheckpointStore)(nil)

// WindowStart returns the effective lower bound for the next retrieval
// pass: the last committed boundary minus the overlap. A zero time
// means no checkpoint exists yet.
func (s *GormCheckpointStore) WindowStart(ctx context.Context, node string, t integration.EntityType) (time.Time, error) {
	var model models.CheckpointModel
	err := s.db.WithContext(ctx).
		Where("node = ? AND type = ?", node, t).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return model.Boundary.Add(-s.overlap), nil
}

// Commit records a new boundary after a pass fully completes.
// Boundaries older than the stored one are ignored.
func (s *GormCheckpointStore) Commit(ctx context.Context, node string, t integration.EntityType, boundary time.Time) error {
	now := time.Now().UTC()

	var model models.CheckpointModel
	err := s.db.WithContext(ctx).
		Where("node = ? AND type = ?", node, t).
		First(&model).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		model = models.CheckpointModel{
			ID:        uuid.New(),
			Node:      node,
			Type:      t,
			Boundary:  boundary.UTC(),
			UpdatedAt: now,
		}
		return s.db.WithContext(ctx).Create(&model).Error
	}

	if !boundary.After(model.Boundary) {
		s.logger.Debug("Ignoring stale checkpoint boundary",
			zap.String("node", node),
			zap.String("entity_type", t.String()),
			zap.Time("stored", model.Boundary),
			zap.Time("offered", boundary),
		)
		return nil
	}

	return s.db.WithContext(ctx).
		Model(&models.CheckpointModel{}).
		Where("id = ?", model.ID).
		Updates(map[string]any{
			"boundary":   boundary.UTC(),
			"updated_at": now,
		}).Error
}
