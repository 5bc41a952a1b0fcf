package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/magebridge/connector/internal/domain/integration"
)

// ---------------------------------------------------------------------------
// FakeEntityStore
// ---------------------------------------------------------------------------

type linkKey struct {
	node   string
	entity uuid.UUID
}

// FakeEntityStore is an in-memory integration.EntityStore. Transactions
// work on a cloned state that replaces the parent state on commit, so
// rollback semantics hold without a real database.
type FakeEntityStore struct {
	mu       sync.Mutex
	entities map[uuid.UUID]integration.Entity
	links    map[linkKey]int64
	comments map[uuid.UUID][]string
	failures map[string]error
}

// NewFakeEntityStore creates an empty in-memory entity store.
func NewFakeEntityStore() *FakeEntityStore {
	return &FakeEntityStore{
		entities: make(map[uuid.UUID]integration.Entity),
		links:    make(map[linkKey]int64),
		comments: make(map[uuid.UUID][]string),
		failures: make(map[string]error),
	}
}

var _ integration.EntityStore = (*FakeEntityStore)(nil)

// FailWith makes the named operation return err until cleared.
func (s *FakeEntityStore) FailWith(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

// ClearFailures removes all injected failures.
func (s *FakeEntityStore) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = make(map[string]error)
}

func (s *FakeEntityStore) failure(op string) error {
	return s.failures[op]
}

func copyEntity(e integration.Entity) integration.Entity {
	attrs := make(map[string]any, len(e.Attributes))
	for k, v := range e.Attributes {
		attrs[k] = v
	}
	e.Attributes = attrs
	if e.ParentID != nil {
		parent := *e.ParentID
		e.ParentID = &parent
	}
	return e
}

// LoadEntityLocal finds the entity linked to the given remote local id.
func (s *FakeEntityStore) LoadEntityLocal(ctx context.Context, node string, t integration.EntityType, localID int64) (*integration.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("LoadEntityLocal"); err != nil {
		return nil, err
	}
	for key, id := range s.links {
		if key.node != node || id != localID {
			continue
		}
		e, ok := s.entities[key.entity]
		if !ok || e.Type != t {
			continue
		}
		found := copyEntity(e)
		return &found, nil
	}
	return nil, fmt.Errorf("%w: %s %s local id %d", integration.ErrNotFound, node, t, localID)
}

// LoadEntity finds an entity by its business unique id within a scope.
func (s *FakeEntityStore) LoadEntity(ctx context.Context, t integration.EntityType, storeScope int, uniqueID string) (*integration.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("LoadEntity"); err != nil {
		return nil, err
	}
	for _, e := range s.entities {
		if e.Type == t && e.StoreScope == storeScope && e.UniqueID == uniqueID {
			found := copyEntity(e)
			return &found, nil
		}
	}
	return nil, fmt.Errorf("%w: %s %q in scope %d", integration.ErrNotFound, t, uniqueID, storeScope)
}

// LoadChildren returns the child entities of the given type under a parent.
func (s *FakeEntityStore) LoadChildren(ctx context.Context, parent *integration.Entity, t integration.EntityType) ([]integration.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("LoadChildren"); err != nil {
		return nil, err
	}
	var children []integration.Entity
	for _, e := range s.entities {
		if e.Type == t && e.ParentID != nil && *e.ParentID == parent.ID {
			children = append(children, copyEntity(e))
		}
	}
	return children, nil
}

// CreateEntity persists a new entity.
func (s *FakeEntityStore) CreateEntity(ctx context.Context, e *integration.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("CreateEntity"); err != nil {
		return err
	}
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
	s.entities[e.ID] = copyEntity(*e)
	return nil
}

// UpdateEntity persists attribute changes of an existing entity.
func (s *FakeEntityStore) UpdateEntity(ctx context.Context, e *integration.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("UpdateEntity"); err != nil {
		return err
	}
	if _, ok := s.entities[e.ID]; !ok {
		return fmt.Errorf("%w: %s entity %s", integration.ErrNotFound, e.Type, e.ID)
	}
	e.UpdatedAt = time.Now().UTC()
	s.entities[e.ID] = copyEntity(*e)
	return nil
}

// LinkEntity records the node's local id for an entity, replacing any
// existing link for the pair.
func (s *FakeEntityStore) LinkEntity(ctx context.Context, node string, e *integration.Entity, localID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("LinkEntity"); err != nil {
		return err
	}
	s.links[linkKey{node: node, entity: e.ID}] = localID
	return nil
}

// UnlinkEntity removes the node's link for an entity.
func (s *FakeEntityStore) UnlinkEntity(ctx context.Context, node string, e *integration.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("UnlinkEntity"); err != nil {
		return err
	}
	delete(s.links, linkKey{node: node, entity: e.ID})
	return nil
}

// LocalID returns the node's local id for an entity.
func (s *FakeEntityStore) LocalID(ctx context.Context, node string, e *integration.Entity) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("LocalID"); err != nil {
		return 0, false, err
	}
	id, ok := s.links[linkKey{node: node, entity: e.ID}]
	return id, ok, nil
}

// CreateEntityComment attaches a free-form comment to an entity.
func (s *FakeEntityStore) CreateEntityComment(ctx context.Context, e *integration.Entity, comment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("CreateEntityComment"); err != nil {
		return err
	}
	s.comments[e.ID] = append(s.comments[e.ID], comment)
	return nil
}

// Begin opens a transaction working on a clone of the current state.
func (s *FakeEntityStore) Begin(ctx context.Context) (integration.EntityTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("Begin"); err != nil {
		return nil, err
	}

	clone := NewFakeEntityStore()
	clone.failures = s.failures
	for id, e := range s.entities {
		clone.entities[id] = copyEntity(e)
	}
	for k, v := range s.links {
		clone.links[k] = v
	}
	for id, cs := range s.comments {
		clone.comments[id] = append([]string(nil), cs...)
	}
	return &fakeEntityTx{FakeEntityStore: clone, parent: s}, nil
}

type fakeEntityTx struct {
	*FakeEntityStore
	parent *FakeEntityStore
	done   bool
}

var _ integration.EntityTx = (*fakeEntityTx)(nil)

// Begin on an open transaction returns the transaction itself.
func (t *fakeEntityTx) Begin(ctx context.Context) (integration.EntityTx, error) {
	return t, nil
}

// Commit replaces the parent state with the transaction's state.
func (t *fakeEntityTx) Commit() error {
	if t.done {
		return fmt.Errorf("transaction already closed")
	}
	t.done = true
	t.parent.mu.Lock()
	defer t.parent.mu.Unlock()
	t.parent.entities = t.entities
	t.parent.links = t.links
	t.parent.comments = t.comments
	return nil
}

// Rollback discards the transaction's state.
func (t *fakeEntityTx) Rollback() error {
	t.done = true
	return nil
}

// Comments returns the comments recorded for an entity.
func (s *FakeEntityStore) Comments(e *integration.Entity) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.comments[e.ID]...)
}

// EntityCount returns the number of stored entities of a type.
func (s *FakeEntityStore) EntityCount(t integration.EntityType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entities {
		if e.Type == t {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// FakeCheckpointStore
// ---------------------------------------------------------------------------

type checkpointKey struct {
	node string
	t    integration.EntityType
}

// FakeCheckpointStore is an in-memory integration.CheckpointStore.
type FakeCheckpointStore struct {
	mu         sync.Mutex
	overlap    time.Duration
	boundaries map[checkpointKey]time.Time
	commitErr  error
}

// NewFakeCheckpointStore creates a checkpoint store with the given overlap.
func NewFakeCheckpointStore(overlap time.Duration) *FakeCheckpointStore {
	if overlap <= 0 {
		overlap = integration.DefaultOverlap
	}
	return &FakeCheckpointStore{
		overlap:    overlap,
		boundaries: make(map[checkpointKey]time.Time),
	}
}

var _ integration.CheckpointStore = (*FakeCheckpointStore)(nil)

// FailCommitWith makes Commit return err until cleared with nil.
func (s *FakeCheckpointStore) FailCommitWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitErr = err
}

// WindowStart returns the last boundary minus the overlap, zero when absent.
func (s *FakeCheckpointStore) WindowStart(ctx context.Context, node string, t integration.EntityType) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	boundary, ok := s.boundaries[checkpointKey{node: node, t: t}]
	if !ok {
		return time.Time{}, nil
	}
	return boundary.Add(-s.overlap), nil
}

// Commit records a boundary, ignoring ones older than the stored value.
func (s *FakeCheckpointStore) Commit(ctx context.Context, node string, t integration.EntityType, boundary time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		return s.commitErr
	}
	key := checkpointKey{node: node, t: t}
	if stored, ok := s.boundaries[key]; ok && !boundary.After(stored) {
		return nil
	}
	s.boundaries[key] = boundary
	return nil
}

// Boundary returns the stored boundary for a (node, type), zero when absent.
func (s *FakeCheckpointStore) Boundary(node string, t integration.EntityType) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundaries[checkpointKey{node: node, t: t}]
}
