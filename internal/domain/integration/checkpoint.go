package integration

import (
	"context"
	"time"
)

// RemoteTimeLayout is the timestamp format expected by the remote API's
// updated_at filters.
const RemoteTimeLayout = "2006-01-02 15:04:05"

// DefaultOverlap is the trailing slice of already-seen time re-covered
// by every retrieval pass. It absorbs clock skew and commit-visibility
// lag between the remote system and the checkpoint store, at the cost
// of reprocessing recently-seen records; reconciliation is idempotent
// so the reprocessing is harmless.
const DefaultOverlap = 5 * time.Minute

// CheckpointStore tracks the last successful retrieval boundary per
// (node, entity type). Boundaries are monotonically non-decreasing.
type CheckpointStore interface {
	// WindowStart returns the effective lower bound for the next
	// retrieval pass: the last committed boundary minus the overlap.
	// A zero time means no checkpoint exists yet and the pass covers
	// all history.
	WindowStart(ctx context.Context, node string, t EntityType) (time.Time, error)

	// Commit records a new boundary after a pass fully completes.
	// Boundaries older than the stored one are ignored.
	Commit(ctx context.Context, node string, t EntityType, boundary time.Time) error
}

// FormatRemoteTime renders a window boundary for a remote query,
// shifting it by the node's per-entity-type timezone delta.
func FormatRemoteTime(ts time.Time, delta time.Duration) string {
	return ts.Add(delta).Format(RemoteTimeLayout)
}
