// Package entries provides the revisioned, per-user entry store backing the
// reconciliation engine.
package entries

import (
	"context"
	"time"

	"github.com/frostlink/syncd/internal/server/models"
)

// Repository is the durable entry store. Implementations must apply write
// batches atomically: either every write in a batch commits together with the
// aggregate revision/checksum update, or none do. ApplyWrites enforces
// optimistic concurrency and returns common.ErrRevisionConflict when the
// caller's expected base revision no longer matches the stored one.
type Repository interface {
	// GetAll returns the user's full entry set (tombstones included, ordered
	// by id) with the current aggregate revision and checksum.
	GetAll(ctx context.Context, userID string) ([]models.Entry, int64, string, error)

	// GetState returns just the aggregate (revision, checksum) pair. Cheap:
	// no entry payloads are read.
	GetState(ctx context.Context, userID string) (int64, string, error)

	// SelectUpdated returns entries with revision > minRevision, ordered by
	// id. Tombstones are included so deletions propagate.
	SelectUpdated(ctx context.Context, userID string, minRevision int64) ([]models.Entry, error)

	// ApplyWrites upserts the batch, assigning each write the next revision,
	// and returns the new aggregate revision and checksum.
	ApplyWrites(ctx context.Context, userID string, writes []models.Entry, expectedRevision int64) (int64, string, error)

	// PurgeTombstones physically removes tombstones older than the cutoff,
	// unless some device's last known revision predates the tombstone's
	// revision plus the grace margin. Returns the number of rows removed.
	PurgeTombstones(ctx context.Context, olderThan time.Time, graceRevisions int64) (int64, error)

	// DeleteUser removes the user's entries and sync state. Device rows
	// belong to the devices repository.
	DeleteUser(ctx context.Context, userID string) error
}
