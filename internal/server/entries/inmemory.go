package entries

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/frostlink/syncd/internal/common"
	"github.com/frostlink/syncd/internal/server/checksum"
	"github.com/frostlink/syncd/internal/server/models"
)

// DeviceIndex is the device-position lookup the purge guard consults, the
// in-memory counterpart of the devices-table subquery in the Postgres
// implementation.
type DeviceIndex interface {
	ListByUser(ctx context.Context, userID string) ([]models.Device, error)
}

// InMemoryRepository is a map-backed Repository with the same contract as the
// Postgres implementation. Used in tests and for local development without a
// database.
type InMemoryRepository struct {
	mu      sync.Mutex
	entries map[string]map[string]models.Entry // userID -> entryID -> entry
	state   map[string]models.SyncState
	devices DeviceIndex
}

func NewInMemoryRepository(devices DeviceIndex) *InMemoryRepository {
	return &InMemoryRepository{
		entries: make(map[string]map[string]models.Entry),
		state:   make(map[string]models.SyncState),
		devices: devices,
	}
}

func (r *InMemoryRepository) snapshot(userID string) []models.Entry {
	all := make([]models.Entry, 0, len(r.entries[userID]))
	for _, e := range r.entries[userID] {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}

func (r *InMemoryRepository) GetAll(ctx context.Context, userID string) ([]models.Entry, int64, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := r.snapshot(userID)
	st, ok := r.state[userID]
	if !ok {
		return all, 0, checksum.Compute(nil), nil
	}
	return all, st.Revision, st.Checksum, nil
}

func (r *InMemoryRepository) GetState(ctx context.Context, userID string) (int64, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.state[userID]
	if !ok {
		return 0, checksum.Compute(nil), nil
	}
	return st.Revision, st.Checksum, nil
}

func (r *InMemoryRepository) SelectUpdated(ctx context.Context, userID string, minRevision int64) ([]models.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []models.Entry
	for _, e := range r.snapshot(userID) {
		if e.Revision > minRevision {
			result = append(result, e)
		}
	}
	return result, nil
}

func (r *InMemoryRepository) ApplyWrites(ctx context.Context, userID string, writes []models.Entry, expectedRevision int64) (int64, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.state[userID]
	if st.Revision != expectedRevision {
		return 0, "", common.ErrRevisionConflict
	}

	if r.entries[userID] == nil {
		r.entries[userID] = make(map[string]models.Entry)
	}

	rev := st.Revision
	for _, e := range writes {
		rev++
		e.UserID = userID
		e.Revision = rev
		r.entries[userID][e.ID] = e
	}

	sum := checksum.Compute(r.snapshot(userID))
	r.state[userID] = models.SyncState{UserID: userID, Revision: rev, Checksum: sum}
	return rev, sum, nil
}

func (r *InMemoryRepository) PurgeTombstones(ctx context.Context, olderThan time.Time, graceRevisions int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var purged int64
	for userID, byID := range r.entries {
		devs, err := r.devices.ListByUser(ctx, userID)
		if err != nil {
			return purged, err
		}
		for id, e := range byID {
			if !e.Deleted || !e.UpdatedAt.Before(olderThan) {
				continue
			}
			if deviceLagging(devs, e.Revision+graceRevisions) {
				continue
			}
			delete(byID, id)
			purged++
		}
	}
	return purged, nil
}

func deviceLagging(devs []models.Device, threshold int64) bool {
	for _, d := range devs {
		if d.LastKnownRevision < threshold {
			return true
		}
	}
	return false
}

func (r *InMemoryRepository) DeleteUser(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, userID)
	delete(r.state, userID)
	return nil
}
