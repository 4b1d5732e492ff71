package devices

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/frostlink/syncd/internal/server/models"
)

// InMemoryRepository is a map-backed Repository for tests and local runs.
type InMemoryRepository struct {
	mu      sync.Mutex
	devices map[string]map[string]models.Device // userID -> deviceID -> device
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{devices: make(map[string]map[string]models.Device)}
}

func (r *InMemoryRepository) Upsert(ctx context.Context, d *models.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.devices[d.UserID] == nil {
		r.devices[d.UserID] = make(map[string]models.Device)
	}
	stored := *d
	stored.LastSeenAt = time.Now()
	r.devices[d.UserID][d.ID] = stored
	return nil
}

func (r *InMemoryRepository) ListByUser(ctx context.Context, userID string) ([]models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]models.Device, 0, len(r.devices[userID]))
	for _, d := range r.devices[userID] {
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *InMemoryRepository) DeleteUser(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.devices, userID)
	return nil
}
