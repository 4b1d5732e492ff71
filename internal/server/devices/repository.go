// Package devices tracks each client device's last successful sync position.
// Diagnostic data, plus the conservative input to tombstone purging.
package devices

import (
	"context"

	"github.com/frostlink/syncd/internal/server/models"
)

type Repository interface {
	// Upsert records the device's position after a successful sync.
	Upsert(ctx context.Context, d *models.Device) error

	// ListByUser returns the user's known devices ordered by id.
	ListByUser(ctx context.Context, userID string) ([]models.Device, error)

	// DeleteUser removes all of the user's device rows.
	DeleteUser(ctx context.Context, userID string) error
}
