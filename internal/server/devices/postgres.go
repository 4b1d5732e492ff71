package devices

import (
	"context"
	"fmt"

	"github.com/frostlink/syncd/internal/dbx"
	"github.com/frostlink/syncd/internal/server/models"
)

// PostgresRepository implements device bookkeeping over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Upsert(ctx context.Context, d *models.Device) error {
	query := `
		INSERT INTO devices (user_id, id, last_known_revision, last_known_checksum, last_seen_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (user_id, id)
		DO UPDATE SET
			last_known_revision = EXCLUDED.last_known_revision,
			last_known_checksum = EXCLUDED.last_known_checksum,
			last_seen_at = now();
	`
	if _, err := r.db.ExecContext(ctx, query, d.UserID, d.ID, d.LastKnownRevision, d.LastKnownChecksum); err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]models.Device, error) {
	query := `
		SELECT id, last_known_revision, last_known_checksum, last_seen_at
		FROM devices WHERE user_id = $1 ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select devices: %w", err)
	}
	defer rows.Close()

	var result []models.Device
	for rows.Next() {
		var d models.Device
		if err := rows.Scan(&d.ID, &d.LastKnownRevision, &d.LastKnownChecksum, &d.LastSeenAt); err != nil {
			return nil, err
		}
		d.UserID = userID
		result = append(result, d)
	}
	return result, rows.Err()
}

func (r *PostgresRepository) DeleteUser(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete devices: %w", err)
	}
	return nil
}
