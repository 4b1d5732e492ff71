package entries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/frostlink/syncd/internal/common"
	"github.com/frostlink/syncd/internal/dbx"
	"github.com/frostlink/syncd/internal/server/checksum"
	"github.com/frostlink/syncd/internal/server/models"
)

// PostgresRepository implements Repository over database/sql with the pgx
// stdlib driver.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectColumns = `id, label, issuer, payload, algorithm, digits, period, deleted, revision, updated_at`

func scanEntries(rows *sql.Rows, userID string) ([]models.Entry, error) {
	var result []models.Entry
	for rows.Next() {
		var e models.Entry
		if err := rows.Scan(
			&e.ID, &e.Label, &e.Issuer, &e.Payload,
			&e.Params.Algorithm, &e.Params.Digits, &e.Params.Period,
			&e.Deleted, &e.Revision, &e.UpdatedAt,
		); err != nil {
			return nil, err
		}
		e.UserID = userID
		result = append(result, e)
	}
	return result, rows.Err()
}

func selectEntries(ctx context.Context, q dbx.DBTX, userID string) ([]models.Entry, error) {
	query := `SELECT ` + selectColumns + ` FROM entries WHERE user_id = $1 ORDER BY id`
	rows, err := q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows, userID)
}

func selectState(ctx context.Context, q dbx.DBTX, userID string) (int64, string, error) {
	var rev int64
	var sum string
	err := q.QueryRowContext(ctx,
		`SELECT revision, checksum FROM user_sync_state WHERE user_id = $1`, userID).Scan(&rev, &sum)
	if errors.Is(err, sql.ErrNoRows) {
		// user has never written anything
		return 0, checksum.Compute(nil), nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("failed to select sync state: %w", err)
	}
	return rev, sum, nil
}

// GetAll reads the entry set and the aggregate row inside one read-only
// transaction so the pair is consistent.
func (r *PostgresRepository) GetAll(ctx context.Context, userID string) ([]models.Entry, int64, string, error) {
	var entries []models.Entry
	var rev int64
	var sum string

	err := dbx.WithTx(ctx, r.db, &sql.TxOptions{ReadOnly: true}, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		if entries, err = selectEntries(ctx, tx, userID); err != nil {
			return err
		}
		rev, sum, err = selectState(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, 0, "", err
	}
	if sum == "" {
		sum = checksum.Compute(entries)
	}
	return entries, rev, sum, nil
}

func (r *PostgresRepository) GetState(ctx context.Context, userID string) (int64, string, error) {
	return selectState(ctx, r.db, userID)
}

func (r *PostgresRepository) SelectUpdated(ctx context.Context, userID string, minRevision int64) ([]models.Entry, error) {
	query := `SELECT ` + selectColumns + ` FROM entries WHERE user_id = $1 AND revision > $2 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, userID, minRevision)
	if err != nil {
		return nil, fmt.Errorf("failed to select updated entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows, userID)
}

// ApplyWrites commits the batch transactionally. The per-user aggregate row
// is locked first so concurrent writers for the same user serialize at the
// row, then the expected-revision check decides who wins; the loser gets
// common.ErrRevisionConflict and must re-reconcile. Each accepted write is
// assigned the next revision, and the aggregate revision/checksum commit in
// the same transaction.
func (r *PostgresRepository) ApplyWrites(ctx context.Context, userID string, writes []models.Entry, expectedRevision int64) (int64, string, error) {
	var newRev int64
	var newSum string

	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_sync_state (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
			return fmt.Errorf("failed to init sync state: %w", err)
		}

		var current int64
		if err := tx.QueryRowContext(ctx,
			`SELECT revision FROM user_sync_state WHERE user_id = $1 FOR UPDATE`, userID).Scan(&current); err != nil {
			return fmt.Errorf("failed to lock sync state: %w", err)
		}
		if current != expectedRevision {
			return common.ErrRevisionConflict
		}

		rev := current
		for _, e := range writes {
			rev++
			if err := upsertEntry(ctx, tx, userID, e, rev); err != nil {
				return err
			}
		}
		newRev = rev

		all, err := selectEntries(ctx, tx, userID)
		if err != nil {
			return err
		}
		newSum = checksum.Compute(all)

		if _, err := tx.ExecContext(ctx,
			`UPDATE user_sync_state SET revision = $2, checksum = $3, updated_at = now() WHERE user_id = $1`,
			userID, newRev, newSum); err != nil {
			return fmt.Errorf("failed to update sync state: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, "", err
	}
	return newRev, newSum, nil
}

func upsertEntry(ctx context.Context, tx dbx.DBTX, userID string, e models.Entry, revision int64) error {
	query := `
		INSERT INTO entries (user_id, id, label, issuer, payload, algorithm, digits, period, deleted, revision, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id, id)
		DO UPDATE SET
			label = EXCLUDED.label,
			issuer = EXCLUDED.issuer,
			payload = EXCLUDED.payload,
			algorithm = EXCLUDED.algorithm,
			digits = EXCLUDED.digits,
			period = EXCLUDED.period,
			deleted = EXCLUDED.deleted,
			revision = EXCLUDED.revision,
			updated_at = EXCLUDED.updated_at;
	`
	_, err := tx.ExecContext(ctx, query,
		userID, e.ID, e.Label, e.Issuer, e.Payload,
		e.Params.Algorithm, e.Params.Digits, e.Params.Period,
		e.Deleted, revision, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert entry %q: %w", e.ID, err)
	}
	return nil
}

// PurgeTombstones is conservative: a tombstone survives while any device of
// the same user reports a last known revision older than the tombstone's
// revision plus the grace margin, so that device can still receive the
// deletion.
func (r *PostgresRepository) PurgeTombstones(ctx context.Context, olderThan time.Time, graceRevisions int64) (int64, error) {
	query := `
		DELETE FROM entries e
		WHERE e.deleted
			AND e.updated_at < $1
			AND NOT EXISTS (
				SELECT 1 FROM devices d
				WHERE d.user_id = e.user_id
					AND d.last_known_revision < e.revision + $2
			);
	`
	res, err := r.db.ExecContext(ctx, query, olderThan, graceRevisions)
	if err != nil {
		return 0, fmt.Errorf("failed to purge tombstones: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) DeleteUser(ctx context.Context, userID string) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, query := range []string{
			`DELETE FROM entries WHERE user_id = $1`,
			`DELETE FROM user_sync_state WHERE user_id = $1`,
		} {
			if _, err := tx.ExecContext(ctx, query, userID); err != nil {
				return fmt.Errorf("failed to delete user data: %w", err)
			}
		}
		return nil
	})
}
