package sync

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/frostlink/syncd/internal/common"
	"github.com/frostlink/syncd/internal/logging"
	"github.com/frostlink/syncd/internal/server/devices"
	"github.com/frostlink/syncd/internal/server/entries"
	"github.com/frostlink/syncd/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *entries.InMemoryRepository, *devices.InMemoryRepository) {
	t.Helper()
	dr := devices.NewInMemoryRepository()
	er := entries.NewInMemoryRepository(dr)
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return NewService(er, dr, logger), er, dr
}

func change(id, payload string, at time.Time) models.Entry {
	return models.Entry{
		ID:        id,
		Payload:   []byte(payload),
		Params:    models.OTPParams{Algorithm: "SHA1", Digits: 6, Period: 30},
		UpdatedAt: at,
	}
}

// seed pushes entries through the normal write path and returns the
// resulting (revision, checksum).
func seed(t *testing.T, svc *Service, userID string, es ...models.Entry) (int64, string) {
	t.Helper()
	resp, err := svc.Sync(context.Background(), userID, "seed-device", &Request{Changes: es})
	require.NoError(t, err)
	return resp.Revision, resp.Checksum
}

func TestSync_EmptyUserInSync(t *testing.T) {
	svc, _, _ := newTestService(t)

	rev, sum, err := svc.Checksum(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, int64(0), rev)

	resp, err := svc.Sync(context.Background(), "u1", "d1", &Request{KnownChecksum: sum})
	require.NoError(t, err)
	assert.Equal(t, StatusInSync, resp.Status)
	assert.Empty(t, resp.Apply)
}

func TestSync_InSyncTransfersNothing(t *testing.T) {
	svc, _, _ := newTestService(t)
	rev, sum := seed(t, svc, "u1", change("a", "secretA", t0))

	resp, err := svc.Sync(context.Background(), "u1", "d1", &Request{KnownChecksum: sum, KnownRevision: rev})
	require.NoError(t, err)
	assert.Equal(t, StatusInSync, resp.Status)
	assert.Equal(t, rev, resp.Revision)
	assert.Equal(t, sum, resp.Checksum)
	assert.Empty(t, resp.Apply)
}

func TestSync_FastForward(t *testing.T) {
	svc, _, _ := newTestService(t)
	rev, _ := seed(t, svc, "u1", change("a", "secretA", t0))

	resp, err := svc.Sync(context.Background(), "u1", "d1", &Request{
		KnownRevision: rev,
		Changes:       []models.Entry{change("a", "secretA2", t0.Add(time.Minute))},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFastForward, resp.Status)
	assert.Equal(t, rev+1, resp.Revision)
	assert.Empty(t, resp.Apply, "a clean fast-forward leaves nothing for the device to apply")
}

func TestSync_StaleDeviceGetsMergedDelta(t *testing.T) {
	// The documented two-device scenario: device B edits entry A against a
	// stale base revision and must receive the server's winning value.
	svc, _, _ := newTestService(t)
	rev1, _ := seed(t, svc, "u1", change("a", "secretA", t0))
	require.Equal(t, int64(1), rev1)

	// device A edits on top of rev 1
	respA, err := svc.Sync(context.Background(), "u1", "dA", &Request{
		KnownRevision: rev1,
		Changes:       []models.Entry{change("a", "secretA2", t0.Add(2 * time.Minute))},
	})
	require.NoError(t, err)
	require.Equal(t, StatusFastForward, respA.Status)
	require.Equal(t, int64(2), respA.Revision)

	// device B edits the same entry, still thinking the base is rev 1,
	// with an older timestamp than A's edit
	respB, err := svc.Sync(context.Background(), "u1", "dB", &Request{
		KnownRevision: rev1,
		Changes:       []models.Entry{change("a", "secretB", t0.Add(time.Minute))},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusMerged, respB.Status)
	assert.Equal(t, int64(2), respB.Revision, "losing edit must not bump the revision")
	require.Len(t, respB.Apply, 1)
	assert.Equal(t, []byte("secretA2"), respB.Apply[0].Payload, "device B must overwrite with the server's copy")
}

func TestSync_LastWriteWinsAcrossDevices(t *testing.T) {
	svc, _, _ := newTestService(t)
	rev, _ := seed(t, svc, "u1", change("a", "v1", t0))

	// device A edits at t0+1m, fast-forwards
	_, err := svc.Sync(context.Background(), "u1", "dA", &Request{
		KnownRevision: rev,
		Changes:       []models.Entry{change("a", "vA", t0.Add(time.Minute))},
	})
	require.NoError(t, err)

	// device B edits at t0+2m from the stale base; B is later, B wins
	respB, err := svc.Sync(context.Background(), "u1", "dB", &Request{
		KnownRevision: rev,
		Changes:       []models.Entry{change("a", "vB", t0.Add(2 * time.Minute))},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusMerged, respB.Status)
	assert.Empty(t, respB.Apply, "the winner already holds the merged value")

	all, _, _, err := svc.entries.GetAll(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, []byte("vB"), all[0].Payload)
}

func TestSync_NoLossUnderConcurrentWrites(t *testing.T) {
	// Two devices submit disjoint new entries against the same base; both
	// entries must survive no matter how the writes interleave.
	svc, _, _ := newTestService(t)

	var wg sync.WaitGroup
	for _, d := range []struct{ device, id string }{
		{"dA", "entry-a"},
		{"dB", "entry-b"},
	} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Sync(context.Background(), "u1", d.device, &Request{
				KnownRevision: 0,
				Changes:       []models.Entry{change(d.id, "secret-"+d.id, t0)},
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	all, rev, _, err := svc.entries.GetAll(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rev)
	require.Len(t, all, 2)
	assert.Equal(t, "entry-a", all[0].ID)
	assert.Equal(t, "entry-b", all[1].ID)
}

func TestSync_TombstonePropagates(t *testing.T) {
	svc, _, _ := newTestService(t)
	rev, _ := seed(t, svc, "u1", change("a", "secretA", t0), change("b", "secretB", t0))

	// device A deletes entry a
	respA, err := svc.Sync(context.Background(), "u1", "dA", &Request{
		KnownRevision: rev,
		Changes:       []models.Entry{{ID: "a", Deleted: true, UpdatedAt: t0.Add(time.Minute)}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusFastForward, respA.Status)

	// stale device B syncs with no local changes and must receive the tombstone
	respB, err := svc.Sync(context.Background(), "u1", "dB", &Request{
		KnownRevision: rev,
		KnownChecksum: "stale",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusMerged, respB.Status)
	require.Len(t, respB.Apply, 1)
	assert.Equal(t, "a", respB.Apply[0].ID)
	assert.True(t, respB.Apply[0].Deleted)
}

func TestSync_TombstoneBeatsOlderEdit(t *testing.T) {
	svc, _, _ := newTestService(t)
	rev, _ := seed(t, svc, "u1", change("a", "v1", t0))

	// deletion at t0+2m
	_, err := svc.Sync(context.Background(), "u1", "dA", &Request{
		KnownRevision: rev,
		Changes:       []models.Entry{{ID: "a", Deleted: true, UpdatedAt: t0.Add(2 * time.Minute)}},
	})
	require.NoError(t, err)

	// stale edit at t0+1m loses to the tombstone
	respB, err := svc.Sync(context.Background(), "u1", "dB", &Request{
		KnownRevision: rev,
		Changes:       []models.Entry{change("a", "stale-edit", t0.Add(time.Minute))},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusMerged, respB.Status)
	require.Len(t, respB.Apply, 1)
	assert.True(t, respB.Apply[0].Deleted, "device B must apply the tombstone locally")
}

func TestSync_ReplayIsIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	rev, _ := seed(t, svc, "u1", change("a", "v1", t0))

	req := &Request{
		KnownRevision: rev,
		Changes:       []models.Entry{change("a", "v2", t0.Add(time.Minute))},
	}
	first, err := svc.Sync(context.Background(), "u1", "d1", req)
	require.NoError(t, err)
	require.Equal(t, StatusFastForward, first.Status)

	// the retransmitted request no-ops instead of double-applying
	second, err := svc.Sync(context.Background(), "u1", "d1", req)
	require.NoError(t, err)
	assert.Equal(t, StatusMerged, second.Status)
	assert.Equal(t, first.Revision, second.Revision)
	assert.Equal(t, first.Checksum, second.Checksum)
	assert.Empty(t, second.Apply)
}

func TestSync_MalformedChanges(t *testing.T) {
	svc, _, _ := newTestService(t)

	tests := []struct {
		name    string
		changes []models.Entry
		wantID  string
	}{
		{name: "missing id", changes: []models.Entry{{Payload: []byte("x")}}, wantID: ""},
		{name: "empty payload", changes: []models.Entry{{ID: "a"}}, wantID: "a"},
		{
			name: "duplicate id",
			changes: []models.Entry{
				change("a", "x", t0),
				change("a", "y", t0),
			},
			wantID: "a",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Sync(context.Background(), "u1", "d1", &Request{Changes: tc.changes})
			var malformed *common.MalformedEntryError
			require.ErrorAs(t, err, &malformed)
			assert.Equal(t, tc.wantID, malformed.ID)
		})
	}
}

func TestSync_TombstoneWithoutPayloadIsValid(t *testing.T) {
	svc, _, _ := newTestService(t)

	resp, err := svc.Sync(context.Background(), "u1", "d1", &Request{
		Changes: []models.Entry{{ID: "a", Deleted: true, UpdatedAt: t0}},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFastForward, resp.Status)
}

func TestSync_ZeroTimestampGetsServerClock(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.now = func() time.Time { return t0.Add(time.Hour) }

	_, err := svc.Sync(context.Background(), "u1", "d1", &Request{
		Changes: []models.Entry{{ID: "a", Payload: []byte("x")}},
	})
	require.NoError(t, err)

	all, _, _, err := svc.entries.GetAll(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Hour).UTC(), all[0].UpdatedAt)
}

func TestSync_RecordsDevicePosition(t *testing.T) {
	svc, _, dr := newTestService(t)
	seed(t, svc, "u1", change("a", "secretA", t0))

	ds, err := dr.ListByUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, "seed-device", ds[0].ID)
	assert.Equal(t, int64(1), ds[0].LastKnownRevision)
}

func TestChecksum_MatchesGetAll(t *testing.T) {
	svc, _, _ := newTestService(t)
	rev, sum := seed(t, svc, "u1", change("a", "secretA", t0))

	gotRev, gotSum, err := svc.Checksum(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, rev, gotRev)
	assert.Equal(t, sum, gotSum)
}

func TestDeleteUser(t *testing.T) {
	svc, _, dr := newTestService(t)
	seed(t, svc, "u1", change("a", "secretA", t0))

	require.NoError(t, svc.DeleteUser(context.Background(), "u1"))

	all, rev, _, err := svc.entries.GetAll(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Equal(t, int64(0), rev)

	ds, err := dr.ListByUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, ds, "device rows must go with the account")
}

func TestPurge_LaggingDeviceBlocksTombstoneRemoval(t *testing.T) {
	// The device positions recorded during sync must feed the purge guard: a
	// device that has not yet seen a deletion keeps the tombstone alive.
	svc, er, _ := newTestService(t)
	rev, _ := seed(t, svc, "u1", change("a", "secretA", t0))

	// a second device syncs and is recorded at the pre-deletion revision
	_, err := svc.Sync(context.Background(), "u1", "laggard", &Request{
		KnownRevision: rev,
		KnownChecksum: "stale",
	})
	require.NoError(t, err)

	// the first device deletes the entry, well before the retention cutoff
	_, err = svc.Sync(context.Background(), "u1", "seed-device", &Request{
		KnownRevision: rev,
		Changes:       []models.Entry{{ID: "a", Deleted: true, UpdatedAt: t0.Add(time.Minute)}},
	})
	require.NoError(t, err)

	cutoff := t0.Add(time.Hour)
	purged, err := er.PurgeTombstones(context.Background(), cutoff, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), purged, "tombstone must survive while a device lags behind it")

	// the laggard catches up, acknowledging the deletion revision
	_, err = svc.Sync(context.Background(), "u1", "laggard", &Request{
		KnownRevision: rev,
		KnownChecksum: "stale",
	})
	require.NoError(t, err)

	purged, err = er.PurgeTombstones(context.Background(), cutoff, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}

// skewedEntryRepo simulates a writer racing in between the merge commit and
// the apply-set read by reporting an extra entry past the committed revision.
type skewedEntryRepo struct {
	*entries.InMemoryRepository
	extra models.Entry
}

func (r *skewedEntryRepo) SelectUpdated(ctx context.Context, userID string, minRevision int64) ([]models.Entry, error) {
	updated, err := r.InMemoryRepository.SelectUpdated(ctx, userID, minRevision)
	if err != nil {
		return nil, err
	}
	return append(updated, r.extra), nil
}

func TestSync_ApplySetCappedAtReportedRevision(t *testing.T) {
	svc, er, _ := newTestService(t)
	seed(t, svc, "u1", change("a", "secretA", t0))

	svc.entries = &skewedEntryRepo{
		InMemoryRepository: er,
		extra:              models.Entry{ID: "b", Payload: []byte("late"), Revision: 99, UpdatedAt: t0},
	}

	resp, err := svc.Sync(context.Background(), "u1", "d2", &Request{KnownChecksum: "stale"})
	require.NoError(t, err)
	require.Equal(t, StatusMerged, resp.Status)
	require.Len(t, resp.Apply, 1, "entries past the reported revision belong to the next sync")
	assert.Equal(t, "a", resp.Apply[0].ID)
}
