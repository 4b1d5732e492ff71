// Package sync implements the reconciliation engine: checksum-based
// divergence detection, fast-forward writes, and the merge path for
// divergent device state. The service holds no state across requests; every
// sync is processed independently against the store.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/frostlink/syncd/internal/common"
	"github.com/frostlink/syncd/internal/logging"
	"github.com/frostlink/syncd/internal/server/devices"
	"github.com/frostlink/syncd/internal/server/entries"
	"github.com/frostlink/syncd/internal/server/merge"
	"github.com/frostlink/syncd/internal/server/models"
	"github.com/sethvargo/go-retry"
)

// Status of a completed sync, as reported to the device.
type Status string

const (
	// StatusInSync: the device's checksum matches and it sent no changes;
	// nothing to transfer.
	StatusInSync Status = "in_sync"
	// StatusFastForward: the device's changes applied cleanly on top of its
	// base revision; nobody else wrote in between.
	StatusFastForward Status = "fast_forward"
	// StatusMerged: the device was behind or raced; its changes went through
	// conflict resolution and it has entries to apply locally.
	StatusMerged Status = "merged"
)

// maxMergeAttempts bounds the merge-and-commit loop under sustained write
// races; exceeding it surfaces common.ErrMergeExhausted.
const maxMergeAttempts = 3

const mergeRetryBackoff = 20 * time.Millisecond

// maxEntryIDLen bounds client-assigned identifiers.
const maxEntryIDLen = 128

// Request is a device's sync submission: its claimed position and the local
// changes made since then.
type Request struct {
	KnownChecksum string
	KnownRevision int64
	Changes       []models.Entry
}

// Response tells the device how to converge: the new authoritative
// (revision, checksum) and the entries it must write locally.
type Response struct {
	Status   Status
	Revision int64
	Checksum string
	Apply    []models.Entry
}

type Service struct {
	entries entries.Repository
	devices devices.Repository
	logger  logging.Logger
	now     func() time.Time
}

func NewService(er entries.Repository, dr devices.Repository, logger logging.Logger) *Service {
	return &Service{
		entries: er,
		devices: dr,
		logger:  logger.With("module", "sync"),
		now:     time.Now,
	}
}

// Sync reconciles one device against the server. The caller is already
// authenticated; userID and deviceID come from the credential, never from
// the payload.
func (s *Service) Sync(ctx context.Context, userID, deviceID string, req *Request) (*Response, error) {
	if err := validateChanges(req.Changes); err != nil {
		return nil, err
	}
	normalizeTimestamps(req.Changes, s.now().UTC())

	_, rev, sum, err := s.entries.GetAll(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading server state: %w", err)
	}

	var resp *Response
	switch {
	case len(req.Changes) == 0 && req.KnownChecksum == sum:
		resp = &Response{Status: StatusInSync, Revision: rev, Checksum: sum}

	case len(req.Changes) > 0 && req.KnownRevision == rev:
		newRev, newSum, err := s.entries.ApplyWrites(ctx, userID, req.Changes, rev)
		switch {
		case err == nil:
			resp = &Response{Status: StatusFastForward, Revision: newRev, Checksum: newSum}
		case errors.Is(err, common.ErrRevisionConflict):
			// another device committed between our read and the write
			s.logger.Warn(ctx, "fast-forward raced, merging", "user", userID, "device", deviceID)
		default:
			return nil, fmt.Errorf("applying writes: %w", err)
		}
	}

	if resp == nil {
		resp, err = s.mergeAndCommit(ctx, userID, req)
		if err != nil {
			return nil, err
		}
	}

	s.recordDevice(ctx, userID, deviceID, resp)
	return resp, nil
}

// mergeAndCommit re-reads server state, resolves conflicts, and persists the
// device-side winners, retrying on revision races up to the attempt budget.
func (s *Service) mergeAndCommit(ctx context.Context, userID string, req *Request) (*Response, error) {
	var resp *Response

	backoff := retry.WithMaxRetries(maxMergeAttempts-1, retry.NewConstant(mergeRetryBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		serverEntries, rev, sum, err := s.entries.GetAll(ctx, userID)
		if err != nil {
			return fmt.Errorf("loading server state: %w", err)
		}

		res := merge.Resolve(serverEntries, req.Changes)

		newRev, newSum := rev, sum
		if len(res.Writes) > 0 {
			newRev, newSum, err = s.entries.ApplyWrites(ctx, userID, res.Writes, rev)
			if errors.Is(err, common.ErrRevisionConflict) {
				return retry.RetryableError(err)
			}
			if err != nil {
				return fmt.Errorf("committing merge: %w", err)
			}
		}

		apply, err := s.applySet(ctx, userID, req, newRev)
		if err != nil {
			return err
		}

		resp = &Response{Status: StatusMerged, Revision: newRev, Checksum: newSum, Apply: apply}
		return nil
	})
	if err != nil {
		if errors.Is(err, common.ErrRevisionConflict) {
			return nil, common.ErrMergeExhausted
		}
		return nil, err
	}
	return resp, nil
}

// applySet is what the device still has to write locally: everything revised
// past its claimed position up to maxRevision, minus changes it submitted
// itself that were accepted verbatim. The read happens after the commit, so
// a concurrent writer may already have pushed the counter further; capping
// at maxRevision keeps the apply set consistent with the (revision,
// checksum) pair the response reports. Later writes reach the device on its
// next sync.
func (s *Service) applySet(ctx context.Context, userID string, req *Request, maxRevision int64) ([]models.Entry, error) {
	updated, err := s.entries.SelectUpdated(ctx, userID, req.KnownRevision)
	if err != nil {
		return nil, fmt.Errorf("selecting updated entries: %w", err)
	}

	submitted := make(map[string]models.Entry, len(req.Changes))
	for _, c := range req.Changes {
		submitted[c.ID] = c
	}

	apply := make([]models.Entry, 0, len(updated))
	for _, e := range updated {
		if e.Revision > maxRevision {
			continue
		}
		if c, ok := submitted[e.ID]; ok && merge.Equal(e, c) {
			continue
		}
		apply = append(apply, e)
	}
	return apply, nil
}

// recordDevice updates the per-device bookkeeping row. Failures are logged,
// not surfaced: the sync itself already succeeded.
func (s *Service) recordDevice(ctx context.Context, userID, deviceID string, resp *Response) {
	d := &models.Device{
		ID:                deviceID,
		UserID:            userID,
		LastKnownRevision: resp.Revision,
		LastKnownChecksum: resp.Checksum,
	}
	if err := s.devices.Upsert(ctx, d); err != nil {
		s.logger.Warn(ctx, "device bookkeeping failed", "user", userID, "device", deviceID, "error", err)
	}
}

// Checksum serves the cheap divergence probe: current aggregate state, no
// entry data.
func (s *Service) Checksum(ctx context.Context, userID string) (int64, string, error) {
	rev, sum, err := s.entries.GetState(ctx, userID)
	if err != nil {
		return 0, "", fmt.Errorf("loading sync state: %w", err)
	}
	return rev, sum, nil
}

// DeleteUser removes all server-side data for the user: entries, sync
// state, and device rows.
func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	if err := s.entries.DeleteUser(ctx, userID); err != nil {
		return fmt.Errorf("deleting user data: %w", err)
	}
	if err := s.devices.DeleteUser(ctx, userID); err != nil {
		return fmt.Errorf("deleting user devices: %w", err)
	}
	s.logger.Info(ctx, "user data deleted", "user", userID)
	return nil
}

func validateChanges(changes []models.Entry) error {
	seen := make(map[string]struct{}, len(changes))
	for _, c := range changes {
		switch {
		case c.ID == "":
			return &common.MalformedEntryError{ID: c.ID, Reason: "missing id"}
		case len(c.ID) > maxEntryIDLen:
			return &common.MalformedEntryError{ID: c.ID, Reason: "id too long"}
		case !c.Deleted && len(c.Payload) == 0:
			return &common.MalformedEntryError{ID: c.ID, Reason: "empty payload"}
		}
		if _, dup := seen[c.ID]; dup {
			return &common.MalformedEntryError{ID: c.ID, Reason: "duplicate id in batch"}
		}
		seen[c.ID] = struct{}{}
	}
	return nil
}

// normalizeTimestamps substitutes the server clock for zero client
// timestamps so last-write-wins always has something to compare.
func normalizeTimestamps(changes []models.Entry, now time.Time) {
	for i := range changes {
		if changes[i].UpdatedAt.IsZero() {
			changes[i].UpdatedAt = now
		}
	}
}
