// Package merge implements deterministic conflict resolution between the
// server's authoritative entry set and a device's claimed local changes.
//
// Entries merge by identifier; an entry is atomic for merge purposes, there
// is no per-field merging. For an identifier present on both sides with
// different content the later updated_at wins, ties break toward the server
// copy. A tombstone beats a non-tombstone edit unless the edit is strictly
// later than the tombstone. The merge is pure and idempotent: resolving its
// own output again changes nothing.
package merge

import (
	"bytes"
	"sort"

	"github.com/frostlink/syncd/internal/server/models"
)

// Winner names the side whose copy of an identifier survived.
type Winner string

const (
	WinnerServer Winner = "server"
	WinnerDevice Winner = "device"
)

// Decision records the outcome for one contested identifier.
type Decision struct {
	ID     string
	Winner Winner
}

// Result of a merge. Merged is the full converged entry set, sorted by id.
// Writes are the device-side winners the server must persist, sorted by id so
// revision assignment stays deterministic. Decisions covers every identifier
// that appeared on both sides with differing content, plus device-only ids.
type Result struct {
	Merged    []models.Entry
	Writes    []models.Entry
	Decisions []Decision
}

// Resolve merges the device's local changes into the server's entries.
// Neither input is modified.
func Resolve(server []models.Entry, local []models.Entry) Result {
	serverByID := make(map[string]models.Entry, len(server))
	for _, e := range server {
		serverByID[e.ID] = e
	}

	res := Result{}
	merged := make(map[string]models.Entry, len(server)+len(local))

	for _, c := range local {
		s, onServer := serverByID[c.ID]
		if !onServer {
			// unseen identifier: a new entry, or a tombstone for an entry
			// the server never stored (persisted anyway so the deletion
			// still propagates)
			merged[c.ID] = c
			res.Writes = append(res.Writes, c)
			res.Decisions = append(res.Decisions, Decision{ID: c.ID, Winner: WinnerDevice})
			continue
		}
		if Equal(s, c) {
			merged[c.ID] = s
			continue
		}
		if deviceWins(s, c) {
			merged[c.ID] = c
			res.Writes = append(res.Writes, c)
			res.Decisions = append(res.Decisions, Decision{ID: c.ID, Winner: WinnerDevice})
		} else {
			merged[c.ID] = s
			res.Decisions = append(res.Decisions, Decision{ID: c.ID, Winner: WinnerServer})
		}
	}

	for _, s := range server {
		if _, ok := merged[s.ID]; !ok {
			merged[s.ID] = s
		}
	}

	res.Merged = make([]models.Entry, 0, len(merged))
	for _, e := range merged {
		res.Merged = append(res.Merged, e)
	}
	sort.Slice(res.Merged, func(i, j int) bool { return res.Merged[i].ID < res.Merged[j].ID })
	sort.Slice(res.Writes, func(i, j int) bool { return res.Writes[i].ID < res.Writes[j].ID })
	sort.Slice(res.Decisions, func(i, j int) bool { return res.Decisions[i].ID < res.Decisions[j].ID })

	return res
}

// deviceWins decides a contested identifier. Precedence: a tombstone beats a
// concurrent edit unless the edit is strictly later; otherwise last write
// wins with ties going to the server.
func deviceWins(server, device models.Entry) bool {
	switch {
	case server.Deleted && !device.Deleted:
		return device.UpdatedAt.After(server.UpdatedAt)
	case device.Deleted && !server.Deleted:
		return !server.UpdatedAt.After(device.UpdatedAt)
	default:
		return device.UpdatedAt.After(server.UpdatedAt)
	}
}

// Equal reports whether two entries carry the same content, ignoring volatile
// fields (revision, updated_at). Two tombstones for the same identifier are
// equal regardless of their stale content.
func Equal(a, b models.Entry) bool {
	if a.ID != b.ID || a.Deleted != b.Deleted {
		return false
	}
	if a.Deleted {
		return true
	}
	return a.Label == b.Label &&
		a.Issuer == b.Issuer &&
		a.Params == b.Params &&
		bytes.Equal(a.Payload, b.Payload)
}
