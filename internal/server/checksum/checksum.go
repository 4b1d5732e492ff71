// Package checksum computes the digest used for cheap divergence detection
// between a device's entry set and the server's.
//
// The digest is xxHash64 over a canonical encoding: active (non-tombstoned)
// entries sorted by identifier, each serialized in a fixed field order with
// length prefixes. Volatile fields (updated_at, revision) are excluded, so
// the same entry set always produces the same value regardless of input
// order. xxHash is not cryptographic; a checksum mismatch only ever triggers
// a full comparison and is never the basis for accepting a write.
package checksum

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/frostlink/syncd/internal/server/models"
)

// Compute returns the checksum of the active entries as a 16-character
// lowercase hex string. Runs in O(n log n) for the sort, O(n) for hashing.
func Compute(entries []models.Entry) string {
	active := make([]models.Entry, 0, len(entries))
	for _, e := range entries {
		if !e.Deleted {
			active = append(active, e)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })

	d := xxhash.New()
	for _, e := range active {
		writeBytes(d, []byte(e.ID))
		writeBytes(d, e.Payload)
		writeBytes(d, []byte(e.Params.Algorithm))
		writeInt(d, int64(e.Params.Digits))
		writeInt(d, int64(e.Params.Period))
		writeBool(d, e.Deleted)
	}
	return fmt.Sprintf("%016x", d.Sum64())
}

// writeBytes frames b with a length prefix so adjacent fields cannot bleed
// into each other ("ab"+"c" must not hash like "a"+"bc").
func writeBytes(d *xxhash.Digest, b []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(b)))
	_, _ = d.Write(n[:])
	_, _ = d.Write(b)
}

func writeInt(d *xxhash.Digest, v int64) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(v))
	_, _ = d.Write(n[:])
}

func writeBool(d *xxhash.Digest, v bool) {
	if v {
		_, _ = d.Write([]byte{1})
		return
	}
	_, _ = d.Write([]byte{0})
}
