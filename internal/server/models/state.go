package models

// SyncState is the per-user aggregate row: the current revision counter and
// the cached checksum of the active entry set. The checksum is always
// recomputable from the entries; the row is a cache, never independent truth.
type SyncState struct {
	UserID   string
	Revision int64
	Checksum string
}
