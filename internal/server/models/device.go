package models

import "time"

// Device mirrors a client's position as of its last successful sync. The row
// exists for diagnostics and as a guard for tombstone purging; the client's
// own copy of this state stays authoritative.
type Device struct {
	ID                string
	UserID            string
	LastKnownRevision int64
	LastKnownChecksum string
	LastSeenAt        time.Time
}
