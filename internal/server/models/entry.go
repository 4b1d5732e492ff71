package models

import "time"

// OTPParams are the TOTP generation parameters stored with an entry. The
// server passes them through to clients and never interprets them.
type OTPParams struct {
	Algorithm string
	Digits    int
	Period    int
}

// Entry is one encrypted secret record owned by exactly one user. Payload is
// opaque: clients encrypt before upload and decrypt after download. Revision
// is assigned by the server on every accepted write and never reused.
// Deleted marks a retained tombstone; tombstones stay in the table for the
// retention window so deletions reach devices that sync late.
type Entry struct {
	ID        string
	UserID    string
	Label     string
	Issuer    string
	Payload   []byte
	Params    OTPParams
	Deleted   bool
	Revision  int64
	UpdatedAt time.Time
}
