package httpapi

import (
	"time"

	"github.com/frostlink/syncd/internal/server/models"
	syncsvc "github.com/frostlink/syncd/internal/server/sync"
)

// Wire types for the /v1 JSON surface. Payload bytes travel base64-encoded
// (encoding/json's []byte default).

type otpParams struct {
	Algorithm string `json:"algorithm,omitempty"`
	Digits    int    `json:"digits,omitempty"`
	Period    int    `json:"period,omitempty"`
}

type wireEntry struct {
	ID        string    `json:"id"`
	Label     string    `json:"label,omitempty"`
	Issuer    string    `json:"issuer,omitempty"`
	Payload   []byte    `json:"payload,omitempty"`
	Params    otpParams `json:"params"`
	Deleted   bool      `json:"deleted,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

type syncRequest struct {
	KnownChecksum string      `json:"known_checksum"`
	KnownRevision int64       `json:"known_revision"`
	Changes       []wireEntry `json:"changes,omitempty"`
}

type syncResponse struct {
	Status   string      `json:"status"`
	Revision int64       `json:"revision"`
	Checksum string      `json:"checksum"`
	Apply    []wireEntry `json:"apply"`
}

type checksumResponse struct {
	Revision int64  `json:"revision"`
	Checksum string `json:"checksum"`
}

type metaResponse struct {
	Service     string `json:"service"`
	Version     string `json:"version"`
	SyncAPI     string `json:"sync_api"`
	AuthMethods string `json:"auth_methods"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (w wireEntry) toModel() models.Entry {
	return models.Entry{
		ID:      w.ID,
		Label:   w.Label,
		Issuer:  w.Issuer,
		Payload: w.Payload,
		Params: models.OTPParams{
			Algorithm: w.Params.Algorithm,
			Digits:    w.Params.Digits,
			Period:    w.Params.Period,
		},
		Deleted:   w.Deleted,
		UpdatedAt: w.UpdatedAt,
	}
}

func toWireEntry(e models.Entry) wireEntry {
	return wireEntry{
		ID:      e.ID,
		Label:   e.Label,
		Issuer:  e.Issuer,
		Payload: e.Payload,
		Params: otpParams{
			Algorithm: e.Params.Algorithm,
			Digits:    e.Params.Digits,
			Period:    e.Params.Period,
		},
		Deleted:   e.Deleted,
		UpdatedAt: e.UpdatedAt,
	}
}

func toSyncRequest(req *syncRequest) *syncsvc.Request {
	changes := make([]models.Entry, 0, len(req.Changes))
	for _, c := range req.Changes {
		changes = append(changes, c.toModel())
	}
	return &syncsvc.Request{
		KnownChecksum: req.KnownChecksum,
		KnownRevision: req.KnownRevision,
		Changes:       changes,
	}
}

func toSyncResponse(resp *syncsvc.Response) *syncResponse {
	apply := make([]wireEntry, 0, len(resp.Apply))
	for _, e := range resp.Apply {
		apply = append(apply, toWireEntry(e))
	}
	return &syncResponse{
		Status:   string(resp.Status),
		Revision: resp.Revision,
		Checksum: resp.Checksum,
		Apply:    apply,
	}
}
