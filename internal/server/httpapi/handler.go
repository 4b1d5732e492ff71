package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/frostlink/syncd/internal/common"
)

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	resp, err := s.sync.Sync(r.Context(), id.UserID, id.DeviceID, toSyncRequest(&req))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, toSyncResponse(resp))
}

func (s *Server) handleChecksum(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	rev, sum, err := s.sync.Checksum(r.Context(), id.UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, &checksumResponse{Revision: rev, Checksum: sum})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	if err := s.sync.DeleteUser(r.Context(), id.UserID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleMeta(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, &metaResponse{
		Service:     "syncd",
		Version:     Version,
		SyncAPI:     "v1",
		AuthMethods: "bearer",
	})
}

// writeServiceError maps the engine's error taxonomy onto HTTP statuses.
// Everything unexpected is a storage failure: logged in full, surfaced
// without internals.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var malformed *common.MalformedEntryError
	switch {
	case errors.As(err, &malformed):
		s.writeError(w, http.StatusUnprocessableEntity, malformed.Error())
	case errors.Is(err, common.ErrMergeExhausted), errors.Is(err, common.ErrRevisionConflict):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		s.writeError(w, http.StatusInternalServerError, "storage failure")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// the status line is already out; an encode failure here is only loggable
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error(context.Background(), "encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, &errorResponse{Error: msg})
}
