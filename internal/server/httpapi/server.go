// Package httpapi exposes the reconciliation engine over an HTTP/JSON
// surface. All sync endpoints sit behind the bearer-credential gateway; the
// engine itself never sees an unauthenticated caller.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/frostlink/syncd/internal/logging"
	syncsvc "github.com/frostlink/syncd/internal/server/sync"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Version is reported by /v1/meta.
const Version = "0.3.1"

const shutdownTimeout = 5 * time.Second

type Server struct {
	addr      string
	logger    logging.Logger
	sync      *syncsvc.Service
	jwtSecret []byte
}

func NewServer(addr string, logger logging.Logger, svc *syncsvc.Service, secretKey string) *Server {
	return &Server{
		addr:      addr,
		logger:    logger.With("module", "httpapi"),
		sync:      svc,
		jwtSecret: []byte(secretKey),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Get("/v1/meta", s.handleMeta)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/v1/sync", s.handleSync)
		r.Get("/v1/checksum", s.handleChecksum)
		r.Delete("/v1/user", s.handleDeleteUser)
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.addr)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
