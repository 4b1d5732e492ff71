// Package server initializes and runs the sync server. It opens the
// database, applies migrations, wires the reconciliation service to the
// HTTP endpoint, and runs the tombstone purge loop until shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/frostlink/syncd/internal/logging"
	"github.com/frostlink/syncd/internal/server/config"
	"github.com/frostlink/syncd/internal/server/devices"
	"github.com/frostlink/syncd/internal/server/entries"
	"github.com/frostlink/syncd/internal/server/httpapi"
	"github.com/frostlink/syncd/internal/server/migrations"
	syncsvc "github.com/frostlink/syncd/internal/server/sync"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	entries entries.Repository
	sync    *syncsvc.Service
}

func NewApp(c *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("db migration error: %w", err)
	}

	er := entries.NewPostgresRepository(db)
	dr := devices.NewPostgresRepository(db)
	svc := syncsvc.NewService(er, dr, logger)

	return &App{config: c, logger: logger, db: db, entries: er, sync: svc}, nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, ".")
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := httpapi.NewServer(app.config.EndpointAddr, app.logger, app.sync, app.config.SecretKey)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, "http server stopped", "error", err)
		cancelFunc()
	}
}

// startPurgeLoop periodically removes expired tombstones. A purge failure is
// logged and retried on the next tick; it never takes the server down.
func (app *App) startPurgeLoop(ctx context.Context) {
	ticker := time.NewTicker(app.config.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-app.config.TombstoneRetention)
			n, err := app.entries.PurgeTombstones(ctx, cutoff, app.config.PurgeGraceRevisions)
			if err != nil {
				app.logger.Error(ctx, "tombstone purge failed", "error", err)
				continue
			}
			if n > 0 {
				app.logger.Info(ctx, "tombstones purged", "count", n)
			}
		}
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting app", "addr", app.config.EndpointAddr)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startPurgeLoop(ctx)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "closing database", "error", err)
	}
}
