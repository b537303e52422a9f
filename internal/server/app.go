// Package server initializes and runs the user administration server: it
// opens the database, applies migrations, wires the event store, projector
// and REST API together, and handles graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/admincore/userd/internal/logging"
	"github.com/admincore/userd/internal/server/config"
	"github.com/admincore/userd/internal/server/eventstore"
	"github.com/admincore/userd/internal/server/httpapi"
	"github.com/admincore/userd/internal/server/migrations"
	"github.com/admincore/userd/internal/server/projection"
	"github.com/admincore/userd/internal/server/readmodel"
	"github.com/admincore/userd/internal/server/users"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config    *config.Config
	logger    logging.Logger
	db        *sql.DB
	projector *projection.Projector
	handler   *httpapi.Handler
}

func NewApp(cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})))

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	registry := eventstore.NewUserRegistry()
	store := eventstore.NewPostgresStore(db, registry, logger)
	repo := readmodel.NewPostgresRepository(db)

	projector := projection.NewProjector(store, repo, registry, logger)
	store.SetProjector(projector)

	service := users.NewService(store, repo, logger)
	handler := httpapi.NewHandler(service, []byte(cfg.SecretKey), logger)

	return &App{
		config:    cfg,
		logger:    logger,
		db:        db,
		projector: projector,
		handler:   handler,
	}, nil
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return goose.Up(db, ".")
}

func parseLogLevel(name string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return level
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
	srv := &http.Server{
		Addr:    app.config.EndpointAddrHTTP,
		Handler: app.handler.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(shutdownCtx, "server shutdown error", "error", err)
		}
	}()

	app.logger.Info(ctx, "http server listening", "addr", app.config.EndpointAddrHTTP)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting app")

	app.initSignalHandler(cancelFunc)

	// bring the read model in step with the log before serving traffic; a
	// crash between append and projection is healed here
	if app.config.RebuildReadModel {
		if err := app.projector.Rebuild(ctx); err != nil {
			app.logger.Error(ctx, "read model rebuild failed", "error", err)
			return
		}
	} else {
		if err := app.projector.CatchUp(ctx); err != nil {
			app.logger.Error(ctx, "startup projection catch-up failed", "error", err)
			return
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err)
	}
}
