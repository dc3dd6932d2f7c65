// Package app wires every component into one runnable process:
// Credential Store -> TURN Supervisor -> Signaling Hub -> Connection
// Interface -> HTTP server, in strict dependency order.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"relayhub/internal/api"
	"relayhub/internal/assets"
	"relayhub/internal/config"
	"relayhub/internal/credentials"
	"relayhub/internal/diagnostics"
	"relayhub/internal/hub"
	"relayhub/internal/transport"
	"relayhub/internal/turnsupervisor"
)

// Application coordinates all system components. Initialization
// follows strict dependency order: Credential Store -> TURN Supervisor
// -> Hub -> Connection Interface -> HTTP server.
type Application struct {
	config     *config.Config
	log        *slog.Logger
	store      credentials.Store
	turn       *turnsupervisor.Supervisor
	messageHub *hub.Hub
	httpServer *http.Server
	ready      atomic.Bool

	hubCancel context.CancelFunc
	hubDone   chan struct{}
}

// NewApplication creates a new application instance with every
// component initialized, but with no socket bound yet.
func NewApplication(cfg *config.Config, log *slog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Credential Store. SQLite-backed when a path is
	// configured, otherwise purely in-memory.
	var store credentials.Store
	if cfg.CredentialDBPath != "" {
		sqliteStore, err := credentials.OpenSQLiteStore(cfg.CredentialDBPath, log)
		if err != nil {
			return nil, fmt.Errorf("failed to open credential store: %w", err)
		}
		store = sqliteStore
	} else {
		store = credentials.NewMemoryStore()
	}

	// STEP 2: TURN Supervisor, installs the configured credential.
	turnSupervisor := turnsupervisor.New(turnsupervisor.Config{
		PublicIP:  cfg.TurnPublicIP,
		Port:      cfg.TurnPort,
		Realm:     cfg.TurnRealm,
		Username:  cfg.TurnUsername,
		Password:  cfg.TurnPassword,
		EnableTCP: cfg.TurnEnableTCP,
	}, store, log)

	// STEP 3: Signaling Hub, the single registry mutation point.
	messageHub := hub.New(log)

	// STEP 4: Connection Interface, upgrades and binds peers into the hub.
	wsHandler := transport.NewHandler(messageHub, log)

	// STEP 5: Static asset server and diagnostics.
	assetSrv := assets.New(cfg.StaticDir, log)
	if err := assetSrv.Verify(); err != nil {
		return nil, fmt.Errorf("static asset source unusable: %w", err)
	}

	app := &Application{config: cfg, log: log, store: store, turn: turnSupervisor, messageHub: messageHub}

	healthHandler := diagnostics.NewHandler(messageHub, turnSupervisor, &app.ready)

	// STEP 6: Top-level HTTP surface.
	apiServer := api.New(assetSrv, turnSupervisor, wsHandler, healthHandler)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.WebBindIP, cfg.WebPort),
		Handler:           apiServer,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	app.httpServer = httpServer
	return app, nil
}

// Start begins application execution. The hub's coordinator goroutine
// starts first, then the TURN listeners bind, then the HTTP server
// begins accepting connections. Readiness only flips true once every
// stage has succeeded.
func (app *Application) Start(ctx context.Context) error {
	app.log.Info("starting relayhub", "addr", app.httpServer.Addr)

	hubCtx, cancel := context.WithCancel(context.Background())
	app.hubCancel = cancel
	app.hubDone = make(chan struct{})
	go func() {
		defer close(app.hubDone)
		app.messageHub.Run(hubCtx)
	}()

	if err := app.turn.Start(); err != nil {
		cancel()
		<-app.hubDone
		return fmt.Errorf("failed to start turn supervisor: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		_ = app.turn.Stop()
		cancel()
		<-app.hubDone
		return err
	case <-time.After(100 * time.Millisecond):
		app.ready.Store(true)
		app.log.Info("relayhub started successfully")
		return nil
	case <-ctx.Done():
		_ = app.turn.Stop()
		cancel()
		<-app.hubDone
		return ctx.Err()
	}
}

// Stop gracefully shuts down the application in reverse dependency
// order: HTTP -> TURN -> Hub -> Credential Store.
func (app *Application) Stop(ctx context.Context) error {
	app.log.Info("shutting down relayhub")
	app.ready.Store(false)

	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.log.Error("http server shutdown error", "error", err)
	}

	if err := app.turn.Stop(); err != nil {
		app.log.Error("turn supervisor shutdown error", "error", err)
	}

	if app.hubCancel != nil {
		app.hubCancel()
		<-app.hubDone
	}

	if closer, ok := app.store.(*credentials.SQLiteStore); ok {
		if err := closer.Close(); err != nil {
			app.log.Error("credential store shutdown error", "error", err)
		}
	}

	app.log.Info("relayhub shutdown complete")
	return nil
}

// Addr returns the server address for external connections.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}
