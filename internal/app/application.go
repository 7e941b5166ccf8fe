// Package app wires every component into a running server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"pixelgrid/internal/api"
	"pixelgrid/internal/config"
	"pixelgrid/internal/credit"
	"pixelgrid/internal/database"
	"pixelgrid/internal/grid"
	"pixelgrid/internal/hub"
	"pixelgrid/internal/identity"
	"pixelgrid/internal/memstore"
	"pixelgrid/internal/moderation"
	"pixelgrid/internal/pipeline"
	"pixelgrid/internal/ratelimit"
	"pixelgrid/internal/websocket"
	pkgdatabase "pixelgrid/pkg/database"
	"pixelgrid/pkg/interfaces"
	"pixelgrid/pkg/types"
)

// Application coordinates all system components.
// Initialization order: store → grid rebuild → limiter → ledger/gate →
// registry/hub → pipeline → identity → session handler → API.
type Application struct {
	config *config.Config
	log    *logrus.Entry
	clock  clockwork.Clock

	store    interfaces.Store
	redis    redis.UniversalClient
	limiter  interfaces.RateLimiter
	grid     *grid.Store
	registry *websocket.Registry
	hub      *hub.Hub
	pipeline *pipeline.Pipeline
	sessions *websocket.Handler
	server   *api.Server

	httpServer *http.Server
	listener   net.Listener

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewApplication builds every component. The grid is rebuilt from the
// placement log here, so the application is consistent before it serves.
func NewApplication(ctx context.Context, cfg *config.Config) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: configuration is required", config.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Log.Level != "debug" && cfg.Log.Level != "trace" {
		gin.SetMode(gin.ReleaseMode)
	}

	app := &Application{
		config: cfg,
		log:    logrus.WithField("component", "app"),
		clock:  clockwork.NewRealClock(),
	}

	store, err := openStore(cfg.Database)
	if err != nil {
		return nil, err
	}
	app.store = store

	if err := app.build(ctx); err != nil {
		app.closeBackends()
		return nil, err
	}
	return app, nil
}

func openStore(cfg *config.DatabaseConfig) (interfaces.Store, error) {
	if cfg.Driver == config.DriverMemory {
		logrus.WithField("component", "app").Warn("Using in-memory storage: placements, credits and bans are lost on exit")
		return memstore.New(), nil
	}

	dbConfig := &pkgdatabase.Config{
		DatabasePath:    cfg.Path,
		MaxConnections:  cfg.MaxConnections,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: cfg.Timeout,
		BusyTimeout:     5 * time.Second,
	}
	manager, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}
	return manager, nil
}

func (app *Application) build(ctx context.Context) error {
	cfg := app.config

	geometry := types.Grid{Width: cfg.Grid.Width, Height: cfg.Grid.Height, ChunkSize: cfg.Grid.ChunkSize}
	cells, err := grid.NewStore(geometry)
	if err != nil {
		return err
	}
	loadCtx, cancel := context.WithTimeout(ctx, cfg.Database.Timeout)
	applied, err := cells.Load(loadCtx, app.store)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to rebuild grid from placement log: %w", err)
	}
	app.grid = cells
	app.log.WithFields(logrus.Fields{"applied": applied, "cells": cells.Len()}).Info("Grid rebuilt from placement log")

	limiter, err := app.buildLimiter(ctx)
	if err != nil {
		return err
	}
	app.limiter = limiter

	ledger := credit.NewLedger(app.store)
	gate := moderation.NewGate(app.store)

	app.registry = websocket.NewRegistry(cfg.WebSocket.MaxSessionsPerUser)
	app.hub = hub.NewHub(app.registry, cfg.WebSocket.HubBuffer)

	app.pipeline, err = pipeline.New(pipeline.Config{
		Grid:        geometry,
		Cooldown:    cfg.Placement.Cooldown,
		CreditNudge: cfg.Placement.CreditNudge,
	}, pipeline.Deps{
		Limiter:   limiter,
		Ledger:    ledger,
		Gate:      gate,
		Log:       app.store,
		Grid:      cells,
		Broadcast: app.hub,
		Clock:     app.clock,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize placement pipeline: %w", err)
	}

	verifier, err := buildVerifier(cfg.Auth)
	if err != nil {
		return err
	}

	app.sessions = websocket.NewHandler(websocket.HandlerConfig{
		Grid:           geometry,
		Cooldown:       cfg.Placement.Cooldown,
		ReadTimeout:    cfg.WebSocket.ReadTimeout,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		InboundRate:    cfg.WebSocket.InboundRate,
		InboundBurst:   cfg.WebSocket.InboundBurst,
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
		Connection: websocket.ConnectionOptions{
			QueueSize:    cfg.WebSocket.BufferSize,
			WriteTimeout: cfg.WebSocket.WriteTimeout,
			PingInterval: cfg.WebSocket.PingInterval,
		},
	}, verifier, app.registry, app.pipeline, cells)

	app.server = api.NewServer(api.Deps{
		Grid:       cells,
		Accounts:   ledger,
		Bans:       app.store,
		Log:        app.store,
		Health:     app.store,
		Registry:   app.registry,
		Pipeline:   app.pipeline,
		Hub:        app.hub,
		Sessions:   app.sessions,
		AdminToken: cfg.Auth.AdminToken,
		Clock:      app.clock,
	})

	app.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      app.server,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	return nil
}

func (app *Application) buildLimiter(ctx context.Context) (interfaces.RateLimiter, error) {
	rl := app.config.RateLimit
	if rl.Backend != config.BackendRedis {
		return ratelimit.NewMemoryLimiter(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     rl.RedisAddr,
		Password: rl.RedisPassword,
		DB:       rl.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", rl.RedisAddr, err)
	}
	app.redis = client
	app.log.WithField("addr", rl.RedisAddr).Info("Using redis rate limiter")
	return ratelimit.NewRedisLimiter(client, rl.KeyPrefix), nil
}

func buildVerifier(cfg *config.AuthConfig) (interfaces.IdentityVerifier, error) {
	if cfg.Mode == config.AuthModeDev {
		return identity.NewDevVerifier(), nil
	}
	verifier, err := identity.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize identity verifier: %w", err)
	}
	return verifier, nil
}

// Start starts background workers and begins accepting connections.
func (app *Application) Start(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.started {
		return ErrAlreadyStarted
	}

	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := app.hub.Start(runCtx); err != nil {
		cancel()
		_ = listener.Close()
		return fmt.Errorf("failed to start broadcast hub: %w", err)
	}

	if mem, ok := app.limiter.(*ratelimit.MemoryLimiter); ok {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			mem.RunSweeper(runCtx, app.config.RateLimit.SweepInterval, app.clock.Now)
		}()
	}

	app.listener = listener
	app.cancel = cancel
	app.started = true

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.log.WithError(err).Error("HTTP server stopped")
		}
	}()

	app.log.WithField("addr", listener.Addr().String()).Info("Pixel grid server started")
	return nil
}

// Stop shuts down in reverse dependency order: HTTP → sessions → hub →
// workers → backends. It is safe to call on a never-started application.
func (app *Application) Stop(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	var errs []error
	if app.started {
		if err := app.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
		}
		// Wait for placements already in the pipeline before the store and
		// hub go away.
		if err := app.sessions.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("session shutdown: %w", err))
		}
		if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
			errs = append(errs, fmt.Errorf("broadcast hub shutdown: %w", err))
		}
		app.cancel()
		app.wg.Wait()
		app.started = false
	}

	if err := app.closeBackends(); err != nil {
		errs = append(errs, err)
	}

	app.log.WithField("stats", app.pipeline.Stats()).Info("Pixel grid server stopped")
	return errors.Join(errs...)
}

func (app *Application) closeBackends() error {
	var errs []error
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
		app.redis = nil
	}
	if app.store != nil {
		if err := app.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Addr returns the listening address once started, otherwise the configured one.
func (app *Application) Addr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Handler returns the root HTTP handler.
func (app *Application) Handler() http.Handler {
	return app.server
}
