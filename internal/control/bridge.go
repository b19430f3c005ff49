// Package control wires the supervisor's components together and owns
// their lifecycle.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/synapselabs/bridge/internal/core/config"
	"github.com/synapselabs/bridge/internal/creds"
	"github.com/synapselabs/bridge/internal/gateway"
	"github.com/synapselabs/bridge/internal/journal"
	"github.com/synapselabs/bridge/internal/status"
)

// Config holds the application configuration.
type Config struct {
	Port        int
	Gateway     config.GatewayConfig
	Credentials config.CredentialsConfig
	Redis       creds.RedisConfig
	Database    journal.PostgresConfig
}

// Bridge is the assembled application: one supervised gateway connection
// plus its ops surface.
type Bridge struct {
	cfg          Config
	svc          *gateway.Service
	statusServer *status.Server
	jour         journal.Journal
	pg           *journal.Postgres
	redisStore   *creds.RedisStore
	log          *slog.Logger
}

// NewBridge creates a Bridge with all dependencies initialized. The dialer
// is injected: the wire protocol lives behind it.
func NewBridge(cfg Config, dialer gateway.Dialer) (*Bridge, error) {
	b := &Bridge{cfg: cfg, log: slog.Default()}

	// 1. Journal: PostgreSQL when configured, in-memory otherwise.
	if cfg.Database.URL != "" {
		pg, err := journal.NewPostgres(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(pg.DB(), "migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		b.pg = pg
		b.jour = pg
		slog.Info("Using PostgreSQL journal")
	} else {
		b.jour = journal.NewMemory(0)
		slog.Info("Using in-memory journal")
	}

	// 2. Credential store.
	var store creds.Store
	switch cfg.Credentials.Backend {
	case "redis":
		rs, err := creds.NewRedisStore(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis store: %w", err)
		}
		b.redisStore = rs
		store = rs
		slog.Info("Using Redis credential store")
	default:
		store = creds.NewFileStore(cfg.Credentials.Path)
		slog.Info("Using file credential store", "path", cfg.Credentials.Path)
	}

	// 3. Connection service.
	b.svc = gateway.NewService(dialer, store, b.jour, gateway.Config{
		ConnectTimeout: cfg.Gateway.ConnectTimeout.Std(),
		InitTimeout:    cfg.Gateway.InitTimeout.Std(),
		ProbeInterval:  cfg.Gateway.ProbeInterval.Std(),
		ProbeTimeout:   cfg.Gateway.ProbeTimeout.Std(),
		RestartDelay:   cfg.Gateway.RestartDelay.Std(),
	}, b.log)

	// 4. Ops surface.
	b.statusServer = status.NewServer(b.svc, b.jour, cfg.Port)

	return b, nil
}

// Start begins supervision and serves the status endpoints.
func (b *Bridge) Start() {
	b.svc.Start()

	go func() {
		slog.Info("Status server listening", "port", b.cfg.Port)
		if err := b.statusServer.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("Status server failed", "error", err)
		}
	}()
}

// Shutdown stops everything, newest dependency first.
func (b *Bridge) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := b.statusServer.Stop(shutdownCtx); err != nil {
		slog.Warn("Status server shutdown", "error", err)
	}

	b.svc.Stop()

	if b.redisStore != nil {
		if err := b.redisStore.Close(); err != nil {
			slog.Warn("Redis close", "error", err)
		}
	}
	if b.pg != nil {
		if err := b.pg.Close(); err != nil {
			slog.Warn("Database close", "error", err)
		}
	}
	return nil
}

// Service exposes the gateway service, mainly for admin commands.
func (b *Bridge) Service() *gateway.Service {
	return b.svc
}
