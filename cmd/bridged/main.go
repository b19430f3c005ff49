package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/synapselabs/bridge/internal/control"
	"github.com/synapselabs/bridge/internal/core/config"
	"github.com/synapselabs/bridge/internal/driver/sim"
	"github.com/synapselabs/bridge/internal/gateway"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	isDebug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	slogLevel := slog.LevelInfo
	if *isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}

	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})))
	slog.Info("Logger initialized", "level", slogLevel.String())

	dialer, err := newDialer(cfg)
	if err != nil {
		slog.Error("Failed to initialize gateway driver", "error", err)
		os.Exit(1)
	}

	app, err := control.NewBridge(control.Config{
		Port:        cfg.Server.Port,
		Gateway:     cfg.Gateway,
		Credentials: cfg.Credentials,
		Redis:       cfg.Redis,
		Database:    cfg.Database,
	}, dialer)
	if err != nil {
		slog.Error("Failed to initialize bridge", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	app.Start()

	sig := <-sigChan
	slog.Info("Received signal, shutting down...", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.Shutdown(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Bridge stopped gracefully")
}

// newDialer selects the gateway driver. Real protocol drivers register
// here; the simulator is the only one built in.
func newDialer(cfg *config.AppConfig) (gateway.Dialer, error) {
	switch cfg.Gateway.Driver {
	case "sim":
		return sim.New(sim.Config{
			DialFailRate: 0.2,
			DialLatency:  200 * time.Millisecond,
			MeanLifetime: 5 * time.Minute,
		}), nil
	default:
		return nil, fmt.Errorf("unknown gateway driver %q", cfg.Gateway.Driver)
	}
}
