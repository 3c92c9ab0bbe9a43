package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thrillee/ussdbox/internal/config"
	"github.com/thrillee/ussdbox/internal/logging"
	"github.com/thrillee/ussdbox/internal/registry"
	"github.com/thrillee/ussdbox/internal/smpp"
	"github.com/thrillee/ussdbox/internal/ussd"
)

func main() {
	appCtx, rootCancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer rootCancel()

	// --- Configuration ---
	cfg, err := config.Load()
	if err != nil {
		// Use standard log before slog is configured
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// --- Logging ---
	logLevel := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		logLevel = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel <= slog.LevelDebug,
	}
	baseHandler := slog.NewJSONHandler(os.Stdout, opts)
	logger := slog.New(logging.NewContextHandler(baseHandler))
	slog.SetDefault(logger)
	slog.Info("Logging initialized", "level", logLevel.String())

	// --- Wire components ---
	slog.Info("Initializing USSD gateway",
		slog.String("smpp_server", cfg.SMPP.Server),
		slog.Int("smpp_port", cfg.SMPP.Port),
		slog.String("service_code", cfg.SMPP.ServiceCode),
		slog.String("process_url", cfg.Backend.ProcessURL))

	sessions := registry.New()
	correlator := ussd.NewCorrelator(cfg)
	encoder := ussd.NewEncoder()
	bridge := ussd.NewBridge(cfg)

	var dispatcher *ussd.Dispatcher
	connector := smpp.NewConnector(cfg, func(ev ussd.InboundEvent) {
		dispatcher.Dispatch(ev)
	})
	dispatcher = ussd.NewDispatcher(cfg, correlator, sessions, bridge, encoder, connector)
	supervisor := smpp.NewSupervisor(cfg, connector)

	// --- Start ---
	dispatcher.Start(appCtx)

	if err := connector.Connect(appCtx); err != nil {
		// Leave recovery to the supervisor (or its give-up policy).
		slog.Error("Initial connect failed", slog.Any("error", err))
	}
	supervisor.Start(appCtx)

	slog.Info("USSD gateway is running")

	// --- Wait for shutdown signal or terminal failure ---
	exitCode := 0
	select {
	case <-appCtx.Done():
		slog.Info("Shutdown signal received, initiating graceful shutdown...")
	case err := <-supervisor.Fatal():
		slog.Error("Reconnect budget exhausted, terminating", slog.Any("error", err))
		exitCode = 1
	}
	rootCancel()

	// --- Graceful shutdown sequence ---
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	supervisor.Stop()
	connector.Disconnect(shutdownCtx)
	dispatcher.Shutdown(2 * time.Second)

	slog.Info("USSD gateway stopped", slog.Int("sessions_seen", sessions.Count()))
	os.Exit(exitCode)
}
