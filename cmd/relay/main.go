package main

import (
	"chat-relay/auth"
	"chat-relay/infrastructure/health"
	"chat-relay/infrastructure/websocket"
	"chat-relay/internal"
	"chat-relay/observability"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/services"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Relay terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run initializes all components, manages the server lifecycle and centralizes error reporting.
// Deferred cleanups (database, signal handler) run before the process exits.
func run() (int, error) {
	// 1. Configuration & Logger
	if err := internal.LoadDotenv(".env"); err != nil {
		return exitConfig, err
	}
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	logger := logs.GetLoggerFromString(config.LogLevel)

	ctx := context.Background()

	// 2. Database (BadgerDB)
	db, err := badger.Open(buildBadgerOpts(config, logger, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Identity store & relay components
	tokens := auth.NewTokenIssuer(config.JWTSecret, config.AuthTokenDuration)
	authService := services.NewAuthService(logger, repositories.NewUserRepository(db), tokens)
	stats := observability.NewStats(logger, config.StatsInterval)
	sup := workers.NewSupervisor(logger, config.RestartInterval)

	orchestrator := runtime.NewOrchestrator(logger, sup, authService, stats, runtime.Options{
		Policy:             config.Policy(),
		OutboundBufferSize: config.OutboundBufferSize,
		AuthTimeout:        config.AuthTimeout,
		DeliveryTimeout:    config.DeliveryTimeout,
	})

	server := websocket.NewServer(logger, orchestrator.Handler(), orchestrator.Registry(), stats, tokens,
		websocket.ServerConfig{
			AllowedOrigins: config.Origins(),
			Conn: websocket.ConnConfig{
				WriteTimeout: config.WriteTimeout,
				PingInterval: config.PingInterval,
				ReadLimit:    config.ReadLimit,
			},
			ShutdownTimeout: config.ShutdownTimeout,
		})

	// 4. Context & Signals
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 3)

	// 5. Supervised workers (presence broadcaster, stats sampler)
	go func() {
		if err := orchestrator.Start(ctx); err != nil {
			errChan <- fmt.Errorf("orchestrator error: %w", err)
		}
	}()

	// 6. Servers, each closing its channel once fully stopped
	var servers []<-chan struct{}
	if config.HealthPort > 0 {
		healthServer := health.NewServer(logger, orchestrator.Healthy, time.Second)
		address := fmt.Sprintf("%s:%d", config.Host, config.HealthPort)
		servers = append(servers, serve(func() {
			if err := healthServer.Run(ctx, address); err != nil {
				errChan <- fmt.Errorf("health server error: %w", err)
			}
		}))
	}

	servers = append(servers, serve(func() {
		logger.Info("Starting relay", "address", config.Address(), "policy", config.DuplicateLoginPolicy)
		if err := server.Run(ctx, config.Address()); err != nil {
			errChan <- fmt.Errorf("websocket server error: %w", err)
		}
	}))

	// 7. Wait for Stop or Error
	code, runErr := exitOK, error(nil)
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case runErr = <-errChan:
		code = exitRuntime
		stop()
	}

	// 8. Final Cleanup (Graceful Shutdown)
	// Live connections close with SHUTDOWN before the workers stop and badger closes
	logger.Info("Shutting down gracefully...")
	if !awaitStopped(config.ShutdownTimeout, servers...) {
		logger.Warn("Servers still draining after shutdown timeout", "timeout", config.ShutdownTimeout)
	}
	orchestrator.Stop()
	logger.Info("Program stopped cleanly")

	return code, runErr
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)

	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG).
			WithBypassLockGuard(true)
	} else {
		options = options.WithLoggingLevel(badger.INFO)
	}

	return options
}
