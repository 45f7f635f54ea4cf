package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/voice-ledger/internal/api/handlers"
	"github.com/dvloznov/voice-ledger/internal/app"
	"github.com/dvloznov/voice-ledger/internal/config"
	"github.com/dvloznov/voice-ledger/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log := logger.New("info")
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	port := flag.String("port", cfg.Port, "HTTP server port (or set PORT env)")
	flag.Parse()

	log := logger.New(cfg.LogLevel)

	ctx := context.Background()
	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()
	if err := application.Start(workerCtx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start archive worker")
	}

	sessions := handlers.NewSessions(application.Deps, application.Capture, cfg.SessionTTL, logger.Component(log, "voice"))

	handler := handlers.NewRouter(handlers.RouterConfig{
		Repo:      application.Repo,
		Committer: application.Committer,
		Sessions:  sessions,
		Jobs:      application.Jobs,
		Log:       log,
	})

	// No WriteTimeout: capture websockets stay open for the whole session.
	server := &http.Server{
		Addr:              ":" + *port,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("port", *port).Str("backend", cfg.LedgerBackend).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	sessions.Close()

	// Drain queued archive jobs before releasing clients.
	if err := application.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}
	cancelWorker()

	log.Info().Msg("Server exited")
}
