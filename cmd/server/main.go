package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/facturaIA/nfse-chat-service/api"
	"github.com/facturaIA/nfse-chat-service/internal/app"
	"github.com/facturaIA/nfse-chat-service/internal/auth"
	"github.com/facturaIA/nfse-chat-service/internal/logger"
	"github.com/facturaIA/nfse-chat-service/internal/models"
)

func main() {
	configPath := pflag.String("config", "config.yaml", "path to the YAML configuration")
	pflag.Parse()

	config, err := models.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(app.EventSource, config.Env, config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.Build(ctx, config, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build service")
	}
	defer application.Close()

	authenticator, err := auth.NewAuthenticator(config.Auth)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize auth")
	}

	handler := api.NewHandler(application.Processor, application.Store, authenticator, logger.WithComponent(log, "api"))
	for name, check := range application.Checks() {
		handler.AddHealthCheck(name, check)
	}

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		// a turn may wait for the lock and then for the model
		WriteTimeout: config.Session.LockTimeout + 3*config.Extraction.Timeout,
	}

	log.Info().
		Str("addr", addr).
		Str("version", api.Version).
		Str("ai_provider", config.AI.DefaultProvider).
		Str("session_backend", config.Session.Backend).
		Bool("hybrid", config.Extraction.Hybrid).
		Bool("snapshots", application.Snapshots != nil).
		Msg("starting NFS-e chat service")

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		log.Error().Err(err).Msg("server failed")
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
