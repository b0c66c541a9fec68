// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

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

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ikhoon/centraldogma/pkg/events"
	"github.com/ikhoon/centraldogma/pkg/server"
	"github.com/ikhoon/centraldogma/pkg/storage"
	"github.com/ikhoon/centraldogma/pkg/watch"
)

type serveOptions struct {
	configPath string
	listen     string
}

func newServeCommand() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the configuration repository server",
		Long: `Run the configuration repository server.

The server holds the commit log in memory, fans commit notifications out
to long-polling watchers, and optionally publishes each commit as a
CloudEvent on the in-memory bus.

Examples:
  # Serve with defaults
  centraldogma serve

  # Serve with a config file
  centraldogma serve --config centraldogma.yaml

  # Override the listen address
  centraldogma serve --listen 127.0.0.1:8080
`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServe(opts)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "Path to the YAML config file")
	cmd.Flags().StringVar(&opts.listen, "listen", "", "Listen address (overrides the config file)")

	return cmd
}

func runServe(opts *serveOptions) error {
	cfg, err := LoadServerConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.listen != "" {
		cfg.ListenAddress = opts.listen
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	registry := watch.NewRegistry(
		watch.WithCapacity(cfg.Watch.RegistryCapacity),
		watch.WithLogger(logger),
	)

	repoOpts := []storage.RepositoryOption{
		storage.WithNotifier(registry),
		storage.WithLogger(logger),
	}

	var bus *events.InMemoryEventBus
	if cfg.Events.Enabled {
		eventCfg := cfg.eventsConfig()
		bus = events.NewInMemoryEventBus(eventCfg.BufferSize, eventCfg.WorkerCount, logger)
		repoOpts = append(repoOpts, storage.WithCommitListener(events.CommitBridge(eventCfg, bus, logger)))
	}

	repo := storage.NewRepository(repoOpts...)

	srv := server.New(server.Config{
		DefaultWatchTimeout: time.Duration(cfg.Watch.DefaultTimeout),
		MaxWatchTimeout:     time.Duration(cfg.Watch.MaxTimeout),
	}, repo, registry, logger)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("address", cfg.ListenAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		repo.Close(err)
		if bus != nil {
			_ = bus.Close()
		}
		return fmt.Errorf("server failed: %w", err)
	}

	// Stop accepting requests, then terminate the commit log; closing
	// the repository closes the registry, which fails every pending
	// long poll with a 503.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown incomplete", zap.Error(err))
	}
	repo.Close(errors.New("server shutting down"))
	if bus != nil {
		_ = bus.Close()
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if level != "" {
		parsed, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		cfg.Level = parsed
	}
	return cfg.Build()
}
