package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/artpar/heron/internal/shell/api"
	"github.com/artpar/heron/internal/shell/deploy"
	"github.com/artpar/heron/internal/shell/foundation"
	"github.com/artpar/heron/internal/shell/gcp"
	"github.com/artpar/heron/internal/shell/notify"
	"github.com/artpar/heron/internal/shell/pipeline"
	"github.com/artpar/heron/internal/shell/store"
	"github.com/artpar/heron/internal/shell/vcs"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitDatabaseError   = 2
	ExitCloudError      = 3
	ExitHTTPServerError = 4
)

// =============================================================================
// Server
// =============================================================================

// Server represents the Heron application server.
type Server struct {
	config     *Config
	httpServer *http.Server
	store      store.Store
	logger     *slog.Logger
}

// NewServer creates a new server with the given config.
func NewServer(ctx context.Context, cfg *Config, logger *slog.Logger) (*Server, error) {
	s, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitDatabaseError}
	}

	clients, err := gcp.NewClients(ctx)
	if err != nil {
		s.Close()
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitCloudError}
	}

	foundationDeps := foundation.Deps{
		Clients: foundation.Clients{
			Identity: clients.Identity,
			Storage:  clients.Storage,
			SQL:      clients.SQL,
			Run:      clients.Run,
			DNS:      clients.DNS,
			Gateway:  clients.Gateway,
			PubSub:   clients.PubSub,
		},
		Store:  s,
		Logger: logger,
		Control: foundation.ControlPlane{
			ProjectID:      cfg.Control.ProjectID,
			Region:         cfg.Control.Region,
			Bucket:         cfg.Control.Bucket,
			URL:            cfg.Control.URL,
			ServiceAccount: cfg.Control.ServiceAccount,
		},
	}

	notifier := notify.NewChatNotifier(vcs.NewGitHub(cfg.GitHub.Token), logger)
	ingestor := deploy.NewIngestor(s, notifier, logger)

	handler := api.NewHandler(s, clients.Build, clients.Run, foundationDeps, ingestor, api.Config{
		Pipeline: pipeline.Config{RegistryProject: cfg.Control.ProjectID},
		Defaults: cfg.Defaults.Domain(),
	}, logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		config:     cfg,
		httpServer: httpServer,
		store:      s,
		logger:     logger,
	}, nil
}

// Start starts the server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "address", s.config.Server.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		return &ServerError{Op: "Start", Err: err, ExitCode: ExitHTTPServerError}
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
	}

	s.logger.Info("shutdown complete")
	return nil
}

// =============================================================================
// Server Error
// =============================================================================

// ServerError represents an error during server operation.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error {
	return e.Err
}
