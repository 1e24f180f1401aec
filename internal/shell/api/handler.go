// Package api provides the HTTP surface of the control plane. Views are
// thin: decode, delegate to the store or a service, encode.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/artpar/heron/internal/core/domain"
	"github.com/artpar/heron/internal/shell/deploy"
	"github.com/artpar/heron/internal/shell/foundation"
	"github.com/artpar/heron/internal/shell/gcp"
	"github.com/artpar/heron/internal/shell/pipeline"
	"github.com/artpar/heron/internal/shell/store"
)

// =============================================================================
// Handler
// =============================================================================

// Config carries the handler's conventions.
type Config struct {
	Pipeline pipeline.Config
	Defaults domain.DefaultsConfig
}

// Handler provides HTTP handlers for the control plane API.
type Handler struct {
	store      store.Store
	triggers   gcp.TriggerService
	run        gcp.RunService
	foundation foundation.Deps
	ingestor   *deploy.Ingestor
	config     Config
	logger     *slog.Logger
}

// NewHandler creates the API handler.
func NewHandler(s store.Store, triggers gcp.TriggerService, run gcp.RunService, found foundation.Deps, ingestor *deploy.Ingestor, cfg Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:      s,
		triggers:   triggers,
		run:        run,
		foundation: found,
		ingestor:   ingestor,
		config:     cfg,
		logger:     logger.With("component", "api"),
	}
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.jsonContentType)
	r.Use(h.requestIDHeader)

	r.Get("/health", h.handleHealth)

	r.Route("/apps", func(r chi.Router) {
		r.Post("/", h.handleCreateApp)
		r.Get("/", h.handleListApps)
		r.Get("/{id}", h.handleGetApp)
		r.Put("/{id}", h.handleUpdateApp)
		r.Delete("/{id}", h.handleDeleteApp)

		r.Get("/{id}/vars", h.handleGetVars)
		r.Post("/{id}/vars", h.handleSetVars)
		r.Delete("/{id}/vars", h.handleUnsetVars)

		r.Get("/{id}/database", h.handleGetDatabase)
		r.Post("/{id}/database", h.handleSetDatabase)
		r.Delete("/{id}/database", h.handleDeleteDatabase)

		r.Get("/{id}/bootstrap", h.handleCheckBootstrap)
		r.Post("/{id}/bootstrap", h.handleApplyBootstrap)

		r.Get("/{id}/apply", h.handleCheckApply)
		r.Post("/{id}/apply", h.handleApply)

		r.Get("/{id}/init", h.handleListAppJobs)
		r.Post("/{id}/init", h.handleRunAppJobs)
	})

	r.Route("/environments", func(r chi.Router) {
		r.Post("/", h.handleCreateEnvironment)
		r.Get("/", h.handleListEnvironments)
		r.Get("/{name}", h.handleGetEnvironment)
		r.Put("/{name}", h.handleUpdateEnvironment)
		r.Delete("/{name}", h.handleDeleteEnvironment)

		r.Get("/{name}/init", h.handleListEnvironmentJobs)
		r.Post("/{name}/init", h.handleRunEnvironmentJobs)
	})

	r.Route("/build-packs", func(r chi.Router) {
		r.Post("/", h.handleCreateBuildPack)
		r.Get("/", h.handleListBuildPacks)
		r.Get("/{name}", h.handleGetBuildPack)
		r.Put("/{name}", h.handleUpdateBuildPack)
		r.Delete("/{name}", h.handleDeleteBuildPack)
	})

	r.Post("/hooks/build", h.handleBuildHook)

	return r
}

// =============================================================================
// Middleware
// =============================================================================

func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Health
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

// =============================================================================
// Helpers
// =============================================================================

// loadApp fetches an application with its environment bound and its build
// pack resolved.
func (h *Handler) loadApp(r *http.Request, id string) (*domain.Application, *domain.BuildPack, error) {
	ctx := r.Context()
	app, err := h.store.GetApplication(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	env, err := h.store.GetEnvironment(ctx, app.EnvironmentName)
	if err != nil {
		return nil, nil, err
	}
	if err := app.Normalize(env); err != nil {
		return nil, nil, validationError{err}
	}
	pack, err := h.store.GetBuildPack(ctx, app.BuildSetup.BuildPackName)
	if err != nil {
		return nil, nil, err
	}
	return app, pack, nil
}

// factory builds the pipeline factory for one application, with the
// provisioning orchestrator attached as placeholder provider.
func (h *Handler) factory(app *domain.Application, pack *domain.BuildPack) (*pipeline.Factory, error) {
	deps := pipeline.Deps{
		Triggers:    h.triggers,
		Run:         h.run,
		Store:       h.store,
		Provisioner: foundation.NewAppFoundation(app, pack, h.foundation),
		Logger:      h.logger,
		Config:      h.config.Pipeline,
	}
	return pipeline.New(app, pack, deps)
}

func (h *Handler) listOptions(r *http.Request) store.ListOptions {
	var opts store.ListOptions
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			opts.Limit = l
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil {
			opts.Offset = o
		}
	}
	opts.Normalize()
	return opts
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// validationError marks a domain-validation failure on stored data, so it
// surfaces to the caller instead of masquerading as a server fault.
type validationError struct{ err error }

func (e validationError) Error() string { return e.err.Error() }
func (e validationError) Unwrap() error { return e.err }

// writeStoreError maps store and validation failures onto HTTP statuses.
func (h *Handler) writeStoreError(w http.ResponseWriter, err error, entity string) {
	var invalid validationError
	switch {
	case isNotFound(err):
		h.writeError(w, http.StatusNotFound, entity+" not found", entity+"_not_found")
	case errors.Is(err, store.ErrDuplicateID):
		h.writeError(w, http.StatusConflict, entity+" already exists", entity+"_exists")
	case errors.As(err, &invalid):
		h.writeError(w, http.StatusUnprocessableEntity, invalid.Error(), "validation_error")
	default:
		h.logger.Error("store operation failed", "entity", entity, "error", err)
		h.writeError(w, http.StatusInternalServerError, "operation failed", "internal_error")
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
