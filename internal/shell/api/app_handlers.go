package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/artpar/heron/internal/core/domain"
	"github.com/artpar/heron/internal/shell/foundation"
)

// =============================================================================
// Application CRUD
// =============================================================================

func (h *Handler) handleCreateApp(w http.ResponseWriter, r *http.Request) {
	var app domain.Application
	if err := json.NewDecoder(r.Body).Decode(&app); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}

	env, err := h.store.GetEnvironment(r.Context(), app.EnvironmentName)
	if err != nil {
		h.writeStoreError(w, err, "environment")
		return
	}
	if err := app.Normalize(env); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
		return
	}

	now := time.Now().UTC()
	app.CreatedAt = now
	app.UpdatedAt = now
	if err := h.store.CreateApplication(r.Context(), &app); err != nil {
		h.writeStoreError(w, err, "application")
		return
	}
	h.writeJSON(w, http.StatusCreated, app)
}

func (h *Handler) handleListApps(w http.ResponseWriter, r *http.Request) {
	opts := h.listOptions(r)

	var apps []domain.Application
	var err error
	if env := r.URL.Query().Get("environment"); env != "" {
		apps, err = h.store.ListApplicationsByEnvironment(r.Context(), env, opts)
	} else {
		apps, err = h.store.ListApplications(r.Context(), opts)
	}
	if err != nil {
		h.writeStoreError(w, err, "application")
		return
	}

	h.writeJSON(w, http.StatusOK, ListResponse[domain.Application]{
		Results: apps,
		Total:   len(apps),
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

func (h *Handler) handleGetApp(w http.ResponseWriter, r *http.Request) {
	app, err := h.store.GetApplication(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, err, "application")
		return
	}
	h.writeJSON(w, http.StatusOK, app)
}

func (h *Handler) handleUpdateApp(w http.ResponseWriter, r *http.Request) {
	app, _, err := h.loadApp(r, chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, err, "application")
		return
	}

	var update domain.Application
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}

	// Identity is immutable; everything else is replaced.
	update.ID = app.ID
	update.Name = app.Name
	update.Identifier = app.Identifier
	update.EnvironmentName = app.EnvironmentName
	update.CreatedAt = app.CreatedAt
	update.UpdatedAt = time.Now().UTC()

	env := app.Environment()
	if err := update.Normalize(env); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
		return
	}
	if err := h.store.UpdateApplication(r.Context(), &update); err != nil {
		h.writeStoreError(w, err, "application")
		return
	}
	h.writeJSON(w, http.StatusOK, update)
}

func (h *Handler) handleDeleteApp(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteApplication(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeStoreError(w, err, "application")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// Variables
// =============================================================================

func (h *Handler) handleGetVars(w http.ResponseWriter, r *http.Request) {
	app, pack, err := h.loadApp(r, chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, err, "application")
		return
	}
	factory, err := h.factory(app, pack)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
		return
	}
	vars, err := factory.Vars(r.Context())
	if err != nil {
		h.writeStoreError(w, err, "application")
		return
	}
	h.writeJSON(w, http.StatusOK, VarsResponse{Results: vars})
}

func (h *Handler) handleSetVars(w http.ResponseWriter, r *http.Request) {
	app, _, err := h.loadApp(r, chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, err, "application")
		return
	}

	var vars map[string]string
	if err := json.NewDecoder(r.Body).Decode(&vars); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}
	for key, value := range vars {
		app.SetVar(domain.EnvVar{Key: key, Value: value, Source: domain.SourceUser})
	}
	app.UpdatedAt = time.Now().UTC()
	if err := h.store.UpdateApplication(r.Context(), app); err != nil {
		h.writeStoreError(w, err, "application")
		return
	}
	h.writeJSON(w, http.StatusCreated, VarsResponse{Results: app.Vars})
}

func (h *Handler) handleUnsetVars(w http.ResponseWriter, r *http.Request) {
	app, _, err := h.loadApp(r, chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, err, "application")
		return
	}

	var keys []string
	if err := json.NewDecoder(r.Body).Decode(&keys); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}
	for _, key := range keys {
		app.UnsetVar(key)
	}
	app.UpdatedAt = time.Now().UTC()
	if err := h.store.UpdateApplication(r.Context(), app); err != nil {
		h.writeStoreError(w, err, "application")
		return
	}
	h.writeJSON(w, http.StatusAccepted, VarsResponse{Results: app.Vars})
}

// =============================================================================
// Database
// =============================================================================

func (h *Handler) handleGetDatabase(w http.ResponseWriter, r *http.Request) {
	app, err := h.store.GetApplication(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, err, "application")
		return
	}
	if app.Database == nil {
		h.writeError(w, http.StatusNotFound, "database not declared", "database_not_found")
		return
	}
	h.writeJSON(w, http.StatusOK, app.Database)
}

func (h *Handler) handleSetDatabase(w http.ResponseWriter, r *http.Request) {
	app, _, err := h.loadApp(r, chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, err, "application")
		return
	}

	var db domain.Database
	if err := json.NewDecoder(r.Body).Decode(&db); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}
	app.Database = &db
	app.UpdatedAt = time.Now().UTC()
	if err := h.store.UpdateApplication(r.Context(), app); err != nil {
		h.writeStoreError(w, err, "application")
		return
	}
	h.writeJSON(w, http.StatusCreated, app.Database)
}

func (h *Handler) handleDeleteDatabase(w http.ResponseWriter, r *http.Request) {
	app, _, err := h.loadApp(r, chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, err, "application")
		return
	}
	app.Database = nil
	app.UpdatedAt = time.Now().UTC()
	if err := h.store.UpdateApplication(r.Context(), app); err != nil {
		h.writeStoreError(w, err, "application")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// Bootstrap
// =============================================================================

// missingDefaults names the resources a bootstrap run would fill in.
func missingDefaults(app *domain.Application) []string {
	missing := []string{}
	if app.Database == nil {
		missing = append(missing, "database")
	}
	if app.Bucket == nil {
		missing = append(missing, "bucket")
	}
	if app.ServiceAccount == nil {
		missing = append(missing, "service_account")
	}
	if app.Repository == nil {
		missing = append(missing, "repository")
	}
	if len(app.Domains) == 0 {
		missing = append(missing, "domains")
	}
	return missing
}

func (h *Handler) handleCheckBootstrap(w http.ResponseWriter, r *http.Request) {
	app, _, err := h.loadApp(r, chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, err, "application")
		return
	}
	h.writeJSON(w, http.StatusOK, BootstrapResponse{Missing: missingDefaults(app)})
}

func (h *Handler) handleApplyBootstrap(w http.ResponseWriter, r *http.Request) {
	app, _, err := h.loadApp(r, chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, err, "application")
		return
	}
	app.ApplyDefaults(h.config.Defaults)
	app.UpdatedAt = time.Now().UTC()
	if err := h.store.UpdateApplication(r.Context(), app); err != nil {
		h.writeStoreError(w, err, "application")
		return
	}
	h.writeJSON(w, http.StatusOK, app)
}

// =============================================================================
// Apply (pipeline compilation)
// =============================================================================

func (h *Handler) handleCheckApply(w http.ResponseWriter, r *http.Request) {
	app, pack, err := h.loadApp(r, chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, err, "application")
		return
	}
	factory, err := h.factory(app, pack)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
		return
	}
	if err := factory.CheckVars(r.Context()); err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, err.Error(), "validation_error")
		return
	}
	h.writeJSON(w, http.StatusOK, StatusResponse{Status: "Good to go"})
}

func (h *Handler) handleApply(w http.ResponseWriter, r *http.Request) {
	app, pack, err := h.loadApp(r, chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, err, "application")
		return
	}
	factory, err := h.factory(app, pack)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
		return
	}
	triggerID, err := factory.Compile(r.Context())
	if err != nil {
		h.logger.Error("pipeline compilation failed", "app", app.Identifier, "error", err)
		h.writeError(w, http.StatusUnprocessableEntity, err.Error(), "compile_error")
		return
	}
	h.writeJSON(w, http.StatusCreated, ApplyResponse{TriggerID: triggerID})
}

// =============================================================================
// Init (provisioning)
// =============================================================================

func (h *Handler) handleListAppJobs(w http.ResponseWriter, r *http.Request) {
	app, pack, err := h.loadApp(r, chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, err, "application")
		return
	}
	f := foundation.NewAppFoundation(app, pack, h.foundation)
	h.writeJSON(w, http.StatusOK, JobsResponse{Jobs: foundation.JobNames(f)})
}

func (h *Handler) handleRunAppJobs(w http.ResponseWriter, r *http.Request) {
	app, pack, err := h.loadApp(r, chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, err, "application")
		return
	}
	f := foundation.NewAppFoundation(app, pack, h.foundation)
	jobs := foundation.RunAll(r.Context(), h.logger, f)
	h.writeJSON(w, http.StatusAccepted, JobsResponse{Jobs: jobs})
}
