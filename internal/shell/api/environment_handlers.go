package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/artpar/heron/internal/core/domain"
	"github.com/artpar/heron/internal/shell/foundation"
)

// =============================================================================
// Environment CRUD
// =============================================================================

func (h *Handler) handleCreateEnvironment(w http.ResponseWriter, r *http.Request) {
	var env domain.Environment
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}
	if env.Name == "" {
		h.writeError(w, http.StatusBadRequest, "environment name is required", "validation_error")
		return
	}
	if err := env.Project.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
		return
	}
	if err := h.store.CreateEnvironment(r.Context(), &env); err != nil {
		h.writeStoreError(w, err, "environment")
		return
	}
	h.writeJSON(w, http.StatusCreated, env)
}

func (h *Handler) handleListEnvironments(w http.ResponseWriter, r *http.Request) {
	opts := h.listOptions(r)
	envs, err := h.store.ListEnvironments(r.Context(), opts)
	if err != nil {
		h.writeStoreError(w, err, "environment")
		return
	}
	h.writeJSON(w, http.StatusOK, ListResponse[domain.Environment]{
		Results: envs,
		Total:   len(envs),
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

func (h *Handler) handleGetEnvironment(w http.ResponseWriter, r *http.Request) {
	env, err := h.store.GetEnvironment(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeStoreError(w, err, "environment")
		return
	}
	h.writeJSON(w, http.StatusOK, env)
}

func (h *Handler) handleUpdateEnvironment(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := h.store.GetEnvironment(r.Context(), name); err != nil {
		h.writeStoreError(w, err, "environment")
		return
	}

	var env domain.Environment
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}
	env.Name = name
	if err := env.Project.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
		return
	}
	if err := h.store.UpdateEnvironment(r.Context(), &env); err != nil {
		h.writeStoreError(w, err, "environment")
		return
	}
	h.writeJSON(w, http.StatusOK, env)
}

func (h *Handler) handleDeleteEnvironment(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteEnvironment(r.Context(), chi.URLParam(r, "name")); err != nil {
		h.writeStoreError(w, err, "environment")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// Environment Provisioning
// =============================================================================

func (h *Handler) handleListEnvironmentJobs(w http.ResponseWriter, r *http.Request) {
	env, err := h.store.GetEnvironment(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeStoreError(w, err, "environment")
		return
	}
	f := foundation.NewEnvironmentFoundation(env, h.foundation)
	h.writeJSON(w, http.StatusOK, JobsResponse{Jobs: foundation.JobNames(f)})
}

func (h *Handler) handleRunEnvironmentJobs(w http.ResponseWriter, r *http.Request) {
	env, err := h.store.GetEnvironment(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeStoreError(w, err, "environment")
		return
	}
	f := foundation.NewEnvironmentFoundation(env, h.foundation)
	jobs := foundation.RunAll(r.Context(), h.logger, f)
	h.writeJSON(w, http.StatusAccepted, JobsResponse{Jobs: jobs})
}
