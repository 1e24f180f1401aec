package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/artpar/heron/internal/core/domain"
)

// =============================================================================
// Build Pack CRUD
// =============================================================================

func (h *Handler) handleCreateBuildPack(w http.ResponseWriter, r *http.Request) {
	var pack domain.BuildPack
	if err := json.NewDecoder(r.Body).Decode(&pack); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}
	if pack.Name == "" {
		h.writeError(w, http.StatusBadRequest, "build pack name is required", "validation_error")
		return
	}
	if !pack.Target.IsValid() {
		h.writeError(w, http.StatusBadRequest, "unknown build target", "validation_error")
		return
	}
	pack.Normalize()
	if err := h.store.CreateBuildPack(r.Context(), &pack); err != nil {
		h.writeStoreError(w, err, "build_pack")
		return
	}
	h.writeJSON(w, http.StatusCreated, pack)
}

func (h *Handler) handleListBuildPacks(w http.ResponseWriter, r *http.Request) {
	opts := h.listOptions(r)
	packs, err := h.store.ListBuildPacks(r.Context(), opts)
	if err != nil {
		h.writeStoreError(w, err, "build_pack")
		return
	}
	h.writeJSON(w, http.StatusOK, ListResponse[domain.BuildPack]{
		Results: packs,
		Total:   len(packs),
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

func (h *Handler) handleGetBuildPack(w http.ResponseWriter, r *http.Request) {
	pack, err := h.store.GetBuildPack(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeStoreError(w, err, "build_pack")
		return
	}
	h.writeJSON(w, http.StatusOK, pack)
}

func (h *Handler) handleUpdateBuildPack(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := h.store.GetBuildPack(r.Context(), name); err != nil {
		h.writeStoreError(w, err, "build_pack")
		return
	}

	var pack domain.BuildPack
	if err := json.NewDecoder(r.Body).Decode(&pack); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}
	pack.Name = name
	if !pack.Target.IsValid() {
		h.writeError(w, http.StatusBadRequest, "unknown build target", "validation_error")
		return
	}
	if err := h.store.UpdateBuildPack(r.Context(), &pack); err != nil {
		h.writeStoreError(w, err, "build_pack")
		return
	}
	h.writeJSON(w, http.StatusOK, pack)
}

func (h *Handler) handleDeleteBuildPack(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteBuildPack(r.Context(), chi.URLParam(r, "name")); err != nil {
		h.writeStoreError(w, err, "build_pack")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
