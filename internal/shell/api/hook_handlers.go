package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/artpar/heron/internal/core/domain"
	"github.com/artpar/heron/internal/shell/deploy"
)

// =============================================================================
// Build Webhook
// =============================================================================

// pushEnvelope is the Pub/Sub push wrapper around a build status message.
// Data is base64 inside the JSON and decoded by encoding/json.
type pushEnvelope struct {
	Message struct {
		MessageID string `json:"messageId"`
		Data      []byte `json:"data"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// buildPayload is the build object the build system publishes on every
// status change.
type buildPayload struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	BuildTriggerID string `json:"buildTriggerId"`
	CreateTime     string `json:"createTime"`
	StartTime      string `json:"startTime"`
	FinishTime     string `json:"finishTime"`
	Source         struct {
		GitSource *struct {
			URL      string `json:"url"`
			Revision string `json:"revision"`
		} `json:"gitSource"`
	} `json:"source"`
}

// timestamp picks the most specific time the payload carries.
func (p buildPayload) timestamp() time.Time {
	for _, field := range []string{p.FinishTime, p.StartTime, p.CreateTime} {
		if field == "" {
			continue
		}
		if ts, err := time.Parse(time.RFC3339Nano, field); err == nil {
			return ts.UTC()
		}
	}
	return time.Now().UTC()
}

// handleBuildHook ingests one build status change pushed by Pub/Sub.
//
// Builds without a git source were not started by a repository event and are
// ignored. Unknown trigger ids belong to pipelines this control plane does
// not manage; they are logged and acknowledged so the subscription does not
// redeliver them forever.
func (h *Handler) handleBuildHook(w http.ResponseWriter, r *http.Request) {
	var envelope pushEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid push envelope", "validation_error")
		return
	}

	var payload buildPayload
	if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid build payload", "validation_error")
		return
	}

	if payload.Source.GitSource == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	app, err := h.store.GetApplicationByTriggerID(r.Context(), payload.BuildTriggerID)
	if err != nil {
		if isNotFound(err) {
			h.logger.Info("event for unmanaged trigger", "trigger_id", payload.BuildTriggerID, "build_id", payload.ID)
			h.writeJSON(w, http.StatusOK, StatusResponse{Status: "ignored"})
			return
		}
		h.writeStoreError(w, err, "application")
		return
	}

	env, err := h.store.GetEnvironment(r.Context(), app.EnvironmentName)
	if err != nil {
		h.writeStoreError(w, err, "environment")
		return
	}
	if err := app.Normalize(env); err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, err.Error(), "validation_error")
		return
	}

	event := domain.Event{
		Status: domain.Status(payload.Status),
		Source: domain.Source{
			URL:      payload.Source.GitSource.URL,
			Revision: payload.Source.GitSource.Revision,
		},
		CreatedAt: payload.timestamp(),
	}

	if _, err := h.ingestor.RegisterEvent(r.Context(), app, payload.ID, event); err != nil {
		if errors.Is(err, deploy.ErrEventOutOfOrder) {
			h.writeError(w, http.StatusUnprocessableEntity, err.Error(), "event_out_of_order")
			return
		}
		h.logger.Error("event registration failed", "build_id", payload.ID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "event registration failed", "internal_error")
		return
	}
	h.writeJSON(w, http.StatusAccepted, StatusResponse{Status: "done"})
}
