package api

import "github.com/artpar/heron/internal/core/domain"

// ErrorResponse is the error payload.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status string `json:"status"`
}

// ListResponse wraps a collection result.
type ListResponse[T any] struct {
	Results []T `json:"results"`
	Total   int `json:"total"`
	Limit   int `json:"limit"`
	Offset  int `json:"offset"`
}

// VarsResponse lists the application's effective environment variables.
type VarsResponse struct {
	Results []domain.EnvVar `json:"results"`
}

// JobsResponse lists provisioning job names.
type JobsResponse struct {
	Jobs []string `json:"jobs"`
}

// ApplyResponse reports the trigger bound by a pipeline compilation.
type ApplyResponse struct {
	TriggerID string `json:"trigger_id"`
}

// StatusResponse is a bare status acknowledgement.
type StatusResponse struct {
	Status string `json:"status"`
}

// BootstrapResponse reports which default resources a bootstrap run would
// fill in.
type BootstrapResponse struct {
	Missing []string `json:"missing"`
}
