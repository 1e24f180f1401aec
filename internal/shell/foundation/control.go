package foundation

import (
	"context"
	"log/slog"
)

// ControlFoundation provisions the control plane's own resources.
type ControlFoundation struct {
	deps   Deps
	logger *slog.Logger
}

// NewControlFoundation builds the control plane's job registry.
func NewControlFoundation(deps Deps) *ControlFoundation {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ControlFoundation{deps: deps, logger: logger.With("component", "foundation")}
}

func (f *ControlFoundation) Jobs() []Job {
	return []Job{
		{Name: "bootstrap-bucket", Run: f.setupBucket},
	}
}

// setupBucket creates the bucket holding build-pack contexts and other
// control plane artifacts.
func (f *ControlFoundation) setupBucket(ctx context.Context) error {
	control := f.deps.Control
	return ignoreExists(f.deps.Clients.Storage.CreateBucket(ctx, control.ProjectID, control.Bucket, control.Region))
}
