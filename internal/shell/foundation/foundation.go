// Package foundation provisions the cloud resources an application, an
// environment or the control plane itself depends on. This is part of the
// Imperative Shell.
//
// Every foundation exposes a named job registry. Jobs are idempotent:
// creation calls tolerate already-exists outcomes by keeping the existing
// resource. Jobs run as independent fire-and-forget units; the only ordering
// guarantee is within a single job, which is why role grants live in the
// same job as identity creation.
package foundation

import (
	"context"
	"log/slog"

	"github.com/artpar/heron/internal/shell/gcp"
	"github.com/artpar/heron/internal/shell/store"
)

// Job is one named, independently schedulable provisioning task.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Foundation exposes a job registry.
type Foundation interface {
	Jobs() []Job
}

// JobNames lists the registry without running anything, for dry-run
// previews.
func JobNames(f Foundation) []string {
	jobs := f.Jobs()
	names := make([]string, len(jobs))
	for i, j := range jobs {
		names[i] = j.Name
	}
	return names
}

// RunAll schedules every job concurrently and returns the scheduled names
// immediately. Completion is observed through the resources' own readiness,
// not through this call. The jobs detach from the caller's cancellation so
// an aborted HTTP request does not abandon provisioning halfway.
func RunAll(ctx context.Context, logger *slog.Logger, f Foundation) []string {
	if logger == nil {
		logger = slog.Default()
	}
	detached := context.WithoutCancel(ctx)

	jobs := f.Jobs()
	names := make([]string, len(jobs))
	for i, job := range jobs {
		names[i] = job.Name
		go func(job Job) {
			// A failed job must never take the process down with it.
			defer func() {
				if r := recover(); r != nil {
					logger.Error("provisioning job panicked", "job", job.Name, "panic", r)
				}
			}()
			if err := job.Run(detached); err != nil {
				logger.Error("provisioning job failed", "job", job.Name, "error", err)
				return
			}
			logger.Info("provisioning job finished", "job", job.Name)
		}(job)
	}
	return names
}

// Clients are the cloud collaborators the jobs drive.
type Clients struct {
	Identity gcp.IdentityService
	Storage  gcp.StorageService
	SQL      gcp.SQLService
	Run      gcp.RunService
	DNS      gcp.DNSService
	Gateway  gcp.GatewayService
	PubSub   gcp.PubSubService
}

// ControlPlane carries the control plane's own coordinates: where it runs,
// where it keeps build-pack contexts, and the identity it acts as.
type ControlPlane struct {
	ProjectID      string
	Region         string
	Bucket         string
	URL            string
	ServiceAccount string
}

// Deps bundles what every foundation needs.
type Deps struct {
	Clients Clients
	Store   store.Store
	Logger  *slog.Logger
	Control ControlPlane
}

// ignoreExists swallows the conflict outcome creation calls may return.
func ignoreExists(err error) error {
	if gcp.IsAlreadyExists(err) {
		return nil
	}
	return err
}
