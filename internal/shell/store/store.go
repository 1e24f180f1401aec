package store

import (
	"context"

	"github.com/artpar/heron/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for control plane entities.
type Store interface {
	// Environment operations
	CreateEnvironment(ctx context.Context, env *domain.Environment) error
	GetEnvironment(ctx context.Context, name string) (*domain.Environment, error)
	UpdateEnvironment(ctx context.Context, env *domain.Environment) error
	DeleteEnvironment(ctx context.Context, name string) error
	ListEnvironments(ctx context.Context, opts ListOptions) ([]domain.Environment, error)

	// Build pack operations
	CreateBuildPack(ctx context.Context, pack *domain.BuildPack) error
	GetBuildPack(ctx context.Context, name string) (*domain.BuildPack, error)
	UpdateBuildPack(ctx context.Context, pack *domain.BuildPack) error
	DeleteBuildPack(ctx context.Context, name string) error
	ListBuildPacks(ctx context.Context, opts ListOptions) ([]domain.BuildPack, error)

	// Application operations
	CreateApplication(ctx context.Context, app *domain.Application) error
	GetApplication(ctx context.Context, id string) (*domain.Application, error)
	GetApplicationByTriggerID(ctx context.Context, triggerID string) (*domain.Application, error)
	UpdateApplication(ctx context.Context, app *domain.Application) error
	DeleteApplication(ctx context.Context, id string) error
	ListApplications(ctx context.Context, opts ListOptions) ([]domain.Application, error)
	ListApplicationsByEnvironment(ctx context.Context, envName string, opts ListOptions) ([]domain.Application, error)

	// Deployment operations
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	GetDeployment(ctx context.Context, id string) (*domain.Deployment, error)
	UpdateDeployment(ctx context.Context, deployment *domain.Deployment) error
	DeleteDeployment(ctx context.Context, id string) error
	ListDeploymentsByBuild(ctx context.Context, appID, buildID string) ([]domain.Deployment, error)
	ListDeploymentsByApplication(ctx context.Context, appID string, opts ListOptions) ([]domain.Deployment, error)

	// WithTx runs fn inside a transaction.
	WithTx(ctx context.Context, fn func(Store) error) error

	// Close releases the underlying connection.
	Close() error
}

// =============================================================================
// List Options
// =============================================================================

// ListOptions defines pagination options.
type ListOptions struct {
	Limit  int
	Offset int
}

// Normalize applies sane bounds to pagination parameters.
func (o *ListOptions) Normalize() {
	if o.Limit <= 0 {
		o.Limit = 50
	}
	if o.Limit > 500 {
		o.Limit = 500
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}
