package foundation

import (
	"context"
	"log/slog"

	"github.com/artpar/heron/internal/core/domain"
	"github.com/artpar/heron/internal/shell/gcp"
)

// controlPlaneRoles are the grants the control plane's own identity needs on
// every environment project it manages.
var controlPlaneRoles = []string{
	"iam.serviceAccountUser",
	"iam.serviceAccountTokenCreator",
	"apigateway.admin",
	"cloudsql.admin",
	"appengine.appAdmin",
	"cloudbuild.builds.editor",
	"secretmanager.admin",
	"run.admin",
	"source.admin",
	"storage.admin",
}

// EnvironmentFoundation provisions what a whole environment shares: build
// status notifications and the control plane's grants on the environment's
// project.
type EnvironmentFoundation struct {
	env    *domain.Environment
	deps   Deps
	logger *slog.Logger
}

// NewEnvironmentFoundation builds the job registry for an environment.
func NewEnvironmentFoundation(env *domain.Environment, deps Deps) *EnvironmentFoundation {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &EnvironmentFoundation{
		env:    env,
		deps:   deps,
		logger: logger.With("component", "foundation", "environment", env.Name),
	}
}

func (f *EnvironmentFoundation) Jobs() []Job {
	return []Job{
		{Name: "build-notifications", Run: f.setupBuildNotifications},
		{Name: "iam-grants", Run: f.setupIAMGrants},
	}
}

// setupBuildNotifications subscribes the control plane's webhook to the
// environment's build status topic, authenticated via OIDC.
func (f *EnvironmentFoundation) setupBuildNotifications(ctx context.Context) error {
	// The pub/sub agent mints the OIDC tokens attached to pushes, so it
	// needs token-creation rights on the control plane's project.
	err := f.deps.Clients.Identity.AddMember(ctx,
		f.deps.Control.ProjectID,
		f.env.Project.PubSubAccount(),
		"iam.serviceAccountTokenCreator",
	)
	if err != nil {
		return err
	}

	return ignoreExists(f.deps.Clients.PubSub.Subscribe(ctx, gcp.SubscribeRequest{
		ProjectID:      f.env.Project.ID,
		SubscriptionID: "heron",
		PushURL:        f.deps.Control.URL + "/hooks/build",
		ServiceAccount: f.deps.Control.ServiceAccount,
	}))
}

func (f *EnvironmentFoundation) setupIAMGrants(ctx context.Context) error {
	for _, role := range controlPlaneRoles {
		err := f.deps.Clients.Identity.AddMember(ctx, f.env.Project.ID, f.deps.Control.ServiceAccount, role)
		if err != nil {
			return err
		}
	}
	return nil
}
