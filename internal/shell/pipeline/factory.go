package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/artpar/heron/internal/core/alias"
	"github.com/artpar/heron/internal/core/domain"
	"github.com/artpar/heron/internal/core/envvars"
	"github.com/artpar/heron/internal/shell/gcp"
	"github.com/artpar/heron/internal/shell/store"
)

const (
	// dbConnKey is the substitution carrying the SQL proxy connection name.
	dbConnKey = "DATABASE_CONNECTION"
	// dockerfileContextKey is the substitution carrying the remote
	// build-context location.
	dockerfileContextKey = "DOCKERFILE_CONTEXT"
	// envPrefix namespaces environment variable substitutions away from
	// setup parameters and build arguments.
	envPrefix = "ENV_"

	sdkImage    = "gcr.io/google.com/cloudsdktool/cloud-sdk:slim"
	dockerImage = "gcr.io/cloud-builders/docker"
	// execWrapperImage runs a command inside the built image with the SQL
	// proxy and environment wired up.
	execWrapperImage = "gcr.io/google-appengine/exec-wrapper"
)

// ErrUnknownTarget is returned for a build pack whose target platform is not
// supported.
var ErrUnknownTarget = errors.New("unknown build target")

// Provisioner creates the placeholder resources an application needs before
// its first real deploy. Implemented by the foundation package.
type Provisioner interface {
	SetupPlaceholder(ctx context.Context, app *domain.Application) (string, error)
}

// Config carries the control plane's own coordinates.
type Config struct {
	// RegistryProject hosts the built container images.
	RegistryProject string
}

// Deps are the collaborators a factory drives.
type Deps struct {
	Triggers    gcp.TriggerService
	Run         gcp.RunService
	Store       store.Store
	Provisioner Provisioner
	Logger      *slog.Logger
	Config      Config
}

// target is the platform-specific half of the factory.
type target interface {
	// setupParams returns the literal substitution seed, in declaration
	// order.
	setupParams() []domain.KeyValue

	// steps emits the platform's functional steps, in order.
	steps() []*gcp.Step

	// images lists the images the pipeline produces.
	images() []string

	// url resolves the live endpoint for the application.
	url(ctx context.Context) (string, error)
}

// Factory compiles one application into its build pipeline and keeps the
// remote trigger in sync.
type Factory struct {
	app    *domain.Application
	pack   *domain.BuildPack
	deps   Deps
	logger *slog.Logger

	target target

	subs      *Substitutions
	envVars   []alias.Pair
	buildArgs []alias.Pair
}

// New builds the factory for the pack's target platform.
func New(app *domain.Application, pack *domain.BuildPack, deps Deps) (*Factory, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	f := &Factory{
		app:    app,
		pack:   pack,
		deps:   deps,
		logger: deps.Logger.With("component", "pipeline", "app", app.Identifier),
	}
	switch pack.Target {
	case domain.TargetCloudRun:
		f.target = &cloudRunTarget{f: f}
	case domain.TargetCloudFunctions:
		f.target = &functionTarget{f: f}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTarget, pack.Target)
	}
	return f, nil
}

// Compile assembles the pipeline and creates or updates the remote trigger.
//
// The deployed service must carry the trigger's own id as a label, so the
// very first creation necessarily produces a pipeline missing that label.
// When the returned id differs from the stored one, the id is persisted and
// compilation re-runs exactly once; the second run must find it unchanged.
func (f *Factory) Compile(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 2; attempt++ {
		id, err := f.compileOnce(ctx)
		if err != nil {
			return "", err
		}
		if f.app.BuildSetup.TriggerID == id {
			return id, nil
		}

		f.logger.Info("trigger id bound, recompiling once", "trigger_id", id)
		f.app.BuildSetup.TriggerID = id
		if err := f.deps.Store.UpdateApplication(ctx, f.app); err != nil {
			return "", fmt.Errorf("persist trigger id: %w", err)
		}
	}
	return f.app.BuildSetup.TriggerID, nil
}

func (f *Factory) compileOnce(ctx context.Context) (string, error) {
	if f.app.Repository == nil {
		return "", fmt.Errorf("application %s has no repository bound", f.app.Identifier)
	}
	if err := f.init(ctx); err != nil {
		return "", err
	}

	steps := f.target.steps()
	for _, sched := range f.app.ScheduledInvocations {
		steps = append(steps, f.scheduleStep(sched))
	}

	owner, repo := gcp.SplitRepoName(f.app.Repository.Name)
	spec := gcp.TriggerSpec{
		ProjectID:     f.app.ProjectID(),
		Name:          f.app.Identifier,
		Description:   f.description(),
		RepoOwner:     owner,
		RepoName:      repo,
		Branch:        f.app.BuildSetup.DeployBranch,
		Tag:           f.app.BuildSetup.DeployTag,
		Steps:         steps,
		Images:        f.target.images(),
		Tags:          f.app.BuildSetup.Tags(f.app, f.pack),
		Substitutions: f.subs.Map(),
		Timeout:       time.Duration(f.app.BuildSetup.BuildTimeout) * time.Second,
		MachineType:   f.app.BuildSetup.MachineType,
	}
	return f.deps.Triggers.UpsertTrigger(ctx, spec)
}

// init resolves the variable sets and populates the substitutions.
func (f *Factory) init(ctx context.Context) error {
	setup := f.target.setupParams()

	siblings, err := f.lookupSiblings(ctx)
	if err != nil {
		return err
	}

	pool := alias.NewPool()
	for _, p := range setup {
		pool.Set(p.Key, p.Value)
	}

	envEngine := alias.NewEngine(pool, f.logger)
	for _, v := range envvars.Aggregate(f.app, f.pack, siblings) {
		envEngine.Append(v.Key, v.Value)
	}

	argsEngine := alias.NewEngine(pool, f.logger)
	for _, kv := range f.pack.AllBuildArgs(f.app) {
		argsEngine.Append(kv.Key, kv.Value)
	}

	// Both engines seed the shared pool on append, so an env var may
	// reference a build argument and vice versa. Unresolvable references
	// abort compilation; no partial pipeline is ever submitted.
	if f.envVars, err = envEngine.Resolve(); err != nil {
		return fmt.Errorf("resolve env vars: %w", err)
	}
	if f.buildArgs, err = argsEngine.Resolve(); err != nil {
		return fmt.Errorf("resolve build args: %w", err)
	}

	f.subs = NewSubstitutions()
	for _, p := range setup {
		f.subs.Add(p.Key, p.Value)
	}
	for _, p := range f.buildArgs {
		f.subs.Add(p.Key, p.Value)
	}
	for _, p := range f.envVars {
		f.subs.Add(envPrefix+p.Key, p.Value)
	}
	return nil
}

// CheckVars resolves every variable set without touching the remote
// trigger, surfacing unresolvable references as errors.
func (f *Factory) CheckVars(ctx context.Context) error {
	return f.init(ctx)
}

// Vars aggregates the application's effective environment variables,
// including resolved sibling endpoints.
func (f *Factory) Vars(ctx context.Context) ([]domain.EnvVar, error) {
	siblings, err := f.lookupSiblings(ctx)
	if err != nil {
		return nil, err
	}
	return envvars.Aggregate(f.app, f.pack, siblings), nil
}

// lookupSiblings resolves the endpoints of integrated applications in the
// same environment. An integration whose application is missing or not live
// yet contributes nothing.
func (f *Factory) lookupSiblings(ctx context.Context) (envvars.Siblings, error) {
	if len(f.app.IntegratesWith) == 0 {
		return nil, nil
	}
	siblings := envvars.Siblings{}
	for _, name := range f.app.IntegratesWith {
		id := fmt.Sprintf("%s-%s", domain.Slugify(name), f.app.EnvironmentName)
		sibling, err := f.deps.Store.GetApplication(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				f.logger.Warn("integrated application not found", "sibling", id)
				continue
			}
			return nil, err
		}
		siblings[name] = sibling.Endpoint
	}
	return siblings, nil
}

func (f *Factory) description() string {
	return fmt.Sprintf("Deploy to %s when %s", f.pack.Target, f.app.BuildSetup.EventDescription())
}

// =============================================================================
// Step Parameter Helpers
// =============================================================================

// envVarParams renders one flag per resolved env var, each referencing its
// substitution.
func (f *Factory) envVarParams(flag string) []string {
	var params []string
	for _, p := range f.envVars {
		params = append(params, flag, f.subs.Get(envPrefix+p.Key).AsEnvVar(p.Key))
	}
	return params
}

// buildArgParams renders one flag per resolved build argument.
func (f *Factory) buildArgParams(flag string) []string {
	var params []string
	for _, p := range f.buildArgs {
		params = append(params, flag, f.subs.Get(p.Key).AsBuildArg())
	}
	return params
}

// dbParams renders the database connection flag when a database is bound.
func (f *Factory) dbParams(flag string) []string {
	if f.app.Database == nil {
		return nil
	}
	return []string{flag, f.subs.Get(dbConnKey).Ref()}
}

// labelParams clears the service's labels and reapplies the full set, so
// stale labels never survive a redeploy.
func (f *Factory) labelParams() []string {
	params := []string{"--clear-labels"}
	for _, label := range envvars.Labels(f.app) {
		params = append(params, "--update-labels", label.KV())
	}
	return params
}

// =============================================================================
// Shared Steps
// =============================================================================

// customCommandSteps runs each post-build command inside the built image via
// the exec wrapper, with the database socket and resolved variables attached.
func (f *Factory) customCommandSteps() []*gcp.Step {
	dbParams := f.dbParams("-s")
	envParams := f.envVarParams("-e")
	image := f.subs.Get("IMAGE_NAME").Ref()

	var steps []*gcp.Step
	for i, command := range f.pack.ExtraBuildSteps(f.app) {
		args := []string{"-i", image}
		args = append(args, dbParams...)
		args = append(args, envParams...)
		args = append(args, "--")
		args = append(args, splitCommand(command)...)

		steps = append(steps, gcp.MakeStep(
			fmt.Sprintf("Custom %d | %s", i+1, command),
			execWrapperImage,
			"",
			args...,
		))
	}
	return steps
}

// scheduleStep registers one recurring invocation against the deployed
// endpoint.
func (f *Factory) scheduleStep(sched domain.ScheduledInvocation) *gcp.Step {
	scheduleName := fmt.Sprintf("%s--%s", f.app.Identifier, sched.Name)

	args := []string{
		"beta", "scheduler", "jobs", "create", "http", scheduleName,
		"--uri", f.app.Endpoint + sched.Path,
		"--schedule", sched.Cron,
		"--http-method", sched.Method,
		"--headers", "Content-Type=" + sched.ContentType,
		"--region", f.subs.Get("REGION").Ref(),
	}
	if f.app.BuildSetup.Authenticated {
		args = append(args,
			"--oidc-token-audience", f.app.Endpoint,
			"--oidc-service-account-email", f.subs.Get("SERVICE_ACCOUNT").Ref(),
		)
	}
	return gcp.MakeStep("Schedule "+sched.Name, sdkImage, "gcloud", args...)
}

// URL returns the live public endpoint for the application.
func (f *Factory) URL(ctx context.Context) (string, error) {
	return f.target.url(ctx)
}

// endpointBackoff bounds the wait for a placeholder endpoint to appear.
func endpointBackoff() retry.Backoff {
	b := retry.NewExponential(2 * time.Second)
	return retry.WithMaxDuration(5*time.Minute, b)
}

// splitCommand tokenizes a post-build command on whitespace.
// TODO: handle quoted arguments.
func splitCommand(command string) []string {
	return strings.Fields(command)
}
