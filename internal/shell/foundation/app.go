package foundation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/artpar/heron/internal/core/domain"
	"github.com/artpar/heron/internal/shell/gcp"
)

// AppFoundation provisions everything one application owns.
type AppFoundation struct {
	app    *domain.Application
	pack   *domain.BuildPack
	deps   Deps
	logger *slog.Logger
}

// NewAppFoundation builds the job registry for an application.
func NewAppFoundation(app *domain.Application, pack *domain.BuildPack, deps Deps) *AppFoundation {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AppFoundation{
		app:    app,
		pack:   pack,
		deps:   deps,
		logger: logger.With("component", "foundation", "app", app.Identifier),
	}
}

func (f *AppFoundation) Jobs() []Job {
	return []Job{
		{Name: "iam", Run: f.setupIAM},
		{Name: "bucket", Run: f.setupBucket},
		{Name: "database", Run: f.setupDatabase},
		{Name: "placeholder-service", Run: f.setupPlaceholder},
		{Name: "custom-domains", Run: f.setupCustomDomains},
	}
}

// =============================================================================
// IAM
// =============================================================================

// setupIAM creates the application's identity and wires every grant the
// build and deploy path needs. Identity creation and role grants live in one
// job so no cross-job ordering is required.
func (f *AppFoundation) setupIAM(ctx context.Context) error {
	iam := f.deps.Clients.Identity
	app := f.app
	account := app.ServiceAccount
	if account == nil {
		f.logger.Info("no service account declared, skipping iam")
		return nil
	}
	project := app.Environment().Project

	err := iam.CreateServiceAccount(ctx, account.ProjectID, account.Name, account.DisplayName)
	if err = ignoreExists(err); err != nil {
		return err
	}
	for _, role := range account.Roles {
		if err := iam.AddMember(ctx, account.ProjectID, account.Email(), role); err != nil {
			return err
		}
	}

	// Builds execute as the build system's identity, not the control
	// plane's. Custom build steps may need the same resource access the
	// running application has, and the build identity must be able to
	// deploy the result.
	buildAccount := project.BuildAccount()
	buildRoles := append([]string{}, account.Roles...)
	if f.pack.Target == domain.TargetCloudFunctions {
		buildRoles = append(buildRoles, "cloudfunctions.admin")
	} else {
		buildRoles = append(buildRoles, "run.admin")
	}
	for _, role := range buildRoles {
		if err := iam.AddMember(ctx, app.ProjectID(), buildAccount, role); err != nil {
			return err
		}
	}

	// The build identity acts as the compute identity and impersonates the
	// application's own account during custom steps.
	if err := iam.BindMember(ctx, app.ProjectID(), project.ComputeAccount(), buildAccount, "iam.serviceAccountUser"); err != nil {
		return err
	}
	if err := iam.AddMember(ctx, app.ProjectID(), buildAccount, "iam.serviceAccountTokenCreator"); err != nil {
		return err
	}
	// Build-pack contexts live in the control plane's bucket; built images
	// land in the application's project.
	if err := iam.AddMember(ctx, f.deps.Control.ProjectID, buildAccount, "storage.objectViewer"); err != nil {
		return err
	}
	if err := iam.AddMember(ctx, app.ProjectID(), buildAccount, "storage.admin"); err != nil {
		return err
	}

	// The run platform's agent pulls images and deploys as the
	// application's identity.
	runAccount := project.RunAccount()
	if err := iam.AddMember(ctx, app.ProjectID(), runAccount, "containerregistry.ServiceAgent"); err != nil {
		return err
	}
	if err := iam.AddMember(ctx, app.ProjectID(), runAccount, "iam.serviceAccountTokenCreator"); err != nil {
		return err
	}

	// Platform-internal services invoke the application authenticated as
	// itself.
	for _, agent := range []string{project.SchedulerAccount(), project.TasksAccount(), project.PubSubAccount()} {
		if err := iam.AddMember(ctx, app.ProjectID(), agent, "iam.serviceAccountTokenCreator"); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Bucket and Database
// =============================================================================

func (f *AppFoundation) setupBucket(ctx context.Context) error {
	bucket := f.app.Bucket
	if bucket == nil {
		f.logger.Info("no bucket declared, skipping")
		return nil
	}
	err := f.deps.Clients.Storage.CreateBucket(ctx, bucket.ProjectID, bucket.Name, bucket.Region)
	return ignoreExists(err)
}

// setupDatabase runs its three sub-steps strictly in order: user and schema
// creation depend on a runnable instance.
func (f *AppFoundation) setupDatabase(ctx context.Context) error {
	sql := f.deps.Clients.SQL
	db := f.app.Database
	if db == nil {
		f.logger.Info("no database declared, skipping")
		return nil
	}

	spec := gcp.InstanceSpec{
		ProjectID:        db.ProjectID,
		Name:             db.Instance,
		Version:          db.Version,
		Tier:             db.Tier,
		Region:           db.Region,
		HighAvailability: db.HighAvailability,
	}
	if err := sql.CreateInstance(ctx, spec, true); err != nil {
		return err
	}
	if err := ignoreExists(sql.CreateDatabase(ctx, db.ProjectID, db.Instance, db.Name)); err != nil {
		return err
	}
	return ignoreExists(sql.CreateUser(ctx, db.ProjectID, db.Instance, db.User, db.Password))
}

// =============================================================================
// Placeholder Service
// =============================================================================

// setupPlaceholder wraps SetupPlaceholder for the job registry.
func (f *AppFoundation) setupPlaceholder(ctx context.Context) error {
	_, err := f.SetupPlaceholder(ctx, f.app)
	return err
}

// SetupPlaceholder creates the minimal live service so an endpoint exists
// before the first real deploy, provisions the gateway front-end when one is
// declared, and records the endpoint back onto the application.
func (f *AppFoundation) SetupPlaceholder(ctx context.Context, app *domain.Application) (string, error) {
	run := f.deps.Clients.Run
	ref := gcp.ServiceRef{Name: app.Name, ProjectID: app.ProjectID(), Region: app.Region}

	// Without a declared identity the service runs as the project default.
	var identity string
	if app.ServiceAccount != nil {
		identity = app.ServiceAccount.Email()
	}

	err := run.CreateService(ctx, ref, identity)
	if err = ignoreExists(err); err != nil {
		return "", err
	}

	var endpoint string
	backoff := retry.WithMaxDuration(5*time.Minute, retry.NewExponential(2*time.Second))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		endpoint, err = run.GetServiceURL(ctx, ref)
		if err != nil {
			return retry.RetryableError(err)
		}
		if endpoint == "" {
			return retry.RetryableError(fmt.Errorf("endpoint not assigned yet"))
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("wait for placeholder endpoint: %w", err)
	}
	app.Endpoint = endpoint

	if app.Gateway != nil {
		if err := f.setupGateway(ctx, app); err != nil {
			return "", err
		}
	}

	if err := f.deps.Store.UpdateApplication(ctx, app); err != nil {
		return "", fmt.Errorf("record endpoint: %w", err)
	}
	return endpoint, nil
}

func (f *AppFoundation) setupGateway(ctx context.Context, app *domain.Application) error {
	gw := f.deps.Clients.Gateway
	gateway := app.Gateway

	// Substitution references are compile-time only and never valid label
	// values.
	labels := map[string]string{}
	for _, l := range app.BuildSetup.AllLabels() {
		if strings.HasPrefix(l.Value, "$") {
			continue
		}
		labels[l.Key] = l.Value
	}

	managedService, err := gw.EnsureAPI(ctx, app.ProjectID(), gateway.APIName, labels)
	if err != nil {
		return err
	}
	gateway.ManagedService = managedService

	spec, err := placeholderSpec(app)
	if err != nil {
		return err
	}
	var identity string
	if app.ServiceAccount != nil {
		identity = app.ServiceAccount.Email()
	}
	configName := app.Name + "-placeholder"
	if err := gw.EnsureConfig(ctx, app.ProjectID(), gateway.APIName, configName, identity, spec, labels); err != nil {
		return err
	}

	hostname, err := gw.EnsureGateway(ctx, app.ProjectID(), app.Region, gateway.APIName, configName, gateway.GatewayID, labels)
	if err != nil {
		return err
	}
	gateway.Endpoint = "https://" + hostname
	return nil
}

// =============================================================================
// Custom Domains
// =============================================================================

// domainBackoff bounds the domain mapping readiness poll.
func domainBackoff() retry.Backoff {
	b := retry.NewConstant(5 * time.Second)
	return retry.WithMaxDuration(10*time.Minute, b)
}

// setupCustomDomains maps each declared domain onto the service, waits for
// the mapping to become ready, and publishes the records it asks for.
func (f *AppFoundation) setupCustomDomains(ctx context.Context) error {
	run := f.deps.Clients.Run
	app := f.app
	network := app.Environment().Network
	ref := gcp.ServiceRef{Name: app.Name, ProjectID: app.ProjectID(), Region: app.Region}

	for _, domainName := range app.Domains {
		mapping, err := run.CreateDomainMapping(ctx, ref, domainName)
		if gcp.IsAlreadyExists(err) {
			mapping, err = run.GetDomainMapping(ctx, ref, domainName)
		}
		if err != nil {
			return err
		}

		err = retry.Do(ctx, domainBackoff(), func(ctx context.Context) error {
			ready, err := mappingReady(mapping)
			if err != nil {
				return err
			}
			if ready {
				return nil
			}
			mapping, err = run.GetDomainMapping(ctx, ref, domainName)
			if err != nil {
				return retry.RetryableError(err)
			}
			return retry.RetryableError(fmt.Errorf("mapping for %s not ready", domainName))
		})
		if err != nil {
			return fmt.Errorf("wait for domain mapping %s: %w", domainName, err)
		}

		for _, record := range mapping.Records {
			spec := gcp.RecordSpec{
				ProjectID: network.ProjectID,
				ZoneName:  network.ZoneName,
				Name:      network.RecordName(record.Name),
				Type:      record.Type,
				Data:      []string{record.Data},
			}
			if err := ignoreExists(f.deps.Clients.DNS.AddRecord(ctx, spec)); err != nil {
				return err
			}
		}
	}
	return nil
}

// mappingReady inspects the Ready condition. A "does not exist" message
// inside a non-ready mapping is a fatal not-found, not a transient state.
func mappingReady(mapping *gcp.DomainMapping) (bool, error) {
	for _, cond := range mapping.Conditions {
		if cond.Type != "Ready" {
			continue
		}
		if cond.Status == "True" {
			return len(mapping.Records) > 0, nil
		}
		if strings.Contains(cond.Message, "does not exist") {
			return false, fmt.Errorf("%w: %s", gcp.ErrNotFound, cond.Message)
		}
		return false, nil
	}
	return false, nil
}
