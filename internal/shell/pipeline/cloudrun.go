package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/artpar/heron/internal/core/domain"
	"github.com/artpar/heron/internal/shell/gcp"
	"github.com/sethvargo/go-retry"
)

// cloudRunTarget compiles pipelines that deploy a container to the managed
// compute service.
type cloudRunTarget struct {
	f *Factory
}

func (t *cloudRunTarget) setupParams() []domain.KeyValue {
	f := t.f
	setup := f.app.BuildSetup
	params := []domain.KeyValue{
		{Key: "IMAGE_NAME", Value: setup.ImageName(f.app, f.deps.Config.RegistryProject)},
		{Key: "REGION", Value: f.app.Region},
		{Key: "CPU", Value: fmt.Sprintf("%d", setup.CPU)},
		{Key: "RAM", Value: fmt.Sprintf("%d", setup.Memory)},
		{Key: "MIN_INSTANCES", Value: fmt.Sprintf("%d", setup.MinInstances)},
		{Key: "MAX_INSTANCES", Value: fmt.Sprintf("%d", setup.MaxInstances)},
		{Key: "TIMEOUT", Value: fmt.Sprintf("%d", setup.Timeout)},
		{Key: "CONCURRENCY", Value: fmt.Sprintf("%d", setup.Concurrency)},
		{Key: "SERVICE_ACCOUNT", Value: f.app.ServiceAccount.Email()},
		{Key: "PROJECT_ID", Value: f.app.ProjectID()},
		{Key: "SERVICE_NAME", Value: f.app.Name},
	}
	if f.pack.DockerfileURL != "" {
		contextPath := f.pack.DockerfileURL[:strings.LastIndex(f.pack.DockerfileURL, "/")]
		params = append(params, domain.KeyValue{Key: dockerfileContextKey, Value: contextPath + "/*"})
	}
	if f.app.Database != nil {
		params = append(params, domain.KeyValue{Key: dbConnKey, Value: f.app.Database.ConnectionName()})
	}
	if f.app.Gateway != nil {
		params = append(params, domain.KeyValue{Key: "GATEWAY_ID", Value: f.app.Gateway.GatewayID})
	}
	return params
}

func (t *cloudRunTarget) images() []string {
	return []string{t.f.app.BuildSetup.ImageName(t.f.app, t.f.deps.Config.RegistryProject)}
}

func (t *cloudRunTarget) steps() []*gcp.Step {
	steps := []*gcp.Step{t.cacheStep()}
	if fetch := t.contextFetchStep(); fetch != nil {
		steps = append(steps, fetch)
	}
	steps = append(steps, t.buildStep(), t.pushStep())
	steps = append(steps, t.f.customCommandSteps()...)
	steps = append(steps, t.deployStep(), t.trafficStep())
	if t.f.app.Gateway != nil {
		steps = append(steps, t.gatewaySteps()...)
	}
	return steps
}

// cacheStep pulls the previous image so layer caching works. A cache miss
// is not a failure.
func (t *cloudRunTarget) cacheStep() *gcp.Step {
	image := t.f.subs.Get("IMAGE_NAME").Ref()
	return gcp.MakeStep("Image Cache", dockerImage, "bash",
		"-c", fmt.Sprintf("docker pull %s || exit 0", image))
}

// contextFetchStep downloads the pack's remote build context. Absent
// context means the repository ships its own Dockerfile.
func (t *cloudRunTarget) contextFetchStep() *gcp.Step {
	if t.f.pack.DockerfileURL == "" {
		t.f.logger.Info("build pack has no remote context, expecting a repository Dockerfile",
			"build_pack", t.f.pack.Name)
		return nil
	}
	return gcp.MakeStep("Build Pack Download", sdkImage, "",
		"gsutil", "-m", "cp", t.f.subs.Get(dockerfileContextKey).Ref(), ".")
}

func (t *cloudRunTarget) buildStep() *gcp.Step {
	image := t.f.subs.Get("IMAGE_NAME").Ref()
	args := []string{"build", "-t", image}
	args = append(args, t.f.buildArgParams("--build-arg")...)
	args = append(args, "--cache-from", image, ".")
	return gcp.MakeStep("Image Build", dockerImage, "", args...)
}

func (t *cloudRunTarget) pushStep() *gcp.Step {
	return gcp.MakeStep("Image Upload", dockerImage, "",
		"push", t.f.subs.Get("IMAGE_NAME").Ref())
}

func (t *cloudRunTarget) deployStep() *gcp.Step {
	f := t.f
	args := []string{
		"run", "services", "update", f.subs.Get("SERVICE_NAME").Ref(),
		"--platform", "managed",
		"--image", f.subs.Get("IMAGE_NAME").Ref(),
		"--region", f.subs.Get("REGION").Ref(),
	}
	args = append(args, f.dbParams("--add-cloudsql-instances")...)
	args = append(args, f.envVarParams("--set-env-vars")...)
	args = append(args,
		"--service-account", f.subs.Get("SERVICE_ACCOUNT").Ref(),
		"--project", f.subs.Get("PROJECT_ID").Ref(),
		"--memory", f.subs.Get("RAM").Ref()+"Mi",
		"--cpu", f.subs.Get("CPU").Ref(),
		"--max-instances", f.subs.Get("MAX_INSTANCES").Ref(),
		"--timeout", f.subs.Get("TIMEOUT").Ref(),
		"--concurrency", f.subs.Get("CONCURRENCY").Ref(),
	)

	network := f.app.Environment().Network
	if network != nil && network.VPCConnector != "" {
		args = append(args, "--vpc-connector", network.VPCConnector)
	} else {
		args = append(args, "--clear-vpc-connector")
	}

	args = append(args, f.labelParams()...)
	args = append(args, "--quiet")
	return gcp.MakeStep("Deploy", sdkImage, "gcloud", args...)
}

// trafficStep forces all traffic to the latest revision. After a rollback a
// plain deploy leaves traffic pinned to the old revision.
func (t *cloudRunTarget) trafficStep() *gcp.Step {
	f := t.f
	return gcp.MakeStep("Redirect Traffic", sdkImage, "gcloud",
		"run", "services", "update-traffic", f.subs.Get("SERVICE_NAME").Ref(),
		"--platform", "managed",
		"--region", f.subs.Get("REGION").Ref(),
		"--project", f.subs.Get("PROJECT_ID").Ref(),
		"--to-latest",
	)
}

// gatewaySteps annotate the OpenAPI document with the backend address, create
// a versioned gateway configuration and point the gateway at it.
func (t *cloudRunTarget) gatewaySteps() []*gcp.Step {
	f := t.f
	gateway := f.app.Gateway
	configName := f.subs.Get("SERVICE_NAME").Ref() + "-${COMMIT_SHA}"

	var labels []string
	for _, l := range f.app.BuildSetup.AllLabels() {
		labels = append(labels, l.KV())
	}

	annotation := fmt.Sprintf("x-google-backend:\\n  address: %s\\n", f.app.Endpoint)
	annotation += fmt.Sprintf("host: \\\"%s\\\"\\n", gateway.ManagedService)
	annotation += fmt.Sprintf("x-google-endpoints:\\n- name: \\\"%s\\\"\\n  allowCors: true", gateway.ManagedService)

	annotate := gcp.MakeStep("Personalize Gateway Specification", "bash", "",
		"-c", fmt.Sprintf(`echo -e "%s" >> %s`, annotation, gateway.SpecPath))

	createConfig := gcp.MakeStep("Create Gateway Specification", sdkImage, "gcloud",
		"api-gateway", "api-configs", "create", configName,
		"--api="+f.subs.Get("SERVICE_NAME").Ref(),
		"--openapi-spec="+gateway.SpecPath,
		"--backend-auth-service-account="+f.subs.Get("SERVICE_ACCOUNT").Ref(),
		"--project="+f.subs.Get("PROJECT_ID").Ref(),
		"--labels="+strings.Join(labels, ","),
	)

	update := gcp.MakeStep("Update Gateway", sdkImage, "gcloud",
		"api-gateway", "gateways", "update", f.subs.Get("GATEWAY_ID").Ref(),
		"--api="+f.subs.Get("SERVICE_NAME").Ref(),
		"--api-config="+configName,
		"--location="+f.subs.Get("REGION").Ref(),
		"--project="+f.subs.Get("PROJECT_ID").Ref(),
	)

	return []*gcp.Step{annotate, createConfig, update}
}

// url queries the platform for the live endpoint. A missing service is
// repaired by provisioning the placeholder and waiting for its endpoint.
func (t *cloudRunTarget) url(ctx context.Context) (string, error) {
	f := t.f
	ref := gcp.ServiceRef{Name: f.app.Name, ProjectID: f.app.ProjectID(), Region: f.app.Region}

	endpoint, err := f.deps.Run.GetServiceURL(ctx, ref)
	if err == nil && endpoint != "" {
		return endpoint, nil
	}
	if err != nil && !gcp.IsNotFound(err) {
		return "", err
	}

	f.logger.Warn("service has no endpoint yet, provisioning placeholder")
	if _, err := f.deps.Provisioner.SetupPlaceholder(ctx, f.app); err != nil {
		return "", fmt.Errorf("provision placeholder: %w", err)
	}

	err = retry.Do(ctx, endpointBackoff(), func(ctx context.Context) error {
		endpoint, err = f.deps.Run.GetServiceURL(ctx, ref)
		if err != nil {
			return retry.RetryableError(err)
		}
		if endpoint == "" {
			return retry.RetryableError(fmt.Errorf("endpoint not assigned yet"))
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("wait for endpoint: %w", err)
	}
	return endpoint, nil
}
