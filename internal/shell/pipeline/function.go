package pipeline

import (
	"context"
	"fmt"

	"github.com/artpar/heron/internal/core/domain"
	"github.com/artpar/heron/internal/shell/gcp"
)

// functionTarget compiles pipelines that deploy source to the
// event-triggered function platform. The platform builds from source, so the
// pipeline is a single deploy step.
type functionTarget struct {
	f *Factory
}

func (t *functionTarget) setupParams() []domain.KeyValue {
	f := t.f
	setup := f.app.BuildSetup
	params := []domain.KeyValue{
		{Key: "REGION", Value: f.app.Region},
		{Key: "RAM", Value: fmt.Sprintf("%d", setup.Memory)},
		{Key: "MAX_INSTANCES", Value: fmt.Sprintf("%d", setup.MaxInstances)},
		{Key: "TIMEOUT", Value: fmt.Sprintf("%d", setup.Timeout)},
		{Key: "SERVICE_ACCOUNT", Value: f.app.ServiceAccount.Email()},
		{Key: "PROJECT_ID", Value: f.app.ProjectID()},
		{Key: "SERVICE_NAME", Value: f.app.Identifier},
		{Key: "SOURCE", Value: t.sourceURL()},
		{Key: "ENTRYPOINT", Value: setup.Entrypoint},
	}
	if f.app.Database != nil {
		params = append(params, domain.KeyValue{Key: dbConnKey, Value: f.app.Database.ConnectionName()})
	}
	return params
}

// sourceURL points the function platform at the mirrored repository, pinned
// to the deploy condition.
func (t *functionTarget) sourceURL() string {
	f := t.f
	_, repo := gcp.SplitRepoName(f.app.Repository.Name)

	ref := "moveable-aliases/" + f.app.BuildSetup.DeployBranch
	if f.app.BuildSetup.DeployTag != "" {
		ref = "fixed-aliases/" + f.app.BuildSetup.DeployTag
	}
	url := fmt.Sprintf("https://source.developers.google.com/projects/%s/repos/%s/%s",
		f.app.ProjectID(), repo, ref)
	if f.app.BuildSetup.Directory != "" {
		url += "/paths/" + f.app.BuildSetup.Directory
	}
	return url
}

func (t *functionTarget) images() []string {
	// The platform builds from source; no image is produced.
	return nil
}

func (t *functionTarget) steps() []*gcp.Step {
	return []*gcp.Step{t.deployStep()}
}

func (t *functionTarget) deployStep() *gcp.Step {
	f := t.f
	args := []string{
		"functions", "deploy", f.subs.Get("SERVICE_NAME").Ref(),
		"--runtime", f.pack.RuntimeVersion,
		"--source", f.subs.Get("SOURCE").Ref(),
		"--entry-point", f.subs.Get("ENTRYPOINT").Ref(),
		"--region", f.subs.Get("REGION").Ref(),
	}
	args = append(args, f.envVarParams("--set-env-vars")...)
	args = append(args,
		"--service-account", f.subs.Get("SERVICE_ACCOUNT").Ref(),
		"--project", f.subs.Get("PROJECT_ID").Ref(),
		"--memory", f.subs.Get("RAM").Ref()+"MB",
		"--max-instances", f.subs.Get("MAX_INSTANCES").Ref(),
		"--timeout", f.subs.Get("TIMEOUT").Ref(),
	)
	args = append(args, f.labelParams()...)
	if !f.app.BuildSetup.Authenticated {
		args = append(args, "--allow-unauthenticated")
	}
	args = append(args, "--trigger-http", "--quiet")
	return gcp.MakeStep("Deploy", sdkImage, "gcloud", args...)
}

// url derives the well-known function endpoint.
func (t *functionTarget) url(_ context.Context) (string, error) {
	f := t.f
	return fmt.Sprintf("https://%s-%s.cloudfunctions.net/%s",
		f.app.Region, f.app.ProjectID(), f.app.Identifier), nil
}
