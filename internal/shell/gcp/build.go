package gcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	cloudbuild "google.golang.org/api/cloudbuild/v1"
)

// Step is one named build step inside a pipeline.
type Step = cloudbuild.BuildStep

// MakeStep assembles a build step. The identifier shows up in the build log
// UI, the name is the builder image.
func MakeStep(identifier, name, entrypoint string, args ...string) *Step {
	return &Step{
		Id:         identifier,
		Name:       name,
		Entrypoint: entrypoint,
		Args:       args,
	}
}

// TriggerSpec is everything needed to bind a source event to a pipeline.
type TriggerSpec struct {
	ProjectID   string
	Name        string
	Description string

	// RepoOwner/RepoName identify the connected GitHub repository.
	RepoOwner string
	RepoName  string
	// Exactly one of Branch or Tag is set; both are regular expressions.
	Branch string
	Tag    string

	Steps         []*Step
	Images        []string
	Tags          []string
	Substitutions map[string]string
	Timeout       time.Duration
	MachineType   string
}

// TriggerService creates or updates remote pipeline triggers.
type TriggerService interface {
	// UpsertTrigger finds a trigger by name and patches it, or creates it,
	// returning the remote trigger id either way.
	UpsertTrigger(ctx context.Context, spec TriggerSpec) (string, error)
}

// CloudBuild drives the Cloud Build trigger API.
type CloudBuild struct {
	svc *cloudbuild.Service
}

var _ TriggerService = (*CloudBuild)(nil)

func (c *CloudBuild) UpsertTrigger(ctx context.Context, spec TriggerSpec) (string, error) {
	trigger := buildTrigger(spec)

	existing, err := c.findTrigger(ctx, spec.ProjectID, spec.Name)
	if err != nil {
		return "", err
	}
	if existing != nil {
		updated, err := c.svc.Projects.Triggers.Patch(spec.ProjectID, existing.Id, trigger).Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("patch trigger %q: %w", spec.Name, translate(err))
		}
		return updated.Id, nil
	}

	created, err := c.svc.Projects.Triggers.Create(spec.ProjectID, trigger).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("create trigger %q: %w", spec.Name, translate(err))
	}
	return created.Id, nil
}

func (c *CloudBuild) findTrigger(ctx context.Context, projectID, name string) (*cloudbuild.BuildTrigger, error) {
	resp, err := c.svc.Projects.Triggers.List(projectID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", translate(err))
	}
	for _, t := range resp.Triggers {
		if t.Name == name {
			return t, nil
		}
	}
	return nil, nil
}

func buildTrigger(spec TriggerSpec) *cloudbuild.BuildTrigger {
	push := &cloudbuild.PushFilter{}
	if spec.Branch != "" {
		push.Branch = spec.Branch
	} else {
		push.Tag = spec.Tag
	}

	build := &cloudbuild.Build{
		Steps:         spec.Steps,
		Images:        spec.Images,
		Tags:          spec.Tags,
		Substitutions: spec.Substitutions,
		Timeout:       fmt.Sprintf("%ds", int(spec.Timeout.Seconds())),
	}
	if spec.MachineType != "" {
		build.Options = &cloudbuild.BuildOptions{MachineType: spec.MachineType}
	}

	return &cloudbuild.BuildTrigger{
		Name:        spec.Name,
		Description: spec.Description,
		Github: &cloudbuild.GitHubEventsConfig{
			Owner: spec.RepoOwner,
			Name:  spec.RepoName,
			Push:  push,
		},
		Build: build,
		Tags:  spec.Tags,
	}
}

// SplitRepoName splits an "owner/repo" name into its parts. A bare
// project-local name has no owner.
func SplitRepoName(name string) (owner, repo string) {
	if !strings.Contains(name, "/") {
		return "", name
	}
	owner, repo, _ = strings.Cut(name, "/")
	return owner, repo
}
