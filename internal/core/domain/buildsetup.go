package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTriggerCondition is returned when not exactly one of deploy branch
	// or deploy tag is configured.
	ErrTriggerCondition = errors.New("exactly one of deploy_branch or deploy_tag must be set")

	ErrBuildPackRequired = errors.New("build_pack_name is required")
)

// BuildSetup is an application's build/deploy configuration: which recipe
// to use, what source event triggers a build, resource sizing for the
// deployed service, and extra commands and labels.
type BuildSetup struct {
	BuildPackName string `json:"build_pack_name"`
	// TriggerID is the remote pipeline trigger identifier, set after the
	// first successful trigger creation.
	TriggerID    string `json:"trigger_id"`
	DeployBranch string `json:"deploy_branch"`
	DeployTag    string `json:"deploy_tag"`

	PostBuildCommands []string `json:"post_build_commands"`
	Labels            []Label  `json:"labels"`

	Memory       int `json:"memory"` // Mi
	CPU          int `json:"cpu"`    // cores
	MinInstances int `json:"min_instances"`
	MaxInstances int `json:"max_instances"`
	Timeout      int `json:"timeout"`     // seconds, request timeout
	Concurrency  int `json:"concurrency"` // requests per instance

	// Authenticated services only accept OIDC-authenticated invocations.
	Authenticated bool `json:"authenticated"`

	// Entrypoint and Directory apply to the function target only.
	Entrypoint string `json:"entrypoint"`
	Directory  string `json:"directory"`

	BuildTimeout int `json:"build_timeout"` // seconds, whole pipeline
	// MachineType optionally selects a bigger build machine.
	MachineType string `json:"machine_type"`
}

// Validate checks the trigger condition and applies sizing defaults.
// Instance bounds are clamped to a minimum of 1 so a misconfigured zero
// never reaches pipeline compilation.
func (b *BuildSetup) Validate() error {
	if b.BuildPackName == "" {
		return ErrBuildPackRequired
	}
	if (b.DeployBranch == "") == (b.DeployTag == "") {
		return ErrTriggerCondition
	}
	if b.Memory == 0 {
		b.Memory = 256
	}
	if b.CPU == 0 {
		b.CPU = 1
	}
	if b.MaxInstances < 1 {
		b.MaxInstances = 1
	}
	if b.Timeout == 0 {
		b.Timeout = 15 * 60
	}
	if b.Concurrency == 0 {
		b.Concurrency = 80
	}
	if b.BuildTimeout == 0 {
		b.BuildTimeout = 30 * 60
	}
	return nil
}

// ImageName is the fully qualified container image the pipeline builds,
// hosted in the control plane's registry project.
func (b *BuildSetup) ImageName(app *Application, registryProject string) string {
	return fmt.Sprintf("gcr.io/%s/%s:latest", registryProject, app.Identifier)
}

// AllLabels returns the configured labels plus the trigger binding label.
// The deployed service must carry the trigger's own id as a label, which is
// why compilation re-runs once after the id is first known.
func (b *BuildSetup) AllLabels() []Label {
	all := append([]Label{}, b.Labels...)
	if b.TriggerID != "" {
		all = append(all, Label{Key: "gcb-trigger-id", Value: b.TriggerID})
	}
	return all
}

// Tags returns the pipeline tags for the trigger.
func (b *BuildSetup) Tags(app *Application, pack *BuildPack) []string {
	return append(pack.Tags(), app.Name)
}

// EventDescription renders the human description of the trigger condition.
func (b *BuildSetup) EventDescription() string {
	if b.DeployBranch != "" {
		return fmt.Sprintf("pushed to %s", b.DeployBranch)
	}
	return fmt.Sprintf("tagged %s", b.DeployTag)
}
