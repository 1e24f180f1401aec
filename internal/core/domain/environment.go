package domain

import (
	"errors"
	"fmt"
)

var ErrProjectNumberRequired = errors.New("project number is required to derive service agent emails")

// =============================================================================
// Project
// =============================================================================

// Project identifies a cloud project and derives the well-known service
// agent identities that the provisioning jobs grant roles to.
type Project struct {
	ID     string `json:"id"`
	Number string `json:"number"`
	Region string `json:"region"`
}

// ComputeAccount is the default compute service identity.
func (p Project) ComputeAccount() string {
	return fmt.Sprintf("%s-compute@developer.gserviceaccount.com", p.Number)
}

// BuildAccount is the build system's own identity. Builds execute as this
// account, not as the control plane's account.
func (p Project) BuildAccount() string {
	return fmt.Sprintf("%s@cloudbuild.gserviceaccount.com", p.Number)
}

// RunAccount is the managed compute platform's service agent.
func (p Project) RunAccount() string {
	return fmt.Sprintf("service-%s@serverless-robot-prod.iam.gserviceaccount.com", p.Number)
}

// PubSubAccount is the pub/sub service agent.
func (p Project) PubSubAccount() string {
	return fmt.Sprintf("service-%s@gcp-sa-pubsub.iam.gserviceaccount.com", p.Number)
}

// TasksAccount is the task queue service agent.
func (p Project) TasksAccount() string {
	return fmt.Sprintf("service-%s@gcp-sa-cloudtasks.iam.gserviceaccount.com", p.Number)
}

// SchedulerAccount is the scheduler service agent.
func (p Project) SchedulerAccount() string {
	return fmt.Sprintf("service-%s@gcp-sa-cloudscheduler.iam.gserviceaccount.com", p.Number)
}

// Validate checks that agent emails can be derived.
func (p Project) Validate() error {
	if p.Number == "" {
		return ErrProjectNumberRequired
	}
	return nil
}

// =============================================================================
// Notification Channel
// =============================================================================

// NotificationChannel routes deployment notifications for an environment.
type NotificationChannel struct {
	WebhookURL string `json:"webhook_url"`
	// ShowCommitFor lists the statuses whose notification includes a
	// commit-range description.
	ShowCommitFor []Status `json:"show_commit_for"`
}

// ShowsCommitFor reports whether notifications for the status include a diff.
func (c *NotificationChannel) ShowsCommitFor(status Status) bool {
	for _, s := range c.ShowCommitFor {
		if s == status {
			return true
		}
	}
	return false
}

// =============================================================================
// Environment
// =============================================================================

// Environment is the shared scope applications deploy into: one project,
// one network, one notification channel, and a set of shared variables
// inherited by every application in the environment.
type Environment struct {
	Name    string               `json:"name"`
	Project Project              `json:"project"`
	Network *Network             `json:"network,omitempty"`
	Channel *NotificationChannel `json:"channel,omitempty"`
	Vars    []EnvVar             `json:"vars"`
}

// SharedVars returns the environment-scoped variables tagged with shared
// provenance, regardless of how they were stored.
func (e *Environment) SharedVars() []EnvVar {
	out := make([]EnvVar, 0, len(e.Vars))
	for _, v := range e.Vars {
		v.Source = SourceShared
		out = append(out, v)
	}
	return out
}
