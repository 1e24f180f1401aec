// Package domain contains the control plane's entity types and the pure
// logic attached to them. This is part of the Functional Core - no I/O.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrAppNameRequired     = errors.New("application name is required")
	ErrEnvironmentRequired = errors.New("environment name is required")
)

// =============================================================================
// Application
// =============================================================================

// Application is the declarative description of one deployable service:
// its identity, build configuration, bound resources, domains, schedules
// and variables. Provisioning and pipeline compilation mutate it only
// through well-defined fields (endpoint, trigger id, gateway identifiers).
type Application struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	EnvironmentName string `json:"environment_name"`

	BuildSetup BuildSetup  `json:"build_setup"`
	Repository *Repository `json:"repository,omitempty"`

	// Identifier is the environment-qualified slug, e.g. "api-staging".
	Identifier string `json:"identifier"`
	Region     string `json:"region"`

	Domains              []string              `json:"domains"`
	Vars                 []EnvVar              `json:"vars"`
	Database             *Database             `json:"database,omitempty"`
	Bucket               *Bucket               `json:"bucket,omitempty"`
	ServiceAccount       *ServiceAccount       `json:"service_account,omitempty"`
	Gateway              *Gateway              `json:"gateway,omitempty"`
	ScheduledInvocations []ScheduledInvocation `json:"scheduled_invocations"`

	// IntegratesWith names sibling applications whose endpoints are
	// injected as variables.
	IntegratesWith []string `json:"integrates_with"`

	// Endpoint is the live public URL, cached once provisioning reports it.
	Endpoint string `json:"endpoint"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	environment *Environment
}

// Normalize validates identity fields, slugs the name, derives the
// identifier and binds the environment. Must be called before the
// application is persisted or compiled.
func (a *Application) Normalize(env *Environment) error {
	if a.Name == "" {
		return ErrAppNameRequired
	}
	if a.EnvironmentName == "" || env == nil {
		return ErrEnvironmentRequired
	}
	a.environment = env

	a.Name = Slugify(a.Name)
	if a.Identifier == "" {
		a.Identifier = fmt.Sprintf("%s-%s", a.Name, env.Name)
	}
	a.ID = a.Identifier
	if a.Region == "" {
		a.Region = env.Project.Region
	}

	if err := a.BuildSetup.Validate(); err != nil {
		return err
	}
	if a.Repository != nil {
		if err := a.Repository.Validate(); err != nil {
			return err
		}
	}
	if a.Gateway != nil {
		a.Gateway.Normalize()
	}
	for i := range a.ScheduledInvocations {
		if err := a.ScheduledInvocations[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Environment returns the bound environment. Normalize must have been
// called first.
func (a *Application) Environment() *Environment {
	return a.environment
}

// ProjectID is the owning environment's project.
func (a *Application) ProjectID() string {
	if a.environment == nil {
		return ""
	}
	return a.environment.Project.ID
}

// Path is the identifier usable as a filesystem/database name.
func (a *Application) Path() string {
	return strings.ReplaceAll(a.Name, "-", "_")
}

// =============================================================================
// Variables
// =============================================================================

// SetVar replaces any existing variable with the same key.
func (a *Application) SetVar(v EnvVar) {
	a.UnsetVar(v.Key)
	a.Vars = append(a.Vars, v)
}

// UnsetVar removes the variable with the given key, if present.
func (a *Application) UnsetVar(key string) {
	kept := a.Vars[:0]
	for _, existing := range a.Vars {
		if existing.Key != key {
			kept = append(kept, existing)
		}
	}
	a.Vars = kept
}

// AssureVar appends a variable only when the key is not already present.
func (a *Application) AssureVar(v EnvVar) {
	for _, existing := range a.Vars {
		if existing.Key == v.Key {
			return
		}
	}
	a.Vars = append(a.Vars, v)
}

// StripImplicitVars drops every non-user variable from the stored set.
// Implicit variables are recomputed on every aggregation and must never be
// accepted verbatim from a previous save.
func (a *Application) StripImplicitVars() {
	kept := a.Vars[:0]
	for _, v := range a.Vars {
		if !v.IsImplicit() {
			kept = append(kept, v)
		}
	}
	a.Vars = kept
}

// =============================================================================
// Defaults
// =============================================================================

// DefaultsConfig carries the conventions used when filling missing
// resources on a freshly submitted application.
type DefaultsConfig struct {
	DatabaseVersion string
	DatabaseTier    string
	DefaultRole     string
}

// ApplyDefaults fills every optional resource the application did not
// declare: database, bucket, service account, repository, a default domain
// under the environment's zone, and the invariant variables every
// application carries. Idempotent.
func (a *Application) ApplyDefaults(cfg DefaultsConfig) {
	env := a.environment

	if a.Database == nil {
		a.Database = DefaultDatabase(a, cfg.DatabaseVersion, cfg.DatabaseTier)
	}
	if a.Bucket == nil {
		a.Bucket = DefaultBucket(a)
	}
	if a.ServiceAccount == nil {
		var extra []string
		if cfg.DefaultRole != "" {
			extra = append(extra, cfg.DefaultRole)
		}
		a.ServiceAccount = DefaultServiceAccount(a, extra...)
	}
	if a.Repository == nil {
		a.Repository = &Repository{Name: a.Identifier}
	}
	if len(a.Domains) == 0 && env.Network != nil {
		domain := fmt.Sprintf("%s.%s.%s", a.Name, env.Name, strings.TrimSuffix(env.Network.Zone, "."))
		a.Domains = []string{domain}
	}

	a.AssureVar(EnvVar{Key: "SECRET", Value: RandomSecret(20), Secret: true, Source: SourceUser})
}
