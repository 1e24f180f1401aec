package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// =============================================================================
// Resource Errors
// =============================================================================

var (
	ErrRepositoryNameRequired = errors.New("repository name is required")
	ErrScheduleNameRequired = errors.New("scheduled invocation name is required")
	ErrScheduleCronInvalid  = errors.New("scheduled invocation cron expression is invalid")
)

// EnvContributor is implemented by every bound resource that renders itself
// as one or more environment variables for the owning application.
type EnvContributor interface {
	AsEnv() []EnvVar
}

// =============================================================================
// Database
// =============================================================================

// Database describes a managed SQL database owned by one application:
// one instance, one schema inside it, one credentialed user.
type Database struct {
	Instance         string `json:"instance"`
	Name             string `json:"name"`
	User             string `json:"user"`
	Password         string `json:"password"`
	Version          string `json:"version"`
	Tier             string `json:"tier"`
	Region           string `json:"region"`
	ProjectID        string `json:"project_id"`
	EnvVarKey        string `json:"env_var_key"`
	HighAvailability bool   `json:"high_availability"`
}

// DefaultDatabase builds the conventional database for an application.
func DefaultDatabase(app *Application, version, tier string) *Database {
	return &Database{
		Instance:  app.Identifier,
		Name:      app.Path(),
		User:      "app." + app.Path(),
		Password:  RandomSecret(20),
		Version:   version,
		Tier:      tier,
		Region:    app.Region,
		ProjectID: app.ProjectID(),
		EnvVarKey: "DATABASE_URL",
	}
}

// Engine derives the database engine from the version string
// (e.g. "POSTGRES_13" -> "postgres").
func (d *Database) Engine() string {
	engine, _, _ := strings.Cut(d.Version, "_")
	return strings.ToLower(engine)
}

// ConnectionName is the instance connection identifier used by the SQL proxy,
// in the form project:region:instance.
func (d *Database) ConnectionName() string {
	return fmt.Sprintf("%s:%s:%s", d.ProjectID, d.Region, d.Instance)
}

// URL renders the full connection string over the SQL proxy socket.
func (d *Database) URL() string {
	return fmt.Sprintf("%s://%s:%s@//cloudsql/%s/%s", d.Engine(), d.User, d.Password, d.ConnectionName(), d.Name)
}

// AsEnv renders the database as environment variables.
//
// When the target key contains a '*' it is treated as a prefix and the
// database expands into a family of ENGINE/HOST/SCHEMA/USERNAME/PASSWORD
// variables; otherwise a single connection-string variable is produced.
func (d *Database) AsEnv() []EnvVar {
	if !strings.Contains(d.EnvVarKey, "*") {
		return []EnvVar{{Key: d.EnvVarKey, Value: d.URL(), Secret: true, Source: SourceSystem}}
	}

	prefix := strings.ReplaceAll(d.EnvVarKey, "*", "")
	host, schema := d.splitLocation()
	return []EnvVar{
		{Key: prefix + "ENGINE", Value: d.Engine(), Source: SourceSystem},
		{Key: prefix + "HOST", Value: host, Source: SourceSystem},
		{Key: prefix + "SCHEMA", Value: schema, Source: SourceSystem},
		{Key: prefix + "USERNAME", Value: d.User, Source: SourceSystem},
		{Key: prefix + "PASSWORD", Value: d.Password, Secret: true, Source: SourceSystem},
	}
}

func (d *Database) splitLocation() (host, schema string) {
	parts, err := url.Parse(d.URL())
	if err != nil || strings.HasPrefix(parts.Path, "//") {
		// SQL proxy socket path: //cloudsql/<conn>/<schema>
		return "/cloudsql/" + d.ConnectionName(), d.Name
	}
	return parts.Hostname(), strings.ReplaceAll(parts.Path, "/", "")
}

// =============================================================================
// Bucket
// =============================================================================

// Bucket describes an object-storage bucket owned by one application.
type Bucket struct {
	Name      string `json:"name"`
	EnvVarKey string `json:"env_var_key"`
	Region    string `json:"region"`
	ProjectID string `json:"project_id"`
}

// DefaultBucket builds the conventional bucket for an application.
func DefaultBucket(app *Application) *Bucket {
	return &Bucket{
		Name:      app.Identifier,
		EnvVarKey: "GCS_BUCKET_NAME",
		Region:    app.Region,
		ProjectID: app.ProjectID(),
	}
}

// URL returns the gs:// URL of the bucket.
func (b *Bucket) URL() string {
	return "gs://" + b.Name
}

// AsEnv renders the bucket name as an environment variable.
func (b *Bucket) AsEnv() []EnvVar {
	return []EnvVar{{Key: b.EnvVarKey, Value: b.Name, Source: SourceSystem}}
}

// =============================================================================
// Service Account
// =============================================================================

// ServiceAccount is the application's own cloud identity.
type ServiceAccount struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Description string   `json:"description"`
	Roles       []string `json:"roles"`
	ProjectID   string   `json:"project_id"`
}

// DefaultServiceAccount builds the conventional identity for an application.
// run.invoker allows authenticated invocations from the scheduler, task
// queue and pub/sub agents.
func DefaultServiceAccount(app *Application, extraRoles ...string) *ServiceAccount {
	roles := append([]string{}, extraRoles...)
	roles = append(roles, "run.invoker")
	return &ServiceAccount{
		Name:        app.Name,
		DisplayName: app.Name,
		Description: app.Name + " Service Account",
		Roles:       roles,
		ProjectID:   app.ProjectID(),
	}
}

// Email returns the full service account email.
func (s *ServiceAccount) Email() string {
	return fmt.Sprintf("%s@%s.iam.gserviceaccount.com", s.Name, s.ProjectID)
}

// =============================================================================
// Repository
// =============================================================================

// Repository is the source repository the application builds from. A bare
// name is a repository hosted in the application's own project; a name in
// <user|org>/<repo> form is mirrored from GitHub.
type Repository struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Mirrored reports whether the repository is mirrored from GitHub.
func (r *Repository) Mirrored() bool {
	return strings.Contains(r.Name, "/")
}

// Validate checks the repository name and fills the URL for mirrored
// repositories.
func (r *Repository) Validate() error {
	if r.Name == "" {
		return ErrRepositoryNameRequired
	}
	if r.Mirrored() && r.URL == "" {
		r.URL = "https://github.com/" + r.Name
	}
	return nil
}

// =============================================================================
// API Gateway
// =============================================================================

// Gateway describes an API gateway front-end for the application.
type Gateway struct {
	APIName string `json:"api_name"`
	// SpecPath is the OpenAPI document inside the repository that the
	// pipeline annotates with the backend address.
	SpecPath string `json:"spec_path"`
	// GatewayID is the gateway instance identifier; defaults to the API name.
	GatewayID string `json:"gateway_id"`
	// ManagedService is the service identifier recorded after provisioning.
	ManagedService string `json:"managed_service"`
	// Endpoint is the public hostname recorded after provisioning.
	Endpoint string `json:"endpoint"`
}

// Normalize fills derivable fields.
func (g *Gateway) Normalize() {
	if g.SpecPath == "" {
		g.SpecPath = "./openapi.yaml"
	}
	if g.GatewayID == "" {
		g.GatewayID = g.APIName
	}
}

// AsEnv renders the gateway endpoint, once known.
func (g *Gateway) AsEnv() []EnvVar {
	if g.Endpoint == "" {
		return nil
	}
	return []EnvVar{{Key: "GATEWAY_ENDPOINT", Value: g.Endpoint, Source: SourceSystem}}
}

// =============================================================================
// Network
// =============================================================================

// Network holds the managed DNS zone and VPC settings shared by every
// application in an environment.
type Network struct {
	Zone         string `json:"zone"`      // zone DNS suffix, e.g. "example.com."
	ZoneName     string `json:"zone_name"` // managed zone resource name
	ProjectID    string `json:"project_id"`
	VPCConnector string `json:"vpc_connector"`
}

// RecordName normalizes a mapped domain into a fully qualified record name
// within the zone.
func (n *Network) RecordName(domain string) string {
	if strings.HasSuffix(domain, ".") {
		return domain
	}
	return domain + "."
}

// =============================================================================
// Scheduled Invocations
// =============================================================================

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ScheduledInvocation describes a recurring HTTP call the platform makes
// into the deployed application.
type ScheduledInvocation struct {
	Name        string `json:"name"`
	Cron        string `json:"cron"`
	Path        string `json:"path"`
	Method      string `json:"method"`
	Body        string `json:"body,omitempty"`
	ContentType string `json:"content_type"`
}

// Validate checks the schedule and fills defaults.
func (s *ScheduledInvocation) Validate() error {
	if s.Name == "" {
		return ErrScheduleNameRequired
	}
	if _, err := cronParser.Parse(s.Cron); err != nil {
		return fmt.Errorf("%w: %q", ErrScheduleCronInvalid, s.Cron)
	}
	if s.Path == "" {
		s.Path = "/"
	}
	if s.Method == "" {
		s.Method = "GET"
	}
	if s.ContentType == "" {
		s.ContentType = "application/json"
	}
	return nil
}
