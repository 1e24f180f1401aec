package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnvironment() *Environment {
	return &Environment{
		Name: "staging",
		Project: Project{
			ID:     "acme-staging",
			Number: "123456789",
			Region: "europe-west1",
		},
		Network: &Network{
			Zone:      "acme.dev.",
			ZoneName:  "acme-dev",
			ProjectID: "acme-dns",
		},
	}
}

func testApp(t *testing.T) *Application {
	t.Helper()
	app := &Application{
		Name:            "My API",
		EnvironmentName: "staging",
		BuildSetup:      BuildSetup{BuildPackName: "python", DeployBranch: "main"},
	}
	require.NoError(t, app.Normalize(testEnvironment()))
	return app
}

func TestApplicationNormalize(t *testing.T) {
	app := testApp(t)

	assert.Equal(t, "my-api", app.Name)
	assert.Equal(t, "my-api-staging", app.Identifier)
	assert.Equal(t, "my-api-staging", app.ID)
	assert.Equal(t, "europe-west1", app.Region)
	assert.Equal(t, "acme-staging", app.ProjectID())
	assert.Equal(t, "my_api", app.Path())
}

func TestApplicationNormalize_Errors(t *testing.T) {
	app := &Application{EnvironmentName: "staging"}
	assert.ErrorIs(t, app.Normalize(testEnvironment()), ErrAppNameRequired)

	app = &Application{Name: "api"}
	assert.ErrorIs(t, app.Normalize(nil), ErrEnvironmentRequired)

	app = &Application{Name: "api", EnvironmentName: "staging"}
	assert.ErrorIs(t, app.Normalize(testEnvironment()), ErrBuildPackRequired)
}

func TestApplicationNormalize_KeepsIdentifier(t *testing.T) {
	app := testApp(t)
	app.Name = "Renamed"
	require.NoError(t, app.Normalize(testEnvironment()))

	// Identity is sticky across updates; only the display name changes.
	assert.Equal(t, "renamed", app.Name)
	assert.Equal(t, "my-api-staging", app.Identifier)
}

func TestApplicationVars(t *testing.T) {
	app := testApp(t)

	app.SetVar(EnvVar{Key: "A", Value: "1"})
	app.SetVar(EnvVar{Key: "B", Value: "2"})
	app.SetVar(EnvVar{Key: "A", Value: "3"})
	require.Len(t, app.Vars, 2)
	assert.Equal(t, "2", app.Vars[0].Value)
	assert.Equal(t, "3", app.Vars[1].Value)

	app.AssureVar(EnvVar{Key: "A", Value: "ignored"})
	assert.Equal(t, "3", app.Vars[1].Value)

	app.UnsetVar("A")
	require.Len(t, app.Vars, 1)
	assert.Equal(t, "B", app.Vars[0].Key)
}

func TestApplicationStripImplicitVars(t *testing.T) {
	app := testApp(t)
	app.Vars = []EnvVar{
		{Key: "KEEP", Value: "1", Source: SourceUser},
		{Key: "UNTAGGED", Value: "2"},
		{Key: "SHARED", Value: "3", Source: SourceShared},
		{Key: "SYSTEM", Value: "4", Source: SourceSystem},
	}

	app.StripImplicitVars()
	require.Len(t, app.Vars, 2)
	assert.Equal(t, "KEEP", app.Vars[0].Key)
	assert.Equal(t, "UNTAGGED", app.Vars[1].Key)
}

func TestApplicationApplyDefaults(t *testing.T) {
	app := testApp(t)
	cfg := DefaultsConfig{DatabaseVersion: "POSTGRES_13", DatabaseTier: "db-f1-micro", DefaultRole: "logging.logWriter"}
	app.ApplyDefaults(cfg)

	require.NotNil(t, app.Database)
	assert.Equal(t, "my-api-staging", app.Database.Instance)
	assert.Equal(t, "my_api", app.Database.Name)
	assert.Equal(t, "app.my_api", app.Database.User)
	assert.Len(t, app.Database.Password, 20)

	require.NotNil(t, app.Bucket)
	assert.Equal(t, "my-api-staging", app.Bucket.Name)

	require.NotNil(t, app.ServiceAccount)
	assert.Equal(t, []string{"logging.logWriter", "run.invoker"}, app.ServiceAccount.Roles)

	require.NotNil(t, app.Repository)
	assert.Equal(t, "my-api-staging", app.Repository.Name)

	assert.Equal(t, []string{"my-api.staging.acme.dev"}, app.Domains)

	require.Len(t, app.Vars, 1)
	assert.Equal(t, "SECRET", app.Vars[0].Key)
	assert.True(t, app.Vars[0].Secret)
	assert.Len(t, app.Vars[0].Value, 20)
}

func TestApplicationApplyDefaults_Idempotent(t *testing.T) {
	app := testApp(t)
	cfg := DefaultsConfig{DatabaseVersion: "POSTGRES_13", DatabaseTier: "db-f1-micro"}

	app.ApplyDefaults(cfg)
	password := app.Database.Password
	secret := app.Vars[0].Value

	app.ApplyDefaults(cfg)
	assert.Equal(t, password, app.Database.Password)
	assert.Equal(t, secret, app.Vars[0].Value)
	assert.Len(t, app.Vars, 1)
}

func TestApplicationApplyDefaults_Renormalizes(t *testing.T) {
	app := testApp(t)
	app.ApplyDefaults(DefaultsConfig{DatabaseVersion: "POSTGRES_13", DatabaseTier: "db-f1-micro"})

	// A defaulted application must load back cleanly.
	require.NoError(t, app.Normalize(testEnvironment()))
	assert.False(t, app.Repository.Mirrored())
	assert.Empty(t, app.Repository.URL)
}

func TestApplicationApplyDefaults_KeepsDeclared(t *testing.T) {
	app := testApp(t)
	declared := &Database{Instance: "custom", EnvVarKey: "DB_*"}
	app.Database = declared
	app.Domains = []string{"api.acme.com"}

	app.ApplyDefaults(DefaultsConfig{})
	assert.Same(t, declared, app.Database)
	assert.Equal(t, []string{"api.acme.com"}, app.Domains)
}
