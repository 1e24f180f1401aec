package envvars

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/heron/internal/core/domain"
)

func testApp(t *testing.T) *domain.Application {
	t.Helper()
	env := &domain.Environment{
		Name:    "staging",
		Project: domain.Project{ID: "acme-staging", Number: "123456789", Region: "europe-west1"},
		Vars:    []domain.EnvVar{{Key: "LOG_LEVEL", Value: "info"}},
	}
	app := &domain.Application{
		Name:            "api",
		EnvironmentName: "staging",
		BuildSetup:      domain.BuildSetup{BuildPackName: "python", DeployBranch: "main"},
	}
	require.NoError(t, app.Normalize(env))
	app.ServiceAccount = &domain.ServiceAccount{Name: "api", ProjectID: "acme-staging"}
	return app
}

func keys(vars []domain.EnvVar) []string {
	out := make([]string, len(vars))
	for i, v := range vars {
		out[i] = v.Key
	}
	return out
}

func TestAggregate_Order(t *testing.T) {
	app := testApp(t)
	app.Bucket = &domain.Bucket{Name: "api-staging", EnvVarKey: "GCS_BUCKET_NAME"}
	app.Vars = []domain.EnvVar{{Key: "SECRET", Value: "s3cret", Secret: true, Source: domain.SourceUser}}
	pack := &domain.BuildPack{Name: "python", Vars: []domain.EnvVar{{Key: "PYTHONUNBUFFERED", Value: "1"}}}

	vars := Aggregate(app, pack, nil)
	assert.Equal(t, []string{
		"APP_NAME", "GCP_PROJECT", "GCP_LOCATION", "GCP_SERVICE_ACCOUNT",
		"GCS_BUCKET_NAME",
		"LOG_LEVEL",
		"PYTHONUNBUFFERED",
		"SECRET",
	}, keys(vars))
}

func TestAggregate_FirstKeyWins(t *testing.T) {
	app := testApp(t)
	app.Vars = []domain.EnvVar{{Key: "GCP_PROJECT", Value: "my-override", Source: domain.SourceUser}}
	pack := &domain.BuildPack{Name: "python", Vars: []domain.EnvVar{{Key: "LOG_LEVEL", Value: "debug"}}}

	vars := Aggregate(app, pack, nil)
	byKey := map[string]domain.EnvVar{}
	for _, v := range vars {
		byKey[v.Key] = v
	}

	// The system's project id beats the user's, and the environment's
	// LOG_LEVEL beats the build pack's.
	assert.Equal(t, "acme-staging", byKey["GCP_PROJECT"].Value)
	assert.Equal(t, "info", byKey["LOG_LEVEL"].Value)

	seen := map[string]int{}
	for _, k := range keys(vars) {
		seen[k]++
	}
	for k, n := range seen {
		assert.Equal(t, 1, n, k)
	}
}

func TestAggregate_Idempotent(t *testing.T) {
	app := testApp(t)
	app.Database = &domain.Database{
		Instance: "api-staging", Name: "api", User: "app.api", Password: "pw",
		Version: "POSTGRES_13", Region: "europe-west1", ProjectID: "acme-staging",
		EnvVarKey: "DATABASE_URL",
	}
	pack := &domain.BuildPack{Name: "python"}

	first := Aggregate(app, pack, nil)
	second := Aggregate(app, pack, nil)
	assert.Equal(t, first, second)
}

func TestAggregate_Siblings(t *testing.T) {
	app := testApp(t)
	app.IntegratesWith = []string{"user-service", "mailer"}
	pack := &domain.BuildPack{Name: "python"}

	vars := Aggregate(app, pack, Siblings{"user-service": "https://user-service.a.run.app"})
	byKey := map[string]domain.EnvVar{}
	for _, v := range vars {
		byKey[v.Key] = v
	}

	assert.Equal(t, "https://user-service.a.run.app", byKey["USER_SERVICE_ENDPOINT"].Value)
	// mailer has no live endpoint yet and contributes nothing.
	assert.NotContains(t, byKey, "MAILER_ENDPOINT")
}

func TestSiblingKey(t *testing.T) {
	assert.Equal(t, "USER_SERVICE_ENDPOINT", SiblingKey("user-service"))
	assert.Equal(t, "MAILER_ENDPOINT", SiblingKey("Mailer"))
}

func TestLabels(t *testing.T) {
	app := testApp(t)
	app.BuildSetup.Labels = []domain.Label{
		{Key: "team", Value: "core"},
		{Key: "service", Value: "user-set"},
	}
	app.BuildSetup.TriggerID = "t-1"

	labels := Labels(app)
	byKey := map[string]string{}
	for _, l := range labels {
		byKey[l.Key] = l.Value
	}

	assert.Equal(t, "core", byKey["team"])
	assert.Equal(t, "t-1", byKey["gcb-trigger-id"])
	// The synthesized service label wins over a user label with the same key.
	assert.Equal(t, "api-staging", byKey["service"])
	assert.Len(t, labels, 3)
}
