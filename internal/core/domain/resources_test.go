package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDatabase() *Database {
	return &Database{
		Instance:  "api-staging",
		Name:      "api",
		User:      "app.api",
		Password:  "hunter2",
		Version:   "POSTGRES_13",
		Region:    "europe-west1",
		ProjectID: "acme-staging",
		EnvVarKey: "DATABASE_URL",
	}
}

func TestDatabaseEngine(t *testing.T) {
	db := testDatabase()
	assert.Equal(t, "postgres", db.Engine())

	db.Version = "MYSQL_8_0"
	assert.Equal(t, "mysql", db.Engine())
}

func TestDatabaseURL(t *testing.T) {
	db := testDatabase()
	assert.Equal(t, "acme-staging:europe-west1:api-staging", db.ConnectionName())
	assert.Equal(t,
		"postgres://app.api:hunter2@//cloudsql/acme-staging:europe-west1:api-staging/api",
		db.URL())
}

func TestDatabaseAsEnv_SingleKey(t *testing.T) {
	db := testDatabase()
	vars := db.AsEnv()
	require.Len(t, vars, 1)
	assert.Equal(t, "DATABASE_URL", vars[0].Key)
	assert.Equal(t, db.URL(), vars[0].Value)
	assert.True(t, vars[0].Secret)
	assert.Equal(t, SourceSystem, vars[0].Source)
}

func TestDatabaseAsEnv_PrefixFamily(t *testing.T) {
	db := testDatabase()
	db.EnvVarKey = "DB_*"

	vars := db.AsEnv()
	require.Len(t, vars, 5)

	byKey := map[string]EnvVar{}
	for _, v := range vars {
		byKey[v.Key] = v
	}
	assert.Equal(t, "postgres", byKey["DB_ENGINE"].Value)
	assert.Equal(t, "/cloudsql/acme-staging:europe-west1:api-staging", byKey["DB_HOST"].Value)
	assert.Equal(t, "api", byKey["DB_SCHEMA"].Value)
	assert.Equal(t, "app.api", byKey["DB_USERNAME"].Value)
	assert.Equal(t, "hunter2", byKey["DB_PASSWORD"].Value)
	assert.True(t, byKey["DB_PASSWORD"].Secret)
	assert.False(t, byKey["DB_HOST"].Secret)
}

func TestBucketAsEnv(t *testing.T) {
	b := &Bucket{Name: "api-staging", EnvVarKey: "GCS_BUCKET_NAME"}
	assert.Equal(t, "gs://api-staging", b.URL())

	vars := b.AsEnv()
	require.Len(t, vars, 1)
	assert.Equal(t, "GCS_BUCKET_NAME", vars[0].Key)
	assert.Equal(t, "api-staging", vars[0].Value)
}

func TestServiceAccountEmail(t *testing.T) {
	sa := &ServiceAccount{Name: "api", ProjectID: "acme-staging"}
	assert.Equal(t, "api@acme-staging.iam.gserviceaccount.com", sa.Email())
}

func TestRepositoryValidate(t *testing.T) {
	mirrored := &Repository{Name: "acme/api"}
	require.NoError(t, mirrored.Validate())
	assert.True(t, mirrored.Mirrored())
	assert.Equal(t, "https://github.com/acme/api", mirrored.URL)

	local := &Repository{Name: "api-staging"}
	require.NoError(t, local.Validate())
	assert.False(t, local.Mirrored())
	assert.Empty(t, local.URL)

	assert.ErrorIs(t, (&Repository{}).Validate(), ErrRepositoryNameRequired)
}

func TestGatewayNormalize(t *testing.T) {
	g := &Gateway{APIName: "api-gw"}
	g.Normalize()
	assert.Equal(t, "./openapi.yaml", g.SpecPath)
	assert.Equal(t, "api-gw", g.GatewayID)

	assert.Empty(t, g.AsEnv())
	g.Endpoint = "api-gw-xyz.gateway.dev"
	vars := g.AsEnv()
	require.Len(t, vars, 1)
	assert.Equal(t, "GATEWAY_ENDPOINT", vars[0].Key)
}

func TestScheduledInvocationValidate(t *testing.T) {
	sched := &ScheduledInvocation{Name: "cleanup", Cron: "0 4 * * *"}
	require.NoError(t, sched.Validate())
	assert.Equal(t, "/", sched.Path)
	assert.Equal(t, "GET", sched.Method)
	assert.Equal(t, "application/json", sched.ContentType)

	bad := &ScheduledInvocation{Name: "cleanup", Cron: "every day"}
	assert.ErrorIs(t, bad.Validate(), ErrScheduleCronInvalid)

	unnamed := &ScheduledInvocation{Cron: "0 4 * * *"}
	assert.ErrorIs(t, unnamed.Validate(), ErrScheduleNameRequired)
}

func TestNetworkRecordName(t *testing.T) {
	n := &Network{Zone: "acme.dev."}
	assert.Equal(t, "api.staging.acme.dev.", n.RecordName("api.staging.acme.dev"))
	assert.Equal(t, "api.staging.acme.dev.", n.RecordName("api.staging.acme.dev."))
}
