package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/heron/internal/core/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedEnvironment(t *testing.T, s Store) *domain.Environment {
	t.Helper()
	env := &domain.Environment{
		Name:    "staging",
		Project: domain.Project{ID: "acme-staging", Number: "123456789", Region: "europe-west1"},
		Network: &domain.Network{Zone: "acme.dev.", ZoneName: "acme-dev", ProjectID: "acme-dns"},
		Vars:    []domain.EnvVar{{Key: "LOG_LEVEL", Value: "info"}},
	}
	require.NoError(t, s.CreateEnvironment(context.Background(), env))
	return env
}

func seedApplication(t *testing.T, s Store, env *domain.Environment) *domain.Application {
	t.Helper()
	app := &domain.Application{
		Name:            "api",
		EnvironmentName: env.Name,
		BuildSetup:      domain.BuildSetup{BuildPackName: "python", DeployBranch: "main"},
	}
	require.NoError(t, app.Normalize(env))
	require.NoError(t, s.CreateApplication(context.Background(), app))
	return app
}

func TestEnvironmentCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	env := seedEnvironment(t, s)

	got, err := s.GetEnvironment(ctx, "staging")
	require.NoError(t, err)
	assert.Equal(t, env.Project, got.Project)
	require.NotNil(t, got.Network)
	assert.Equal(t, "acme.dev.", got.Network.Zone)
	assert.Equal(t, env.Vars, got.Vars)
	assert.Nil(t, got.Channel)

	got.Vars = append(got.Vars, domain.EnvVar{Key: "SENTRY_DSN", Value: "https://x"})
	require.NoError(t, s.UpdateEnvironment(ctx, got))
	got, err = s.GetEnvironment(ctx, "staging")
	require.NoError(t, err)
	assert.Len(t, got.Vars, 2)

	err = s.CreateEnvironment(ctx, env)
	assert.ErrorIs(t, err, ErrDuplicateID)

	_, err = s.GetEnvironment(ctx, "production")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.DeleteEnvironment(ctx, "staging"))
	assert.ErrorIs(t, s.DeleteEnvironment(ctx, "staging"), ErrNotFound)
}

func TestBuildPackCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pack := &domain.BuildPack{
		Name:           "python",
		RuntimeVersion: "3.11",
		Target:         domain.TargetCloudRun,
		BuildArgs:      []domain.KeyValue{{Key: "PIP_VERSION", Value: "23.1"}},
		Vars:           []domain.EnvVar{{Key: "PYTHONUNBUFFERED", Value: "1"}},
		DockerfileURL:  "gs://heron-packs/python/Dockerfile",
	}
	require.NoError(t, s.CreateBuildPack(ctx, pack))

	got, err := s.GetBuildPack(ctx, "python")
	require.NoError(t, err)
	assert.Equal(t, pack.BuildArgs, got.BuildArgs)
	assert.Equal(t, domain.TargetCloudRun, got.Target)

	got.RuntimeVersion = "3.12"
	require.NoError(t, s.UpdateBuildPack(ctx, got))
	got, err = s.GetBuildPack(ctx, "python")
	require.NoError(t, err)
	assert.Equal(t, "3.12", got.RuntimeVersion)

	packs, err := s.ListBuildPacks(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, packs, 1)
}

func TestApplicationCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	env := seedEnvironment(t, s)
	app := seedApplication(t, s, env)
	app.ApplyDefaults(domain.DefaultsConfig{DatabaseVersion: "POSTGRES_13", DatabaseTier: "db-f1-micro"})
	require.NoError(t, s.UpdateApplication(ctx, app))

	got, err := s.GetApplication(ctx, "api-staging")
	require.NoError(t, err)
	assert.Equal(t, "api", got.Name)
	assert.Equal(t, "api-staging", got.Identifier)
	require.NotNil(t, got.Database)
	assert.Equal(t, "api-staging", got.Database.Instance)
	require.NotNil(t, got.Repository)
	assert.Len(t, got.Vars, 1)

	apps, err := s.ListApplicationsByEnvironment(ctx, "staging", ListOptions{})
	require.NoError(t, err)
	assert.Len(t, apps, 1)

	require.NoError(t, s.DeleteApplication(ctx, "api-staging"))
	_, err = s.GetApplication(ctx, "api-staging")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetApplicationByTriggerID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	env := seedEnvironment(t, s)
	app := seedApplication(t, s, env)

	// No trigger bound yet: empty ids never match.
	_, err := s.GetApplicationByTriggerID(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)

	app.BuildSetup.TriggerID = "t-1"
	require.NoError(t, s.UpdateApplication(ctx, app))

	got, err := s.GetApplicationByTriggerID(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, "api-staging", got.ID)

	_, err = s.GetApplicationByTriggerID(ctx, "t-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeploymentsByBuild(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	env := seedEnvironment(t, s)
	app := seedApplication(t, s, env)

	now := time.Now().UTC()
	first := &domain.Deployment{
		ID: uuid.NewString(), AppID: app.ID, BuildID: "b-1",
		Events:    []domain.Event{{Status: domain.StatusQueued, CreatedAt: now}},
		CreatedAt: now,
	}
	second := &domain.Deployment{
		ID: uuid.NewString(), AppID: app.ID, BuildID: "b-1",
		Events:    []domain.Event{{Status: domain.StatusQueued, CreatedAt: now}},
		CreatedAt: now.Add(time.Second),
	}
	other := &domain.Deployment{ID: uuid.NewString(), AppID: app.ID, BuildID: "b-2", CreatedAt: now}
	require.NoError(t, s.CreateDeployment(ctx, first))
	require.NoError(t, s.CreateDeployment(ctx, second))
	require.NoError(t, s.CreateDeployment(ctx, other))

	found, err := s.ListDeploymentsByBuild(ctx, app.ID, "b-1")
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, first.ID, found[0].ID)
	assert.Equal(t, second.ID, found[1].ID)
	require.Len(t, found[0].Events, 1)
	assert.Equal(t, domain.StatusQueued, found[0].Events[0].Status)

	require.NoError(t, s.DeleteDeployment(ctx, second.ID))
	found, err = s.ListDeploymentsByBuild(ctx, app.ID, "b-1")
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestWithTxRollback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	env := seedEnvironment(t, s)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx Store) error {
		app := &domain.Application{
			Name:            "api",
			EnvironmentName: env.Name,
			BuildSetup:      domain.BuildSetup{BuildPackName: "python", DeployBranch: "main"},
		}
		require.NoError(t, app.Normalize(env))
		if err := tx.CreateApplication(ctx, app); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetApplication(ctx, "api-staging")
	assert.ErrorIs(t, err, ErrNotFound)
}
