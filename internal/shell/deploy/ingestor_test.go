package deploy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/heron/internal/core/domain"
	"github.com/artpar/heron/internal/shell/store"
)

type fakeNotifier struct {
	statuses []domain.Status
	err      error
}

func (f *fakeNotifier) Notify(_ context.Context, _ *domain.Application, d *domain.Deployment) error {
	f.statuses = append(f.statuses, d.Latest().Status)
	return f.err
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// testApp persists the environment and application rows a deployment
// references.
func testApp(t *testing.T, s store.Store) *domain.Application {
	t.Helper()
	env := &domain.Environment{
		Name:    "staging",
		Project: domain.Project{ID: "acme-staging", Number: "123456789", Region: "europe-west1"},
	}
	app := &domain.Application{
		Name:            "api",
		EnvironmentName: env.Name,
		BuildSetup:      domain.BuildSetup{BuildPackName: "python", DeployBranch: "main"},
	}
	require.NoError(t, app.Normalize(env))

	ctx := context.Background()
	require.NoError(t, s.CreateEnvironment(ctx, env))
	require.NoError(t, s.CreateApplication(ctx, app))
	return app
}

func event(status domain.Status, at time.Time) domain.Event {
	return domain.Event{
		Status:    status,
		Source:    domain.Source{URL: "https://github.com/acme/api", Revision: "abc1234"},
		CreatedAt: at,
	}
}

func TestRegisterEventFullLifecycle(t *testing.T) {
	s := newTestStore(t)
	notifier := &fakeNotifier{}
	ingestor := NewIngestor(s, notifier, nil)
	app := testApp(t, s)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, status := range []domain.Status{domain.StatusQueued, domain.StatusWorking, domain.StatusSuccess} {
		_, err := ingestor.RegisterEvent(ctx, app, "build-1", event(status, base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	deployments, err := s.ListDeploymentsByBuild(ctx, app.ID, "build-1")
	require.NoError(t, err)
	require.Len(t, deployments, 1)

	d := deployments[0]
	require.Len(t, d.Events, 3)
	assert.Equal(t, domain.StatusQueued, d.Events[0].Status)
	assert.Equal(t, domain.StatusWorking, d.Events[1].Status)
	assert.Equal(t, domain.StatusSuccess, d.Events[2].Status)
	assert.True(t, d.Done())
	assert.Equal(t, 2*time.Minute, d.Duration())

	assert.Equal(t, []domain.Status{domain.StatusQueued, domain.StatusWorking, domain.StatusSuccess}, notifier.statuses)
}

func TestRegisterEventRejectsOutOfOrderFirstEvent(t *testing.T) {
	s := newTestStore(t)
	notifier := &fakeNotifier{}
	ingestor := NewIngestor(s, notifier, nil)
	app := testApp(t, s)
	ctx := context.Background()

	_, err := ingestor.RegisterEvent(ctx, app, "build-1", event(domain.StatusWorking, time.Now().UTC()))
	require.ErrorIs(t, err, ErrEventOutOfOrder)

	deployments, err := s.ListDeploymentsByBuild(ctx, app.ID, "build-1")
	require.NoError(t, err)
	assert.Empty(t, deployments)
	assert.Empty(t, notifier.statuses)
}

func TestRegisterEventMergesDuplicateDeployments(t *testing.T) {
	s := newTestStore(t)
	notifier := &fakeNotifier{}
	ingestor := NewIngestor(s, notifier, nil)
	app := testApp(t, s)
	ctx := context.Background()

	// Two webhook deliveries raced and each created a deployment.
	base := time.Now().UTC().Truncate(time.Second)
	first := &domain.Deployment{
		ID: "dep-a", AppID: app.ID, BuildID: "build-1",
		Events:    []domain.Event{event(domain.StatusQueued, base)},
		CreatedAt: base,
	}
	second := &domain.Deployment{
		ID: "dep-b", AppID: app.ID, BuildID: "build-1",
		Events:    []domain.Event{event(domain.StatusWorking, base.Add(time.Minute))},
		CreatedAt: base.Add(time.Second),
	}
	require.NoError(t, s.CreateDeployment(ctx, first))
	require.NoError(t, s.CreateDeployment(ctx, second))

	d, err := ingestor.RegisterEvent(ctx, app, "build-1", event(domain.StatusSuccess, base.Add(2*time.Minute)))
	require.NoError(t, err)

	deployments, err := s.ListDeploymentsByBuild(ctx, app.ID, "build-1")
	require.NoError(t, err)
	require.Len(t, deployments, 1)
	assert.Equal(t, d.ID, deployments[0].ID)

	statuses := make([]domain.Status, 0, len(deployments[0].Events))
	for _, e := range deployments[0].Events {
		statuses = append(statuses, e.Status)
	}
	assert.Equal(t, []domain.Status{domain.StatusQueued, domain.StatusWorking, domain.StatusSuccess}, statuses)

	// Only the freshly reported event is announced; replays stay silent.
	assert.Equal(t, []domain.Status{domain.StatusSuccess}, notifier.statuses)
}

func TestRegisterEventSurvivesNotifierFailure(t *testing.T) {
	s := newTestStore(t)
	notifier := &fakeNotifier{err: assert.AnError}
	ingestor := NewIngestor(s, notifier, nil)
	app := testApp(t, s)
	ctx := context.Background()

	d, err := ingestor.RegisterEvent(ctx, app, "build-1", event(domain.StatusQueued, time.Now().UTC()))
	require.NoError(t, err)
	require.Len(t, d.Events, 1)
}
