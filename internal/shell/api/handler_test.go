package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/heron/internal/core/domain"
	"github.com/artpar/heron/internal/shell/deploy"
	"github.com/artpar/heron/internal/shell/foundation"
	"github.com/artpar/heron/internal/shell/gcp"
	"github.com/artpar/heron/internal/shell/pipeline"
	"github.com/artpar/heron/internal/shell/store"
)

// =============================================================================
// Fakes and Fixtures
// =============================================================================

type fakeTriggers struct {
	specs []gcp.TriggerSpec
}

func (f *fakeTriggers) UpsertTrigger(_ context.Context, spec gcp.TriggerSpec) (string, error) {
	f.specs = append(f.specs, spec)
	return "t-1", nil
}

type fakeRun struct{}

func (f *fakeRun) CreateService(context.Context, gcp.ServiceRef, string) error { return nil }
func (f *fakeRun) GetServiceURL(context.Context, gcp.ServiceRef) (string, error) {
	return "https://api-staging-xyz.a.run.app", nil
}
func (f *fakeRun) CreateDomainMapping(context.Context, gcp.ServiceRef, string) (*gcp.DomainMapping, error) {
	return &gcp.DomainMapping{}, nil
}
func (f *fakeRun) GetDomainMapping(context.Context, gcp.ServiceRef, string) (*gcp.DomainMapping, error) {
	return &gcp.DomainMapping{}, nil
}

func newTestHandler(t *testing.T) (*Handler, *fakeTriggers, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	triggers := &fakeTriggers{}
	cfg := Config{
		Pipeline: pipeline.Config{RegistryProject: "acme-control"},
		Defaults: domain.DefaultsConfig{DatabaseVersion: "POSTGRES_13", DatabaseTier: "db-f1-micro"},
	}
	ingestor := deploy.NewIngestor(s, nil, nil)
	h := NewHandler(s, triggers, &fakeRun{}, foundation.Deps{Store: s}, ingestor, cfg, nil)
	return h, triggers, s
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func seedEnvironment(t *testing.T, router http.Handler) {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/environments", domain.Environment{
		Name:    "staging",
		Project: domain.Project{ID: "acme-staging", Number: "123456789", Region: "europe-west1"},
		Network: &domain.Network{Zone: "acme.dev.", ZoneName: "acme-dev", ProjectID: "acme-net"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
}

func seedBuildPack(t *testing.T, router http.Handler) {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/build-packs", domain.BuildPack{
		Name:           "python",
		RuntimeVersion: "3.12",
		Target:         domain.TargetCloudRun,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
}

func seedApp(t *testing.T, router http.Handler) domain.Application {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/apps", domain.Application{
		Name:            "api",
		EnvironmentName: "staging",
		BuildSetup:      domain.BuildSetup{BuildPackName: "python", DeployBranch: "main"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	return decode[domain.Application](t, rec)
}

// =============================================================================
// Tests
// =============================================================================

func TestHealth(t *testing.T) {
	h, _, _ := newTestHandler(t)
	rec := doJSON(t, h.Routes(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateAppRequiresEnvironment(t *testing.T) {
	h, _, _ := newTestHandler(t)
	rec := doJSON(t, h.Routes(), http.MethodPost, "/apps", domain.Application{
		Name:            "api",
		EnvironmentName: "missing",
		BuildSetup:      domain.BuildSetup{BuildPackName: "python", DeployBranch: "main"},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAppLifecycle(t *testing.T) {
	h, _, _ := newTestHandler(t)
	router := h.Routes()
	seedEnvironment(t, router)
	seedBuildPack(t, router)

	created := seedApp(t, router)
	assert.Equal(t, "api-staging", created.ID)
	assert.Equal(t, "api-staging", created.Identifier)
	assert.Equal(t, "europe-west1", created.Region)

	rec := doJSON(t, router, http.MethodGet, "/apps/api-staging", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/apps?environment=staging", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[ListResponse[domain.Application]](t, rec)
	assert.Equal(t, 1, list.Total)

	rec = doJSON(t, router, http.MethodDelete, "/apps/api-staging", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/apps/api-staging", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBuildPackValidation(t *testing.T) {
	h, _, _ := newTestHandler(t)
	rec := doJSON(t, h.Routes(), http.MethodPost, "/build-packs", domain.BuildPack{
		Name:   "weird",
		Target: domain.Target("mainframe"),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVarsRoundTrip(t *testing.T) {
	h, _, _ := newTestHandler(t)
	router := h.Routes()
	seedEnvironment(t, router)
	seedBuildPack(t, router)
	seedApp(t, router)

	rec := doJSON(t, router, http.MethodPost, "/apps/api-staging/vars", map[string]string{
		"LOG_LEVEL": "debug",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/apps/api-staging/vars", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	vars := decode[VarsResponse](t, rec)

	keys := map[string]string{}
	for _, v := range vars.Results {
		keys[v.Key] = v.Value
	}
	assert.Equal(t, "debug", keys["LOG_LEVEL"])
	assert.Equal(t, "api-staging", keys["APP_NAME"])
	assert.Equal(t, "acme-staging", keys["GCP_PROJECT"])

	rec = doJSON(t, router, http.MethodDelete, "/apps/api-staging/vars", []string{"LOG_LEVEL"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	left := decode[VarsResponse](t, rec)
	for _, v := range left.Results {
		assert.NotEqual(t, "LOG_LEVEL", v.Key)
	}
}

func TestStoredValidationFailureSurfaces(t *testing.T) {
	h, _, s := newTestHandler(t)
	router := h.Routes()
	seedEnvironment(t, router)
	seedBuildPack(t, router)
	app := seedApp(t, router)

	// A row written under older rules can fail today's validation; the API
	// must report it as such, not as a server fault.
	ctx := context.Background()
	stored, err := s.GetApplication(ctx, app.ID)
	require.NoError(t, err)
	stored.Repository = &domain.Repository{}
	require.NoError(t, s.UpdateApplication(ctx, stored))

	rec := doJSON(t, router, http.MethodGet, "/apps/api-staging/vars", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "validation_error", resp.Code)
}

func TestBootstrapFillsDefaults(t *testing.T) {
	h, _, _ := newTestHandler(t)
	router := h.Routes()
	seedEnvironment(t, router)
	seedBuildPack(t, router)
	seedApp(t, router)

	rec := doJSON(t, router, http.MethodGet, "/apps/api-staging/bootstrap", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	check := decode[BootstrapResponse](t, rec)
	assert.Contains(t, check.Missing, "database")
	assert.Contains(t, check.Missing, "service_account")

	rec = doJSON(t, router, http.MethodPost, "/apps/api-staging/bootstrap", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	app := decode[domain.Application](t, rec)
	require.NotNil(t, app.Database)
	assert.Equal(t, "POSTGRES_13", app.Database.Version)
	require.NotNil(t, app.Bucket)
	require.NotNil(t, app.ServiceAccount)
	require.NotNil(t, app.Repository)
	assert.Equal(t, []string{"api.staging.acme.dev"}, app.Domains)

	rec = doJSON(t, router, http.MethodGet, "/apps/api-staging/bootstrap", nil)
	check = decode[BootstrapResponse](t, rec)
	assert.Empty(t, check.Missing)
}

func TestApplyCompilesPipeline(t *testing.T) {
	h, triggers, _ := newTestHandler(t)
	router := h.Routes()
	seedEnvironment(t, router)
	seedBuildPack(t, router)
	seedApp(t, router)

	rec := doJSON(t, router, http.MethodPost, "/apps/api-staging/bootstrap", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/apps/api-staging/apply", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/apps/api-staging/apply", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	applied := decode[ApplyResponse](t, rec)
	assert.Equal(t, "t-1", applied.TriggerID)

	// first creation binds the trigger id and recompiles once
	assert.Len(t, triggers.specs, 2)

	rec = doJSON(t, router, http.MethodGet, "/apps/api-staging", nil)
	app := decode[domain.Application](t, rec)
	assert.Equal(t, "t-1", app.BuildSetup.TriggerID)
}

func TestInitListsJobs(t *testing.T) {
	h, _, _ := newTestHandler(t)
	router := h.Routes()
	seedEnvironment(t, router)
	seedBuildPack(t, router)
	seedApp(t, router)

	rec := doJSON(t, router, http.MethodPost, "/apps/api-staging/bootstrap", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/apps/api-staging/init", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	jobs := decode[JobsResponse](t, rec)
	assert.Equal(t, []string{"iam", "bucket", "database", "placeholder-service", "custom-domains"}, jobs.Jobs)

	rec = doJSON(t, router, http.MethodGet, "/environments/staging/init", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	envJobs := decode[JobsResponse](t, rec)
	assert.Equal(t, []string{"build-notifications", "iam-grants"}, envJobs.Jobs)
}

// =============================================================================
// Webhook Tests
// =============================================================================

func hookEnvelope(t *testing.T, payload buildPayload) pushEnvelope {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	var env pushEnvelope
	env.Message.MessageID = "m-1"
	env.Message.Data = data
	env.Subscription = "projects/acme-staging/subscriptions/heron"
	return env
}

func queuedPayload(trigger string) buildPayload {
	p := buildPayload{
		ID:             "build-1",
		Status:         "QUEUED",
		BuildTriggerID: trigger,
		CreateTime:     "2026-08-31T10:00:00.000000000Z",
	}
	p.Source.GitSource = &struct {
		URL      string `json:"url"`
		Revision string `json:"revision"`
	}{URL: "https://github.com/acme/api", Revision: "abc1234"}
	return p
}

func TestBuildHookRegistersEvent(t *testing.T) {
	h, _, s := newTestHandler(t)
	router := h.Routes()
	seedEnvironment(t, router)
	seedBuildPack(t, router)
	seedApp(t, router)

	ctx := context.Background()
	app, err := s.GetApplication(ctx, "api-staging")
	require.NoError(t, err)
	app.BuildSetup.TriggerID = "t-1"
	require.NoError(t, s.UpdateApplication(ctx, app))

	rec := doJSON(t, router, http.MethodPost, "/hooks/build", hookEnvelope(t, queuedPayload("t-1")))
	require.Equal(t, http.StatusAccepted, rec.Code)

	deployments, err := s.ListDeploymentsByBuild(ctx, "api-staging", "build-1")
	require.NoError(t, err)
	require.Len(t, deployments, 1)
	require.Len(t, deployments[0].Events, 1)
	assert.Equal(t, domain.StatusQueued, deployments[0].Events[0].Status)
	assert.Equal(t, "abc1234", deployments[0].Events[0].Source.Revision)
}

func TestBuildHookIgnoresManualBuilds(t *testing.T) {
	h, _, _ := newTestHandler(t)
	router := h.Routes()

	payload := queuedPayload("t-1")
	payload.Source.GitSource = nil
	rec := doJSON(t, router, http.MethodPost, "/hooks/build", hookEnvelope(t, payload))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestBuildHookAcknowledgesUnknownTrigger(t *testing.T) {
	h, _, _ := newTestHandler(t)
	router := h.Routes()
	seedEnvironment(t, router)

	rec := doJSON(t, router, http.MethodPost, "/hooks/build", hookEnvelope(t, queuedPayload("t-unknown")))
	assert.Equal(t, http.StatusOK, rec.Code)
	status := decode[StatusResponse](t, rec)
	assert.Equal(t, "ignored", status.Status)
}

func TestBuildHookRejectsOutOfOrderEvent(t *testing.T) {
	h, _, s := newTestHandler(t)
	router := h.Routes()
	seedEnvironment(t, router)
	seedBuildPack(t, router)
	seedApp(t, router)

	ctx := context.Background()
	app, err := s.GetApplication(ctx, "api-staging")
	require.NoError(t, err)
	app.BuildSetup.TriggerID = "t-1"
	require.NoError(t, s.UpdateApplication(ctx, app))

	payload := queuedPayload("t-1")
	payload.Status = "WORKING"
	rec := doJSON(t, router, http.MethodPost, "/hooks/build", hookEnvelope(t, payload))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
