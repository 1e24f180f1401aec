package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/heron/internal/core/domain"
	"github.com/artpar/heron/internal/shell/vcs"
)

type fakeDiffer struct {
	commits []vcs.Commit
	err     error
	base    string
	head    string
}

func (f *fakeDiffer) Compare(_ context.Context, _, base, head string) ([]vcs.Commit, error) {
	f.base, f.head = base, head
	return f.commits, f.err
}

func testApp(t *testing.T, channel *domain.NotificationChannel) *domain.Application {
	t.Helper()
	env := &domain.Environment{
		Name:    "staging",
		Project: domain.Project{ID: "acme-staging", Number: "123456789", Region: "europe-west1"},
		Channel: channel,
	}
	app := &domain.Application{
		Name:            "api",
		EnvironmentName: env.Name,
		Repository:      &domain.Repository{Name: "acme/api"},
		BuildSetup:      domain.BuildSetup{BuildPackName: "python", DeployBranch: "main"},
	}
	require.NoError(t, app.Normalize(env))
	return app
}

func deploymentWith(events ...domain.Event) *domain.Deployment {
	return &domain.Deployment{ID: "dep-1", AppID: "api-staging", BuildID: "build-1", Events: events}
}

func event(status domain.Status, revision string, at time.Time) domain.Event {
	return domain.Event{Status: status, Source: domain.Source{Revision: revision}, CreatedAt: at}
}

func TestNotifyPostsCard(t *testing.T) {
	var gotThread string
	var got chatMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotThread = r.URL.Query().Get("threadKey")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
	}))
	defer srv.Close()

	app := testApp(t, &domain.NotificationChannel{WebhookURL: srv.URL + "/hook?token=abc"})
	n := NewChatNotifier(nil, nil)
	n.client = srv.Client()

	base := time.Now().UTC()
	d := deploymentWith(event(domain.StatusQueued, "rev1", base))
	require.NoError(t, n.Notify(context.Background(), app, d))

	assert.Equal(t, "heron_build-1", gotThread)
	require.Len(t, got.Cards, 1)
	card := got.Cards[0]
	assert.Equal(t, "api", card.Header.Title)
	assert.Equal(t, "IS ABOUT TO BE DEPLOYED TO <b>STAGING</b>", card.Header.Subtitle)
	assert.Empty(t, card.Sections)
}

func TestNotifySkipsWithoutChannel(t *testing.T) {
	app := testApp(t, nil)
	n := NewChatNotifier(nil, nil)

	d := deploymentWith(event(domain.StatusQueued, "rev1", time.Now()))
	assert.NoError(t, n.Notify(context.Background(), app, d))
}

func TestBuildCardTerminalDuration(t *testing.T) {
	app := testApp(t, &domain.NotificationChannel{WebhookURL: "https://chat.example.com/hook"})
	n := NewChatNotifier(nil, nil)

	base := time.Now().UTC()
	d := deploymentWith(
		event(domain.StatusQueued, "rev1", base),
		event(domain.StatusSuccess, "rev1", base.Add(90*time.Second)),
	)

	card := n.buildCard(context.Background(), app, d, app.Environment().Channel)
	assert.Equal(t, "HAS BEEN DEPLOYED TO <b>STAGING</b>", card.Header.Subtitle)
	require.Len(t, card.Sections, 1)
	require.Len(t, card.Sections[0].Widgets, 1)
	kv := card.Sections[0].Widgets[0].KeyValue
	require.NotNil(t, kv)
	assert.Equal(t, "Duration", kv.TopLabel)
	assert.Equal(t, "1m30s", kv.Content)
}

func TestBuildCardCommitDiff(t *testing.T) {
	channel := &domain.NotificationChannel{
		WebhookURL:    "https://chat.example.com/hook",
		ShowCommitFor: []domain.Status{domain.StatusSuccess},
	}
	app := testApp(t, channel)
	differ := &fakeDiffer{commits: []vcs.Commit{
		{SHA: "aaaaaaaaaaaa", Author: "Alex", Message: "fix login\n\nbody"},
	}}
	n := NewChatNotifier(differ, nil)

	base := time.Now().UTC()
	d := deploymentWith(
		event(domain.StatusQueued, "rev1", base),
		event(domain.StatusSuccess, "rev2", base.Add(time.Minute)),
	)

	card := n.buildCard(context.Background(), app, d, channel)
	require.Len(t, card.Sections, 1)
	require.Len(t, card.Sections[0].Widgets, 2)

	changes := card.Sections[0].Widgets[1].KeyValue
	require.NotNil(t, changes)
	assert.Equal(t, "Changes", changes.TopLabel)
	assert.Equal(t, "aaaaaaa @Alex\n\tfix login", changes.Content)
	assert.Equal(t, "rev1", differ.base)
	assert.Equal(t, "rev2", differ.head)
}

func TestBuildCardEmptyDiff(t *testing.T) {
	channel := &domain.NotificationChannel{
		WebhookURL:    "https://chat.example.com/hook",
		ShowCommitFor: []domain.Status{domain.StatusSuccess},
	}
	app := testApp(t, channel)
	n := NewChatNotifier(&fakeDiffer{}, nil)

	base := time.Now().UTC()
	d := deploymentWith(
		event(domain.StatusQueued, "rev1", base),
		event(domain.StatusSuccess, "rev2", base.Add(time.Minute)),
	)

	card := n.buildCard(context.Background(), app, d, channel)
	changes := card.Sections[0].Widgets[1].KeyValue
	require.NotNil(t, changes)
	assert.Contains(t, changes.Content, "No changes detected")
}

func TestBuildCardDifferFailureDropsWidget(t *testing.T) {
	channel := &domain.NotificationChannel{
		WebhookURL:    "https://chat.example.com/hook",
		ShowCommitFor: []domain.Status{domain.StatusSuccess},
	}
	app := testApp(t, channel)
	n := NewChatNotifier(&fakeDiffer{err: assert.AnError}, nil)

	base := time.Now().UTC()
	d := deploymentWith(
		event(domain.StatusQueued, "rev1", base),
		event(domain.StatusSuccess, "rev2", base.Add(time.Minute)),
	)

	card := n.buildCard(context.Background(), app, d, channel)
	require.Len(t, card.Sections, 1)
	// only the duration widget survives
	assert.Len(t, card.Sections[0].Widgets, 1)
}
