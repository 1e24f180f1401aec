// Package notify announces deployment events on a chat webhook. This is
// part of the Imperative Shell.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/artpar/heron/internal/core/domain"
	"github.com/artpar/heron/internal/shell/vcs"
)

// =============================================================================
// Chat Message Payload
// =============================================================================

type chatMessage struct {
	Cards []chatCard `json:"cards"`
}

type chatCard struct {
	Header   chatHeader    `json:"header"`
	Sections []chatSection `json:"sections,omitempty"`
}

type chatHeader struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
}

type chatSection struct {
	Widgets []chatWidget `json:"widgets"`
}

type chatWidget struct {
	KeyValue *chatKeyValue `json:"keyValue,omitempty"`
}

type chatKeyValue struct {
	TopLabel         string `json:"topLabel"`
	Content          string `json:"content"`
	ContentMultiline bool   `json:"contentMultiline,omitempty"`
}

// =============================================================================
// Notifier
// =============================================================================

// ChatNotifier renders each deployment event as a chat card and posts it to
// the environment's webhook. Cards for one build share a thread.
type ChatNotifier struct {
	client *http.Client
	differ vcs.Differ
	logger *slog.Logger
}

// NewChatNotifier builds a notifier. differ may be nil to skip commit-range
// descriptions.
func NewChatNotifier(differ vcs.Differ, logger *slog.Logger) *ChatNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatNotifier{
		client: &http.Client{Timeout: 15 * time.Second},
		differ: differ,
		logger: logger.With("component", "notify"),
	}
}

// Notify posts a card for the deployment's latest event. Environments
// without a channel are silently skipped.
func (n *ChatNotifier) Notify(ctx context.Context, app *domain.Application, deployment *domain.Deployment) error {
	env := app.Environment()
	if env == nil || env.Channel == nil || env.Channel.WebhookURL == "" {
		return nil
	}
	if deployment.Latest() == nil {
		return nil
	}

	msg := chatMessage{Cards: []chatCard{n.buildCard(ctx, app, deployment, env.Channel)}}
	return n.post(ctx, env.Channel.WebhookURL, deployment.BuildID, msg)
}

func (n *ChatNotifier) buildCard(ctx context.Context, app *domain.Application, deployment *domain.Deployment, channel *domain.NotificationChannel) chatCard {
	current := deployment.Latest()
	previous := deployment.Previous()
	status := current.Status

	card := chatCard{
		Header: chatHeader{
			Title:    app.Name,
			Subtitle: fmt.Sprintf("%s <b>%s</b>", strings.ToUpper(status.ActionPhrase()), strings.ToUpper(app.EnvironmentName)),
		},
	}

	var widgets []chatWidget
	if status.IsTerminal() {
		widgets = append(widgets, chatWidget{KeyValue: &chatKeyValue{
			TopLabel: "Duration",
			Content:  deployment.Duration().String(),
		}})
	}
	if previous != nil && channel.ShowsCommitFor(status) {
		if changes := n.describeChanges(ctx, app, previous, current); changes != "" {
			widgets = append(widgets, chatWidget{KeyValue: &chatKeyValue{
				TopLabel:         "Changes",
				Content:          changes,
				ContentMultiline: true,
			}})
		}
	}
	if len(widgets) > 0 {
		card.Sections = []chatSection{{Widgets: widgets}}
	}
	return card
}

// describeChanges renders the commit range between the two events. A failed
// lookup only costs the widget, never the notification.
func (n *ChatNotifier) describeChanges(ctx context.Context, app *domain.Application, previous, current *domain.Event) string {
	// Only mirrored repositories have a GitHub compare endpoint.
	if n.differ == nil || app.Repository == nil || !app.Repository.Mirrored() {
		return ""
	}

	commits, err := n.differ.Compare(ctx, app.Repository.Name, previous.Source.Revision, current.Source.Revision)
	if err != nil {
		n.logger.Warn("commit diff lookup failed",
			"repository", app.Repository.Name,
			"error", err,
		)
		return ""
	}
	if len(commits) == 0 {
		return fmt.Sprintf("No changes detected between <i>%s</i> and <i>%s</i>",
			current.Source.Revision, previous.Source.Revision)
	}

	lines := make([]string, 0, len(commits))
	for _, c := range commits {
		lines = append(lines, fmt.Sprintf("%s @%s\n\t%s", c.ShortSHA(), c.Author, c.Title()))
	}
	return strings.Join(lines, "\n")
}

func (n *ChatNotifier) post(ctx context.Context, webhookURL, buildID string, msg chatMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode chat message: %w", err)
	}

	target, err := url.Parse(webhookURL)
	if err != nil {
		return fmt.Errorf("parse webhook url: %w", err)
	}
	query := target.Query()
	query.Set("threadKey", "heron_"+buildID)
	target.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post chat message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("post chat message: unexpected status %d", resp.StatusCode)
	}
	return nil
}
