// Package deploy tracks pipeline executions as deployment records. This is
// part of the Imperative Shell.
//
// A deployment is one pipeline execution for one application, keyed by
// (application, build id). The build system reports status changes through
// the webhook; each reported event is appended to the deployment's event
// list and announced on the application's notification channel.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/artpar/heron/internal/core/domain"
	"github.com/artpar/heron/internal/shell/store"
)

// ErrEventOutOfOrder is returned when a non-initial status arrives for a
// build no deployment was ever created for. Nothing is recorded in that
// case.
var ErrEventOutOfOrder = errors.New("event arrived before the build was queued")

// Notifier announces one appended event.
type Notifier interface {
	Notify(ctx context.Context, app *domain.Application, deployment *domain.Deployment) error
}

// Ingestor applies reported pipeline events to deployment records.
type Ingestor struct {
	store    store.Store
	notifier Notifier
	logger   *slog.Logger
}

// NewIngestor builds an ingestor. notifier may be nil to disable
// notifications.
func NewIngestor(st store.Store, notifier Notifier, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		store:    st,
		notifier: notifier,
		logger:   logger.With("component", "deploy"),
	}
}

// RegisterEvent records one reported status change.
//
// The first event of a build creates the deployment; it must carry the
// initial status, otherwise ErrEventOutOfOrder is returned and nothing is
// created. Webhook deliveries race, so two deployments may exist for the
// same build; they are merged into one canonical record before the new
// event is applied, replaying the merged events without notifications.
func (i *Ingestor) RegisterEvent(ctx context.Context, app *domain.Application, buildID string, event domain.Event) (*domain.Deployment, error) {
	existing, err := i.store.ListDeploymentsByBuild(ctx, app.ID, buildID)
	if err != nil {
		return nil, fmt.Errorf("list deployments for build %s: %w", buildID, err)
	}

	var deployment *domain.Deployment
	switch len(existing) {
	case 0:
		if !event.Status.IsFirst() {
			return nil, fmt.Errorf("%w: got %s for build %s", ErrEventOutOfOrder, event.Status, buildID)
		}
		deployment = &domain.Deployment{
			ID:        uuid.New().String(),
			AppID:     app.ID,
			BuildID:   buildID,
			CreatedAt: time.Now().UTC(),
		}
		if err := i.store.CreateDeployment(ctx, deployment); err != nil {
			return nil, fmt.Errorf("create deployment for build %s: %w", buildID, err)
		}
	case 1:
		deployment = &existing[0]
	default:
		deployment, err = i.merge(ctx, existing)
		if err != nil {
			return nil, err
		}
	}

	if err := i.appendEvent(ctx, app, deployment, event, true); err != nil {
		return nil, err
	}
	return deployment, nil
}

// merge collapses duplicate deployments for one build into the oldest one,
// replaying every event in original order. Replayed events are not
// re-announced.
func (i *Ingestor) merge(ctx context.Context, duplicates []domain.Deployment) (*domain.Deployment, error) {
	canonical := &duplicates[0]
	i.logger.Warn("merging duplicate deployments",
		"build_id", canonical.BuildID,
		"count", len(duplicates),
	)

	var events []domain.Event
	for idx := range duplicates {
		events = append(events, duplicates[idx].Events...)
	}
	sort.SliceStable(events, func(a, b int) bool {
		return events[a].CreatedAt.Before(events[b].CreatedAt)
	})
	canonical.Events = events
	canonical.UpdatedAt = time.Now().UTC()

	if err := i.store.UpdateDeployment(ctx, canonical); err != nil {
		return nil, fmt.Errorf("merge deployments for build %s: %w", canonical.BuildID, err)
	}
	for _, dup := range duplicates[1:] {
		if err := i.store.DeleteDeployment(ctx, dup.ID); err != nil {
			return nil, fmt.Errorf("drop duplicate deployment %s: %w", dup.ID, err)
		}
	}
	return canonical, nil
}

// appendEvent persists the event and announces it. A failed announcement is
// logged, never surfaced: the record is already written and the webhook must
// still be acknowledged.
func (i *Ingestor) appendEvent(ctx context.Context, app *domain.Application, deployment *domain.Deployment, event domain.Event, notify bool) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	deployment.Events = append(deployment.Events, event)
	deployment.UpdatedAt = time.Now().UTC()

	if err := i.store.UpdateDeployment(ctx, deployment); err != nil {
		return fmt.Errorf("record %s event for build %s: %w", event.Status, deployment.BuildID, err)
	}

	if notify && i.notifier != nil {
		if err := i.notifier.Notify(ctx, app, deployment); err != nil {
			i.logger.Warn("notification failed",
				"build_id", deployment.BuildID,
				"status", string(event.Status),
				"error", err,
			)
		}
	}
	return nil
}
