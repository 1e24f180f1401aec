package gcp

import (
	"context"
	"fmt"

	pubsub "google.golang.org/api/pubsub/v1"
)

// buildTopic is the well-known topic the build system publishes status
// messages to.
const buildTopic = "cloud-builds"

// SubscribeRequest wires build status messages to a push endpoint.
type SubscribeRequest struct {
	ProjectID      string
	SubscriptionID string
	PushURL        string
	// ServiceAccount signs the OIDC token attached to pushed messages.
	ServiceAccount string
}

// PubSubService manages push subscriptions on the build topic.
type PubSubService interface {
	// Subscribe creates the push subscription. Conflicts surface as
	// ErrAlreadyExists.
	Subscribe(ctx context.Context, req SubscribeRequest) error
}

// PubSub drives the Pub/Sub API.
type PubSub struct {
	svc *pubsub.Service
}

var _ PubSubService = (*PubSub)(nil)

func (c *PubSub) Subscribe(ctx context.Context, req SubscribeRequest) error {
	name := fmt.Sprintf("projects/%s/subscriptions/%s", req.ProjectID, req.SubscriptionID)
	sub := &pubsub.Subscription{
		Topic: fmt.Sprintf("projects/%s/topics/%s", req.ProjectID, buildTopic),
		PushConfig: &pubsub.PushConfig{
			PushEndpoint: req.PushURL,
			OidcToken: &pubsub.OidcToken{
				ServiceAccountEmail: req.ServiceAccount,
			},
		},
	}
	if _, err := c.svc.Projects.Subscriptions.Create(name, sub).Context(ctx).Do(); err != nil {
		return fmt.Errorf("subscribe %q: %w", req.SubscriptionID, translate(err))
	}
	return nil
}
