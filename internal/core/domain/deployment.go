package domain

import (
	"time"
)

// =============================================================================
// Pipeline Status
// =============================================================================

// Status is a pipeline lifecycle state reported by the build system.
type Status string

const (
	StatusUnknown       Status = "STATUS_UNKNOWN"
	StatusQueued        Status = "QUEUED"
	StatusWorking       Status = "WORKING"
	StatusSuccess       Status = "SUCCESS"
	StatusFailure       Status = "FAILURE"
	StatusInternalError Status = "INTERNAL_ERROR"
	StatusTimeout       Status = "TIMEOUT"
	StatusCancelled     Status = "CANCELLED"
	StatusExpired       Status = "EXPIRED"
)

// IsFirst reports whether the status denotes initial queuing.
func (s Status) IsFirst() bool {
	return s == StatusQueued
}

// IsTerminal reports whether the status is one of the six outcomes.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusInternalError, StatusTimeout, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// ActionPhrase renders the status as the verb phrase used in notifications,
// e.g. "myapp HAS BEEN DEPLOYED TO STAGING".
func (s Status) ActionPhrase() string {
	phrases := map[Status]string{
		StatusUnknown:       "???",
		StatusQueued:        "is about to be deployed to",
		StatusWorking:       "is deploying to",
		StatusSuccess:       "has been deployed to",
		StatusFailure:       "failed to deploy to",
		StatusInternalError: "crashed when deploying to",
		StatusTimeout:       "took too long to deploy to",
		StatusCancelled:     "has been cancelled to deploy to",
		StatusExpired:       "took too long to start deployment to",
	}
	phrase, ok := phrases[s]
	if !ok {
		phrase = phrases[StatusUnknown]
	}
	return phrase
}

// =============================================================================
// Deployment
// =============================================================================

// Source identifies the commit a pipeline execution built.
type Source struct {
	URL      string `json:"url"`
	Revision string `json:"revision"`
}

// Event is one pipeline status notification.
type Event struct {
	Status    Status    `json:"status"`
	Source    Source    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// Deployment tracks one pipeline execution for one application. There is
// at most one Deployment per (application, build id); duplicates created by
// a webhook race are merged, never left as siblings.
type Deployment struct {
	ID      string  `json:"id"`
	AppID   string  `json:"app_id"`
	BuildID string  `json:"build_id"`
	Events  []Event `json:"events"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Latest returns the most recent event, or nil when no event arrived yet.
func (d *Deployment) Latest() *Event {
	if len(d.Events) == 0 {
		return nil
	}
	return &d.Events[len(d.Events)-1]
}

// Previous returns the event before the latest, or nil.
func (d *Deployment) Previous() *Event {
	if len(d.Events) < 2 {
		return nil
	}
	return &d.Events[len(d.Events)-2]
}

// Duration is the time between the first and the latest event.
func (d *Deployment) Duration() time.Duration {
	if len(d.Events) < 2 {
		return 0
	}
	return d.Events[len(d.Events)-1].CreatedAt.Sub(d.Events[0].CreatedAt)
}

// Done reports whether the deployment reached a terminal status.
func (d *Deployment) Done() bool {
	latest := d.Latest()
	return latest != nil && latest.Status.IsTerminal()
}
