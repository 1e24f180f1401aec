// Package gcp wraps the Google Cloud APIs the control plane drives. This is
// part of the Imperative Shell - every call here crosses the network.
//
// Each collaborator is a small interface so the pipeline factory and the
// provisioning jobs can be tested against fakes. The real adapters translate
// conflict responses into ErrAlreadyExists so callers can treat re-creation
// as success, which is what makes every provisioning job idempotent.
package gcp

import (
	"context"
	"errors"
	"net/http"

	"cloud.google.com/go/storage"
	apigateway "google.golang.org/api/apigateway/v1"
	cloudbuild "google.golang.org/api/cloudbuild/v1"
	cloudresourcemanager "google.golang.org/api/cloudresourcemanager/v1"
	dns "google.golang.org/api/dns/v1"
	"google.golang.org/api/googleapi"
	iam "google.golang.org/api/iam/v1"
	pubsub "google.golang.org/api/pubsub/v1"
	run "google.golang.org/api/run/v1"
	sqladmin "google.golang.org/api/sqladmin/v1beta4"
)

var (
	// ErrAlreadyExists marks a conflict outcome from a creation call.
	// Provisioning treats it as success-by-idempotency.
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrNotFound marks a missing remote resource.
	ErrNotFound = errors.New("resource not found")
)

// translate maps a googleapi error onto the package's sentinel errors.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusConflict:
			return errors.Join(ErrAlreadyExists, err)
		case http.StatusNotFound:
			return errors.Join(ErrNotFound, err)
		}
	}
	return err
}

// IsAlreadyExists reports whether the error is a conflict outcome.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsNotFound reports whether the error is a missing-resource outcome.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// =============================================================================
// Clients
// =============================================================================

// Clients bundles the authenticated service handles. Construct once at
// startup and pass down; no package-level state.
type Clients struct {
	Build    *CloudBuild
	Run      *CloudRun
	Identity *Identity
	SQL      *CloudSQL
	Storage  *CloudStorage
	DNS      *CloudDNS
	Gateway  *APIGateway
	PubSub   *PubSub
}

// NewClients constructs every service client with application default
// credentials.
func NewClients(ctx context.Context) (*Clients, error) {
	buildSvc, err := cloudbuild.NewService(ctx)
	if err != nil {
		return nil, err
	}
	runSvc, err := run.NewService(ctx)
	if err != nil {
		return nil, err
	}
	iamSvc, err := iam.NewService(ctx)
	if err != nil {
		return nil, err
	}
	crmSvc, err := cloudresourcemanager.NewService(ctx)
	if err != nil {
		return nil, err
	}
	sqlSvc, err := sqladmin.NewService(ctx)
	if err != nil {
		return nil, err
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	dnsSvc, err := dns.NewService(ctx)
	if err != nil {
		return nil, err
	}
	gwSvc, err := apigateway.NewService(ctx)
	if err != nil {
		return nil, err
	}
	pubsubSvc, err := pubsub.NewService(ctx)
	if err != nil {
		return nil, err
	}

	return &Clients{
		Build:    &CloudBuild{svc: buildSvc},
		Run:      &CloudRun{svc: runSvc},
		Identity: &Identity{iam: iamSvc, crm: crmSvc},
		SQL:      &CloudSQL{svc: sqlSvc},
		Storage:  &CloudStorage{client: storageClient},
		DNS:      &CloudDNS{svc: dnsSvc},
		Gateway:  &APIGateway{svc: gwSvc},
		PubSub:   &PubSub{svc: pubsubSvc},
	}, nil
}
