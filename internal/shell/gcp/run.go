package gcp

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/api/option"
	run "google.golang.org/api/run/v1"
)

// placeholderImage is the image a service is created with before the first
// real deploy, so an endpoint exists immediately.
const placeholderImage = "gcr.io/cloudrun/hello"

// ServiceRef identifies one managed service.
type ServiceRef struct {
	Name      string
	ProjectID string
	Region    string
}

// DomainRecord is one DNS record a domain mapping asks for.
type DomainRecord struct {
	Name string
	Type string
	Data string
}

// MappingCondition is one status condition of a domain mapping.
type MappingCondition struct {
	Type    string
	Status  string
	Message string
}

// DomainMapping is the observed state of a domain mapping.
type DomainMapping struct {
	Conditions []MappingCondition
	Records    []DomainRecord
}

// RunService drives the managed compute platform.
type RunService interface {
	// CreateService creates a placeholder service running a stock image.
	// Conflicts surface as ErrAlreadyExists.
	CreateService(ctx context.Context, ref ServiceRef, serviceAccount string) error

	// GetServiceURL returns the service's live URL, or "" while the platform
	// has not assigned one yet. A missing service is ErrNotFound.
	GetServiceURL(ctx context.Context, ref ServiceRef) (string, error)

	// CreateDomainMapping asks the platform to serve the service on a
	// domain. Conflicts surface as ErrAlreadyExists.
	CreateDomainMapping(ctx context.Context, ref ServiceRef, domain string) (*DomainMapping, error)

	// GetDomainMapping fetches the current mapping state.
	GetDomainMapping(ctx context.Context, ref ServiceRef, domain string) (*DomainMapping, error)
}

// CloudRun drives the Cloud Run Admin API. The namespaces surface is
// regional, so service handles are built per region and cached.
type CloudRun struct {
	svc *run.APIService

	mu       sync.Mutex
	regional map[string]*run.APIService
}

var _ RunService = (*CloudRun)(nil)

func (c *CloudRun) forRegion(ctx context.Context, region string) (*run.APIService, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.regional == nil {
		c.regional = map[string]*run.APIService{}
	}
	if svc, ok := c.regional[region]; ok {
		return svc, nil
	}
	svc, err := run.NewService(ctx, option.WithEndpoint(fmt.Sprintf("https://%s-run.googleapis.com/", region)))
	if err != nil {
		return nil, fmt.Errorf("run service for %s: %w", region, err)
	}
	c.regional[region] = svc
	return svc, nil
}

func (c *CloudRun) CreateService(ctx context.Context, ref ServiceRef, serviceAccount string) error {
	svc, err := c.forRegion(ctx, ref.Region)
	if err != nil {
		return err
	}

	service := &run.Service{
		ApiVersion: "serving.knative.dev/v1",
		Kind:       "Service",
		Metadata: &run.ObjectMeta{
			Name:      ref.Name,
			Namespace: ref.ProjectID,
		},
		Spec: &run.ServiceSpec{
			Template: &run.RevisionTemplate{
				Spec: &run.RevisionSpec{
					ServiceAccountName: serviceAccount,
					Containers: []*run.Container{
						{Image: placeholderImage},
					},
				},
			},
		},
	}

	parent := fmt.Sprintf("namespaces/%s", ref.ProjectID)
	if _, err := svc.Namespaces.Services.Create(parent, service).Context(ctx).Do(); err != nil {
		return fmt.Errorf("create service %q: %w", ref.Name, translate(err))
	}
	return nil
}

func (c *CloudRun) GetServiceURL(ctx context.Context, ref ServiceRef) (string, error) {
	svc, err := c.forRegion(ctx, ref.Region)
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("namespaces/%s/services/%s", ref.ProjectID, ref.Name)
	service, err := svc.Namespaces.Services.Get(name).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("get service %q: %w", ref.Name, translate(err))
	}
	if service.Status == nil {
		return "", nil
	}
	return service.Status.Url, nil
}

func (c *CloudRun) CreateDomainMapping(ctx context.Context, ref ServiceRef, domain string) (*DomainMapping, error) {
	svc, err := c.forRegion(ctx, ref.Region)
	if err != nil {
		return nil, err
	}

	mapping := &run.DomainMapping{
		ApiVersion: "domains.cloudrun.com/v1",
		Kind:       "DomainMapping",
		Metadata: &run.ObjectMeta{
			Name:      domain,
			Namespace: ref.ProjectID,
		},
		Spec: &run.DomainMappingSpec{
			RouteName: ref.Name,
		},
	}

	parent := fmt.Sprintf("namespaces/%s", ref.ProjectID)
	created, err := svc.Namespaces.Domainmappings.Create(parent, mapping).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("create domain mapping %q: %w", domain, translate(err))
	}
	return fromRunMapping(created), nil
}

func (c *CloudRun) GetDomainMapping(ctx context.Context, ref ServiceRef, domain string) (*DomainMapping, error) {
	svc, err := c.forRegion(ctx, ref.Region)
	if err != nil {
		return nil, err
	}

	name := fmt.Sprintf("namespaces/%s/domainmappings/%s", ref.ProjectID, domain)
	mapping, err := svc.Namespaces.Domainmappings.Get(name).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get domain mapping %q: %w", domain, translate(err))
	}
	return fromRunMapping(mapping), nil
}

func fromRunMapping(m *run.DomainMapping) *DomainMapping {
	out := &DomainMapping{}
	if m.Status == nil {
		return out
	}
	for _, c := range m.Status.Conditions {
		out.Conditions = append(out.Conditions, MappingCondition{
			Type:    c.Type,
			Status:  c.Status,
			Message: c.Message,
		})
	}
	for _, r := range m.Status.ResourceRecords {
		out.Records = append(out.Records, DomainRecord{
			Name: r.Name,
			Type: r.Type,
			Data: r.Rrdata,
		})
	}
	return out
}
