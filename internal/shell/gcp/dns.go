package gcp

import (
	"context"
	"fmt"

	dns "google.golang.org/api/dns/v1"
)

// RecordSpec is one DNS record to add to a managed zone.
type RecordSpec struct {
	ProjectID string
	ZoneName  string
	Name      string // fully qualified, trailing dot
	Type      string // "A" or "CNAME"
	Data      []string
	TTL       int64
}

// DNSService manages records in a managed zone.
type DNSService interface {
	// AddRecord adds a record set. A conflicting pre-existing record
	// surfaces as ErrAlreadyExists, which callers treat as satisfied.
	AddRecord(ctx context.Context, spec RecordSpec) error
}

// CloudDNS drives the managed zone API.
type CloudDNS struct {
	svc *dns.Service
}

var _ DNSService = (*CloudDNS)(nil)

func (c *CloudDNS) AddRecord(ctx context.Context, spec RecordSpec) error {
	ttl := spec.TTL
	if ttl == 0 {
		ttl = 300
	}
	change := &dns.Change{
		Additions: []*dns.ResourceRecordSet{
			{
				Name:    spec.Name,
				Type:    spec.Type,
				Ttl:     ttl,
				Rrdatas: spec.Data,
			},
		},
	}
	if _, err := c.svc.Changes.Create(spec.ProjectID, spec.ZoneName, change).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add record %q: %w", spec.Name, translate(err))
	}
	return nil
}
