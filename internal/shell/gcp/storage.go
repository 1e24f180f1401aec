package gcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// StorageService provisions object-storage buckets.
type StorageService interface {
	// CreateBucket creates a regional bucket. Conflicts surface as
	// ErrAlreadyExists.
	CreateBucket(ctx context.Context, projectID, name, region string) error
}

// CloudStorage drives the object storage API.
type CloudStorage struct {
	client *storage.Client
}

var _ StorageService = (*CloudStorage)(nil)

func (c *CloudStorage) CreateBucket(ctx context.Context, projectID, name, region string) error {
	attrs := &storage.BucketAttrs{Location: region}
	err := c.client.Bucket(name).Create(ctx, projectID, attrs)
	if err == nil {
		return nil
	}

	// The storage client does not always wrap conflicts as googleapi errors.
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict {
		return errors.Join(ErrAlreadyExists, err)
	}
	return fmt.Errorf("create bucket %q: %w", name, err)
}
