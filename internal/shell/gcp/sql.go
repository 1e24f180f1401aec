package gcp

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	sqladmin "google.golang.org/api/sqladmin/v1beta4"
)

// InstanceSpec describes a managed SQL instance to create.
type InstanceSpec struct {
	ProjectID        string
	Name             string
	Version          string
	Tier             string
	Region           string
	HighAvailability bool
}

// SQLService provisions managed SQL instances, databases and users.
type SQLService interface {
	// CreateInstance creates the instance. With waitReady, it blocks until
	// the instance is runnable, since database and user creation depend on
	// it. Conflicts surface as ErrAlreadyExists.
	CreateInstance(ctx context.Context, spec InstanceSpec, waitReady bool) error

	// CreateDatabase creates a database inside a running instance.
	CreateDatabase(ctx context.Context, projectID, instance, name string) error

	// CreateUser creates a credentialed user on a running instance.
	CreateUser(ctx context.Context, projectID, instance, name, password string) error
}

// CloudSQL drives the SQL Admin API.
type CloudSQL struct {
	svc *sqladmin.Service
}

var _ SQLService = (*CloudSQL)(nil)

// instanceReadyBackoff bounds the readiness poll: instance provisioning
// routinely takes several minutes.
func instanceReadyBackoff() retry.Backoff {
	b := retry.NewConstant(10 * time.Second)
	return retry.WithMaxDuration(15*time.Minute, b)
}

func (c *CloudSQL) CreateInstance(ctx context.Context, spec InstanceSpec, waitReady bool) error {
	availability := "ZONAL"
	if spec.HighAvailability {
		availability = "REGIONAL"
	}
	instance := &sqladmin.DatabaseInstance{
		Name:            spec.Name,
		DatabaseVersion: spec.Version,
		Region:          spec.Region,
		Settings: &sqladmin.Settings{
			Tier:             spec.Tier,
			AvailabilityType: availability,
		},
	}

	_, err := c.svc.Instances.Insert(spec.ProjectID, instance).Context(ctx).Do()
	if err != nil {
		err = translate(err)
		if !IsAlreadyExists(err) {
			return fmt.Errorf("create instance %q: %w", spec.Name, err)
		}
	}

	if !waitReady {
		return nil
	}
	return retry.Do(ctx, instanceReadyBackoff(), func(ctx context.Context) error {
		got, err := c.svc.Instances.Get(spec.ProjectID, spec.Name).Context(ctx).Do()
		if err != nil {
			return retry.RetryableError(translate(err))
		}
		if got.State != "RUNNABLE" {
			return retry.RetryableError(fmt.Errorf("instance %q is %s", spec.Name, got.State))
		}
		return nil
	})
}

func (c *CloudSQL) CreateDatabase(ctx context.Context, projectID, instance, name string) error {
	db := &sqladmin.Database{Name: name}
	if _, err := c.svc.Databases.Insert(projectID, instance, db).Context(ctx).Do(); err != nil {
		return fmt.Errorf("create database %q: %w", name, translate(err))
	}
	return nil
}

func (c *CloudSQL) CreateUser(ctx context.Context, projectID, instance, name, password string) error {
	user := &sqladmin.User{Name: name, Password: password}
	if _, err := c.svc.Users.Insert(projectID, instance, user).Context(ctx).Do(); err != nil {
		return fmt.Errorf("create user %q: %w", name, translate(err))
	}
	return nil
}
