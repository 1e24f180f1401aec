package gcp

import (
	"context"
	"fmt"

	cloudresourcemanager "google.golang.org/api/cloudresourcemanager/v1"
	iam "google.golang.org/api/iam/v1"
)

// IdentityService manages service accounts and role grants.
type IdentityService interface {
	// CreateServiceAccount creates an account. Conflicts surface as
	// ErrAlreadyExists.
	CreateServiceAccount(ctx context.Context, projectID, name, displayName string) error

	// AddMember grants a role on a project to a service account. The grant
	// is a read-modify-write on the project policy and is idempotent.
	AddMember(ctx context.Context, projectID, email, role string) error

	// BindMember grants a role on a target service account to a member
	// account (e.g. lets the build identity act as the compute identity).
	BindMember(ctx context.Context, projectID, targetEmail, memberEmail, role string) error
}

// Identity drives the IAM and Resource Manager APIs.
type Identity struct {
	iam *iam.Service
	crm *cloudresourcemanager.Service
}

var _ IdentityService = (*Identity)(nil)

func (c *Identity) CreateServiceAccount(ctx context.Context, projectID, name, displayName string) error {
	req := &iam.CreateServiceAccountRequest{
		AccountId: name,
		ServiceAccount: &iam.ServiceAccount{
			DisplayName: displayName,
		},
	}
	parent := fmt.Sprintf("projects/%s", projectID)
	if _, err := c.iam.Projects.ServiceAccounts.Create(parent, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("create service account %q: %w", name, translate(err))
	}
	return nil
}

func (c *Identity) AddMember(ctx context.Context, projectID, email, role string) error {
	policy, err := c.crm.Projects.GetIamPolicy(projectID, &cloudresourcemanager.GetIamPolicyRequest{}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get project policy: %w", translate(err))
	}

	member := "serviceAccount:" + email
	fullRole := qualifyRole(role)
	if !addBinding(policy, fullRole, member) {
		return nil
	}

	req := &cloudresourcemanager.SetIamPolicyRequest{Policy: policy}
	if _, err := c.crm.Projects.SetIamPolicy(projectID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("grant %s to %s: %w", fullRole, email, translate(err))
	}
	return nil
}

func (c *Identity) BindMember(ctx context.Context, projectID, targetEmail, memberEmail, role string) error {
	resource := fmt.Sprintf("projects/%s/serviceAccounts/%s", projectID, targetEmail)
	policy, err := c.iam.Projects.ServiceAccounts.GetIamPolicy(resource).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get account policy for %s: %w", targetEmail, translate(err))
	}

	member := "serviceAccount:" + memberEmail
	fullRole := qualifyRole(role)

	var binding *iam.Binding
	for _, b := range policy.Bindings {
		if b.Role == fullRole {
			binding = b
			break
		}
	}
	switch {
	case binding == nil:
		policy.Bindings = append(policy.Bindings, &iam.Binding{Role: fullRole, Members: []string{member}})
	case contains(binding.Members, member):
		return nil
	default:
		binding.Members = append(binding.Members, member)
	}
	req := &iam.SetIamPolicyRequest{Policy: policy}
	if _, err := c.iam.Projects.ServiceAccounts.SetIamPolicy(resource, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("bind %s on %s: %w", memberEmail, targetEmail, translate(err))
	}
	return nil
}

// qualifyRole accepts both short ("run.invoker") and full ("roles/run.invoker")
// role names.
func qualifyRole(role string) string {
	if len(role) > 6 && role[:6] == "roles/" {
		return role
	}
	return "roles/" + role
}

// addBinding adds the member to the role's binding, reporting whether the
// policy changed.
func addBinding(policy *cloudresourcemanager.Policy, role, member string) bool {
	for _, b := range policy.Bindings {
		if b.Role != role {
			continue
		}
		if contains(b.Members, member) {
			return false
		}
		b.Members = append(b.Members, member)
		return true
	}
	policy.Bindings = append(policy.Bindings, &cloudresourcemanager.Binding{
		Role:    role,
		Members: []string{member},
	})
	return true
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
