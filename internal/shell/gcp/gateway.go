package gcp

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	apigateway "google.golang.org/api/apigateway/v1"
)

// GatewayService provisions the API gateway front-end: the API object, a
// versioned configuration and the gateway instance. Every operation is
// idempotent - a conflict falls back to fetching the existing resource.
type GatewayService interface {
	// EnsureAPI creates or fetches the API object and returns its managed
	// service identifier.
	EnsureAPI(ctx context.Context, projectID, apiName string, labels map[string]string) (string, error)

	// EnsureConfig creates or keeps a named configuration carrying the
	// given OpenAPI document.
	EnsureConfig(ctx context.Context, projectID, apiName, configName, serviceAccount string, spec []byte, labels map[string]string) error

	// EnsureGateway creates or fetches the gateway instance and returns
	// its public hostname.
	EnsureGateway(ctx context.Context, projectID, region, apiName, configName, gatewayID string, labels map[string]string) (string, error)
}

// APIGateway drives the API Gateway API.
type APIGateway struct {
	svc *apigateway.Service
}

var _ GatewayService = (*APIGateway)(nil)

// gatewayBackoff bounds the wait for the long-running creation operations.
func gatewayBackoff() retry.Backoff {
	b := retry.NewConstant(5 * time.Second)
	return retry.WithMaxDuration(10*time.Minute, b)
}

func (c *APIGateway) EnsureAPI(ctx context.Context, projectID, apiName string, labels map[string]string) (string, error) {
	parent := fmt.Sprintf("projects/%s/locations/global", projectID)
	name := fmt.Sprintf("%s/apis/%s", parent, apiName)

	api := &apigateway.ApigatewayApi{Labels: labels}
	_, err := c.svc.Projects.Locations.Apis.Create(parent, api).ApiId(apiName).Context(ctx).Do()
	if err != nil && !IsAlreadyExists(translate(err)) {
		return "", fmt.Errorf("create api %q: %w", apiName, translate(err))
	}

	var managedService string
	err = retry.Do(ctx, gatewayBackoff(), func(ctx context.Context) error {
		got, err := c.svc.Projects.Locations.Apis.Get(name).Context(ctx).Do()
		if err != nil {
			return retry.RetryableError(translate(err))
		}
		if got.State != "ACTIVE" {
			return retry.RetryableError(fmt.Errorf("api %q is %s", apiName, got.State))
		}
		managedService = got.ManagedService
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("wait for api %q: %w", apiName, err)
	}
	return managedService, nil
}

func (c *APIGateway) EnsureConfig(ctx context.Context, projectID, apiName, configName, serviceAccount string, spec []byte, labels map[string]string) error {
	parent := fmt.Sprintf("projects/%s/locations/global/apis/%s", projectID, apiName)

	config := &apigateway.ApigatewayApiConfig{
		GatewayServiceAccount: serviceAccount,
		Labels:                labels,
		OpenapiDocuments: []*apigateway.ApigatewayApiConfigOpenApiDocument{
			{
				Document: &apigateway.ApigatewayApiConfigFile{
					Path:     "openapi.yaml",
					Contents: base64.StdEncoding.EncodeToString(spec),
				},
			},
		},
	}
	_, err := c.svc.Projects.Locations.Apis.Configs.Create(parent, config).ApiConfigId(configName).Context(ctx).Do()
	if err != nil && !IsAlreadyExists(translate(err)) {
		return fmt.Errorf("create api config %q: %w", configName, translate(err))
	}
	return nil
}

func (c *APIGateway) EnsureGateway(ctx context.Context, projectID, region, apiName, configName, gatewayID string, labels map[string]string) (string, error) {
	parent := fmt.Sprintf("projects/%s/locations/%s", projectID, region)
	name := fmt.Sprintf("%s/gateways/%s", parent, gatewayID)
	apiConfig := fmt.Sprintf("projects/%s/locations/global/apis/%s/configs/%s", projectID, apiName, configName)

	gw := &apigateway.ApigatewayGateway{
		ApiConfig: apiConfig,
		Labels:    labels,
	}
	_, err := c.svc.Projects.Locations.Gateways.Create(parent, gw).GatewayId(gatewayID).Context(ctx).Do()
	if err != nil && !IsAlreadyExists(translate(err)) {
		return "", fmt.Errorf("create gateway %q: %w", gatewayID, translate(err))
	}

	var hostname string
	err = retry.Do(ctx, gatewayBackoff(), func(ctx context.Context) error {
		got, err := c.svc.Projects.Locations.Gateways.Get(name).Context(ctx).Do()
		if err != nil {
			return retry.RetryableError(translate(err))
		}
		if got.State != "ACTIVE" || got.DefaultHostname == "" {
			return retry.RetryableError(fmt.Errorf("gateway %q is %s", gatewayID, got.State))
		}
		hostname = got.DefaultHostname
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("wait for gateway %q: %w", gatewayID, err)
	}
	return hostname, nil
}
