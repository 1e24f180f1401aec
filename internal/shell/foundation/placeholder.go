package foundation

import (
	"gopkg.in/yaml.v3"

	"github.com/artpar/heron/internal/core/domain"
)

// placeholderSpec renders the minimal OpenAPI document the gateway's first
// configuration carries: a single health path proxied to the placeholder
// service. Real configurations are produced by the pipeline on deploy.
func placeholderSpec(app *domain.Application) ([]byte, error) {
	doc := map[string]any{
		"swagger": "2.0",
		"info": map[string]any{
			"title":   app.Identifier,
			"version": "placeholder",
		},
		"schemes": []string{"https"},
		"x-google-backend": map[string]any{
			"address": app.Endpoint,
		},
		"paths": map[string]any{
			"/": map[string]any{
				"get": map[string]any{
					"operationId": "placeholder",
					"responses": map[string]any{
						"200": map[string]any{
							"description": "placeholder response",
						},
					},
				},
			},
		},
	}
	return yaml.Marshal(doc)
}
