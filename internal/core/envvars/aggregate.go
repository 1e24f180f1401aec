// Package envvars computes the final environment variable and label sets an
// application is deployed with. This is part of the Functional Core - no I/O.
package envvars

import (
	"strings"

	"github.com/samber/lo"

	"github.com/artpar/heron/internal/core/domain"
)

// Siblings maps an integrated application's name to its live endpoint.
// Endpoints are looked up by the caller; an application whose endpoint is not
// known yet contributes nothing.
type Siblings map[string]string

// Aggregate produces the full variable set for an application, in authority
// order: system-synthesized values first, then environment-scoped shared
// values, then build-pack-scoped shared values, then the user's own. The
// combined list is deduplicated by key in one walk, first occurrence wins -
// a key defined once is final, regardless of which side defined it.
//
// Aggregate is idempotent: it synthesizes from current state only and never
// feeds its own output back in.
func Aggregate(app *domain.Application, pack *domain.BuildPack, siblings Siblings) []domain.EnvVar {
	env := app.Environment()

	combined := System(app, siblings)
	combined = append(combined, env.SharedVars()...)
	combined = append(combined, pack.SharedVars()...)
	combined = append(combined, app.Vars...)

	return lo.UniqBy(combined, func(v domain.EnvVar) string { return v.Key })
}

// System synthesizes the implicit variables every application carries:
// identity, location, bound-resource credentials and the endpoints of
// integrated sibling applications.
func System(app *domain.Application, siblings Siblings) []domain.EnvVar {
	vars := []domain.EnvVar{
		{Key: "APP_NAME", Value: app.Identifier, Source: domain.SourceSystem},
		{Key: "GCP_PROJECT", Value: app.ProjectID(), Source: domain.SourceSystem},
		{Key: "GCP_LOCATION", Value: app.Region, Source: domain.SourceSystem},
	}
	if app.ServiceAccount != nil {
		vars = append(vars, domain.EnvVar{
			Key: "GCP_SERVICE_ACCOUNT", Value: app.ServiceAccount.Email(), Source: domain.SourceSystem,
		})
	}
	if app.Endpoint != "" {
		vars = append(vars, domain.EnvVar{
			Key: "APP_ENDPOINT", Value: app.Endpoint, Source: domain.SourceSystem,
		})
	}

	for _, contributor := range contributors(app) {
		vars = append(vars, contributor.AsEnv()...)
	}

	for _, name := range app.IntegratesWith {
		endpoint, ok := siblings[name]
		if !ok || endpoint == "" {
			continue
		}
		vars = append(vars, domain.EnvVar{
			Key: SiblingKey(name), Value: endpoint, Source: domain.SourceSystem,
		})
	}
	return vars
}

func contributors(app *domain.Application) []domain.EnvContributor {
	var out []domain.EnvContributor
	if app.Database != nil {
		out = append(out, app.Database)
	}
	if app.Bucket != nil {
		out = append(out, app.Bucket)
	}
	if app.Gateway != nil {
		out = append(out, app.Gateway)
	}
	return out
}

// SiblingKey derives the variable key carrying an integrated application's
// endpoint, e.g. "user-service" -> "USER_SERVICE_ENDPOINT".
func SiblingKey(name string) string {
	slug := domain.Slugify(name)
	return strings.ToUpper(strings.ReplaceAll(slug, "-", "_")) + "_ENDPOINT"
}

// Labels produces the labels attached to the deployed service: the build
// configuration's own labels plus a synthesized service label. Collisions
// are last-write-wins.
func Labels(app *domain.Application) []domain.Label {
	combined := append(app.BuildSetup.AllLabels(), domain.Label{Key: "service", Value: app.Identifier})

	index := map[string]int{}
	out := combined[:0]
	for _, l := range combined {
		if i, ok := index[l.Key]; ok {
			out[i] = l
			continue
		}
		index[l.Key] = len(out)
		out = append(out, l)
	}
	return out
}
