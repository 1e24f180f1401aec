package domain

// =============================================================================
// Build Target
// =============================================================================

// Target is the platform a build pack deploys to.
type Target string

const (
	// TargetCloudRun deploys a container to the managed compute service.
	TargetCloudRun Target = "cloudrun"

	// TargetCloudFunctions deploys source to the event-triggered function
	// platform.
	TargetCloudFunctions Target = "cloud-functions"
)

// IsValid reports whether the target is one of the supported platforms.
func (t Target) IsValid() bool {
	return t == TargetCloudRun || t == TargetCloudFunctions
}

// =============================================================================
// Build Pack
// =============================================================================

// KeyValue is an ordered key/value pair. Build arguments keep their input
// order because the resolution engine emits pairs in declaration order.
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// BuildPack is a reusable build recipe shared by many applications: a
// runtime, a target platform, default build arguments and variables, and
// optionally a remote build-context archive with a pre-baked Dockerfile.
type BuildPack struct {
	Name           string     `json:"name"`
	RuntimeVersion string     `json:"runtime_version"`
	Target         Target     `json:"target"`
	BuildArgs      []KeyValue `json:"build_args"`
	// PostBuildCommands run inside the built image after the push step.
	PostBuildCommands []string `json:"post_build_commands"`
	Vars              []EnvVar `json:"vars"`
	// DockerfileURL points at a remote build-context archive; empty means
	// the repository ships its own Dockerfile.
	DockerfileURL string `json:"dockerfile_url"`
}

// Normalize slugs the name.
func (b *BuildPack) Normalize() {
	b.Name = Slugify(b.Name)
}

// Tags returns the pipeline tags contributed by the build pack.
func (b *BuildPack) Tags() []string {
	if b.Target == TargetCloudRun {
		return []string{
			"gcp-cloud-build-deploy-cloud-run",
			"gcp-cloud-build-deploy-cloud-run-managed",
		}
	}
	return nil
}

// SharedVars returns the pack-scoped variables tagged with shared provenance.
func (b *BuildPack) SharedVars() []EnvVar {
	out := make([]EnvVar, 0, len(b.Vars))
	for _, v := range b.Vars {
		v.Source = SourceShared
		out = append(out, v)
	}
	return out
}

// AllBuildArgs merges the conventional arguments with the pack's own,
// preserving declaration order.
func (b *BuildPack) AllBuildArgs(app *Application) []KeyValue {
	all := []KeyValue{
		{Key: "RUNTIME_VERSION", Value: b.RuntimeVersion},
		{Key: "APP_PATH", Value: app.Path()},
		{Key: "ENVIRONMENT", Value: app.EnvironmentName},
	}
	return append(all, b.BuildArgs...)
}

// ExtraBuildSteps returns the custom commands to run after the image is
// pushed: the pack's own first, then the application's.
func (b *BuildPack) ExtraBuildSteps(app *Application) []string {
	steps := append([]string{}, b.PostBuildCommands...)
	return append(steps, app.BuildSetup.PostBuildCommands...)
}
