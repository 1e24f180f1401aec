// Package pipeline compiles an application and its build pack into a remote
// build pipeline: an ordered list of steps bound to a source trigger.
package pipeline

import (
	"fmt"
	"sort"
)

// Variable is a reference to one pipeline substitution. Steps embed the
// reference, not the value, so the remote build system injects the value at
// execution time.
type Variable struct {
	key string
}

// Ref renders the substitution reference, e.g. "${_IMAGE_NAME}".
func (v Variable) Ref() string {
	return fmt.Sprintf("${_%s}", v.key)
}

// AsEnvVar renders a KEY=reference pair under the given name, for
// --set-env-vars style flags.
func (v Variable) AsEnvVar(name string) string {
	return fmt.Sprintf("%s=%s", name, v.Ref())
}

// AsBuildArg renders the pair under the variable's own key, for --build-arg
// style flags.
func (v Variable) AsBuildArg() string {
	return v.AsEnvVar(v.key)
}

// Substitutions collects the named values a pipeline is parameterized with.
// The build system requires user substitution keys to carry a leading
// underscore; that prefix is applied here, once, so the rest of the factory
// deals in bare keys.
type Substitutions struct {
	values map[string]string
}

// NewSubstitutions creates an empty set.
func NewSubstitutions() *Substitutions {
	return &Substitutions{values: map[string]string{}}
}

// Add records a value under a bare key.
func (s *Substitutions) Add(key string, value any) {
	s.values[key] = fmt.Sprintf("%v", value)
}

// Has reports whether the bare key is present.
func (s *Substitutions) Has(key string) bool {
	_, ok := s.values[key]
	return ok
}

// Get returns a reference to the key. The key must have been added; steps
// referencing unknown substitutions fail remotely, not locally.
func (s *Substitutions) Get(key string) Variable {
	return Variable{key: key}
}

// Map renders the substitution map the way the remote trigger expects it,
// with prefixed keys.
func (s *Substitutions) Map() map[string]string {
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out["_"+k] = v
	}
	return out
}

// Keys returns the bare keys in sorted order.
func (s *Substitutions) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
