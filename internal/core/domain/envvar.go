package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// =============================================================================
// Environment Variables
// =============================================================================

// EnvVarSource tags where an environment variable came from.
type EnvVarSource string

const (
	// SourceUser marks variables supplied by the application owner.
	SourceUser EnvVarSource = "user"

	// SourceShared marks variables inherited from a shared scope
	// (environment or build pack).
	SourceShared EnvVarSource = "shared"

	// SourceSystem marks variables synthesized by the control plane
	// (connection strings, computed endpoints, identities).
	SourceSystem EnvVarSource = "system"
)

// EnvVar is a single environment variable attached to an application.
type EnvVar struct {
	Key    string       `json:"key"`
	Value  string       `json:"value"`
	Secret bool         `json:"secret"`
	Source EnvVarSource `json:"source"`
}

// IsImplicit reports whether the variable was synthesized by the system.
// Implicit variables are always recomputed and never accepted verbatim
// from a previously saved application.
func (v EnvVar) IsImplicit() bool {
	return v.Source != "" && v.Source != SourceUser
}

// KV renders the variable as KEY=value.
func (v EnvVar) KV() string {
	return fmt.Sprintf("%s=%s", v.Key, v.Value)
}

// Quoted renders the variable as KEY="value".
func (v EnvVar) Quoted() string {
	return fmt.Sprintf("%s=%q", v.Key, v.Value)
}

// =============================================================================
// Labels
// =============================================================================

// Label is a key/value pair attached to the deployed service.
type Label struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// KV renders the label as KEY=value.
func (l Label) KV() string {
	return fmt.Sprintf("%s=%s", l.Key, l.Value)
}

// =============================================================================
// Secret Generation
// =============================================================================

const secretAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomSecret generates a random alphanumeric secret of the given length
// using crypto/rand.
func RandomSecret(length int) string {
	out := make([]byte, length)
	max := big.NewInt(int64(len(secretAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the platform source is broken;
			// there is no reasonable fallback for secret material.
			panic(fmt.Sprintf("secret generation failed: %v", err))
		}
		out[i] = secretAlphabet[n.Int64()]
	}
	return string(out)
}
