// Package alias resolves configuration values that reference other values.
//
// A value is either literal ("8080") or virtual ("${PORT}"). Engines share a
// replacement pool of known literals, so one engine's virtual entries may
// reference another engine's literals. Resolution is a single substitution
// pass: a virtual value must reference a literal, never another virtual
// value. This is part of the Functional Core - no I/O.
package alias

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// ErrReferenceNotFound is returned when a virtual value references a key
// absent from the replacement pool.
var ErrReferenceNotFound = errors.New("reference not found")

var referencePattern = regexp.MustCompile(`\$\{(\w+)\}`)

// IsVirtual reports whether the value references other keys, either as a
// whole ("${PORT}") or embedded ("${HOST}:${PORT}").
func IsVirtual(value string) bool {
	return referencePattern.MatchString(value)
}

// ReferencedKeys extracts every key the value points at, in order of
// appearance. Returns nil for literal values.
func ReferencedKeys(value string) []string {
	matches := referencePattern.FindAllStringSubmatch(value, -1)
	if matches == nil {
		return nil
	}
	keys := make([]string, len(matches))
	for i, m := range matches {
		keys[i] = m[1]
	}
	return keys
}

// Reference renders a key as a virtual value.
func Reference(key string) string {
	return fmt.Sprintf("${%s}", key)
}

// =============================================================================
// Replacement Pool
// =============================================================================

// Pool is the shared set of known literal replacements. Every literal entry
// appended to any engine sharing the pool lands here and becomes referencable
// by every other engine on the same pool.
type Pool struct {
	values map[string]string
}

// NewPool creates an empty replacement pool.
func NewPool() *Pool {
	return &Pool{values: map[string]string{}}
}

// Set records a literal replacement.
func (p *Pool) Set(key, value string) {
	p.values[key] = value
}

// Get looks up a literal replacement.
func (p *Pool) Get(key string) (string, bool) {
	v, ok := p.values[key]
	return v, ok
}

// =============================================================================
// Engine
// =============================================================================

// Pair is one resolved key/value.
type Pair struct {
	Key   string
	Value string
}

type entry struct {
	key   string
	value string
}

// Engine accumulates key/value entries and resolves them against a shared
// replacement pool.
type Engine struct {
	pool    *Pool
	logger  *slog.Logger
	entries []entry
	index   map[string]int
}

// NewEngine creates an engine over the given pool.
func NewEngine(pool *Pool, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		pool:   pool,
		logger: logger.With("component", "alias"),
		index:  map[string]int{},
	}
}

// Append records an entry. Literal values additionally seed the shared pool.
// Appending the same key twice is a misconfiguration, not an error: the
// second value overwrites the first and a warning is logged.
func (e *Engine) Append(key, value string) {
	if i, ok := e.index[key]; ok {
		if e.entries[i].value != value {
			e.logger.Warn("duplicate key overwrites earlier value",
				"key", key, "old", e.entries[i].value, "new", value)
		}
		e.entries[i].value = value
	} else {
		e.index[key] = len(e.entries)
		e.entries = append(e.entries, entry{key: key, value: value})
	}
	if !IsVirtual(value) {
		e.pool.Set(key, value)
	}
}

// AppendAll records every pair in order.
func (e *Engine) AppendAll(pairs []Pair) {
	for _, p := range pairs {
		e.Append(p.Key, p.Value)
	}
}

// Len returns the number of distinct keys appended.
func (e *Engine) Len() int {
	return len(e.entries)
}

// Resolve returns every entry fully literal, literal entries first in input
// order, then virtual entries resolved in input order. The grouping is a
// contract: downstream documents render literals before the substitution
// text that depends on them. A virtual entry whose referenced key is missing
// from the pool aborts resolution.
func (e *Engine) Resolve() ([]Pair, error) {
	out := make([]Pair, 0, len(e.entries))
	var virtuals []entry
	for _, ent := range e.entries {
		if IsVirtual(ent.value) {
			virtuals = append(virtuals, ent)
			continue
		}
		out = append(out, Pair{Key: ent.key, Value: ent.value})
	}
	for _, ent := range virtuals {
		value := ent.value
		for _, ref := range ReferencedKeys(ent.value) {
			replacement, ok := e.pool.Get(ref)
			if !ok {
				return nil, fmt.Errorf("%w: %q (referenced by %q)", ErrReferenceNotFound, ref, ent.key)
			}
			value = strings.ReplaceAll(value, Reference(ref), replacement)
		}
		out = append(out, Pair{Key: ent.key, Value: value})
	}
	return out, nil
}
