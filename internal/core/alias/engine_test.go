package alias

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsVirtual(t *testing.T) {
	assert.True(t, IsVirtual("${PORT}"))
	assert.True(t, IsVirtual("prefix ${PORT}"))
	assert.True(t, IsVirtual("${HOST}:${PORT}"))
	assert.False(t, IsVirtual("8080"))
	assert.False(t, IsVirtual("${has space}"))
	assert.Equal(t, []string{"PORT"}, ReferencedKeys("${PORT}"))
	assert.Equal(t, []string{"HOST", "PORT"}, ReferencedKeys("${HOST}:${PORT}"))
	assert.Nil(t, ReferencedKeys("8080"))
	assert.Equal(t, "${PORT}", Reference("PORT"))
}

func TestEngineResolve_LiteralsFirst(t *testing.T) {
	pool := NewPool()
	e := NewEngine(pool, nil)
	e.Append("URL", "${HOST}")
	e.Append("HOST", "example.com")
	e.Append("PORT", "8080")
	e.Append("ENDPOINT", "${PORT}")

	pairs, err := e.Resolve()
	require.NoError(t, err)
	assert.Equal(t, []Pair{
		{Key: "HOST", Value: "example.com"},
		{Key: "PORT", Value: "8080"},
		{Key: "URL", Value: "example.com"},
		{Key: "ENDPOINT", Value: "8080"},
	}, pairs)
}

func TestEngineResolve_ReferenceNotFound(t *testing.T) {
	e := NewEngine(NewPool(), nil)
	e.Append("URL", "${MISSING}")

	_, err := e.Resolve()
	require.ErrorIs(t, err, ErrReferenceNotFound)
	assert.Contains(t, err.Error(), "MISSING")
}

func TestEngineResolve_SharedPool(t *testing.T) {
	pool := NewPool()

	vars := NewEngine(pool, nil)
	vars.Append("DATABASE_URL", "postgres://localhost/app")

	args := NewEngine(pool, nil)
	args.Append("BUILD_DB", "${DATABASE_URL}")

	pairs, err := args.Resolve()
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, "postgres://localhost/app", pairs[0].Value)
}

func TestEngineResolve_NotRecursive(t *testing.T) {
	pool := NewPool()
	e := NewEngine(pool, nil)
	e.Append("A", "${B}")
	e.Append("B", "${C}")
	e.Append("C", "literal")

	// B is virtual so it never lands in the pool; A cannot resolve through it.
	_, err := e.Resolve()
	require.ErrorIs(t, err, ErrReferenceNotFound)
	assert.Contains(t, err.Error(), `"B"`)
}

func TestEngineResolve_EmbeddedReferences(t *testing.T) {
	pool := NewPool()
	e := NewEngine(pool, nil)
	e.Append("DB_HOST", "10.0.0.5")
	e.Append("DB_PORT", "5432")
	e.Append("DB_ADDR", "${DB_HOST}:${DB_PORT}")
	e.Append("DB_URL", "postgres://${DB_HOST}:${DB_PORT}/app")

	pairs, err := e.Resolve()
	require.NoError(t, err)
	assert.Equal(t, []Pair{
		{Key: "DB_HOST", Value: "10.0.0.5"},
		{Key: "DB_PORT", Value: "5432"},
		{Key: "DB_ADDR", Value: "10.0.0.5:5432"},
		{Key: "DB_URL", Value: "postgres://10.0.0.5:5432/app"},
	}, pairs)
}

func TestEngineResolve_EmbeddedReferenceNotFound(t *testing.T) {
	e := NewEngine(NewPool(), nil)
	e.Append("DB_ADDR", "known:${DB_PORT}")

	_, err := e.Resolve()
	require.ErrorIs(t, err, ErrReferenceNotFound)
	assert.Contains(t, err.Error(), "DB_PORT")
}

func TestEngineAppend_DuplicateOverwrites(t *testing.T) {
	pool := NewPool()
	e := NewEngine(pool, nil)
	e.Append("KEY", "first")
	e.Append("KEY", "second")

	pairs, err := e.Resolve()
	require.NoError(t, err)
	assert.Equal(t, []Pair{{Key: "KEY", Value: "second"}}, pairs)

	got, ok := pool.Get("KEY")
	require.True(t, ok)
	assert.Equal(t, "second", got)
}

func TestEngineResolve_PoolSeededBeforeResolve(t *testing.T) {
	pool := NewPool()
	e := NewEngine(pool, nil)
	e.Append("REF", "${LIT}")
	e.Append("LIT", "value")

	// Appending alone seeds the pool; resolution order does not matter.
	got, ok := pool.Get("LIT")
	require.True(t, ok)
	assert.Equal(t, "value", got)

	pairs, err := e.Resolve()
	require.NoError(t, err)
	assert.Equal(t, []Pair{
		{Key: "LIT", Value: "value"},
		{Key: "REF", Value: "value"},
	}, pairs)
}
