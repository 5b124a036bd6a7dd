package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pglocator/pglocator/internal/app/runtime"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, runtime.Version+"\n", out)
}

func TestMigrateNeedsDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := run(t, "migrate", "up")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")

	_, err = run(t, "migrate", "down", "--steps", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--steps")
}

func TestSeedMemoryBackend(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("AUTH_PROVIDER", "local")
	t.Setenv("LOCAL_JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("LOG_LEVEL", "error")

	out, err := run(t, "seed")
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(out, "created"))
	assert.Contains(t, out, "seeded 6 listings")

	out, err = run(t, "seed", "--users-only")
	require.NoError(t, err)
	assert.NotContains(t, out, "seeded")
}

func TestSeedRejectsBadFixtures(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("AUTH_PROVIDER", "local")
	t.Setenv("LOCAL_JWT_SECRET", "0123456789abcdef0123456789abcdef")

	_, err := run(t, "seed", "--fixtures", t.TempDir()+"/missing.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read fixtures")
}
