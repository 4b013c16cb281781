package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-seat-hold/internal/auth"
)

func setEnv(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("JWT_SECRET", "cli-secret")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "cli.db"))
	t.Setenv("FANOUT_DRIVER", "memory")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	setEnv(t)

	out, err := run(t, "token", "--user", "u-42", "--role", auth.RoleAdmin)
	require.NoError(t, err)
	id, err := auth.NewVerifier("cli-secret").Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, auth.Identity{UserID: "u-42", Role: auth.RoleAdmin}, id)

	_, err = run(t, "token", "--role", auth.RoleAdmin)
	assert.ErrorContains(t, err, "--user")
	_, err = run(t, "token", "--user", "x", "--role", "OWNER")
	assert.ErrorContains(t, err, "--role")
}

func TestMigrateCommand(t *testing.T) {
	setEnv(t)
	_, err := run(t, "migrate")
	require.NoError(t, err)
	// Idempotent.
	_, err = run(t, "migrate")
	require.NoError(t, err)
}

func TestConfigErrorsSurface(t *testing.T) {
	setEnv(t)
	t.Setenv("JWT_SECRET", "")
	_, err := run(t, "migrate")
	assert.ErrorContains(t, err, "JWT_SECRET")
}
