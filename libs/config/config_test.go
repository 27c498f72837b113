package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurationAcceptsSecondsAndGoSyntax(t *testing.T) {
	t.Setenv("GATEWAY_TIMEOUT", "45")
	d, err := Duration("GATEWAY_TIMEOUT", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, d)

	t.Setenv("GATEWAY_TIMEOUT", "1m30s")
	d, err = Duration("GATEWAY_TIMEOUT", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	t.Setenv("GATEWAY_TIMEOUT", "soon")
	_, err = Duration("GATEWAY_TIMEOUT", time.Second)
	assert.Error(t, err)
}

func TestPortValidation(t *testing.T) {
	t.Setenv("PORT", "70000")
	_, err := Port("PORT", "8086")
	assert.Error(t, err)

	t.Setenv("GRPC_PORT", "")
	p, err := OptionalPort("GRPC_PORT", "")
	require.NoError(t, err)
	assert.Empty(t, p)
}

func TestIntBoolList(t *testing.T) {
	t.Setenv("GATEWAY_RETRY_ATTEMPTS", "5")
	n, err := Int("GATEWAY_RETRY_ATTEMPTS", 3)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	t.Setenv("RATE_LIMIT_FAIL_OPEN", "nope")
	assert.True(t, Bool("RATE_LIMIT_FAIL_OPEN", true))

	t.Setenv("CORS_ALLOWED_ORIGINS", " http://a.test, ,http://b.test ")
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, List("CORS_ALLOWED_ORIGINS"))
}

func TestLoadDotEnvKeepsExistingValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("GATEWAY_APP_KEY=from-file\nGATEWAY_USERNAME=file-user\n"), 0o600))

	t.Setenv("GATEWAY_APP_KEY", "from-env")
	t.Setenv("GATEWAY_USERNAME", "")
	require.NoError(t, os.Unsetenv("GATEWAY_USERNAME"))

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "from-env", os.Getenv("GATEWAY_APP_KEY"))
	assert.Equal(t, "file-user", os.Getenv("GATEWAY_USERNAME"))
}
