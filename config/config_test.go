package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gate4ai/streamhttp/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "streamhttp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad_AppliesDefaultsForOmittedFields(t *testing.T) {
	path := writeConfig(t, "transport:\n  stateful: true\n")
	f, err := config.Load(path, zap.NewNop())
	require.NoError(t, err)

	assert.True(t, f.Stateful())
	assert.Equal(t, int64(1_048_576), f.MaxBodySize())
	assert.Equal(t, 30*time.Second, f.RequestTimeout())
	assert.Equal(t, time.Hour, f.SessionTimeout())
	assert.True(t, f.EnableResumability())
	assert.Equal(t, "mcp", f.AuthRealm())
	assert.NotEmpty(t, f.AllowedOrigins())
}

func TestLoad_ParsesAllFields(t *testing.T) {
	path := writeConfig(t, `
transport:
  stateful: true
  enable_json_response: true
  max_body_size_bytes: 2048
  request_timeout_ms: 5000
  session_timeout_ms: 60000
  allowed_origins:
    - "https://example.com"
  enable_resumability: false
auth:
  realm: "my-realm"
`)
	f, err := config.Load(path, zap.NewNop())
	require.NoError(t, err)

	assert.True(t, f.Stateful())
	assert.True(t, f.EnableJSONResponse())
	assert.EqualValues(t, 2048, f.MaxBodySize())
	assert.Equal(t, 5*time.Second, f.RequestTimeout())
	assert.Equal(t, 60*time.Second, f.SessionTimeout())
	assert.Equal(t, []string{"https://example.com"}, f.AllowedOrigins())
	assert.False(t, f.EnableResumability())
	assert.Equal(t, "my-realm", f.AuthRealm())
}

func TestReload_PicksUpChangedValues(t *testing.T) {
	path := writeConfig(t, "transport:\n  stateful: false\n")
	f, err := config.Load(path, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, f.Stateful())

	require.NoError(t, os.WriteFile(path, []byte("transport:\n  stateful: true\n"), 0o644))
	require.NoError(t, f.Reload())
	assert.True(t, f.Stateful())
}

func TestLoad_MissingFile_ReturnsError(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"), zap.NewNop())
	assert.Error(t, err)
}

func TestAllowedOrigins_ReturnsACopyNotTheInternalSlice(t *testing.T) {
	path := writeConfig(t, "transport:\n  allowed_origins:\n    - \"https://a.example\"\n")
	f, err := config.Load(path, zap.NewNop())
	require.NoError(t, err)

	origins := f.AllowedOrigins()
	origins[0] = "mutated"
	assert.Equal(t, "https://a.example", f.AllowedOrigins()[0])
}
