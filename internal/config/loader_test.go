package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaultsAndInterpolates(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("GP_TEST_DB", filepath.Join(dir, "custom.db"))
	path := writeConfig(t, dir, `
state:
  path: ${GP_TEST_DB}
pipeline:
  next_stage: enrich
workers:
  hash: {}
  size:
    config:
      keys: [doc]
  fold:
    enabled: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "custom.db"), cfg.State.Path)
	assert.Equal(t, filepath.Join(dir, "data", "blobs"), cfg.State.BlobDir, "relative paths resolve against the config dir")
	assert.Equal(t, "ingest", cfg.Pipeline.Stage)
	assert.Equal(t, "enrich", cfg.Pipeline.NextStage)
	assert.Equal(t, 10*time.Second, cfg.Pipeline.ResultTimeout)
	assert.Equal(t, 6, cfg.Pipeline.ResultWaits)
	assert.Equal(t, path, cfg.SourcePath)

	specs := cfg.WorkerSpecs()
	require.Len(t, specs, 2)
	assert.Equal(t, "hash", specs[0].Name)
	assert.Equal(t, "size", specs[1].Name)
	assert.Equal(t, []any{"doc"}, specs[1].Config["keys"])
}

func TestLoadAcceptsDirectory(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "service:\n  name: test\n")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.Service.Name)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "pipeline:\n  consumers: 1\n")
	t.Setenv("GRAPHPROC_CONSUMERS", "5")
	t.Setenv("GRAPHPROC_RESULT_TIMEOUT", "3s")
	t.Setenv("GRAPHPROC_OPS_ENABLED", "true")
	t.Setenv("GRAPHPROC_LOG_LEVEL", "debug")
	t.Setenv("GRAPHPROC_OPS_TOKEN", "tok")
	t.Setenv("GRAPHPROC_RESULT_WAITS", "2")
	t.Setenv("GRAPHPROC_CHUNK_SIZE", "4096")
	t.Setenv("GRAPHPROC_TEE_BUFFER", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Pipeline.Consumers)
	assert.Equal(t, 3*time.Second, cfg.Pipeline.ResultTimeout)
	assert.True(t, cfg.Ops.Enabled)
	assert.Equal(t, "debug", cfg.Service.LogLevel)
	assert.Equal(t, "tok", cfg.Ops.Token)
	assert.Equal(t, 2, cfg.Pipeline.ResultWaits)
	assert.Equal(t, 4096, cfg.Pipeline.ChunkSize)
	assert.Equal(t, 3, cfg.Pipeline.TeeBuffer)
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	blobs := filepath.Join(dir, "from-dotenv")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("GP_DOTENV_BLOBS="+blobs+"\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("GP_DOTENV_BLOBS") })
	path := writeConfig(t, dir, "state:\n  blob_dir: ${GP_DOTENV_BLOBS}\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, blobs, cfg.State.BlobDir)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"log level", "service:\n  log_level: loud\n", "service.log_level"},
		{"same stage", "pipeline:\n  stage: a\n  next_stage: a\n", "next_stage must differ"},
		{"consumers", "pipeline:\n  consumers: -1\n", "pipeline.consumers"},
		{"waits", "pipeline:\n  result_waits: -2\n", "pipeline.result_waits"},
		{"ops listen", "ops:\n  enabled: true\n  listen: \"\"\n", "ops.listen"},
		{"unset state var", "state:\n  path: ${GP_SURELY_UNSET_VAR}\n", "GP_SURELY_UNSET_VAR"},
		{"unset worker var", "workers:\n  fold:\n    config:\n      language: ${GP_SURELY_UNSET_LANG}\n", "GP_SURELY_UNSET_LANG"},
		{"bad yaml", "pipeline: [\n", "failed to parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.body)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDisabledWorkerSkipsEnvCheck(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "workers:\n  fold:\n    enabled: false\n    config:\n      language: ${GP_SURELY_UNSET_LANG}\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.WorkerSpecs())
}

func TestInterpolateEnvLeavesUnknownPlaceholders(t *testing.T) {
	t.Setenv("GP_KNOWN", "yes")
	out := interpolateEnv("a=${GP_KNOWN} b=${GP_SURELY_UNSET_VAR}")
	assert.Equal(t, "a=yes b=${GP_SURELY_UNSET_VAR}", out)
	assert.False(t, strings.Contains(out, "${GP_KNOWN}"))
}

func TestDiscoverHonoursEnv(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "service:\n  name: a\n")
	t.Setenv("GRAPHPROC_CONFIG", dir)

	found, err := Discover()
	require.NoError(t, err)
	assert.Equal(t, dir, found)
}
