package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// unsetEnv clears key for the test and restores it afterwards.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 1, cfg.Relation.Store.NumShards)
	assert.Equal(t, 8, cfg.Relation.MaxRetries)
	assert.Equal(t, 16*time.Millisecond, cfg.Loader.Wait)
	require.NoError(t, cfg.Validate())
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
log:
  level: debug
  format: json
store:
  num_shards: 16
max_retries: 20
member_types:
  business:
    discount: 10
loader:
  wait: 5ms
  batch_capacity: 50
`))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 16, cfg.Relation.Store.NumShards)
	assert.Equal(t, 20, cfg.Relation.MaxRetries)
	require.Contains(t, cfg.Relation.MemberTypes, "business")
	require.NotNil(t, cfg.Relation.MemberTypes["business"].Discount)
	assert.Equal(t, 10, *cfg.Relation.MemberTypes["business"].Discount)
	assert.Nil(t, cfg.Relation.MemberTypes["business"].MonthPostsLimit)
	assert.Equal(t, 5*time.Millisecond, cfg.Loader.Wait)
	assert.Equal(t, 50, cfg.Loader.BatchCapacity)
}

func TestParse_KeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := Parse([]byte("log:\n  format: json\n"))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8, cfg.Relation.MaxRetries)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown key", "colour: blue\n"},
		{"bad level", "log:\n  level: loud\n"},
		{"bad format", "log:\n  format: xml\n"},
		{"negative wait", "loader:\n  wait: -1s\n"},
		{"not yaml", "store: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"LATTICE_LOG_LEVEL":             "warn",
		"LATTICE_LOG_FORMAT":            " json ",
		"LATTICE_NUM_SHARDS":            "32",
		"LATTICE_MAX_RETRIES":           "3",
		"LATTICE_LOADER_WAIT":           "1ms",
		"LATTICE_LOADER_BATCH_CAPACITY": "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := DefaultConfig()
	require.NoError(t, cfg.applyEnv(lookup))
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 32, cfg.Relation.Store.NumShards)
	assert.Equal(t, 3, cfg.Relation.MaxRetries)
	assert.Equal(t, time.Millisecond, cfg.Loader.Wait)
	assert.Zero(t, cfg.Loader.BatchCapacity)
}

func TestApplyEnv_Invalid(t *testing.T) {
	for _, kv := range [][2]string{
		{"LATTICE_NUM_SHARDS", "many"},
		{"LATTICE_LOADER_WAIT", "soon"},
	} {
		lookup := func(k string) (string, bool) {
			if k == kv[0] {
				return kv[1], true
			}
			return "", false
		}
		err := DefaultConfig().applyEnv(lookup)
		assert.ErrorIs(t, err, ErrInvalid, kv[0])
	}
}

func TestLoad(t *testing.T) {
	path := writeFile(t, "lattice.yaml", "max_retries: 4\nstore:\n  num_shards: 4\n")
	t.Setenv("LATTICE_NUM_SHARDS", "64")

	cfg, err := Load(path, writeFile(t, "empty.env", ""))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Relation.MaxRetries)
	assert.Equal(t, 64, cfg.Relation.Store.NumShards)
}

func TestLoad_EnvFile(t *testing.T) {
	unsetEnv(t, "LATTICE_MAX_RETRIES")
	t.Setenv("LATTICE_LOG_LEVEL", "error")

	envFile := writeFile(t, "test.env", "LATTICE_MAX_RETRIES=12\nLATTICE_LOG_LEVEL=debug\n")
	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Relation.MaxRetries)
	// Variables already set win over the file
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"), writeFile(t, "empty.env", ""))
	assert.Error(t, err)

	_, err = Load("", filepath.Join(dir, "missing.env"))
	assert.Error(t, err)

	bad := writeFile(t, "bad.yaml", "log:\n  level: loud\n")
	_, err = Load(bad, writeFile(t, "empty.env", ""))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := LogConfig{Level: "warn", Format: "json"}.Logger(&buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"k":"v"`)

	buf.Reset()
	logger, err = LogConfig{Level: "DEBUG", Format: "text"}.Logger(&buf)
	require.NoError(t, err)
	logger.Debug("details")
	assert.Contains(t, buf.String(), "msg=details")

	_, err = LogConfig{Level: "info", Format: "xml"}.Logger(&buf)
	assert.ErrorIs(t, err, ErrInvalid)
}
