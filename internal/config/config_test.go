package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inTempDir isolates a test from any .env or doorstep.yaml in the package
// directory.
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoadDefaults(t *testing.T) {
	inTempDir(t)

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "doorstep.db", cfg.DBPath)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 60*time.Second, cfg.SweepInterval)
	assert.Equal(t, 90*24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 120, cfg.RateLimit.DoorsPerMinute)
	assert.Empty(t, cfg.AchievementsFile)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := inTempDir(t)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9090"
db_path: /var/lib/doorstep/data.db
log:
  level: debug
  format: json
sweep_interval: 30s
rate_limit:
  doors_per_minute: 10
`), 0o644))

	t.Setenv("DOORSTEP_PORT", "7070")
	t.Setenv("DOORSTEP_RATE_LIMIT_DOORS_PER_MINUTE", "0")

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Port, "env overrides file")
	assert.Equal(t, "/var/lib/doorstep/data.db", cfg.DBPath)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, 0, cfg.RateLimit.DoorsPerMinute)
}

func TestLoadDotEnv(t *testing.T) {
	dir := inTempDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DOORSTEP_DB_PATH=from-dotenv.db\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("DOORSTEP_DB_PATH") })

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv.db", cfg.DBPath)
}

func TestLoadFlagsWin(t *testing.T) {
	inTempDir(t)
	t.Setenv("DOORSTEP_PORT", "7070")

	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flags.String("port", "8080", "")
	flags.String("db", "doorstep.db", "")
	require.NoError(t, flags.Parse([]string{"--port", "6060"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, "6060", cfg.Port)
	assert.Equal(t, "doorstep.db", cfg.DBPath)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	inTempDir(t)

	_, err := Load("nope.yaml", nil)
	assert.Error(t, err)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"zero sweep", "DOORSTEP_SWEEP_INTERVAL", "0s"},
		{"negative rate", "DOORSTEP_RATE_LIMIT_DOORS_PER_MINUTE", "-1"},
		{"bad format", "DOORSTEP_LOG_FORMAT", "xml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inTempDir(t)
			t.Setenv(tt.key, tt.val)
			_, err := Load("", nil)
			assert.Error(t, err)
		})
	}
}
