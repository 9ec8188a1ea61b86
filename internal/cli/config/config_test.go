package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.LoadDefaults()

	assert.NotEmpty(t, cfg.ServerURL)
	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("ALIASVAULT_SERVER", "https://vault.example.com/api")
	t.Setenv("ALIASVAULT_DATA_DIR", "/tmp/av-test")
	t.Setenv("ALIASVAULT_TIMEOUT", "5s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://vault.example.com/api", cfg.ServerURL)
	assert.Equal(t, "/tmp/av-test", cfg.DataDir)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("ALIASVAULT_SERVER=http://dotenv.example.com/api\n"), 0o600)
	require.NoError(t, err)
	chdir(t, dir)

	// godotenv writes into the process environment; make sure the test
	// leaves it the way it found it.
	t.Setenv("ALIASVAULT_SERVER", "")
	os.Unsetenv("ALIASVAULT_SERVER")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://dotenv.example.com/api", cfg.ServerURL)
}

func TestLoad_UnsetEnvKeepsDefaults(t *testing.T) {
	chdir(t, t.TempDir()) // no .env in reach

	cfg, err := Load()
	require.NoError(t, err)

	defaults := &Config{}
	defaults.LoadDefaults()
	assert.Equal(t, defaults.ServerURL, cfg.ServerURL)
	assert.Equal(t, defaults.RequestTimeout, cfg.RequestTimeout)
}

// chdir changes the working directory for the duration of the test,
// mirroring testing.T.Chdir from newer Go releases.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
