package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8000, s.Port)
	assert.True(t, s.Debug)
	assert.Equal(t, "HS256", s.Algorithm)
	assert.Empty(t, s.LogFilePath)
	assert.False(t, s.AllowRealExecution)
	assert.Equal(t, "data", s.DataDir)
	assert.NotEmpty(t, s.CORSOrigins)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DEBUG", "false")
	t.Setenv("CORS_ORIGINS", "https://soc.example.com, https://ops.example.com")
	t.Setenv("ALLOW_REAL_EXECUTION", "true")
	t.Setenv("LOG_SIMULATE_INTERVAL_MIN", "1.5")
	t.Setenv("LOG_SIMULATE_INTERVAL_MAX", "3")

	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, s.Port)
	assert.False(t, s.Debug)
	assert.Equal(t, []string{"https://soc.example.com", "https://ops.example.com"}, s.CORSOrigins)
	assert.True(t, s.AllowRealExecution)
	assert.Equal(t, 1.5, s.LogSimulateIntervalMin)
	assert.Equal(t, 3.0, s.LogSimulateIntervalMax)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("PORT=7777\nADMIN_USERNAME=operator\n"), 0o644))

	s, err := Load(envFile)
	require.NoError(t, err)
	assert.Equal(t, 7777, s.Port)
	assert.Equal(t, "operator", s.AdminUsername)

	t.Cleanup(func() {
		os.Unsetenv("PORT")
		os.Unsetenv("ADMIN_USERNAME")
	})
}

func TestLoadMissingEnvFileIsFine(t *testing.T) {
	_, err := Load("/nonexistent/.env")
	assert.NoError(t, err)
}

func TestLoadRejectsBadIntervalRange(t *testing.T) {
	t.Setenv("LOG_SIMULATE_INTERVAL_MIN", "10")
	t.Setenv("LOG_SIMULATE_INTERVAL_MAX", "2")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadRejectsUnsupportedAlgorithm(t *testing.T) {
	t.Setenv("ALGORITHM", "RS256")

	_, err := Load("")
	assert.Error(t, err)
}

func TestInvalidEnvValuesFallBack(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	t.Setenv("DEBUG", "maybe")

	s, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8000, s.Port)
	assert.True(t, s.Debug)
}
