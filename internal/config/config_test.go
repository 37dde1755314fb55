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
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "python", cfg.Optimizer.Command)
	assert.Equal(t, []string{"python_scripts/app.py"}, cfg.Optimizer.Args)
	assert.Equal(t, 5*time.Minute, cfg.Optimizer.Timeout)
	assert.True(t, cfg.Optimizer.StructuredChannel)
	assert.Equal(t, 5, cfg.JobIDMaxAttempts)
	assert.Equal(t, "route_jobs", cfg.Redis.Stream)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Empty(t, cfg.AuthTokens)
}

func TestLoadParsesAuthTokensAndSanitizes(t *testing.T) {
	t.Setenv("API_AUTH_TOKENS", "tok-a:manager-1, tok-b:manager-2,broken:")
	t.Setenv("RATE_LIMIT_RPS", "-3")
	t.Setenv("OPTIMIZER_TIMEOUT", "90s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"tok-a": "manager-1", "tok-b": "manager-2"}, cfg.AuthTokens)
	assert.Equal(t, float64(20), cfg.RateLimitRPS)
	assert.Equal(t, 90*time.Second, cfg.Optimizer.Timeout)
}

func TestLoadDotEnvDoesNotOverrideProcessEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("PORT=9999\nREDIS_STREAM=from_file\n"), 0o600))

	t.Setenv("PORT", "7000")
	// Registers cleanup so the value loaded from the file does not leak.
	t.Setenv("REDIS_STREAM", "")
	require.NoError(t, os.Unsetenv("REDIS_STREAM"))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7000", cfg.Port)
	assert.Equal(t, "from_file", cfg.Redis.Stream)
}
