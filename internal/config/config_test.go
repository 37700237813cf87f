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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8083", cfg.HTTP.Port)
	assert.Equal(t, "notifications", cfg.AMQP.Queue)
	assert.Equal(t, 10, cfg.AMQP.Prefetch)
	assert.Equal(t, 5*time.Second, cfg.Gateway.StoreTimeout)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
http:
  port: "9000"
amqp:
  queue: events
  prefetch: 4
  base_retry_delay: 2s
gateway:
  allowed_origins: ["https://a.example"]
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	t.Setenv("AMQP_QUEUE", "events.v2")
	t.Setenv("ALLOWED_ORIGINS", "https://b.example, https://c.example")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.HTTP.Port)
	assert.Equal(t, "events.v2", cfg.AMQP.Queue)
	assert.Equal(t, 4, cfg.AMQP.Prefetch)
	assert.Equal(t, 2*time.Second, cfg.AMQP.BaseRetryDelay)
	assert.Equal(t, []string{"https://b.example", "https://c.example"}, cfg.Gateway.AllowedOrigins)
}

func TestLoadMissingFileIsIgnored(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.NoError(t, err)
}

func TestLoadInvalidEnv(t *testing.T) {
	t.Setenv("AMQP_PREFETCH", "many")
	_, err := Load("")
	assert.Error(t, err)

	t.Setenv("AMQP_PREFETCH", "5")
	t.Setenv("STORE_TIMEOUT", "soon")
	_, err = Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Error(t, cfg.Validate(), "auth settings are required")

	cfg.Auth.JWTSecret = "secret"
	assert.NoError(t, cfg.Validate())

	cfg.AMQP.Prefetch = 0
	assert.Error(t, cfg.Validate())
}
