package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "auth:\n  jwt_secret: s3cret\n"))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.ListenAddr)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "/var/lib/warden/warden.db", cfg.Database.Path)
	assert.Equal(t, 15*time.Second, cfg.Poll.Interval)
	assert.Equal(t, time.Minute, cfg.Poll.StaleAfter)
	assert.Equal(t, 20*time.Minute, cfg.Poll.GracePeriod)
	assert.Equal(t, 10*time.Second, cfg.RCON.DialTimeout)
	assert.Equal(t, 2, cfg.RCON.RetryAttempts)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenDuration)
	assert.Empty(t, cfg.NATS.URL)
	assert.Equal(t, "warden", cfg.NATS.SubjectPrefix)
	assert.Equal(t, 120*time.Hour, cfg.Logs.Retention)

	level, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  listen_addr: 0.0.0.0
  http_port: 9000
database:
  path: /tmp/w.db
poll:
  interval: 30s
  grace_period: 5m
rcon:
  retry_attempts: 5
  retry_backoff: 500ms
nats:
  url: nats://localhost:4222
  subject_prefix: squad
logs:
  retention: 48h
  level: debug
`))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.ListenAddr)
	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, "/tmp/w.db", cfg.Database.Path)
	assert.Equal(t, 30*time.Second, cfg.Poll.Interval)
	assert.Equal(t, 5*time.Minute, cfg.Poll.GracePeriod)
	assert.Equal(t, 5, cfg.RCON.RetryAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.RCON.RetryBackoff)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "squad", cfg.NATS.SubjectPrefix)
	assert.Equal(t, 48*time.Hour, cfg.Logs.Retention)

	level, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "server: [not, a, map]"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "logs:\n  level: loud\n"))
	assert.ErrorContains(t, err, "logs.level")
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 5*time.Second, cfg.Poll.ChatInterval)
}
