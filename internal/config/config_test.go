package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, ":8080", cfg.Server.WebSocket.Address)
	assert.Equal(t, ":9090", cfg.Server.GRPC.Address)
	assert.Equal(t, 90*time.Second, cfg.Game.TurnDuration)
	assert.Equal(t, 10, cfg.Game.MaxResources)
	assert.Equal(t, 7, cfg.Game.HandLimit)
	assert.InDelta(t, 0.30, cfg.Game.ResurrectionChance, 1e-9)
	assert.Equal(t, 1, cfg.Game.ConflictRetries)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestSampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL)
	assert.Empty(t, cfg.Game.CardsFile)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  websocket:
    address: ":7000"
    commands_per_second: 4
database:
  driver: sqlite
  dsn: /var/lib/gridwars/state.db
game:
  turn_duration: 45s
  resurrection_chance: 0.5
logging:
  level: debug
  format: console
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.WebSocket.Address)
	assert.InDelta(t, 4.0, cfg.Server.WebSocket.CommandsPerSecond, 1e-9)
	assert.Equal(t, 20, cfg.Server.WebSocket.Burst)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "/var/lib/gridwars/state.db", cfg.Database.DSN)
	assert.Equal(t, 45*time.Second, cfg.Game.TurnDuration)
	assert.InDelta(t, 0.5, cfg.Game.ResurrectionChance, 1e-9)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "game:\n  turn_duration: 45s\n")
	t.Setenv("GRIDWARS_GAME_TURN_DURATION", "2m")
	t.Setenv("GRIDWARS_DATABASE_DRIVER", "postgres")
	t.Setenv("GRIDWARS_DATABASE_DSN", "postgres://gridwars@localhost/gridwars")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.Game.TurnDuration)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "postgres://gridwars@localhost/gridwars", cfg.Database.DSN)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := writeConfig(t, "server: [unterminated\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }},
		{"sqlite without dsn", func(c *Config) { c.Database.Driver = DriverSQLite }},
		{"zero turn duration", func(c *Config) { c.Game.TurnDuration = 0 }},
		{"chance above one", func(c *Config) { c.Game.ResurrectionChance = 1.5 }},
		{"negative chance", func(c *Config) { c.Game.ResurrectionChance = -0.1 }},
		{"no rate limit", func(c *Config) { c.Server.WebSocket.CommandsPerSecond = 0 }},
		{"telemetry without endpoint", func(c *Config) { c.Telemetry.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, valid().Validate())
}
