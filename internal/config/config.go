// Package config loads server configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Database drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// EnvPrefix prefixes every environment override, e.g. GRIDWARS_DATABASE_DSN.
const EnvPrefix = "GRIDWARS"

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Game      GameConfig      `mapstructure:"game"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type ServerConfig struct {
	WebSocket       WebSocketConfig `mapstructure:"websocket"`
	GRPC            GRPCConfig      `mapstructure:"grpc"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
}

type WebSocketConfig struct {
	Address           string        `mapstructure:"address"`
	CommandsPerSecond float64       `mapstructure:"commands_per_second"`
	Burst             int           `mapstructure:"burst"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	PongTimeout       time.Duration `mapstructure:"pong_timeout"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
}

type GRPCConfig struct {
	Address string `mapstructure:"address"`
}

type DatabaseConfig struct {
	Driver      string        `mapstructure:"driver"`
	DSN         string        `mapstructure:"dsn"`
	MaxConns    int32         `mapstructure:"max_conns"`
	MinConns    int32         `mapstructure:"min_conns"`
	ConnTimeout time.Duration `mapstructure:"conn_timeout"`
	Migrate     bool          `mapstructure:"migrate"`
}

type CacheConfig struct {
	Size int           `mapstructure:"size"`
	TTL  time.Duration `mapstructure:"ttl"`
}

// GameConfig tunes the ruleset.
type GameConfig struct {
	TurnDuration       time.Duration `mapstructure:"turn_duration"`
	MaxResources       int           `mapstructure:"max_resources"`
	HandLimit          int           `mapstructure:"hand_limit"`
	StartingHand       int           `mapstructure:"starting_hand"`
	DeckSize           int           `mapstructure:"deck_size"`
	ResurrectionChance float64       `mapstructure:"resurrection_chance"`
	LineBonusAttack    int           `mapstructure:"line_bonus_attack"`
	LineBonusHealth    int           `mapstructure:"line_bonus_health"`
	ConflictRetries    int           `mapstructure:"conflict_retries"`
	Seed               int64         `mapstructure:"seed"`
	// CardsFile replaces the built-in card pool with a CSV catalog when set.
	CardsFile string `mapstructure:"cards_file"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.websocket.address", ":8080")
	v.SetDefault("server.websocket.commands_per_second", 10.0)
	v.SetDefault("server.websocket.burst", 20)
	v.SetDefault("server.websocket.write_timeout", 10*time.Second)
	v.SetDefault("server.websocket.pong_timeout", 60*time.Second)
	v.SetDefault("server.websocket.allowed_origins", []string{})
	v.SetDefault("server.grpc.address", ":9090")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.driver", DriverMemory)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.conn_timeout", 5*time.Second)
	v.SetDefault("database.migrate", true)

	v.SetDefault("cache.size", 1024)
	v.SetDefault("cache.ttl", 30*time.Minute)

	v.SetDefault("game.turn_duration", 90*time.Second)
	v.SetDefault("game.max_resources", 10)
	v.SetDefault("game.hand_limit", 7)
	v.SetDefault("game.starting_hand", 4)
	v.SetDefault("game.deck_size", 20)
	v.SetDefault("game.resurrection_chance", 0.30)
	v.SetDefault("game.line_bonus_attack", 1)
	v.SetDefault("game.line_bonus_health", 1)
	v.SetDefault("game.conflict_retries", 1)
	v.SetDefault("game.seed", 0)
	v.SetDefault("game.cards_file", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.service_name", "gridwars-server")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Load reads path (optional) and applies environment overrides. A missing
// file is not an error; every key has a default.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		_, err := os.Stat(path)
		switch {
		case err == nil:
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("stat config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres, DriverSQLite:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for driver %q", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	if c.Game.TurnDuration <= 0 {
		return errors.New("game.turn_duration must be positive")
	}
	if c.Database.ConnTimeout <= 0 {
		return errors.New("database.conn_timeout must be positive")
	}
	if c.Cache.TTL < 0 {
		return errors.New("cache.ttl must not be negative")
	}
	if c.Game.ResurrectionChance < 0 || c.Game.ResurrectionChance > 1 {
		return fmt.Errorf("game.resurrection_chance %.2f outside [0,1]", c.Game.ResurrectionChance)
	}
	if c.Game.MaxResources <= 0 || c.Game.HandLimit <= 0 {
		return errors.New("game.max_resources and game.hand_limit must be positive")
	}
	if c.Server.WebSocket.CommandsPerSecond <= 0 || c.Server.WebSocket.Burst <= 0 {
		return errors.New("server.websocket rate limit must be positive")
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return errors.New("telemetry.endpoint is required when telemetry is enabled")
	}
	return nil
}
