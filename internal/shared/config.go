package shared

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Engine      EngineConfig      `toml:"engine"`
	Tasks       TasksConfig       `toml:"tasks"`
	Artifacts   ArtifactsConfig   `toml:"artifacts"`
	Cache       CacheConfig       `toml:"cache"`
	Database    DatabaseConfig    `toml:"database"`
	Credentials CredentialsConfig `toml:"credentials"`
	Logging     LoggingConfig     `toml:"logging"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host           string  `toml:"host"`
	Port           int     `toml:"port"`
	BaseURL        string  `toml:"base_url"`
	RateLimitRPS   float64 `toml:"rate_limit_rps"`
	RateLimitBurst int     `toml:"rate_limit_burst"`
	CORS           bool    `toml:"cors"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// EngineConfig configures the external retrieval engine process.
type EngineConfig struct {
	Binary              string        `toml:"binary"`
	CacheDir            string        `toml:"cache_dir"`
	OutputFormatDefault string        `toml:"output_format_default"`
	Timeout             time.Duration `toml:"timeout"`
}

// TasksConfig sizes the orchestrator's worker pool.
type TasksConfig struct {
	Workers    int           `toml:"workers"`
	QueueSize  int           `toml:"queue_size"`
	Timeout    time.Duration `toml:"timeout"`
	EngineRate float64       `toml:"engine_rate"`
}

// ArtifactsConfig controls the managed output directory and its expiry policy.
type ArtifactsConfig struct {
	Dir            string        `toml:"dir"`
	TTL            time.Duration `toml:"ttl"`
	ClaimWindow    time.Duration `toml:"claim_window"`
	LinkTTL        time.Duration `toml:"link_ttl"`
	SingleUseLinks bool          `toml:"single_use_links"`
	SweepSchedule  string        `toml:"sweep_schedule"`
}

// CacheConfig selects the resolve cache backend.
type CacheConfig struct {
	Backend   string        `toml:"backend"`
	TTL       time.Duration `toml:"ttl"`
	RedisAddr string        `toml:"redis_addr"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify"`
}

// SpotifyConfig contains Spotify Web API client credentials.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
}

// Configured reports whether real credentials have been supplied.
func (s SpotifyConfig) Configured() bool {
	return s.ClientID != "" && s.ClientSecret != "" && !strings.HasPrefix(s.ClientID, "your_")
}

// LoggingConfig sets the log level.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// LogLevel parses the configured level, falling back to info.
func (l LoggingConfig) LogLevel() log.Level {
	level, err := log.ParseLevel(l.Level)
	if err != nil {
		return log.InfoLevel
	}
	return level
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values absent from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.ApplyEnv()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// ApplyEnv overrides settings from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return fmt.Errorf("%w: server port %d", ErrInvalidConfig, c.Server.Port)
	case c.Tasks.Workers <= 0:
		return fmt.Errorf("%w: tasks.workers must be positive", ErrInvalidConfig)
	case c.Tasks.QueueSize <= 0:
		return fmt.Errorf("%w: tasks.queue_size must be positive", ErrInvalidConfig)
	case c.Artifacts.Dir == "":
		return fmt.Errorf("%w: artifacts.dir is required", ErrInvalidConfig)
	case c.Artifacts.TTL < 0 || c.Artifacts.LinkTTL < 0 || c.Artifacts.ClaimWindow < 0:
		return fmt.Errorf("%w: artifact durations cannot be negative", ErrInvalidConfig)
	case c.Engine.Binary == "":
		return fmt.Errorf("%w: engine.binary is required", ErrInvalidConfig)
	}

	switch c.Cache.Backend {
	case "sqlite", "redis", "none", "":
	default:
		return fmt.Errorf("%w: unknown cache backend %q", ErrInvalidConfig, c.Cache.Backend)
	}
	return nil
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
