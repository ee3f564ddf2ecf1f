// Package config loads tracker settings from a YAML file with environment
// overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full tracker configuration tree.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Channel      ChannelConfig      `yaml:"channel"`
	Hub          HubConfig          `yaml:"hub"`
	Assets       AssetsConfig       `yaml:"assets"`
	Cache        CacheConfig        `yaml:"cache"`
	Broker       BrokerConfig       `yaml:"broker"`
	Upstream     UpstreamConfig     `yaml:"upstream"`
	Logging      LoggingConfig      `yaml:"logging"`
	LearningMode LearningModeConfig `yaml:"learning_mode"`
}

type ServerConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

type ChannelConfig struct {
	Path        string        `yaml:"path"`
	Secret      string        `yaml:"secret"`
	MinVersion  string        `yaml:"min_version"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	FrameRate   float64       `yaml:"frame_rate"`
	FrameBurst  int           `yaml:"frame_burst"`
}

type HubConfig struct {
	DebounceWindow     time.Duration `yaml:"debounce_window"`
	RequestSuppression time.Duration `yaml:"request_suppression"`
	RecentLoadWindow   time.Duration `yaml:"recent_load_window"`
}

type AssetsConfig struct {
	Root string `yaml:"root"`
}

type CacheConfig struct {
	Backend  string `yaml:"backend"` // memory | redis
	RedisURL string `yaml:"redis_url"`
	Capacity int    `yaml:"capacity"`
}

type BrokerConfig struct {
	QueueSize int `yaml:"queue_size"`
}

type UpstreamConfig struct {
	URL string `yaml:"url"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type LearningModeConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SamplesDir string `yaml:"samples_dir"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			ReadTimeout: 10 * time.Second,
			IdleTimeout: 120 * time.Second,
		},
		Channel: ChannelConfig{
			Path:        "/ws",
			IdleTimeout: 5 * time.Minute,
			FrameRate:   200,
			FrameBurst:  400,
		},
		Hub: HubConfig{
			DebounceWindow:     100 * time.Millisecond,
			RequestSuppression: time.Second,
			RecentLoadWindow:   2 * time.Second,
		},
		Assets: AssetsConfig{Root: "local"},
		Cache:  CacheConfig{Backend: "memory", Capacity: 3},
		Broker: BrokerConfig{QueueSize: 64},
		Logging: LoggingConfig{
			Level: "info",
		},
		LearningMode: LearningModeConfig{SamplesDir: "samples"},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path skips the file entirely.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Channel.Path == "" {
		return fmt.Errorf("channel path must not be empty")
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisURL == "" {
		return fmt.Errorf("cache backend redis requires redis_url")
	}
	if c.Broker.QueueSize <= 0 {
		return fmt.Errorf("broker queue size must be positive")
	}
	return nil
}

// Environment overrides cover the values operators change per venue
// without editing the file: secret, ports, upstream, learning mode.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TRACKER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("TRACKER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("TRACKER_SECRET"); v != "" {
		cfg.Channel.Secret = v
	}
	if v := os.Getenv("TRACKER_MIN_VERSION"); v != "" {
		cfg.Channel.MinVersion = v
	}
	if v := os.Getenv("TRACKER_UPSTREAM_URL"); v != "" {
		cfg.Upstream.URL = v
	}
	if v := os.Getenv("TRACKER_REDIS_URL"); v != "" {
		cfg.Cache.Backend = "redis"
		cfg.Cache.RedisURL = v
	}
	if v := os.Getenv("TRACKER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TRACKER_LEARNING_MODE"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.LearningMode.Enabled = enabled
		}
	}
	if v := os.Getenv("TRACKER_ASSETS_ROOT"); v != "" {
		cfg.Assets.Root = v
	}
}
