// Package config loads backend configuration from an optional YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can be written as "5m" or "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the underlying time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full backend configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Cache  CacheConfig  `yaml:"cache"`
	Flush  FlushConfig  `yaml:"flush"`
	Export ExportConfig `yaml:"export"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type StoreConfig struct {
	// Backend selects the durable store: memory, redis or file.
	Backend string      `yaml:"backend"`
	Path    string      `yaml:"path"` // file backend
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string   `yaml:"addr"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	Prefix   string   `yaml:"prefix"`
	TTL      Duration `yaml:"ttl"`
	// Lock enables distributed locking, for multi-replica deployments.
	Lock bool `yaml:"lock"`
}

type CacheConfig struct {
	// IdleTTL and SweepInterval control idle eviction; zero disables it.
	IdleTTL       Duration `yaml:"idle_ttl"`
	SweepInterval Duration `yaml:"sweep_interval"`
}

type FlushConfig struct {
	Workers     int      `yaml:"workers"`
	QueueSize   int      `yaml:"queue_size"`
	MaxAttempts int      `yaml:"max_attempts"`
	BaseBackoff Duration `yaml:"base_backoff"`
}

type ExportConfig struct {
	// Path is the CSV engagement export target; empty disables the syncer.
	Path     string   `yaml:"path"`
	Interval Duration `yaml:"interval"`
}

// Default returns the configuration used when no file or overrides exist.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080"},
		Store: StoreConfig{
			Backend: "memory",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "mentor:session:",
			},
		},
		Export: ExportConfig{
			Interval: Duration(5 * time.Minute),
		},
	}
}

// Load reads the YAML file at path (if path is non-empty) on top of defaults,
// then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays MENTOR_* environment variables.
func (c *Config) applyEnv() {
	overlay(&c.Server.Addr, "MENTOR_ADDR")
	overlay(&c.Store.Backend, "MENTOR_STORE_BACKEND")
	overlay(&c.Store.Path, "MENTOR_STORE_PATH")
	overlay(&c.Store.Redis.Addr, "MENTOR_REDIS_ADDR")
	overlay(&c.Store.Redis.Password, "MENTOR_REDIS_PASSWORD")
	overlay(&c.Export.Path, "MENTOR_EXPORT_PATH")

	if v := os.Getenv("MENTOR_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Store.Redis.DB = db
		}
	}
}

func overlay(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}
