// Package config loads pybox settings from defaults, an optional YAML file
// and PYBOX_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caffeineduck/pybox/sandbox"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable, e.g. PYBOX_SANDBOX_TIMEOUT.
const EnvPrefix = "PYBOX"

// Config holds all application configuration.
type Config struct {
	Sandbox SandboxConfig `yaml:"sandbox" envconfig:"SANDBOX"`
	Log     LogConfig     `yaml:"log" envconfig:"LOG"`
	Server  ServerConfig  `yaml:"server" envconfig:"SERVER"`
}

// SandboxConfig holds the host settings.
type SandboxConfig struct {
	Artifact  string        `yaml:"artifact" envconfig:"ARTIFACT"`
	Timeout   time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	MemoryCap uint64        `yaml:"memory_cap" envconfig:"MEMORY_CAP"`
	TableCap  uint32        `yaml:"table_cap" envconfig:"TABLE_CAP"`
	Cache     bool          `yaml:"cache" envconfig:"CACHE"`
	CacheDir  string        `yaml:"cache_dir" envconfig:"CACHE_DIR"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT"`
}

// ServerConfig holds HTTP server configuration for "pybox serve".
type ServerConfig struct {
	Addr           string  `yaml:"addr" envconfig:"ADDR"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps" envconfig:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" envconfig:"RATE_LIMIT_BURST"`
	MaxConcurrent  int64   `yaml:"max_concurrent" envconfig:"MAX_CONCURRENT"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Sandbox: SandboxConfig{
			Artifact:  sandbox.DefaultArtifact,
			Timeout:   sandbox.DefaultTimeout,
			MemoryCap: sandbox.DefaultMemoryCap,
			TableCap:  sandbox.DefaultTableCap,
			Cache:     true,
		},
		Log: LogConfig{
			Level: "error",
		},
		Server: ServerConfig{
			Addr:           ":8080",
			RateLimitRPS:   10,
			RateLimitBurst: 20,
			MaxConcurrent:  4,
		},
	}
}

// Load applies the YAML file at path (if non-empty) and then the environment
// on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the host would silently replace with defaults.
func (c *Config) Validate() error {
	var errs []error
	if c.Sandbox.Artifact == "" {
		errs = append(errs, errors.New("sandbox.artifact is empty"))
	}
	if c.Sandbox.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("sandbox.timeout must be positive, got %v", c.Sandbox.Timeout))
	}
	if c.Sandbox.MemoryCap == 0 {
		errs = append(errs, errors.New("sandbox.memory_cap must be positive"))
	}
	if c.Sandbox.TableCap == 0 {
		errs = append(errs, errors.New("sandbox.table_cap must be positive"))
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, errors.New("server.rate_limit_rps must not be negative"))
	}
	if c.Server.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("server.max_concurrent must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Options converts the sandbox section into host options.
func (c SandboxConfig) Options() []sandbox.Option {
	opts := []sandbox.Option{
		sandbox.WithArtifact(c.Artifact),
		sandbox.WithTimeout(c.Timeout),
		sandbox.WithMemoryCap(c.MemoryCap),
		sandbox.WithTableCap(c.TableCap),
	}
	if c.Cache {
		opts = append(opts, sandbox.WithCompilationCache(c.CacheDir))
	}
	return opts
}
