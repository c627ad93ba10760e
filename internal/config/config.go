package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultDuplicatePattern matches server error bodies that describe an
// already-applied record.
const DefaultDuplicatePattern = `(?i)duplicate|unique|conflict`

type Config struct {
	Addr         string        `yaml:"addr"`
	APITimeout   time.Duration `yaml:"timeout"`
	DatabasePath string        `yaml:"database_path"`
	Log          LogConfig     `yaml:"log"`
	Remote       RemoteConfig  `yaml:"remote"`
	Cache        CacheConfig   `yaml:"cache"`
	Replay       ReplayConfig  `yaml:"replay"`
	Probe        ProbeConfig   `yaml:"probe"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RemoteConfig points at the upstream origin that serves the app shell, its
// assets and the form service.
type RemoteConfig struct {
	BaseURL                 string        `yaml:"base_url"`
	ServicePath             string        `yaml:"service_path"`
	Authorization           string        `yaml:"authorization"`
	Timeout                 time.Duration `yaml:"timeout"`
	Retries                 int           `yaml:"retries"`
	Backoff                 time.Duration `yaml:"backoff"`
	CircuitFailureThreshold int           `yaml:"circuit_failure_threshold"`
	CircuitReset            time.Duration `yaml:"circuit_reset"`
}

type CacheConfig struct {
	// Backend is one of sqlite, redis or memory.
	Backend string `yaml:"backend"`
	// Version namespaces the collections; defaults to the build version.
	Version  string      `yaml:"version"`
	Precache []string    `yaml:"precache"`
	Redis    RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type ReplayConfig struct {
	TolerateDuplicates bool   `yaml:"tolerate_duplicates"`
	DuplicatePattern   string `yaml:"duplicate_pattern"`
}

type ProbeConfig struct {
	Path     string        `yaml:"path"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DefaultRemoteConfig returns the client settings used when none are given.
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		BaseURL:                 "http://localhost:5000",
		ServicePath:             "/api/service/RioFormsService",
		Timeout:                 15 * time.Second,
		Retries:                 2,
		Backoff:                 500 * time.Millisecond,
		CircuitFailureThreshold: 5,
		CircuitReset:            30 * time.Second,
	}
}

// Default returns a configuration with every field populated.
func Default() *Config {
	return &Config{
		Addr:         ":8080",
		APITimeout:   15 * time.Second,
		DatabasePath: "rioforms.db",
		Log:          LogConfig{Level: "info", Format: "json"},
		Remote:       DefaultRemoteConfig(),
		Cache: CacheConfig{
			Backend:  "sqlite",
			Precache: []string{"/", "/index.html", "/manifest.webmanifest"},
			Redis:    RedisConfig{Addr: "localhost:6379", Prefix: "rioforms"},
		},
		Replay: ReplayConfig{TolerateDuplicates: true, DuplicatePattern: DefaultDuplicatePattern},
		Probe:  ProbeConfig{Path: "/", Interval: 10 * time.Second, Timeout: 3 * time.Second},
	}
}

// LoadDotEnv loads the given .env files into the process environment. Missing
// files are skipped.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// LoadConfig builds the configuration from defaults, RIOFORMS_* environment
// variables and, when path is not empty, a YAML file. The result is validated.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	cfg.Addr = getEnv("RIOFORMS_ADDR", cfg.Addr)
	cfg.DatabasePath = getEnv("RIOFORMS_DATABASE_PATH", cfg.DatabasePath)
	cfg.Log.Level = getEnv("RIOFORMS_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("RIOFORMS_LOG_FORMAT", cfg.Log.Format)
	cfg.Remote.BaseURL = getEnv("RIOFORMS_REMOTE_URL", cfg.Remote.BaseURL)
	cfg.Remote.ServicePath = getEnv("RIOFORMS_SERVICE_PATH", cfg.Remote.ServicePath)
	cfg.Remote.Authorization = getEnv("RIOFORMS_AUTHORIZATION", cfg.Remote.Authorization)
	cfg.Cache.Backend = getEnv("RIOFORMS_CACHE_BACKEND", cfg.Cache.Backend)
	cfg.Cache.Version = getEnv("RIOFORMS_CACHE_VERSION", cfg.Cache.Version)
	cfg.Cache.Redis.Addr = getEnv("RIOFORMS_REDIS_ADDR", cfg.Cache.Redis.Addr)
	cfg.Cache.Redis.Password = getEnv("RIOFORMS_REDIS_PASSWORD", cfg.Cache.Redis.Password)
	if v := os.Getenv("RIOFORMS_TOLERATE_DUPLICATES"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("RIOFORMS_TOLERATE_DUPLICATES: %w", err)
		}
		cfg.Replay.TolerateDuplicates = b
	}

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fills zero values with defaults and rejects settings the daemon
// cannot run with.
func (c *Config) Validate() error {
	def := Default()
	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.APITimeout <= 0 {
		c.APITimeout = def.APITimeout
	}
	if c.DatabasePath == "" {
		return errors.New("database_path must not be empty")
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log.format %q is not one of json, console", c.Log.Format)
	}

	if c.Remote.BaseURL == "" {
		c.Remote.BaseURL = def.Remote.BaseURL
	}
	u, err := url.ParseRequestURI(c.Remote.BaseURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("remote.base_url %q is not an absolute URL", c.Remote.BaseURL)
	}
	c.Remote.BaseURL = strings.TrimRight(c.Remote.BaseURL, "/")
	if c.Remote.ServicePath == "" {
		c.Remote.ServicePath = def.Remote.ServicePath
	}
	if !strings.HasPrefix(c.Remote.ServicePath, "/") {
		c.Remote.ServicePath = "/" + c.Remote.ServicePath
	}
	if c.Remote.Timeout <= 0 {
		c.Remote.Timeout = def.Remote.Timeout
	}
	if c.Remote.Retries < 0 {
		return errors.New("remote.retries must not be negative")
	}
	if c.Remote.Backoff <= 0 {
		c.Remote.Backoff = def.Remote.Backoff
	}
	if c.Remote.CircuitFailureThreshold <= 0 {
		c.Remote.CircuitFailureThreshold = def.Remote.CircuitFailureThreshold
	}
	if c.Remote.CircuitReset <= 0 {
		c.Remote.CircuitReset = def.Remote.CircuitReset
	}

	if c.Cache.Backend == "" {
		c.Cache.Backend = def.Cache.Backend
	}
	switch c.Cache.Backend {
	case "sqlite", "memory":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			return errors.New("cache.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("cache.backend %q is not one of sqlite, redis, memory", c.Cache.Backend)
	}
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = def.Cache.Redis.Prefix
	}
	if len(c.Cache.Precache) == 0 {
		c.Cache.Precache = def.Cache.Precache
	}

	if c.Replay.DuplicatePattern == "" {
		c.Replay.DuplicatePattern = DefaultDuplicatePattern
	}
	if _, err := regexp.Compile(c.Replay.DuplicatePattern); err != nil {
		return fmt.Errorf("replay.duplicate_pattern: %w", err)
	}

	if c.Probe.Path == "" {
		c.Probe.Path = def.Probe.Path
	}
	if c.Probe.Interval <= 0 {
		c.Probe.Interval = def.Probe.Interval
	}
	if c.Probe.Timeout <= 0 {
		c.Probe.Timeout = def.Probe.Timeout
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return def
}
