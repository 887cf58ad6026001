// Package config loads clibin configuration from an optional INI file, an
// optional .env file and CLIBIN_<SECTION>_<KEY> environment variables.
// Environment variables win over the file.
//
// Sections:
//   - [server]: listen address, canonical URL, proxy trust, metrics
//   - [paste]: size cap, expiry defaults, id shape
//   - [storage]: backend selection and location
//   - [janitor]: sweep interval
//   - [limit]: per-client rate limiting
//   - [log]: level and format
//   - [highlight]: chroma style and line numbers
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CLIBIN"

// Backend names accepted by [storage] backend.
const (
	BackendFilesystem = "filesystem"
	BackendBolt       = "bolt"
	BackendSQLite     = "sqlite"
	BackendRedis      = "redis"
)

// Config holds all application configuration organized by section.
type Config struct {
	Server    ServerConfig
	Paste     PasteConfig
	Storage   StorageConfig
	Janitor   JanitorConfig
	Limit     LimitConfig
	Log       LogConfig
	Highlight HighlightConfig
}

type ServerConfig struct {
	Addr string
	// BaseURL, when set, prefixes every returned paste URL.
	BaseURL string
	// BehindProxy trusts X-Forwarded-For, X-Real-IP and X-Forwarded-Proto.
	BehindProxy bool
	// InsecureLinks makes derived URLs use http instead of https.
	InsecureLinks bool
	Metrics       bool
}

type PasteConfig struct {
	MaxSize    int
	DefaultTTL time.Duration
	MaxTTL     time.Duration
	IDLength   int
	IDAttempts int
}

type StorageConfig struct {
	Backend string
	// Dir is the filesystem backend's directory.
	Dir string
	// Path is the database file for the bolt and sqlite backends.
	Path        string
	RedisURL    string
	RedisPrefix string
}

type JanitorConfig struct {
	Interval time.Duration
}

type LimitConfig struct {
	// Requests per Window for one client. Zero disables limiting.
	Requests int
	Window   time.Duration
	// Clients bounds the number of tracked clients.
	Clients   int
	KeySecret string
}

type LogConfig struct {
	Level  string
	Format string
}

type HighlightConfig struct {
	Style       string
	LineNumbers bool
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:    ":8080",
			Metrics: true,
		},
		Paste: PasteConfig{
			MaxSize:    100 * 1024,
			DefaultTTL: 24 * time.Hour,
			MaxTTL:     30 * 24 * time.Hour,
			IDLength:   6,
			IDAttempts: 5,
		},
		Storage: StorageConfig{
			Backend:     BackendFilesystem,
			Dir:         "pastes",
			Path:        "clibin.db",
			RedisURL:    "redis://localhost:6379/0",
			RedisPrefix: "clibin:paste:",
		},
		Janitor: JanitorConfig{
			Interval: time.Hour,
		},
		Limit: LimitConfig{
			Requests: 10,
			Window:   time.Minute,
			Clients:  10000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Highlight: HighlightConfig{
			Style:       "monokai",
			LineNumbers: true,
		},
	}
}

// Load reads path (skipped if it does not exist), then .env in the working
// directory, then the environment, and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	file := ini.Empty()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			file, err = ini.Load(path)
			if err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("stat config file: %w", err)
		}
	}
	return FromINI(file, os.LookupEnv)
}

// FromINI applies file then environment overrides found through lookup on
// top of DefaultConfig.
func FromINI(file *ini.File, lookup func(string) (string, bool)) (*Config, error) {
	overlayEnv(file, lookup)
	cfg := DefaultConfig()
	if err := cfg.apply(file); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

var knownKeys = map[string][]string{
	"server":    {"addr", "base_url", "behind_proxy", "insecure_links", "metrics"},
	"paste":     {"max_size", "default_ttl", "max_ttl", "id_length", "id_attempts"},
	"storage":   {"backend", "dir", "path", "redis_url", "redis_prefix"},
	"janitor":   {"interval"},
	"limit":     {"requests", "window", "clients", "key_secret"},
	"log":       {"level", "format"},
	"highlight": {"style", "line_numbers"},
}

// EnvName returns the environment variable overriding section.key.
func EnvName(section, key string) string {
	return EnvPrefix + "_" + strings.ToUpper(section) + "_" + strings.ToUpper(key)
}

func overlayEnv(file *ini.File, lookup func(string) (string, bool)) {
	for section, keys := range knownKeys {
		for _, key := range keys {
			if v, ok := lookup(EnvName(section, key)); ok && v != "" {
				file.Section(section).Key(key).SetValue(v)
			}
		}
	}
}

func (c *Config) apply(file *ini.File) error {
	var p parser

	sec := file.Section("server")
	c.Server.Addr = p.str(sec, "addr", c.Server.Addr)
	c.Server.BaseURL = p.str(sec, "base_url", c.Server.BaseURL)
	c.Server.BehindProxy = p.boolean(sec, "behind_proxy", c.Server.BehindProxy)
	c.Server.InsecureLinks = p.boolean(sec, "insecure_links", c.Server.InsecureLinks)
	c.Server.Metrics = p.boolean(sec, "metrics", c.Server.Metrics)

	sec = file.Section("paste")
	c.Paste.MaxSize = p.integer(sec, "max_size", c.Paste.MaxSize)
	c.Paste.DefaultTTL = p.duration(sec, "default_ttl", c.Paste.DefaultTTL)
	c.Paste.MaxTTL = p.duration(sec, "max_ttl", c.Paste.MaxTTL)
	c.Paste.IDLength = p.integer(sec, "id_length", c.Paste.IDLength)
	c.Paste.IDAttempts = p.integer(sec, "id_attempts", c.Paste.IDAttempts)

	sec = file.Section("storage")
	c.Storage.Backend = strings.ToLower(p.str(sec, "backend", c.Storage.Backend))
	c.Storage.Dir = p.str(sec, "dir", c.Storage.Dir)
	c.Storage.Path = p.str(sec, "path", c.Storage.Path)
	c.Storage.RedisURL = p.str(sec, "redis_url", c.Storage.RedisURL)
	c.Storage.RedisPrefix = p.str(sec, "redis_prefix", c.Storage.RedisPrefix)

	sec = file.Section("janitor")
	c.Janitor.Interval = p.duration(sec, "interval", c.Janitor.Interval)

	sec = file.Section("limit")
	c.Limit.Requests = p.integer(sec, "requests", c.Limit.Requests)
	c.Limit.Window = p.duration(sec, "window", c.Limit.Window)
	c.Limit.Clients = p.integer(sec, "clients", c.Limit.Clients)
	c.Limit.KeySecret = p.str(sec, "key_secret", c.Limit.KeySecret)

	sec = file.Section("log")
	c.Log.Level = strings.ToLower(p.str(sec, "level", c.Log.Level))
	c.Log.Format = strings.ToLower(p.str(sec, "format", c.Log.Format))

	sec = file.Section("highlight")
	c.Highlight.Style = p.str(sec, "style", c.Highlight.Style)
	c.Highlight.LineNumbers = p.boolean(sec, "line_numbers", c.Highlight.LineNumbers)

	return p.err
}

// parser records the first malformed value instead of silently keeping the
// default the way ini's Must helpers do.
type parser struct {
	err error
}

func (p *parser) fail(sec *ini.Section, key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("[%s] %s: %w", sec.Name(), key, err)
	}
}

func (p *parser) str(sec *ini.Section, key, def string) string {
	if !sec.HasKey(key) {
		return def
	}
	return strings.TrimSpace(sec.Key(key).String())
}

func (p *parser) integer(sec *ini.Section, key string, def int) int {
	if !sec.HasKey(key) {
		return def
	}
	v, err := sec.Key(key).Int()
	if err != nil {
		p.fail(sec, key, err)
		return def
	}
	return v
}

func (p *parser) boolean(sec *ini.Section, key string, def bool) bool {
	if !sec.HasKey(key) {
		return def
	}
	v, err := sec.Key(key).Bool()
	if err != nil {
		p.fail(sec, key, err)
		return def
	}
	return v
}

// duration accepts Go durations ("90s", "2h") or plain seconds.
func (p *parser) duration(sec *ini.Section, key string, def time.Duration) time.Duration {
	if !sec.HasKey(key) {
		return def
	}
	k := sec.Key(key)
	if secs, err := k.Int64(); err == nil {
		return time.Duration(secs) * time.Second
	}
	v, err := k.Duration()
	if err != nil {
		p.fail(sec, key, err)
		return def
	}
	return v
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server addr must not be empty")
	}
	if c.Paste.MaxSize <= 0 {
		return fmt.Errorf("paste max_size must be positive, got %d", c.Paste.MaxSize)
	}
	if c.Paste.DefaultTTL <= 0 {
		return fmt.Errorf("paste default_ttl must be positive, got %s", c.Paste.DefaultTTL)
	}
	if c.Paste.MaxTTL < c.Paste.DefaultTTL {
		return fmt.Errorf("paste max_ttl %s is below default_ttl %s", c.Paste.MaxTTL, c.Paste.DefaultTTL)
	}
	if c.Paste.IDLength < 1 || c.Paste.IDLength > 10 {
		return fmt.Errorf("paste id_length must be between 1 and 10, got %d", c.Paste.IDLength)
	}
	if c.Paste.IDAttempts < 1 {
		return fmt.Errorf("paste id_attempts must be at least 1, got %d", c.Paste.IDAttempts)
	}

	switch c.Storage.Backend {
	case BackendFilesystem:
		if c.Storage.Dir == "" {
			return errors.New("storage dir must be set for the filesystem backend")
		}
	case BackendBolt, BackendSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path must be set for the %s backend", c.Storage.Backend)
		}
	case BackendRedis:
		if c.Storage.RedisURL == "" {
			return errors.New("storage redis_url must be set for the redis backend")
		}
	default:
		return fmt.Errorf("storage backend must be one of filesystem, bolt, sqlite, redis, got %q", c.Storage.Backend)
	}

	if c.Janitor.Interval <= 0 {
		return fmt.Errorf("janitor interval must be positive, got %s", c.Janitor.Interval)
	}
	if c.Limit.Requests < 0 {
		return fmt.Errorf("limit requests must not be negative, got %d", c.Limit.Requests)
	}
	if c.Limit.Requests > 0 {
		if c.Limit.Window <= 0 {
			return fmt.Errorf("limit window must be positive, got %s", c.Limit.Window)
		}
		if c.Limit.Clients < 1 {
			return fmt.Errorf("limit clients must be at least 1, got %d", c.Limit.Clients)
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log format must be text or json, got %q", c.Log.Format)
	}
	return nil
}
