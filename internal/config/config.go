// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"

	opsdeck "github.com/veslov/opsdeck/internal"
)

// Config is the top-level dashboard data-plane configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Cache     CacheConfig     `yaml:"cache"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Defaults  PanelDefaults   `yaml:"defaults"`
	Panels    []PanelEntry    `yaml:"panels"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds SQLite settings for the fallback cache.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// UpstreamConfig points at the backend ops API.
type UpstreamConfig struct {
	BaseURL   string        `yaml:"base_url"`
	AuthToken string        `yaml:"auth_token"` // bearer token; usually ${OPSDECK_UPSTREAM_TOKEN}
	Timeout   time.Duration `yaml:"timeout"`
}

// CacheConfig holds volatile cache settings.
type CacheConfig struct {
	MaxSize int `yaml:"max_size"`
}

// BreakerConfig holds upstream circuit breaker settings.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// PanelDefaults carries the freshness tuning applied to panels that do not
// override it.
type PanelDefaults struct {
	FreshTTL         time.Duration `yaml:"fresh_ttl"`
	FallbackTTL      time.Duration `yaml:"fallback_ttl"`
	MinFetchInterval time.Duration `yaml:"min_fetch_interval"`
	AutoRefresh      time.Duration `yaml:"auto_refresh"`
}

// PanelEntry is a panel definition in the config file. Zero duration fields
// inherit the configured defaults; AutoRefresh is a pointer so a panel can
// explicitly disable periodic reloads with 0.
type PanelEntry struct {
	Name     string            `yaml:"name"`
	Resource string            `yaml:"resource"`
	Kind     string            `yaml:"kind"`
	Params   map[string]string `yaml:"params"`

	FreshTTL         time.Duration  `yaml:"fresh_ttl"`
	FallbackTTL      time.Duration  `yaml:"fallback_ttl"`
	MinFetchInterval time.Duration  `yaml:"min_fetch_interval"`
	AutoRefresh      *time.Duration `yaml:"auto_refresh"`
}

var kinds = map[string]opsdeck.Kind{
	"log_analysis":     opsdeck.KindLogAnalysis,
	"inspections":      opsdeck.KindInspections,
	"server_resources": opsdeck.KindResources,
	"current_status":   opsdeck.KindStatus,
}

// ResolvePanels validates the panel entries and fills unset tuning fields
// from the defaults.
func (c *Config) ResolvePanels() ([]opsdeck.Panel, error) {
	seen := make(map[string]bool, len(c.Panels))
	panels := make([]opsdeck.Panel, 0, len(c.Panels))
	for _, e := range c.Panels {
		if e.Name == "" {
			return nil, fmt.Errorf("panel with empty name")
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("duplicate panel %q", e.Name)
		}
		seen[e.Name] = true
		if e.Resource == "" {
			return nil, fmt.Errorf("panel %q: empty resource", e.Name)
		}
		kind, ok := kinds[e.Kind]
		if !ok {
			return nil, fmt.Errorf("panel %q: unknown kind %q", e.Name, e.Kind)
		}

		p := opsdeck.Panel{
			Name:             e.Name,
			Resource:         e.Resource,
			Kind:             kind,
			Params:           e.Params,
			FreshTTL:         orDefault(e.FreshTTL, c.Defaults.FreshTTL),
			FallbackTTL:      orDefault(e.FallbackTTL, c.Defaults.FallbackTTL),
			MinFetchInterval: orDefault(e.MinFetchInterval, c.Defaults.MinFetchInterval),
			AutoRefresh:      c.Defaults.AutoRefresh,
		}
		if e.AutoRefresh != nil {
			p.AutoRefresh = *e.AutoRefresh
		}
		panels = append(panels, p)
	}
	return panels, nil
}

func orDefault(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			DSN: "opsdeck.db",
		},
		Upstream: UpstreamConfig{
			Timeout: 10 * time.Second,
		},
		Cache: CacheConfig{
			MaxSize: 1_000,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 3,
			OpenTimeout:      30 * time.Second,
		},
		Defaults: PanelDefaults{
			FreshTTL:         30 * time.Second,
			FallbackTTL:      10 * time.Minute,
			MinFetchInterval: 5 * time.Second,
			AutoRefresh:      60 * time.Second,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
