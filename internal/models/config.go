// Package models - Service configuration.
// This file defines the configuration tree for every proxy component.
//
// Configuration Philosophy:
// - Hierarchical configuration grouped by component (server, registry, release, search, ...)
// - Defaults that let the service start without a config file
// - Secrets are optional at load time; routes that need them degrade individually
// - Every section validates itself so misconfigurations surface at startup
package models

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"time"
)

// Document store backends
const (
	RegistryBackendGitHub = "github"
	RegistryBackendFile   = "file"
	RegistryBackendMemory = "memory"
)

// Release publisher backends
const (
	ReleaseBackendGitHub = "github"
	ReleaseBackendS3     = "s3"
	ReleaseBackendMemory = "memory"
)

// Rate limit event-log stores
const (
	RateLimitStoreMemory   = "memory"
	RateLimitStoreRedis    = "redis"
	RateLimitStoreSQLite   = "sqlite"
	RateLimitStorePostgres = "postgres"
)

// Logical endpoint names. Each one owns an independent rate-limit budget.
const (
	EndpointRegistryIndex   = "registry_index"
	EndpointSemanticSearch  = "semantic_search"
	EndpointRegistryUpdate  = "registry_update"
	EndpointRegistryPublish = "registry_publish"
)

// Config is the root configuration structure.
//
// Configuration Structure:
// - Server: HTTP listener, timeouts, CORS, body limits
// - GitHub: credentials and target repository shared by registry and release
// - Registry: where the registry index document lives
// - Release: where release artifacts are published
// - Search: semantic-search backend
// - Security: admin secret and recognized client markers
// - RateLimit: per-route sliding-window budgets and the event-log store
// - IndexCache: short-lived cache for public index reads
// - Logging, Metrics, Observability: ambient operational settings
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	GitHub        GitHubConfig        `yaml:"github" json:"github"`
	Registry      RegistryConfig      `yaml:"registry" json:"registry"`
	Release       ReleaseConfig       `yaml:"release" json:"release"`
	Search        SearchConfig        `yaml:"search" json:"search"`
	Security      SecurityConfig      `yaml:"security" json:"security"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" json:"rate_limit"`
	IndexCache    IndexCacheConfig    `yaml:"index_cache" json:"index_cache"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" json:"max_body_bytes"`
	CORS         CORSConfig    `yaml:"cors" json:"cors"`
	// TrustedProxies holds CIDR blocks or addresses whose X-Forwarded-For
	// and X-Real-IP headers are believed. Empty means the connection
	// address is the client identity.
	TrustedProxies []string `yaml:"trusted_proxies" json:"trusted_proxies"`
}

type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers"`
	MaxAge         int      `yaml:"max_age" json:"max_age"`
}

// GitHubConfig describes the repository that backs both the registry index
// and the release artifacts. Token is a secret and is never serialized to JSON.
type GitHubConfig struct {
	APIURL            string        `yaml:"api_url" json:"api_url"`
	UploadURL         string        `yaml:"upload_url" json:"upload_url"`
	Token             string        `yaml:"token" json:"-"`
	Owner             string        `yaml:"owner" json:"owner"`
	Repo              string        `yaml:"repo" json:"repo"`
	Branch            string        `yaml:"branch" json:"branch"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int           `yaml:"burst" json:"burst"`
}

type RegistryConfig struct {
	Backend      string `yaml:"backend" json:"backend"`
	DocumentPath string `yaml:"document_path" json:"document_path"`
	FilePath     string `yaml:"file_path" json:"file_path"`
}

type ReleaseConfig struct {
	Backend string        `yaml:"backend" json:"backend"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	S3      S3Config      `yaml:"s3" json:"s3"`
}

type S3Config struct {
	Bucket        string `yaml:"bucket" json:"bucket"`
	Region        string `yaml:"region" json:"region"`
	Prefix        string `yaml:"prefix" json:"prefix"`
	Endpoint      string `yaml:"endpoint" json:"endpoint"`
	PublicBaseURL string `yaml:"public_base_url" json:"public_base_url"`
	UsePathStyle  bool   `yaml:"use_path_style" json:"use_path_style"`
}

type SearchConfig struct {
	BaseURL string        `yaml:"base_url" json:"base_url"`
	APIKey  string        `yaml:"api_key" json:"-"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

type SecurityConfig struct {
	AdminToken    string   `yaml:"admin_token" json:"-"`
	ClientMarkers []string `yaml:"client_markers" json:"client_markers"`
}

// RouteLimit is a sliding-window budget: at most Limit events per Window.
type RouteLimit struct {
	Limit  int           `yaml:"limit" json:"limit"`
	Window time.Duration `yaml:"window" json:"window"`
}

type RouteLimits struct {
	RegistryIndex   RouteLimit `yaml:"registry_index" json:"registry_index"`
	SemanticSearch  RouteLimit `yaml:"semantic_search" json:"semantic_search"`
	RegistryUpdate  RouteLimit `yaml:"registry_update" json:"registry_update"`
	RegistryPublish RouteLimit `yaml:"registry_publish" json:"registry_publish"`
}

// ForEndpoint returns the configured limit for a logical endpoint name.
func (rl RouteLimits) ForEndpoint(endpoint string) (RouteLimit, bool) {
	switch endpoint {
	case EndpointRegistryIndex:
		return rl.RegistryIndex, true
	case EndpointSemanticSearch:
		return rl.SemanticSearch, true
	case EndpointRegistryUpdate:
		return rl.RegistryUpdate, true
	case EndpointRegistryPublish:
		return rl.RegistryPublish, true
	}
	return RouteLimit{}, false
}

type RateLimitConfig struct {
	Enabled         bool           `yaml:"enabled" json:"enabled"`
	Store           string         `yaml:"store" json:"store"`
	FailOpen        bool           `yaml:"fail_open" json:"fail_open"`
	CleanupInterval time.Duration  `yaml:"cleanup_interval" json:"cleanup_interval"`
	Redis           RedisConfig    `yaml:"redis" json:"redis"`
	Database        DatabaseConfig `yaml:"database" json:"database"`
	Routes          RouteLimits    `yaml:"routes" json:"routes"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"-"`
	DB        int    `yaml:"db" json:"db"`
	PoolSize  int    `yaml:"pool_size" json:"pool_size"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" json:"-"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

type IndexCacheConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	TTL     time.Duration `yaml:"ttl" json:"ttl"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration that matches the hosted proxy:
// GitHub-backed registry at PR0TO-IDE/plgn-registry, the Nia search backend,
// and the documented per-route budgets (100/50/10/10 per hour).
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 180 * time.Second,
			IdleTimeout:  60 * time.Second,
			MaxBodyBytes: 50 << 20,
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST"},
				AllowedHeaders: []string{"*"},
			},
		},
		GitHub: GitHubConfig{
			APIURL:            "https://api.github.com",
			UploadURL:         "https://uploads.github.com",
			Owner:             "PR0TO-IDE",
			Repo:              "plgn-registry",
			Timeout:           30 * time.Second,
			RequestsPerSecond: 10,
			Burst:             20,
		},
		Registry: RegistryConfig{
			Backend:      RegistryBackendGitHub,
			DocumentPath: "registry.json",
			FilePath:     "./data/registry.json",
		},
		Release: ReleaseConfig{
			Backend: ReleaseBackendGitHub,
			Timeout: 120 * time.Second,
		},
		Search: SearchConfig{
			BaseURL: "https://apigcp.trynia.ai/",
			Timeout: 10 * time.Second,
		},
		Security: SecurityConfig{
			ClientMarkers: []string{"plgn/", "plgn-cli"},
		},
		RateLimit: RateLimitConfig{
			Enabled:         true,
			Store:           RateLimitStoreMemory,
			FailOpen:        true,
			CleanupInterval: 5 * time.Minute,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				PoolSize:  10,
				KeyPrefix: "plgn-rate-limits",
			},
			Database: DatabaseConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    2,
				ConnMaxLifetime: 5 * time.Minute,
			},
			Routes: RouteLimits{
				RegistryIndex:   RouteLimit{Limit: 100, Window: time.Hour},
				SemanticSearch:  RouteLimit{Limit: 50, Window: time.Hour},
				RegistryUpdate:  RouteLimit{Limit: 10, Window: time.Hour},
				RegistryPublish: RouteLimit{Limit: 10, Window: time.Hour},
			},
		},
		IndexCache: IndexCacheConfig{
			Enabled: true,
			TTL:     30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "plgn-registry-proxy",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}
	if err := c.Registry.Validate(); err != nil {
		return fmt.Errorf("invalid registry config: %w", err)
	}
	if err := c.Release.Validate(); err != nil {
		return fmt.Errorf("invalid release config: %w", err)
	}
	if c.Registry.Backend == RegistryBackendGitHub || c.Release.Backend == ReleaseBackendGitHub {
		if err := c.GitHub.Validate(); err != nil {
			return fmt.Errorf("invalid github config: %w", err)
		}
	}
	if err := c.Search.Validate(); err != nil {
		return fmt.Errorf("invalid search config: %w", err)
	}
	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("invalid security config: %w", err)
	}
	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("invalid rate limit config: %w", err)
	}
	if err := c.IndexCache.Validate(); err != nil {
		return fmt.Errorf("invalid index cache config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}
	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}
	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}
	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}
	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 || sc.IdleTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}
	if sc.MaxBodyBytes <= 0 {
		return errors.New("max body bytes must be positive")
	}
	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}
	for _, p := range sc.TrustedProxies {
		if _, _, err := net.ParseCIDR(p); err == nil {
			continue
		}
		if net.ParseIP(p) == nil {
			return fmt.Errorf("invalid trusted proxy %q", p)
		}
	}
	return nil
}

// Validate checks the repository coordinates. The token is deliberately not
// required here: a missing token only disables the routes that need it.
func (gc *GitHubConfig) Validate() error {
	if gc.APIURL == "" {
		return errors.New("api url cannot be empty")
	}
	if gc.Owner == "" || gc.Repo == "" {
		return errors.New("owner and repo are required")
	}
	if gc.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if gc.RequestsPerSecond < 0 || gc.Burst < 0 {
		return errors.New("request rate cannot be negative")
	}
	return nil
}

func (rc *RegistryConfig) Validate() error {
	switch rc.Backend {
	case RegistryBackendGitHub:
		if rc.DocumentPath == "" {
			return errors.New("document path is required for github registry")
		}
	case RegistryBackendFile:
		if rc.FilePath == "" {
			return errors.New("file path is required for file registry")
		}
	case RegistryBackendMemory:
	default:
		return fmt.Errorf("invalid registry backend: %s", rc.Backend)
	}
	return nil
}

func (rc *ReleaseConfig) Validate() error {
	if rc.Timeout <= 0 {
		return errors.New("release timeout must be positive")
	}
	switch rc.Backend {
	case ReleaseBackendGitHub, ReleaseBackendMemory:
	case ReleaseBackendS3:
		if rc.S3.Bucket == "" {
			return errors.New("bucket is required for s3 releases")
		}
	default:
		return fmt.Errorf("invalid release backend: %s", rc.Backend)
	}
	return nil
}

func (sc *SearchConfig) Validate() error {
	if sc.BaseURL == "" {
		return errors.New("search base url cannot be empty")
	}
	if sc.Timeout <= 0 {
		return errors.New("search timeout must be positive")
	}
	return nil
}

func (sec *SecurityConfig) Validate() error {
	if len(sec.ClientMarkers) == 0 {
		return errors.New("at least one client marker is required")
	}
	for _, m := range sec.ClientMarkers {
		if m == "" {
			return errors.New("client markers cannot be empty")
		}
	}
	return nil
}

func (rl *RouteLimit) Validate() error {
	if rl.Limit <= 0 {
		return errors.New("limit must be positive")
	}
	if rl.Window <= 0 {
		return errors.New("window must be positive")
	}
	return nil
}

func (rc *RateLimitConfig) Validate() error {
	if !rc.Enabled {
		return nil
	}
	switch rc.Store {
	case RateLimitStoreMemory:
		if rc.CleanupInterval <= 0 {
			return errors.New("cleanup interval must be positive for memory store")
		}
	case RateLimitStoreRedis:
		if rc.Redis.Addr == "" {
			return errors.New("redis address is required when store is redis")
		}
	case RateLimitStoreSQLite, RateLimitStorePostgres:
		if rc.Database.DSN == "" {
			return errors.New("database DSN is required for database store")
		}
	default:
		return fmt.Errorf("invalid rate limit store: %s", rc.Store)
	}

	routes := map[string]RouteLimit{
		EndpointRegistryIndex:   rc.Routes.RegistryIndex,
		EndpointSemanticSearch:  rc.Routes.SemanticSearch,
		EndpointRegistryUpdate:  rc.Routes.RegistryUpdate,
		EndpointRegistryPublish: rc.Routes.RegistryPublish,
	}
	for name, route := range routes {
		if err := route.Validate(); err != nil {
			return fmt.Errorf("route %s: %w", name, err)
		}
	}
	return nil
}

func (ic *IndexCacheConfig) Validate() error {
	if ic.Enabled && ic.TTL <= 0 {
		return errors.New("cache TTL must be positive when enabled")
	}
	return nil
}

func (lc *LoggingConfig) Validate() error {
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, lc.Level) {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}
	if !slices.Contains([]string{"json", "text"}, lc.Format) {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}
	if !slices.Contains([]string{"stdout", "stderr", "file"}, lc.Output) {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}
	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}
	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}
	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}
	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}
	return nil
}

func (oc *ObservabilityConfig) Validate() error {
	if oc.ServiceName == "" {
		return errors.New("service name cannot be empty")
	}
	if !oc.Tracing.Enabled {
		return nil
	}
	switch oc.Tracing.Exporter {
	case "stdout":
	case "otlp":
		if oc.Tracing.OTLPEndpoint == "" {
			return errors.New("otlp endpoint is required for otlp exporter")
		}
	default:
		return fmt.Errorf("invalid trace exporter: %s", oc.Tracing.Exporter)
	}
	if oc.Tracing.SampleRate < 0 || oc.Tracing.SampleRate > 1 {
		return errors.New("sample rate must be between 0 and 1")
	}
	return nil
}
