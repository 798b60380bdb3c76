// Package config loads the proxy configuration: defaults, then an optional
// YAML file, then environment variables, then validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"registryproxy/internal/models"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load builds the configuration. Secrets are optional here: a route whose
// secret is missing reports that itself at request time.
func Load(configPath string) (*models.Config, error) {
	config := models.NewDefaultConfig()

	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	loadFromEnvironment(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// secretsInFile lists secret-bearing keys that should come from the
// environment rather than a config file.
type secretsInFile struct {
	GitHub struct {
		Token string `yaml:"token"`
	} `yaml:"github"`
	Search struct {
		APIKey string `yaml:"api_key"`
	} `yaml:"search"`
	Security struct {
		AdminToken string `yaml:"admin_token"`
	} `yaml:"security"`
}

// warnSecretsInFile logs a warning for each secret set in the YAML data. The
// values are still used.
func warnSecretsInFile(data []byte) {
	var s secretsInFile
	if err := yaml.Unmarshal(data, &s); err != nil {
		return
	}
	if s.GitHub.Token != "" {
		slog.Warn("Secret set in config file; prefer the GITHUB_TOKEN environment variable", "config_key", "github.token")
	}
	if s.Search.APIKey != "" {
		slog.Warn("Secret set in config file; prefer the NIA_API_KEY environment variable", "config_key", "search.api_key")
	}
	if s.Security.AdminToken != "" {
		slog.Warn("Secret set in config file; prefer the ADMIN_TOKEN environment variable", "config_key", "security.admin_token")
	}
}

func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	warnSecretsInFile(data)
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// lookup returns the first non-empty variable among names.
func lookup(names ...string) (string, bool) {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v, true
		}
	}
	return "", false
}

func setString(dst *string, names ...string) {
	if v, ok := lookup(names...); ok {
		*dst = v
	}
}

func setInt(dst *int, names ...string) {
	if v, ok := lookup(names...); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, names ...string) {
	if v, ok := lookup(names...); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, names ...string) {
	if v, ok := lookup(names...); ok {
		*dst = strings.ToLower(v) == "true"
	}
}

func setDuration(dst *time.Duration, names ...string) {
	if v, ok := lookup(names...); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func setList(dst *[]string, names ...string) {
	if v, ok := lookup(names...); ok {
		var items []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		if len(items) > 0 {
			*dst = items
		}
	}
}

// loadFromEnvironment applies PROXY_* overrides. The unprefixed secret names
// are also honored, and the PROXY_ name wins when both are set.
func loadFromEnvironment(config *models.Config) {
	// Server
	setInt(&config.Server.Port, "PROXY_PORT", "PORT")
	setString(&config.Server.Host, "PROXY_HOST")
	setDuration(&config.Server.ReadTimeout, "PROXY_READ_TIMEOUT")
	setDuration(&config.Server.WriteTimeout, "PROXY_WRITE_TIMEOUT")
	setDuration(&config.Server.IdleTimeout, "PROXY_IDLE_TIMEOUT")
	setBool(&config.Server.TLSEnabled, "PROXY_TLS_ENABLED")
	setString(&config.Server.TLSCertFile, "PROXY_TLS_CERT_FILE")
	setString(&config.Server.TLSKeyFile, "PROXY_TLS_KEY_FILE")
	if v, ok := lookup("PROXY_MAX_BODY_BYTES"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Server.MaxBodyBytes = n
		}
	}
	setBool(&config.Server.CORS.Enabled, "PROXY_CORS_ENABLED")
	setList(&config.Server.CORS.AllowedOrigins, "PROXY_CORS_ALLOWED_ORIGINS")
	setList(&config.Server.TrustedProxies, "PROXY_TRUSTED_PROXIES")

	// GitHub
	setString(&config.GitHub.Token, "PROXY_GITHUB_TOKEN", "GITHUB_TOKEN")
	setString(&config.GitHub.APIURL, "PROXY_GITHUB_API_URL")
	setString(&config.GitHub.UploadURL, "PROXY_GITHUB_UPLOAD_URL")
	setString(&config.GitHub.Owner, "PROXY_GITHUB_OWNER")
	setString(&config.GitHub.Repo, "PROXY_GITHUB_REPO")
	setString(&config.GitHub.Branch, "PROXY_GITHUB_BRANCH")
	setDuration(&config.GitHub.Timeout, "PROXY_GITHUB_TIMEOUT")

	// Registry and releases
	setString(&config.Registry.Backend, "PROXY_REGISTRY_BACKEND")
	setString(&config.Registry.DocumentPath, "PROXY_REGISTRY_DOCUMENT_PATH")
	setString(&config.Registry.FilePath, "PROXY_REGISTRY_FILE_PATH")
	setString(&config.Release.Backend, "PROXY_RELEASE_BACKEND")
	setDuration(&config.Release.Timeout, "PROXY_RELEASE_TIMEOUT")
	setString(&config.Release.S3.Bucket, "PROXY_RELEASE_S3_BUCKET")
	setString(&config.Release.S3.Region, "PROXY_RELEASE_S3_REGION", "AWS_REGION")
	setString(&config.Release.S3.Prefix, "PROXY_RELEASE_S3_PREFIX")
	setString(&config.Release.S3.Endpoint, "PROXY_RELEASE_S3_ENDPOINT")
	setString(&config.Release.S3.PublicBaseURL, "PROXY_RELEASE_S3_PUBLIC_BASE_URL")
	setBool(&config.Release.S3.UsePathStyle, "PROXY_RELEASE_S3_USE_PATH_STYLE")

	// Search
	setString(&config.Search.APIKey, "PROXY_SEARCH_API_KEY", "NIA_API_KEY")
	setString(&config.Search.BaseURL, "PROXY_SEARCH_BASE_URL", "NIA_API_URL")
	setDuration(&config.Search.Timeout, "PROXY_SEARCH_TIMEOUT")

	// Security
	setString(&config.Security.AdminToken, "PROXY_ADMIN_TOKEN", "ADMIN_TOKEN")
	setList(&config.Security.ClientMarkers, "PROXY_CLIENT_MARKERS")

	// Rate limiting
	setBool(&config.RateLimit.Enabled, "PROXY_RATE_LIMIT_ENABLED")
	setString(&config.RateLimit.Store, "PROXY_RATE_LIMIT_STORE")
	setBool(&config.RateLimit.FailOpen, "PROXY_RATE_LIMIT_FAIL_OPEN")
	setString(&config.RateLimit.Redis.Addr, "PROXY_REDIS_ADDR")
	setString(&config.RateLimit.Redis.Password, "PROXY_REDIS_PASSWORD")
	setInt(&config.RateLimit.Redis.DB, "PROXY_REDIS_DB")
	setString(&config.RateLimit.Database.DSN, "PROXY_DATABASE_DSN")
	setInt(&config.RateLimit.Routes.RegistryIndex.Limit, "PROXY_RATE_LIMIT_REGISTRY_INDEX")
	setInt(&config.RateLimit.Routes.SemanticSearch.Limit, "PROXY_RATE_LIMIT_SEMANTIC_SEARCH")
	setInt(&config.RateLimit.Routes.RegistryUpdate.Limit, "PROXY_RATE_LIMIT_REGISTRY_UPDATE")
	setInt(&config.RateLimit.Routes.RegistryPublish.Limit, "PROXY_RATE_LIMIT_REGISTRY_PUBLISH")

	// Index cache
	setBool(&config.IndexCache.Enabled, "PROXY_INDEX_CACHE_ENABLED")
	setDuration(&config.IndexCache.TTL, "PROXY_INDEX_CACHE_TTL")

	// Logging
	setString(&config.Logging.Level, "PROXY_LOG_LEVEL")
	setString(&config.Logging.Format, "PROXY_LOG_FORMAT")
	setString(&config.Logging.Output, "PROXY_LOG_OUTPUT")
	setString(&config.Logging.FilePath, "PROXY_LOG_FILE_PATH")

	// Metrics and tracing
	setBool(&config.Metrics.Enabled, "PROXY_METRICS_ENABLED")
	setString(&config.Metrics.Path, "PROXY_METRICS_PATH")
	setInt(&config.Metrics.Port, "PROXY_METRICS_PORT")
	setBool(&config.Observability.Tracing.Enabled, "PROXY_TRACING_ENABLED")
	setString(&config.Observability.Tracing.Exporter, "PROXY_TRACING_EXPORTER")
	setString(&config.Observability.Tracing.OTLPEndpoint, "PROXY_TRACING_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
	setFloat(&config.Observability.Tracing.SampleRate, "PROXY_TRACING_SAMPLE_RATE")
}

// SaveExample writes the default configuration as YAML with placeholder
// secrets.
func SaveExample(filePath string) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	config := models.NewDefaultConfig()
	config.GitHub.Token = "set-via-GITHUB_TOKEN"
	config.Search.APIKey = "set-via-NIA_API_KEY"
	config.Security.AdminToken = "set-via-ADMIN_TOKEN"
	config.Release.S3 = models.S3Config{
		Bucket:        "plgn-packs",
		Region:        "us-east-1",
		Prefix:        "releases",
		PublicBaseURL: "https://packs.example.com",
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
