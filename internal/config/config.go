// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	toml "github.com/pelletier/go-toml/v2"
)

// DefaultMaxBodySize is the body ceiling used when max_body_size is unset: 5mb
// counted in binary units.
const DefaultMaxBodySize SizeBytes = 5 * 1024 * 1024

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/aitrios-ingest/config.toml",
	"configs/config.toml",
}

// reservedPaths are served by the binary itself and cannot be used by the
// endpoint or the metrics handler.
var reservedPaths = []string{"/healthz", "/ingest/status"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	URL      string `kong:"name='url',help='Endpoint path (overrides config).',env='INGEST_URL'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	HTTP     HTTPConfig     `toml:"http"`
	Endpoint EndpointConfig `toml:"endpoint"`
	CORS     CORSConfig     `toml:"cors"`
	Flow     FlowConfig     `toml:"flow"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host      string          `toml:"host"`
	Port      int             `toml:"port"` // 0 means "use default" (1880); TOML cannot distinguish 0 from unset
	RateLimit RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// HTTPConfig holds settings of the route host.
type HTTPConfig struct {
	// NodeRoutes set to false serves no endpoint routes at all.
	NodeRoutes *bool `toml:"node_routes"`
}

// RoutesEnabled reports whether endpoint routes may be created.
func (h HTTPConfig) RoutesEnabled() bool {
	return h.NodeRoutes == nil || *h.NodeRoutes
}

// EndpointConfig configures the ingest endpoint.
type EndpointConfig struct {
	URL            string    `toml:"url"`
	SwaggerDoc     string    `toml:"swagger_doc"`
	MaxBodySize    SizeBytes `toml:"max_body_size"`
	MetricsEnabled bool      `toml:"metrics_enabled"`
	Hooks          []string  `toml:"hooks"`
}

// CORSConfig is the endpoint's cross-origin policy. It applies only when
// Enabled is set.
type CORSConfig struct {
	Enabled          bool     `toml:"enabled"`
	AllowOrigins     []string `toml:"allow_origins"`
	AllowMethods     []string `toml:"allow_methods"`
	AllowHeaders     []string `toml:"allow_headers"`
	ExposeHeaders    []string `toml:"expose_headers"`
	AllowCredentials bool     `toml:"allow_credentials"`
	MaxAge           int      `toml:"max_age"`
}

// FlowConfig configures the nodes wired behind the endpoint.
type FlowConfig struct {
	RespondStatus          int               `toml:"respond_status"`
	RespondHeaders         map[string]string `toml:"respond_headers"`
	EchoPayload            bool              `toml:"echo_payload"`
	Debug                  bool              `toml:"debug"`
	ForwardURL             string            `toml:"forward_url"`
	ForwardTimeoutSeconds  int               `toml:"forward_timeout_seconds"`
	ForwardIdleConnections int               `toml:"forward_idle_connections"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// SizeBytes is a byte count written either as a number or as a human size
// such as "5mb" or "512KiB".
type SizeBytes int64

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *SizeBytes) UnmarshalText(text []byte) error {
	n, err := humanize.ParseBytes(string(text))
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", text, err)
	}
	*s = SizeBytes(n)
	return nil
}

// String renders the size in IEC units.
func (s SizeBytes) String() string {
	return humanize.IBytes(uint64(s))
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/aitrios-ingest/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.URL != "" {
		c.Endpoint.URL = cli.URL
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

// validate checks field values. An empty endpoint.url is not an error here:
// the endpoint reports it when it is activated.
func (c *Config) validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}
	if c.Endpoint.MaxBodySize < 0 {
		return fmt.Errorf("endpoint.max_body_size must be non-negative; got %d", c.Endpoint.MaxBodySize)
	}

	if p := normalize(c.Endpoint.URL); p != "" {
		for _, reserved := range reservedPaths {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("endpoint.url %q conflicts with reserved route %q", c.Endpoint.URL, reserved)
			}
		}
	}

	if c.CORS.MaxAge < 0 {
		return fmt.Errorf("cors.max_age must be non-negative; got %d", c.CORS.MaxAge)
	}

	if s := c.Flow.RespondStatus; s != 0 && (s < 100 || s > 599) {
		return fmt.Errorf("flow.respond_status must be a valid HTTP status; got %d", s)
	}
	if c.Flow.ForwardURL != "" {
		u, err := url.Parse(c.Flow.ForwardURL)
		if err != nil {
			return fmt.Errorf("flow.forward_url is not a valid URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("flow.forward_url must use http or https; got %q", c.Flow.ForwardURL)
		}
		if u.Host == "" {
			return fmt.Errorf("flow.forward_url has no host; got %q", c.Flow.ForwardURL)
		}
	}
	if c.Flow.ForwardTimeoutSeconds < 0 {
		return fmt.Errorf("flow.forward_timeout_seconds must be non-negative; got %d", c.Flow.ForwardTimeoutSeconds)
	}
	if c.Flow.ForwardIdleConnections < 0 {
		return fmt.Errorf("flow.forward_idle_connections must be non-negative; got %d", c.Flow.ForwardIdleConnections)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		reserved := reservedPaths
		if u := normalize(c.Endpoint.URL); u != "" {
			reserved = append(reserved[:len(reserved):len(reserved)], u)
		}
		for _, r := range reserved {
			if p == r || strings.HasPrefix(p, r+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, r)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, RespondStatus, etc.), zero means "unset" because
// TOML cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 1880
	}
	if c.Endpoint.MaxBodySize == 0 {
		c.Endpoint.MaxBodySize = DefaultMaxBodySize
	}
	if len(c.CORS.AllowMethods) == 0 {
		c.CORS.AllowMethods = []string{"PUT", "OPTIONS"}
	}
	if c.Flow.RespondStatus == 0 {
		c.Flow.RespondStatus = 200
	}
	if c.Flow.ForwardTimeoutSeconds == 0 {
		c.Flow.ForwardTimeoutSeconds = 30
	}
	if c.Flow.ForwardIdleConnections == 0 {
		c.Flow.ForwardIdleConnections = 16
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// normalize gives p a leading slash and drops a trailing one; "" stays "".
func normalize(p string) string {
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if t := strings.TrimRight(p, "/"); t != "" {
		return t
	}
	return "/"
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
