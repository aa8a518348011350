package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the process's own HTTP listener and shutdown.
// Duration fields are env-only (yaml:"-"): yaml.v3 unmarshals time.Duration
// as a plain int64 of nanoseconds, not a "30s"-style string, so exposing
// them to the YAML layer would invite a footgun; env vars go through
// envdecode, which parses duration strings correctly.
type ServerConfig struct {
	Port            int           `yaml:"port" env:"PORT"`
	RequestTimeout  time.Duration `yaml:"-" env:"REQUEST_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"-" env:"SHUTDOWN_TIMEOUT"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
}

// EndpointsConfig controls where the registry and resolver read their
// definitions from.
type EndpointsConfig struct {
	Root            string `yaml:"root" env:"ENDPOINTS_ROOT"`
	EnvironmentRoot string `yaml:"environment_root" env:"ENVIRONMENTS_ROOT"`
}

// SecretsConfig controls the remote secret-store lookup the environment
// resolver prefers before falling back to local settings files.
type SecretsConfig struct {
	StoreURI string `yaml:"store_uri" env:"SECRET_STORE_URI"`
	Token    string `yaml:"-" env:"SECRET_STORE_TOKEN"`
}

// AuthConfig controls bearer-token verification.
type AuthConfig struct {
	ServerKey     string `yaml:"-" env:"GATEWAY_SERVER_KEY"`
	TokenStoreDSN string `yaml:"-" env:"TOKEN_STORE_DSN"`
}

// ProxyConfig controls the outbound HTTP client shared by the proxy and
// composite executors.
type ProxyConfig struct {
	Timeout       time.Duration `yaml:"-" env:"PROXY_TIMEOUT"`
	OutboundRPS   int           `yaml:"outbound_rps" env:"PROXY_OUTBOUND_RPS"`
	OutboundBurst int           `yaml:"outbound_burst" env:"PROXY_OUTBOUND_BURST"`
}

// RateLimitConfig controls the HTTP-facing two-bucket limiter: an IP bucket
// every request consumes from, and a bearer-token bucket authenticated
// requests additionally consume from. Both share the same window.
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled" env:"RATE_LIMIT_ENABLED"`
	Requests      int           `yaml:"requests" env:"RATE_LIMIT_REQUESTS"`
	Window        time.Duration `yaml:"-" env:"RATE_LIMIT_WINDOW"`
	Burst         int           `yaml:"burst" env:"RATE_LIMIT_BURST"`
	TokenRequests int           `yaml:"token_requests" env:"RATE_LIMIT_TOKEN_REQUESTS"`
	TokenBurst    int           `yaml:"token_burst" env:"RATE_LIMIT_TOKEN_BURST"`
}

// GatewayConfig is the process-wide configuration for cmd/gateway, loaded
// from an optional YAML file (defaults layer) and then overlaid by
// environment variables: defaults < file < env.
type GatewayConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Endpoints EndpointsConfig `yaml:"endpoints"`
	Secrets   SecretsConfig   `yaml:"secrets"`
	Auth      AuthConfig      `yaml:"auth"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// NewGatewayConfig returns a GatewayConfig populated with the gateway's
// built-in defaults.
func NewGatewayConfig() *GatewayConfig {
	return &GatewayConfig{
		Server: ServerConfig{
			Port:            8080,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    8 << 20,
		},
		Endpoints: EndpointsConfig{
			Root:            "./endpoints",
			EnvironmentRoot: "./environments",
		},
		Proxy: ProxyConfig{
			Timeout:       30 * time.Second,
			OutboundRPS:   200,
			OutboundBurst: 400,
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			Requests:      100,
			Window:        time.Minute,
			Burst:         50,
			TokenRequests: 1000,
			TokenBurst:    200,
		},
	}
}

// LoadGatewayConfig builds a GatewayConfig from defaults, an optional YAML
// file named by CONFIG_FILE (or ./gateway.yaml if that file exists and
// CONFIG_FILE is unset), and finally environment variable overrides. Env
// vars always win, matching every other ambient-stack component's
// env-var-first convention.
func LoadGatewayConfig() (*GatewayConfig, error) {
	cfg := NewGatewayConfig()

	path := GetEnv("CONFIG_FILE", "")
	if path == "" {
		path = "gateway.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode errors when none of the tagged fields have a matching
		// env var set; that's the common case for local/dev runs relying
		// entirely on defaults or the YAML file, so it isn't fatal.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("config: decode env: %w", err)
		}
	}

	return cfg, nil
}
