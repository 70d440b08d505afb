package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/vyrodovalexey/avauthn/internal/auth"
	"github.com/vyrodovalexey/avauthn/internal/observability"
)

// Server defaults.
const (
	DefaultAddress         = ":8080"
	DefaultReadTimeout     = 5 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 15 * time.Second
	DefaultMetricsPath     = "/metrics"
)

// Throttle defaults.
const (
	DefaultThrottleRate       = 1.0
	DefaultThrottleBurst      = 10
	DefaultThrottleMaxClients = 10000
	DefaultThrottleTTL        = 10 * time.Minute
)

// Config is the service configuration file.
type Config struct {
	Server  ServerConfig               `yaml:"server" json:"server"`
	Auth    auth.Config                `yaml:"auth" json:"auth"`
	Logging observability.LogConfig    `yaml:"logging" json:"logging"`
	Tracing observability.TracerConfig `yaml:"tracing" json:"tracing"`
	Metrics MetricsConfig              `yaml:"metrics" json:"metrics"`
}

// ServerConfig configures the forward-auth HTTP listener.
type ServerConfig struct {
	Address         string        `yaml:"address" json:"address"`
	ReadTimeout     time.Duration `yaml:"readTimeout,omitempty" json:"readTimeout,omitempty"`
	WriteTimeout    time.Duration `yaml:"writeTimeout,omitempty" json:"writeTimeout,omitempty"`
	IdleTimeout     time.Duration `yaml:"idleTimeout,omitempty" json:"idleTimeout,omitempty"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout,omitempty" json:"shutdownTimeout,omitempty"`

	// TrustedProxies lists proxies whose X-Forwarded-For is believed
	// when resolving the client IP.
	TrustedProxies []string `yaml:"trustedProxies,omitempty" json:"trustedProxies,omitempty"`

	Throttle ThrottleConfig `yaml:"throttle,omitempty" json:"throttle,omitempty"`
}

// ThrottleConfig limits failed authentication attempts per client IP.
type ThrottleConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Rate is the sustained failures per second allowed per client.
	Rate float64 `yaml:"rate,omitempty" json:"rate,omitempty"`

	// Burst is the number of failures allowed at once.
	Burst int `yaml:"burst,omitempty" json:"burst,omitempty"`

	// MaxClients bounds the number of tracked clients.
	MaxClients int `yaml:"maxClients,omitempty" json:"maxClients,omitempty"`

	// TTL forgets a client this long after its last failure.
	TTL time.Duration `yaml:"ttl,omitempty" json:"ttl,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Path      string `yaml:"path,omitempty" json:"path,omitempty"`
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`
}

// DefaultConfig returns the configuration used when no file sets a value.
// Authentication has no default and must be configured.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         DefaultAddress,
			ReadTimeout:     DefaultReadTimeout,
			WriteTimeout:    DefaultWriteTimeout,
			IdleTimeout:     DefaultIdleTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
			Throttle: ThrottleConfig{
				Rate:       DefaultThrottleRate,
				Burst:      DefaultThrottleBurst,
				MaxClients: DefaultThrottleMaxClients,
				TTL:        DefaultThrottleTTL,
			},
		},
		Logging: observability.DefaultLogConfig(),
		Tracing: observability.TracerConfig{ServiceName: "avauthn", SamplingRate: 1},
		Metrics: MetricsConfig{Enabled: true, Path: DefaultMetricsPath, Namespace: "authn"},
	}
}

// applyDefaults fills zero values left by the file.
func (c *Config) applyDefaults() {
	def := DefaultConfig()

	if c.Server.Address == "" {
		c.Server.Address = def.Server.Address
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = def.Server.ReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = def.Server.WriteTimeout
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = def.Server.IdleTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}

	t := &c.Server.Throttle
	if t.Rate == 0 {
		t.Rate = def.Server.Throttle.Rate
	}
	if t.Burst == 0 {
		t.Burst = def.Server.Throttle.Burst
	}
	if t.MaxClients == 0 {
		t.MaxClients = def.Server.Throttle.MaxClients
	}
	if t.TTL == 0 {
		t.TTL = def.Server.Throttle.TTL
	}

	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
	if c.Logging.Output == "" {
		c.Logging.Output = def.Logging.Output
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = def.Tracing.ServiceName
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = def.Metrics.Path
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = def.Metrics.Namespace
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return errors.New("tracing: samplingRate must be between 0 and 1")
	}
	if c.Tracing.Enabled && c.Tracing.OTLPEndpoint == "" {
		return errors.New("tracing: otlpEndpoint is required when tracing is enabled")
	}
	if c.Metrics.Enabled && (c.Metrics.Path == "" || c.Metrics.Path[0] != '/') {
		return fmt.Errorf("metrics: path must start with /: %q", c.Metrics.Path)
	}
	return nil
}

// Validate validates the server section.
func (c *ServerConfig) Validate() error {
	if c.Address == "" {
		return errors.New("address is required")
	}
	for name, d := range map[string]time.Duration{
		"readTimeout":     c.ReadTimeout,
		"writeTimeout":    c.WriteTimeout,
		"idleTimeout":     c.IdleTimeout,
		"shutdownTimeout": c.ShutdownTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("%s must be non-negative", name)
		}
	}
	if err := c.Throttle.Validate(); err != nil {
		return fmt.Errorf("throttle: %w", err)
	}
	return nil
}

// Validate validates the throttle section.
func (c *ThrottleConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Rate <= 0 {
		return errors.New("rate must be positive")
	}
	if c.Burst <= 0 {
		return errors.New("burst must be positive")
	}
	if c.MaxClients <= 0 {
		return errors.New("maxClients must be positive")
	}
	if c.TTL < 0 {
		return errors.New("ttl must be non-negative")
	}
	return nil
}
