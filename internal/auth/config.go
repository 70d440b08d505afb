package auth

import (
	"errors"
	"fmt"

	"github.com/vyrodovalexey/avauthn/internal/auth/apikey"
	"github.com/vyrodovalexey/avauthn/internal/auth/jwt"
)

// Config represents the authentication engine configuration.
type Config struct {
	// JWT configures JWT verification.
	JWT *jwt.Config `yaml:"jwt,omitempty" json:"jwt,omitempty"`

	// APIKey configures API key verification.
	APIKey *apikey.Config `yaml:"apiKey,omitempty" json:"apiKey,omitempty"`
}

// Validate validates the authentication configuration.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("auth config is required")
	}
	if !c.IsJWTEnabled() && !c.IsAPIKeyEnabled() {
		return errors.New("at least one of jwt or apiKey must be enabled")
	}
	if c.IsJWTEnabled() {
		if err := c.JWT.Validate(); err != nil {
			return fmt.Errorf("jwt config: %w", err)
		}
	}
	if c.IsAPIKeyEnabled() {
		if err := c.APIKey.Validate(); err != nil {
			return fmt.Errorf("apikey config: %w", err)
		}
	}
	return nil
}

// DefaultConfig returns a configuration with API keys enabled on an
// empty memory store and JWT disabled.
func DefaultConfig() *Config {
	return &Config{
		JWT:    jwt.DefaultConfig(),
		APIKey: apikey.DefaultConfig(),
	}
}

// IsJWTEnabled returns true if JWT authentication is enabled.
func (c *Config) IsJWTEnabled() bool {
	return c != nil && c.JWT != nil && c.JWT.Enabled
}

// IsAPIKeyEnabled returns true if API key authentication is enabled.
func (c *Config) IsAPIKeyEnabled() bool {
	return c != nil && c.APIKey != nil && c.APIKey.Enabled
}

// TrustsALBHeader reports whether the ALB header is read as a bearer
// source. It follows the JWT setting.
func (c *Config) TrustsALBHeader() bool {
	if c.JWT == nil {
		return jwt.DefaultConfig().TrustsALBHeader()
	}
	return c.JWT.TrustsALBHeader()
}
