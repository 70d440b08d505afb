package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ErrParsingSettings wraps failures to read bootstrap settings.
var ErrParsingSettings = errors.New("failed to parse bootstrap settings")

// Settings are read from the environment before the configuration file
// and decide where that file is and how the process logs while loading it.
// Command line flags override them.
type Settings struct {
	ConfigPath string `env:"CONFIG_PATH" envDefault:"configs/authn.yaml"`
	LogLevel   string `env:"LOG_LEVEL"`
	LogFormat  string `env:"LOG_FORMAT"`
	Address    string `env:"LISTEN_ADDRESS"`
	DotEnvFile string `env:"DOTENV_FILE"`
}

// SettingsPrefix is prepended to every Settings variable.
const SettingsPrefix = "AVAUTHN_"

// LoadSettings reads Settings from the process environment, after loading
// an optional dotenv file.
func LoadSettings() (Settings, error) {
	if path := os.Getenv(SettingsPrefix + "DOTENV_FILE"); path != "" {
		if err := godotenv.Load(path); err != nil {
			return Settings{}, errors.Join(ErrParsingSettings, fmt.Errorf("dotenv %s: %w", path, err))
		}
	} else {
		// A missing ./.env is fine.
		_ = godotenv.Load()
	}
	return ParseSettings(nil)
}

// ParseSettings reads Settings from environ, or the process environment
// when environ is nil.
func ParseSettings(environ map[string]string) (Settings, error) {
	var s Settings
	opts := env.Options{Prefix: SettingsPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&s, opts); err != nil {
		return Settings{}, errors.Join(ErrParsingSettings, err)
	}
	return s, nil
}

// Apply overrides cfg with any non-empty settings.
func (s Settings) Apply(cfg *Config) {
	if s.LogLevel != "" {
		cfg.Logging.Level = s.LogLevel
	}
	if s.LogFormat != "" {
		cfg.Logging.Format = s.LogFormat
	}
	if s.Address != "" {
		cfg.Server.Address = s.Address
	}
}
