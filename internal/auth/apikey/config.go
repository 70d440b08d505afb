package apikey

import (
	"errors"
	"fmt"
	"time"
)

// Store types.
const (
	StoreTypeMemory = "memory"
	StoreTypeRedis  = "redis"
	StoreTypeVault  = "vault"
	StoreTypeSQL    = "sql"
)

// Config represents API key verification configuration.
type Config struct {
	// Enabled enables API key verification.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Store configures where records live.
	Store StoreConfig `yaml:"store" json:"store"`

	// Hash tunes the supported hash algorithms.
	Hash HashConfig `yaml:"hash,omitempty" json:"hash,omitempty"`

	// Extraction configures where API keys are read from, in order.
	Extraction []ExtractionSource `yaml:"extraction,omitempty" json:"extraction,omitempty"`

	// Cache configures the verified identity cache.
	Cache CacheConfig `yaml:"cache,omitempty" json:"cache,omitempty"`
}

// StoreConfig configures the record store.
type StoreConfig struct {
	// Type is one of memory, redis, vault or sql.
	Type string `yaml:"type" json:"type"`

	// Records seeds the memory store.
	Records []*Record `yaml:"records,omitempty" json:"records,omitempty"`

	Redis *RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty"`
	Vault *VaultConfig `yaml:"vault,omitempty" json:"vault,omitempty"`
	SQL   *SQLConfig   `yaml:"sql,omitempty" json:"sql,omitempty"`

	// Timeout bounds a single store call.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Breaker tunes the store circuit breaker.
	Breaker BreakerConfig `yaml:"breaker,omitempty" json:"breaker,omitempty"`
}

// RedisConfig configures the Redis store.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL.
	URL         string        `yaml:"url" json:"url"`
	KeyPrefix   string        `yaml:"keyPrefix,omitempty" json:"keyPrefix,omitempty"`
	PoolSize    int           `yaml:"poolSize,omitempty" json:"poolSize,omitempty"`
	DialTimeout time.Duration `yaml:"dialTimeout,omitempty" json:"dialTimeout,omitempty"`
}

// VaultConfig configures the Vault KV v2 store.
type VaultConfig struct {
	Address   string        `yaml:"address,omitempty" json:"address,omitempty"`
	Token     string        `yaml:"token,omitempty" json:"-"`
	Namespace string        `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	Mount     string        `yaml:"mount" json:"mount"`
	Path      string        `yaml:"path,omitempty" json:"path,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// SQLConfig configures the PostgreSQL store.
type SQLConfig struct {
	DSN             string        `yaml:"dsn" json:"-"`
	MaxOpenConns    int           `yaml:"maxOpenConns,omitempty" json:"maxOpenConns,omitempty"`
	MaxIdleConns    int           `yaml:"maxIdleConns,omitempty" json:"maxIdleConns,omitempty"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime,omitempty" json:"connMaxLifetime,omitempty"`
}

// BreakerConfig is the YAML form of BreakerSettings.
type BreakerConfig struct {
	MinRequests  uint32        `yaml:"minRequests,omitempty" json:"minRequests,omitempty"`
	FailureRatio float64       `yaml:"failureRatio,omitempty" json:"failureRatio,omitempty"`
	OpenTimeout  time.Duration `yaml:"openTimeout,omitempty" json:"openTimeout,omitempty"`
	Interval     time.Duration `yaml:"interval,omitempty" json:"interval,omitempty"`
}

// Settings converts the config to breaker settings.
func (c BreakerConfig) Settings() BreakerSettings {
	return BreakerSettings{
		MinRequests:  c.MinRequests,
		FailureRatio: c.FailureRatio,
		OpenTimeout:  c.OpenTimeout,
		Interval:     c.Interval,
	}
}

// HashConfig tunes hash parameters. Zero values take the defaults.
type HashConfig struct {
	// Algorithm is used when issuing new keys.
	Algorithm HashAlgorithm `yaml:"algorithm,omitempty" json:"algorithm,omitempty"`
	Argon2    Argon2Params  `yaml:"argon2,omitempty" json:"argon2,omitempty"`
	Scrypt    ScryptParams  `yaml:"scrypt,omitempty" json:"scrypt,omitempty"`
}

// Hashers builds the hasher registry from the config.
func (c HashConfig) Hashers() Hashers {
	return NewHashers(NewArgon2idHasher(c.Argon2), NewScryptHasher(c.Scrypt))
}

// IssueHasher returns the hasher used for newly issued keys.
func (c HashConfig) IssueHasher() (Hasher, error) {
	return c.Hashers().Get(c.Algorithm)
}

// ExtractionSource represents a source for API key extraction.
type ExtractionSource struct {
	// Type is header or query.
	Type string `yaml:"type" json:"type"`

	// Name is the header or query parameter name.
	Name string `yaml:"name" json:"name"`

	// Prefix is stripped from header values.
	Prefix string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
}

// CacheConfig configures the verified identity cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	TTL     time.Duration `yaml:"ttl,omitempty" json:"ttl,omitempty"`
	MaxSize int           `yaml:"maxSize,omitempty" json:"maxSize,omitempty"`
}

// Validate validates the API key configuration.
func (c *Config) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}

	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if _, err := c.Hash.IssueHasher(); err != nil {
		return fmt.Errorf("hash: %w", err)
	}
	for i, src := range c.Extraction {
		if err := validateExtractionSource(src); err != nil {
			return fmt.Errorf("extraction[%d]: %w", i, err)
		}
	}
	if c.Cache.TTL < 0 {
		return errors.New("cache.ttl must be non-negative")
	}
	if c.Cache.MaxSize < 0 {
		return errors.New("cache.maxSize must be non-negative")
	}
	return nil
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	switch c.Type {
	case "", StoreTypeMemory:
		for i, rec := range c.Records {
			if err := rec.Validate(); err != nil {
				return fmt.Errorf("records[%d]: %w", i, err)
			}
		}
	case StoreTypeRedis:
		if c.Redis == nil || c.Redis.URL == "" {
			return errors.New("redis.url is required for redis store")
		}
	case StoreTypeVault:
		if c.Vault == nil || c.Vault.Mount == "" {
			return errors.New("vault.mount is required for vault store")
		}
	case StoreTypeSQL:
		if c.SQL == nil || c.SQL.DSN == "" {
			return errors.New("sql.dsn is required for sql store")
		}
	default:
		return fmt.Errorf("invalid store type: %s", c.Type)
	}

	if c.Timeout < 0 {
		return errors.New("timeout must be non-negative")
	}
	if c.Breaker.FailureRatio < 0 || c.Breaker.FailureRatio > 1 {
		return errors.New("breaker.failureRatio must be between 0 and 1")
	}
	return nil
}

func validateExtractionSource(src ExtractionSource) error {
	switch src.Type {
	case "header", "query":
	default:
		return fmt.Errorf("invalid extraction type: %s", src.Type)
	}
	if src.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

// DefaultConfig returns a default API key configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled: true,
		Store: StoreConfig{
			Type:    StoreTypeMemory,
			Timeout: DefaultStoreTimeout,
		},
		Hash: HashConfig{Algorithm: HashArgon2id},
		Extraction: []ExtractionSource{
			{Type: "header", Name: DefaultHeader},
			{Type: "query", Name: DefaultQueryParam},
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     DefaultCacheTTL,
			MaxSize: DefaultCacheSize,
		},
	}
}
