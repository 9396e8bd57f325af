package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format"`

	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	JWT      JWTConfig      `mapstructure:"jwt" yaml:"jwt"`

	// MessageKey is the 32-byte AES key for messages at rest, hex encoded.
	MessageKey      string `mapstructure:"message_key" yaml:"message_key"`
	MaxMessageBytes int64  `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`

	RateLimit      RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
	AllowedOrigins []string        `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	Policy         PolicyConfig    `mapstructure:"policy" yaml:"policy"`
	S3             S3Config        `mapstructure:"s3" yaml:"s3"`
}

// DatabaseConfig selects the store driver.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	Path   string `mapstructure:"path" yaml:"path"`
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
}

// JWTConfig holds token settings. Required makes user:online demand a valid token.
type JWTConfig struct {
	Secret   string        `mapstructure:"secret" yaml:"secret"`
	Issuer   string        `mapstructure:"issuer" yaml:"issuer"`
	Audience string        `mapstructure:"audience" yaml:"audience"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
	Required bool          `mapstructure:"required" yaml:"required"`
}

// RateLimitConfig bounds inbound websocket events per connection.
type RateLimitConfig struct {
	EventsPerSecond float64 `mapstructure:"events_per_second" yaml:"events_per_second"`
	Burst           int     `mapstructure:"burst" yaml:"burst"`
}

// PolicyConfig toggles realtime authorization checks.
type PolicyConfig struct {
	RequireIdentity    bool `mapstructure:"require_identity" yaml:"require_identity"`
	RequireParticipant bool `mapstructure:"require_participant" yaml:"require_participant"`
}

// S3Config enables attachment presigning when Bucket is set.
type S3Config struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"`
	Region          string `mapstructure:"region" yaml:"region"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		LogFormat:         "console",
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			Path:   "dmchat.db",
		},
		JWT: JWTConfig{
			Issuer:   "dmchat",
			Audience: "dmchat-clients",
			TTL:      7 * 24 * time.Hour,
		},
		MaxMessageBytes: 64 * 1024,
		RateLimit: RateLimitConfig{
			EventsPerSecond: 20,
			Burst:           40,
		},
		AllowedOrigins: []string{"http://localhost:5173"},
		Policy: PolicyConfig{
			RequireParticipant: true,
		},
		S3: S3Config{
			Region: "us-east-1",
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.Database.Driver != "" {
		c.Database.Driver = other.Database.Driver
	}
	if other.Database.Path != "" {
		c.Database.Path = other.Database.Path
	}
	if other.Database.DSN != "" {
		c.Database.DSN = other.Database.DSN
	}
	if other.MessageKey != "" {
		c.MessageKey = other.MessageKey
	}
}

var (
	ErrInvalidMessageKey = errors.New("message_key must be 64 hex characters")
	ErrUnknownDriver     = errors.New("unknown database driver")
	ErrMissingDSN        = errors.New("database.dsn is required for postgres")
	ErrMissingJWTSecret  = errors.New("jwt.secret is required")
)

// Validate reports configuration that cannot be served.
func (c Config) Validate() error {
	key, err := hex.DecodeString(c.MessageKey)
	if err != nil || len(key) != 32 {
		return ErrInvalidMessageKey
	}
	switch c.Database.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if c.Database.DSN == "" {
			return ErrMissingDSN
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.Database.Driver)
	}
	if c.JWT.Secret == "" {
		return ErrMissingJWTSecret
	}
	return nil
}
