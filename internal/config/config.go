package config

import (
	"errors"
	"time"
)

// DefaultJWTSecret is written to fresh config files. It must be replaced in production.
const DefaultJWTSecret = "change-me-in-production"

// Config holds server configuration values.
type Config struct {
	Env               string        `mapstructure:"env" yaml:"env"`
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL      time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`
	BcryptCost  int           `mapstructure:"bcrypt_cost" yaml:"bcrypt_cost"`

	// AuthTimeout bounds the wait for a WebSocket credential.
	AuthTimeout       time.Duration `mapstructure:"auth_timeout" yaml:"auth_timeout"`
	SendBuffer        int           `mapstructure:"send_buffer" yaml:"send_buffer"`
	MaxMessageBytes   int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	MessagesPerMinute int           `mapstructure:"messages_per_minute" yaml:"messages_per_minute"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Env:               "development",
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		LogFormat:         "console",
		DatabasePath:      "ychat.db",
		JWTSecret:         DefaultJWTSecret,
		JWTIssuer:         "ychat",
		JWTAudience:       "ychat",
		JWTTTL:            24 * time.Hour,
		BcryptCost:        10,
		AuthTimeout:       10 * time.Second,
		SendBuffer:        32,
		MaxMessageBytes:   64 << 10,
		MessagesPerMinute: 0,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Env != "" {
		c.Env = other.Env
	}
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
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.JWTSecret != "" {
		c.JWTSecret = other.JWTSecret
	}
	if other.JWTIssuer != "" {
		c.JWTIssuer = other.JWTIssuer
	}
	if other.JWTAudience != "" {
		c.JWTAudience = other.JWTAudience
	}
	if other.JWTTTL != 0 {
		c.JWTTTL = other.JWTTTL
	}
	if other.BcryptCost != 0 {
		c.BcryptCost = other.BcryptCost
	}
	if other.AuthTimeout != 0 {
		c.AuthTimeout = other.AuthTimeout
	}
	if other.SendBuffer != 0 {
		c.SendBuffer = other.SendBuffer
	}
	if other.MaxMessageBytes != 0 {
		c.MaxMessageBytes = other.MaxMessageBytes
	}
	if other.MessagesPerMinute != 0 {
		c.MessagesPerMinute = other.MessagesPerMinute
	}
}

// Validate reports settings the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt_secret must be set"))
	}
	if c.Env == "production" && c.JWTSecret == DefaultJWTSecret {
		errs = append(errs, errors.New("jwt_secret must be changed from the default in production"))
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		errs = append(errs, errors.New("log_format must be console or json"))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database_path must be set"))
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, errors.New("bcrypt_cost must be between 4 and 31"))
	}
	if c.AuthTimeout <= 0 {
		errs = append(errs, errors.New("auth_timeout must be positive"))
	}
	if c.SendBuffer < 1 {
		errs = append(errs, errors.New("send_buffer must be at least 1"))
	}
	if c.MessagesPerMinute < 0 {
		errs = append(errs, errors.New("messages_per_minute cannot be negative"))
	}
	return errors.Join(errs...)
}
