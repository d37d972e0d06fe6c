// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (RAGCHAT_ prefix, plus DATABASE_URL)
//  2. Config file (config.yaml in the working directory, optional)
//  3. Default values
//
// Sensitive values (database password, token secret) are never logged.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Sentinel errors for configuration validation, checked with errors.Is().
var (
	// ErrMissingTokenSecret indicates the access-token signing secret is not set.
	ErrMissingTokenSecret = errors.New("missing token secret")

	// ErrTokenSecretTooShort indicates the signing secret is below the minimum length.
	ErrTokenSecretTooShort = errors.New("token secret too short")

	// ErrInvalidTokenExpiry indicates the token expiry is out of range.
	ErrInvalidTokenExpiry = errors.New("invalid token expiry")

	// ErrInvalidTopK indicates the retrieval width is out of range.
	ErrInvalidTopK = errors.New("invalid retrieval top_k")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is empty.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidModelName indicates the model name is empty.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidRateBurst indicates the per-client request burst is not positive.
	ErrInvalidRateBurst = errors.New("invalid rate burst")
)

const (
	// MinTokenSecretLength is the minimum byte length for the HS256 signing secret.
	MinTokenSecretLength = 32

	// MaxRetrievalTopK bounds the retrieval width to keep prompts small.
	MaxRetrievalTopK = 20
)

// Config holds all application configuration.
type Config struct {
	// Server
	ServerAddr string `mapstructure:"server_addr"`

	// PostgreSQL
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDBName   string `mapstructure:"postgres_dbname"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode"`

	// Access tokens
	TokenSecret        string `mapstructure:"token_secret"`
	TokenExpiryMinutes int    `mapstructure:"token_expiry_minutes"`

	// Retrieval and generation
	RetrievalTopK   int           `mapstructure:"retrieval_top_k"`
	ModelName       string        `mapstructure:"model_name"`
	EmbedderModel   string        `mapstructure:"embedder_model"`
	OllamaHost      string        `mapstructure:"ollama_host"`
	RetrieveTimeout time.Duration `mapstructure:"retrieve_timeout"`
	GenerateTimeout time.Duration `mapstructure:"generate_timeout"`

	// HTTP hardening
	TrustProxy bool `mapstructure:"trust_proxy"`
	RateBurst  int  `mapstructure:"rate_burst"`

	// Logging
	LogJSON  bool   `mapstructure:"log_json"`
	LogLevel string `mapstructure:"log_level"`
}

// Load reads configuration from defaults, an optional config.yaml and the
// environment. DATABASE_URL, when set, overrides the individual postgres_*
// settings.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server_addr", ":8000")
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "ragchat")
	v.SetDefault("postgres_password", "")
	v.SetDefault("postgres_dbname", "ragchat")
	v.SetDefault("postgres_sslmode", "disable")
	v.SetDefault("token_expiry_minutes", 30)
	v.SetDefault("retrieval_top_k", 3)
	v.SetDefault("model_name", "llama3.2")
	v.SetDefault("embedder_model", "nomic-embed-text")
	v.SetDefault("ollama_host", "http://localhost:11434")
	v.SetDefault("retrieve_timeout", 10*time.Second)
	v.SetDefault("generate_timeout", 60*time.Second)
	v.SetDefault("trust_proxy", false)
	v.SetDefault("rate_burst", 60)
	v.SetDefault("log_json", false)
	v.SetDefault("log_level", "info")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ragchat")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees keys viper already knows about. token_secret has no
	// default, so it must be bound explicitly for RAGCHAT_TOKEN_SECRET to land.
	if err := v.BindEnv("token_secret"); err != nil {
		return nil, fmt.Errorf("binding token_secret: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// No config file is fine; defaults and env apply.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration values and returns the first violation found.
func (c *Config) Validate() error {
	if c.TokenSecret == "" {
		return fmt.Errorf("%w: set RAGCHAT_TOKEN_SECRET", ErrMissingTokenSecret)
	}
	if len(c.TokenSecret) < MinTokenSecretLength {
		return fmt.Errorf("%w: need at least %d bytes, got %d",
			ErrTokenSecretTooShort, MinTokenSecretLength, len(c.TokenSecret))
	}
	if c.TokenExpiryMinutes <= 0 || c.TokenExpiryMinutes > 24*60 {
		return fmt.Errorf("%w: %d minutes (must be 1..1440)", ErrInvalidTokenExpiry, c.TokenExpiryMinutes)
	}
	if c.RetrievalTopK <= 0 || c.RetrievalTopK > MaxRetrievalTopK {
		return fmt.Errorf("%w: %d (must be 1..%d)", ErrInvalidTopK, c.RetrievalTopK, MaxRetrievalTopK)
	}
	if c.PostgresHost == "" {
		return ErrInvalidPostgresHost
	}
	if c.PostgresPort <= 0 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.ModelName == "" {
		return ErrInvalidModelName
	}
	if c.RateBurst <= 0 {
		return fmt.Errorf("%w: %d (must be positive)", ErrInvalidRateBurst, c.RateBurst)
	}
	return nil
}

// TokenExpiry returns the access-token lifetime as a duration.
func (c *Config) TokenExpiry() time.Duration {
	return time.Duration(c.TokenExpiryMinutes) * time.Minute
}
