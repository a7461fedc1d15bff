package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "LEXFLOW"
	defaultHTTPAddress  = "0.0.0.0:5000"
	defaultDatabasePath = "lexflow.db"
	defaultLogLevel     = "info"
	defaultBcryptCost   = 10
	defaultTokenTTLMin  = 30
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress  string
	DatabasePath string
	LogLevel     string
	BcryptCost   int

	// OwnerTokenSecret enables bearer-token ownership checks on the history
	// surface when non-empty. Left empty, the server trusts the client-supplied
	// owner exactly as the original deployment did.
	OwnerTokenSecret string
	OwnerTokenTTL    time.Duration
}

// OwnerTokensEnabled reports whether history routes must verify bearer tokens.
func (c AppConfig) OwnerTokensEnabled() bool {
	return strings.TrimSpace(c.OwnerTokenSecret) != ""
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.bcrypt_cost", defaultBcryptCost)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMin)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      configViper.GetString("http.address"),
		DatabasePath:     configViper.GetString("database.path"),
		LogLevel:         configViper.GetString("log.level"),
		BcryptCost:       configViper.GetInt("auth.bcrypt_cost"),
		OwnerTokenSecret: configViper.GetString("auth.signing_secret"),
		OwnerTokenTTL:    time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("auth.bcrypt_cost must be between 4 and 31")
	}
	if c.OwnerTokensEnabled() && c.OwnerTokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive when auth.signing_secret is set")
	}
	return nil
}
