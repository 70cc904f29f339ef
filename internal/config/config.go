package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "NESTNOTES"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "nestnotes.db"
	defaultLogLevel     = "info"
	defaultTokenTTLMins = 1440
	defaultBcryptCost   = 12
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress   string
	CORSOrigins   []string
	DatabasePath  string
	SigningSecret string
	TokenTTL      time.Duration
	BcryptCost    int
	LogLevel      string
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
	configViper.SetDefault("http.cors_origins", "")
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMins)
	configViper.SetDefault("auth.bcrypt_cost", defaultBcryptCost)
	configViper.SetDefault("log.level", defaultLogLevel)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		CORSOrigins:   splitOrigins(configViper.GetString("http.cors_origins")),
		DatabasePath:  configViper.GetString("database.path"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		TokenTTL:      time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		BcryptCost:    configViper.GetInt("auth.bcrypt_cost"),
		LogLevel:      configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	return nil
}

// splitOrigins parses a comma separated origin list. An empty list means the
// server allows any origin.
func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		origins = append(origins, trimmed)
	}
	return origins
}
