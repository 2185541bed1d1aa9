package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                    = "SCHOOLSYNC"
	defaultHTTPAddress           = "0.0.0.0:8080"
	defaultDatabasePath          = "schoolsync.db"
	defaultLogLevel              = "info"
	defaultTokenTTLMinutes       = 60
	defaultLockTTLSeconds        = 300
	defaultReaperIntervalSeconds = 5
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	SigningSecret  string
	DatabasePath   string
	LogLevel       string
	TokenTTL       time.Duration
	LockTTL        time.Duration
	ReaperInterval time.Duration
	RedisAddress   string
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
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("collab.lock_ttl_seconds", defaultLockTTLSeconds)
	configViper.SetDefault("collab.reaper_interval_seconds", defaultReaperIntervalSeconds)
	configViper.SetDefault("collab.redis_address", "")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		DatabasePath:   configViper.GetString("database.path"),
		LogLevel:       configViper.GetString("log.level"),
		TokenTTL:       time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		LockTTL:        time.Duration(configViper.GetInt("collab.lock_ttl_seconds")) * time.Second,
		ReaperInterval: time.Duration(configViper.GetInt("collab.reaper_interval_seconds")) * time.Second,
		RedisAddress:   strings.TrimSpace(configViper.GetString("collab.redis_address")),
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
	if c.LockTTL <= 0 {
		return fmt.Errorf("collab.lock_ttl_seconds must be positive")
	}
	if c.ReaperInterval <= 0 {
		return fmt.Errorf("collab.reaper_interval_seconds must be positive")
	}
	return nil
}
