// Package config loads client settings from flags, COLLAB_* environment
// variables and an optional config.toml, and manages the credentials file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	configName = "config"
	configType = "toml"
	envPrefix  = "COLLAB"
	appDir     = "collabify"

	KeyRelayURL         = "relay_url"
	KeyAPIURL           = "api_url"
	KeyStore            = "store"
	KeyDatabaseDSN      = "database_dsn"
	KeyToken            = "token"
	KeyLogLevel         = "log_level"
	KeyCursorTTL        = "cursor_ttl"
	KeyReconnectRetries = "reconnect.retries"
	KeyReconnectDelay   = "reconnect.delay"
	KeyCredentials      = "credentials"
)

// Store backends.
const (
	StoreHTTP     = "http"
	StorePostgres = "postgres"
	StoreNone     = "none"
)

// Config is the resolved client configuration.
type Config struct {
	RelayURL    string
	APIURL      string
	Store       string
	DatabaseDSN string
	Token       string
	LogLevel    string
	CursorTTL   time.Duration

	ReconnectRetries int
	ReconnectDelay   time.Duration

	// CredentialsPath is where `login` stores the token.
	CredentialsPath string
}

// DefaultDir returns $XDG_CONFIG_HOME/collabify, falling back to the OS config dir.
func DefaultDir() (string, error) {
	if x := os.Getenv("XDG_CONFIG_HOME"); x != "" {
		return filepath.Join(x, appDir), nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config directory: %w", err)
	}
	return filepath.Join(base, appDir), nil
}

// SetDefaults registers defaults and environment binding on v.
func SetDefaults(v *viper.Viper, dir string) {
	v.SetDefault(KeyRelayURL, "ws://localhost:8080")
	v.SetDefault(KeyAPIURL, "http://localhost:8080")
	v.SetDefault(KeyStore, StoreHTTP)
	v.SetDefault(KeyDatabaseDSN, "")
	v.SetDefault(KeyToken, "")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyCursorTTL, 3*time.Second)
	v.SetDefault(KeyReconnectRetries, 0)
	v.SetDefault(KeyReconnectDelay, 2*time.Second)
	v.SetDefault(KeyCredentials, filepath.Join(dir, "credentials.toml"))

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load resolves configuration from v, reading config.toml from dir when present.
// A token absent from flags, env and config falls back to the credentials file.
func Load(v *viper.Viper, dir string) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v, dir)

	v.SetConfigName(configName)
	v.SetConfigType(configType)
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := Config{
		RelayURL:         v.GetString(KeyRelayURL),
		APIURL:           v.GetString(KeyAPIURL),
		Store:            strings.ToLower(v.GetString(KeyStore)),
		DatabaseDSN:      v.GetString(KeyDatabaseDSN),
		Token:            v.GetString(KeyToken),
		LogLevel:         v.GetString(KeyLogLevel),
		CursorTTL:        v.GetDuration(KeyCursorTTL),
		ReconnectRetries: v.GetInt(KeyReconnectRetries),
		ReconnectDelay:   v.GetDuration(KeyReconnectDelay),
		CredentialsPath:  v.GetString(KeyCredentials),
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	if cfg.Token == "" {
		creds, err := LoadCredentials(cfg.CredentialsPath)
		if err != nil {
			return Config{}, err
		}
		cfg.Token = creds.Token
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Store {
	case StoreHTTP, StoreNone:
	case StorePostgres:
		if c.DatabaseDSN == "" {
			return errors.New("config: store=postgres requires database_dsn")
		}
	default:
		return fmt.Errorf("config: unknown store %q", c.Store)
	}
	if c.RelayURL == "" {
		return errors.New("config: relay_url is empty")
	}
	if c.ReconnectRetries < 0 || c.ReconnectDelay < 0 {
		return errors.New("config: reconnect settings must not be negative")
	}
	return nil
}
