// Package config loads runtime configuration from config.yaml with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"

	"orgledger/internal/db"
)

// Config is the full runtime configuration.
type Config struct {
	Database db.Config
	// Backend selects the store implementation: postgres, sqlite or memory.
	Backend string
	// SQLitePath is the snapshot file used by the sqlite backend.
	SQLitePath string
	LogLevel   string
	// MetricsAddr is the listen address for the Prometheus endpoint.
	// Empty disables it.
	MetricsAddr string
}

// DefaultConfig returns the configuration used when nothing else is set.
func DefaultConfig() Config {
	return Config{
		Database:    db.DefaultConfig(),
		Backend:     "postgres",
		SQLitePath:  "orgledger.db",
		LogLevel:    "info",
		MetricsAddr: "",
	}
}

// Load reads config.yaml from configPath, falling back to defaults plus
// environment overrides (ORGLEDGER_DATABASE_HOST and friends).
func Load(configPath string) (Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("ORGLEDGER")

	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("backend")
	v.BindEnv("sqlite.path")
	v.BindEnv("log.level")
	v.BindEnv("metrics.addr")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		// No config.yaml: defaults plus env vars.
	}

	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("backend") {
		cfg.Backend = v.GetString("backend")
	}
	if v.IsSet("sqlite.path") {
		cfg.SQLitePath = v.GetString("sqlite.path")
	}
	if v.IsSet("log.level") {
		cfg.LogLevel = v.GetString("log.level")
	}
	if v.IsSet("metrics.addr") {
		cfg.MetricsAddr = v.GetString("metrics.addr")
	}

	switch cfg.Backend {
	case "postgres", "sqlite", "memory":
	default:
		return Config{}, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	return cfg, nil
}
