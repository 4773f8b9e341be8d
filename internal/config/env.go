// internal/config/env.go
package config

import (
	"os"
	"strconv"
)

// LoadFromEnv overrides configuration from environment variables.
func LoadFromEnv(cfg *Config) {
	if port := os.Getenv("SHADOWER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if logLevel := os.Getenv("SHADOWER_LOG_LEVEL"); logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}

	if host := os.Getenv("SHADOWER_DB_HOST"); host != "" {
		cfg.Database.Host = host
	}
	if port := os.Getenv("SHADOWER_DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Database.Port = p
		}
	}
	if name := os.Getenv("SHADOWER_DB_NAME"); name != "" {
		cfg.Database.Database = name
	}
	if user := os.Getenv("SHADOWER_DB_USER"); user != "" {
		cfg.Database.User = user
	}
	if pass := os.Getenv("SHADOWER_DB_PASSWORD"); pass != "" {
		cfg.Database.Password = pass
	}
	if ssl := os.Getenv("SHADOWER_DB_SSLMODE"); ssl != "" {
		cfg.Database.SSLMode = ssl
	}
}

// GetEnvOrDefault returns an environment variable or a default value.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
