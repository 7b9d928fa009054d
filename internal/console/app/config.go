package app

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	APIBaseURL     string        // Required: base URL of the administration backend
	CredentialFile string        // Optional: path of the persisted credential (default: <user config dir>/panelauth/credential.json)
	Env            string        // Environment (dev, staging, prod) (default: dev)
	LogLevel       string        // Log level (debug, info, warn, error) (default: info)
	LogFormat      string        // Log format (json, text) (default: text)
	Lifetime       time.Duration // Optional: absolute session lifetime override (default: collaborator's expires_in)
	IdleTimeout    time.Duration // Optional: idle timeout used when the settings fetch fails
}

func LoadConfig() Config {
	cfg := Config{
		APIBaseURL:     getEnvOrDefault("PANEL_API_URL", "http://localhost:5000"),
		CredentialFile: os.Getenv("PANEL_CREDENTIAL_FILE"),
		Env:            getEnvOrDefault("ENV", "dev"),
		LogLevel:       getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:      getEnvOrDefault("LOG_FORMAT", "text"),
		Lifetime:       getEnvDurationOrDefault("PANEL_SESSION_LIFETIME", 0),
		IdleTimeout:    getEnvDurationOrDefault("PANEL_IDLE_TIMEOUT", 0),
	}

	if cfg.CredentialFile == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			cfg.CredentialFile = filepath.Join(dir, "panelauth", "credential.json")
		} else {
			cfg.CredentialFile = "credential.json"
		}
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are read as seconds.
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}
