package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadFromEnv loads configuration overrides from environment variables
func LoadFromEnv(cfg *Config) {
	if listen := os.Getenv("TIERD_LISTEN"); listen != "" {
		cfg.Server.Listen = listen
	}

	if logLevel := os.Getenv("TIERD_LOG_LEVEL"); logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}

	// A database URL implies the postgres store
	if url := os.Getenv("TIERD_DATABASE_URL"); url != "" {
		cfg.Store.DatabaseURL = url
		cfg.Store.Driver = StorePostgres
	}

	if addr := os.Getenv("TIERD_REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}

	if enforced := os.Getenv("TIERD_ENCRYPTION_ENFORCED"); enforced != "" {
		if on, err := strconv.ParseBool(enforced); err == nil {
			cfg.Policy.EncryptionEnforced = on
		}
	}
}

// LoadDotEnv loads .env style files into the process environment. Missing
// files are ignored and variables that are already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// GetEnvOrDefault returns environment variable or default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
