// Package config loads process configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds process-level configuration. Runtime knobs live in the
// settings repository; this is only what must exist before databases open.
type Config struct {
	DataDir  string
	LocksDir string
	Port     int
	LogLevel string

	// Broker API credentials.
	TradernetPublicKey string
	TradernetSecretKey string
	TradernetBaseURL   string

	// Cloudflare R2 (S3-compatible) backup target.
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2Bucket          string

	// Live trading switch. When false every order is logged, not sent.
	LiveTrading bool
}

// Load reads configuration from the environment. A missing .env file is
// not an error.
func Load() *Config {
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "./data")

	return &Config{
		DataDir:  dataDir,
		LocksDir: getEnv("LOCKS_DIR", dataDir+"/locks"),
		Port:     getEnvAsInt("PORT", 8090),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		TradernetPublicKey: getEnv("TRADERNET_PUBLIC_KEY", ""),
		TradernetSecretKey: getEnv("TRADERNET_SECRET_KEY", ""),
		TradernetBaseURL:   getEnv("TRADERNET_BASE_URL", "https://tradernet.com"),

		R2AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2Bucket:          getEnv("R2_BUCKET", "helmsman-backups"),

		LiveTrading: getEnvAsBool("LIVE_TRADING", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
