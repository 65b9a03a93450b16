package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Environment variables
const (
	EnvFeeBps       = "FLASHARB_FEE_BPS"
	EnvMinProfitBps = "FLASHARB_MIN_PROFIT_BPS"
	EnvOwnerAddress = "FLASHARB_OWNER"
	EnvConfigPath   = "FLASHARB_CONFIG"
)

// LoadEnv loads environment variables from .env file
func LoadEnv() error {
	return godotenv.Load()
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
