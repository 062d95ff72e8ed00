package config

import (
	"os"
	"strconv"
)

// Settings is the process's environment-derived configuration (spec.md §6
// "Environment variables"). Unlike Config (the hot-reloadable YAML model
// overrides), Settings is read once at startup.
type Settings struct {
	Host string
	Port int

	AdminUsername string
	AdminPassword string

	ConfigDir string

	PoeBaseURL       string
	PoeFileUploadURL string

	MaxRequestSize int64

	URLCacheTTLSeconds int64
	URLCacheSizeMB     int64

	RateLimitMS int64

	LogLevel string
}

// LoadSettings reads Settings from the process environment, applying
// spec.md §6's defaults for anything unset.
func LoadSettings() Settings {
	return Settings{
		Host:               getEnv("HOST", "0.0.0.0"),
		Port:               int(getEnvInt("PORT", 8080)),
		AdminUsername:      getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:      getEnv("ADMIN_PASSWORD", "123456"),
		ConfigDir:          getEnv("CONFIG_DIR", "./"),
		PoeBaseURL:         os.Getenv("POE_BASE_URL"),
		PoeFileUploadURL:   os.Getenv("POE_FILE_UPLOAD_URL"),
		MaxRequestSize:     getEnvInt("MAX_REQUEST_SIZE", 1073741824),
		URLCacheTTLSeconds: getEnvInt("URL_CACHE_TTL_SECONDS", 259200),
		URLCacheSizeMB:     getEnvInt("URL_CACHE_SIZE_MB", 100),
		RateLimitMS:        getEnvInt("RATE_LIMIT_MS", 100),
		LogLevel:           getEnv("LOG_LEVEL", "debug"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
