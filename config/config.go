// Package config loads the control plane's configuration from environment
// variables, with an optional local .env file for development.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable named in the external interfaces table.
type Config struct {
	Port string

	AdminAPITokens []string
	InternalAPIToken string
	JWTSecret      string

	StateStoreURL   string
	CatalogStoreURL string

	MaxSongDuration  time.Duration
	MaxFileSize      int64
	DupWindow        int
	WatchdogInterval time.Duration
	PollInterval     time.Duration

	RecordingsDir string

	MixerUserQueueAddr     string
	MixerFallbackQueueAddr string
	MixerControlAddr       string
	MixerCaptureAddr       string
}

// Load reads configuration from the environment, loading a .env file first
// if one is present in the working directory (ivugurura-radio-studio's
// config-loading pattern), then applying the same getEnv/getEnvAsX
// defaulting helpers the teacher uses.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env file", "error", err)
	}

	return &Config{
		Port: getEnv("PORT", "8000"),

		AdminAPITokens:   splitCSV(getEnv("ADMIN_API_TOKEN", "")),
		InternalAPIToken: getEnv("INTERNAL_API_TOKEN", ""),
		JWTSecret:        getEnv("JWT_SECRET", "change-me-in-production-please"),

		StateStoreURL:   getEnv("STATE_STORE_URL", "redis://127.0.0.1:6379/0"),
		CatalogStoreURL: getEnv("CATALOG_STORE_URL", "./data/catalog.db"),

		MaxSongDuration:  getEnvAsDuration("MAX_SONG_DURATION", 30*time.Minute),
		MaxFileSize:      getEnvAsInt64("MAX_FILE_SIZE", 50<<20),
		DupWindow:        getEnvAsInt("DUP_WINDOW", 5),
		WatchdogInterval: getEnvAsDuration("WATCHDOG_INTERVAL", 10*time.Second),
		PollInterval:     getEnvAsDuration("POLL_INTERVAL", 1*time.Second),

		RecordingsDir: getEnv("RECORDINGS_DIR", "./data/recordings"),

		MixerUserQueueAddr:     getEnv("MIXER_USER_QUEUE_ADDR", "127.0.0.1:1234"),
		MixerFallbackQueueAddr: getEnv("MIXER_FALLBACK_QUEUE_ADDR", "127.0.0.1:1235"),
		MixerControlAddr:       getEnv("MIXER_CONTROL_ADDR", "127.0.0.1:1236"),
		MixerCaptureAddr:       getEnv("MIXER_CAPTURE_ADDR", "127.0.0.1:1237"),
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(name string, defaultVal int) int {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return defaultVal
}

func getEnvAsInt64(name string, defaultVal int64) int64 {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
			return value
		}
	}
	return defaultVal
}

func getEnvAsDuration(name string, defaultVal time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(name); exists {
		if secs, err := strconv.Atoi(valueStr); err == nil {
			return time.Duration(secs) * time.Second
		}
		if d, err := time.ParseDuration(valueStr); err == nil {
			return d
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
