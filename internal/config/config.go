// Package config loads daemon configuration from environment variables
// with sensible defaults. The .env bootstrap happens in main via
// godotenv before this package reads anything.
package config

import "os"

// Config holds the daemon configuration.
type Config struct {
	// HTTPAddr is the listen address for the API server.
	HTTPAddr string

	// DataDir is where the file-backed store keeps its keys.
	DataDir string

	// RedisAddr selects the Redis store backend when non-empty.
	RedisAddr string

	// SourcesPath points at an optional sources YAML file; empty uses the
	// built-in feed set.
	SourcesPath string

	// WarmCron is the cron spec for background cache warming.
	WarmCron string

	LogPath  string
	LogLevel string
}

// Load reads configuration from the environment.
func Load() *Config {
	return &Config{
		HTTPAddr:    getEnv("COINFEED_HTTP_ADDR", ":8090"),
		DataDir:     getEnv("COINFEED_DATA_DIR", "data"),
		RedisAddr:   getEnv("COINFEED_REDIS_ADDR", ""),
		SourcesPath: getEnv("COINFEED_SOURCES_FILE", ""),
		WarmCron:    getEnv("COINFEED_WARM_CRON", "*/5 * * * *"),
		LogPath:     getEnv("COINFEED_LOG_PATH", ""),
		LogLevel:    getEnv("COINFEED_LOG_LEVEL", "INFO"),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
