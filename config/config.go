package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process-level settings read from the environment. Most
// runtime behavior is driven by the JSON config file (see Store); the
// environment only seeds the file on first run and tunes the HTTP server.
type Config struct {
	Port        string
	ConfigPath  string
	AICommand   string
	AllowedDirs []string

	HTTPIdleTimeout time.Duration
	AllowedOrigins  []string
}

func Load() *Config {
	godotenv.Load()
	godotenv.Load("../.env")

	return &Config{
		Port:        getEnv("PORT", ""),
		ConfigPath:  getEnv("CLICAST_CONFIG", defaultConfigPath()),
		AICommand:   getEnv("AI_COMMAND", ""),
		AllowedDirs: splitList(getEnv("ALLOWED_DIRS", "")),

		HTTPIdleTimeout: idleTimeout(getEnv("BUN_IDLE_TIMEOUT", "")),
		AllowedOrigins:  splitList(getEnv("ALLOWED_ORIGINS", "")),
	}
}

func defaultConfigPath() string {
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".clicast", "config.json")
	}
	if wd, err := os.Getwd(); err == nil {
		return filepath.Join(wd, "config.json")
	}
	return "config.json"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// idleTimeout parses BUN_IDLE_TIMEOUT (seconds) with a 120 s default.
func idleTimeout(s string) time.Duration {
	if s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 120 * time.Second
}

func splitList(s string) []string {
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
