package config

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

// ResolvePath picks the config file: flag value, then LEADSCOUT_CONFIG, then ./config.yaml.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv("LEADSCOUT_CONFIG"); env != "" {
		return env
	}
	return "config.yaml"
}

// LoadEnvFiles overlays .env and .env.local onto the process environment, in that order.
// Missing files are skipped. It returns the files that were loaded.
func LoadEnvFiles(logger *slog.Logger, files ...string) []string {
	if len(files) == 0 {
		files = []string{".env", ".env.local"}
	}
	loaded := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Overload(file); err != nil {
			logger.Warn("failed to load env file", "file", file, "error", err)
			continue
		}
		loaded = append(loaded, file)
	}
	if len(loaded) == 0 {
		logger.Debug("no local env files loaded; relying on process environment")
	} else {
		logger.Debug("loaded env files", "files", loaded)
	}
	return loaded
}
