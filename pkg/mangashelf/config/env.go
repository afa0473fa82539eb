package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// WithDotEnv loads .env files into the process environment. Variables that
// are already set win; missing files are ignored.
func WithDotEnv(paths ...string) Option {
	return func(c *Config) error {
		if len(paths) == 0 {
			paths = []string{".env"}
		}
		for _, p := range paths {
			if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to load %s: %w", p, err)
			}
		}
		return nil
	}
}

// WithEnv applies environment variable overrides:
//
//	PORT, ENVIRONMENT, LOG_LEVEL, LOG_FORMAT
//	DATABASE_URL     memory | postgres://... | sqlite://path
//	STORAGE_URL      memory:// | file:///dir | s3://bucket
//	AWS_REGION, AWS_S3_ENDPOINT, AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY, ...
//	TEMP_PATH, MAX_PAGE_SIZE, MANGA_CACHE_SIZE, JPEG_QUALITY, MAX_UPLOAD_SIZE
//	JWT_SECRET, JWT_ALGORITHM
//	CLEANUP_WORKERS, CLEANUP_QUEUE_SIZE, CLEANUP_TIMEOUT, FLUSH_ON_STARTUP
func WithEnv() Option {
	return func(c *Config) error {
		if err := cleanenv.ReadEnv(c); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}
		return nil
	}
}

// WithFile reads a YAML, TOML, JSON or .env file; the environment still
// overrides values from the file.
func WithFile(path string) Option {
	return func(c *Config) error {
		if err := cleanenv.ReadConfig(path, c); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		return nil
	}
}

// Usage describes the environment variables understood by WithEnv
func Usage() string {
	var cfg Config
	text, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return ""
	}
	return text
}
