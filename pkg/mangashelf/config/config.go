// Package config loads the server configuration and wires the stores,
// the catalog and the upload engine from it.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tendant/mangashelf/pkg/mangashelf"
	"github.com/tendant/mangashelf/pkg/mangashelf/catalog"
	"github.com/tendant/mangashelf/pkg/mangashelf/tasks"
	"github.com/tendant/mangashelf/pkg/mangashelf/upload"
)

// Database types derived from DatabaseURL
const (
	DatabaseMemory   = "memory"
	DatabasePostgres = "postgres"
	DatabaseSQLite   = "sqlite"
)

// Storage types derived from StorageURL
const (
	StorageMemory = "memory"
	StorageFS     = "fs"
	StorageS3     = "s3"
)

// Option applies configuration to a Config instance.
type Option func(*Config) error

// Config is the server configuration. Fields are read from the
// environment by WithEnv and from a YAML or TOML file by WithFile.
type Config struct {
	Port        string `yaml:"port" toml:"port" env:"PORT" env-default:"8080"`
	Environment string `yaml:"environment" toml:"environment" env:"ENVIRONMENT" env-default:"development"`
	LogLevel    string `yaml:"log_level" toml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	LogFormat   string `yaml:"log_format" toml:"log_format" env:"LOG_FORMAT" env-default:"text"`

	// memory | postgres://... | sqlite://path
	DatabaseURL string `yaml:"database_url" toml:"database_url" env:"DATABASE_URL" env-default:"memory"`
	// memory:// | file:///dir | s3://bucket
	StorageURL string   `yaml:"storage_url" toml:"storage_url" env:"STORAGE_URL" env-default:"memory://"`
	S3         S3Config `yaml:"s3" toml:"s3"`

	TempPath       string `yaml:"temp_path" toml:"temp_path" env:"TEMP_PATH"`
	MaxPageSize    int    `yaml:"max_page_size" toml:"max_page_size" env:"MAX_PAGE_SIZE" env-default:"100"`
	MangaCacheSize int    `yaml:"manga_cache_size" toml:"manga_cache_size" env:"MANGA_CACHE_SIZE" env-default:"256"`
	JPEGQuality    int    `yaml:"jpeg_quality" toml:"jpeg_quality" env:"JPEG_QUALITY" env-default:"90"`
	MaxUploadSize  int64  `yaml:"max_upload_size" toml:"max_upload_size" env:"MAX_UPLOAD_SIZE" env-default:"536870912"`

	JWTSecret    string `yaml:"jwt_secret" toml:"jwt_secret" env:"JWT_SECRET"`
	JWTAlgorithm string `yaml:"jwt_algorithm" toml:"jwt_algorithm" env:"JWT_ALGORITHM" env-default:"HS256"`

	CleanupWorkers   int           `yaml:"cleanup_workers" toml:"cleanup_workers" env:"CLEANUP_WORKERS" env-default:"4"`
	CleanupQueueSize int           `yaml:"cleanup_queue_size" toml:"cleanup_queue_size" env:"CLEANUP_QUEUE_SIZE" env-default:"256"`
	CleanupTimeout   time.Duration `yaml:"cleanup_timeout" toml:"cleanup_timeout" env:"CLEANUP_TIMEOUT" env-default:"5m"`
	FlushOnStartup   bool          `yaml:"flush_on_startup" toml:"flush_on_startup" env:"FLUSH_ON_STARTUP" env-default:"false"`
}

// S3Config holds the S3 settings used when StorageURL is s3://bucket.
type S3Config struct {
	Region                 string `yaml:"region" toml:"region" env:"AWS_REGION" env-default:"us-east-1"`
	Endpoint               string `yaml:"endpoint" toml:"endpoint" env:"AWS_S3_ENDPOINT"`
	AccessKeyID            string `yaml:"access_key_id" toml:"access_key_id" env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey        string `yaml:"secret_access_key" toml:"secret_access_key" env:"AWS_SECRET_ACCESS_KEY"`
	UsePathStyle           bool   `yaml:"use_path_style" toml:"use_path_style" env:"AWS_S3_USE_PATH_STYLE" env-default:"false"`
	EnableSSE              bool   `yaml:"enable_sse" toml:"enable_sse" env:"AWS_S3_ENABLE_SSE" env-default:"false"`
	SSEAlgorithm           string `yaml:"sse_algorithm" toml:"sse_algorithm" env:"AWS_S3_SSE_ALGORITHM" env-default:"AES256"`
	SSEKMSKeyID            string `yaml:"sse_kms_key_id" toml:"sse_kms_key_id" env:"AWS_S3_SSE_KMS_KEY_ID"`
	CreateBucketIfNotExist bool   `yaml:"create_bucket_if_not_exist" toml:"create_bucket_if_not_exist" env:"AWS_S3_CREATE_BUCKET" env-default:"false"`
}

// Load constructs a Config by applying the supplied options on top of the
// defaults, then validates it.
func Load(opts ...Option) (*Config, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaults() Config {
	return Config{
		Port:             "8080",
		Environment:      "development",
		LogLevel:         "info",
		LogFormat:        "text",
		DatabaseURL:      DatabaseMemory,
		StorageURL:       "memory://",
		S3:               S3Config{Region: "us-east-1", SSEAlgorithm: "AES256"},
		TempPath:         filepath.Join(os.TempDir(), "mangashelf"),
		MaxPageSize:      mangashelf.DefaultMaxPageSize,
		MangaCacheSize:   catalog.DefaultMangaCacheSize,
		JPEGQuality:      upload.DefaultJPEGQuality,
		MaxUploadSize:    upload.DefaultMaxUploadBytes,
		JWTAlgorithm:     "HS256",
		CleanupWorkers:   tasks.DefaultWorkers,
		CleanupQueueSize: tasks.DefaultQueueSize,
		CleanupTimeout:   tasks.DefaultTimeout,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}
	if _, _, err := c.Database(); err != nil {
		return err
	}
	if _, _, err := c.Storage(); err != nil {
		return err
	}
	if c.TempPath == "" {
		return errors.New("temp_path is required")
	}
	if c.MaxPageSize <= 0 {
		return errors.New("max_page_size must be positive")
	}
	if c.MangaCacheSize <= 0 {
		return errors.New("manga_cache_size must be positive")
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return errors.New("jpeg_quality must be between 1 and 100")
	}
	if c.MaxUploadSize <= 0 {
		return errors.New("max_upload_size must be positive")
	}
	if c.JWTAlgorithm != "HS256" && c.JWTAlgorithm != "HS384" && c.JWTAlgorithm != "HS512" {
		return fmt.Errorf("unsupported jwt_algorithm %q (use HS256, HS384 or HS512)", c.JWTAlgorithm)
	}
	if c.Environment == "production" && c.JWTSecret == "" {
		return errors.New("jwt_secret is required in production")
	}
	if c.CleanupWorkers <= 0 {
		return errors.New("cleanup_workers must be positive")
	}
	if c.CleanupQueueSize < 0 {
		return errors.New("cleanup_queue_size must not be negative")
	}
	if c.CleanupTimeout <= 0 {
		return errors.New("cleanup_timeout must be positive")
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported log_format %q (use text or json)", c.LogFormat)
	}
	return nil
}

// Database returns the database type and its connection target: the URL
// for postgres, the file path for sqlite.
func (c *Config) Database() (string, string, error) {
	raw := strings.TrimSpace(c.DatabaseURL)
	switch {
	case raw == "" || raw == DatabaseMemory || raw == "memory://":
		return DatabaseMemory, "", nil
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return DatabasePostgres, raw, nil
	case strings.HasPrefix(raw, "sqlite://"):
		path := strings.TrimPrefix(raw, "sqlite://")
		if path == "" {
			return "", "", errors.New("sqlite path cannot be empty in DATABASE_URL")
		}
		return DatabaseSQLite, path, nil
	}
	return "", "", fmt.Errorf("unsupported DATABASE_URL format: %s (use 'memory', 'postgres://...' or 'sqlite://path')", raw)
}

// Storage returns the storage type and its target: the base directory for
// fs, the bucket for s3.
func (c *Config) Storage() (string, string, error) {
	raw := strings.TrimSpace(c.StorageURL)
	if raw == "" || raw == StorageMemory || raw == "memory://" {
		return StorageMemory, "", nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid STORAGE_URL: %w", err)
	}
	switch u.Scheme {
	case "file":
		dir := u.Path
		if u.Host != "" {
			dir = filepath.Join(u.Host, u.Path)
		}
		if dir == "" {
			return "", "", errors.New("filesystem path cannot be empty in STORAGE_URL")
		}
		return StorageFS, dir, nil
	case "s3":
		if u.Host == "" {
			return "", "", errors.New("S3 bucket name cannot be empty in STORAGE_URL")
		}
		return StorageS3, u.Host, nil
	}
	return "", "", fmt.Errorf("unsupported STORAGE_URL format: %s (use 'memory://', 'file://...', or 's3://...')", raw)
}
