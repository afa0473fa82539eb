package config

import (
	"errors"
	"fmt"
	"time"
)

// WithPort sets the HTTP port
func WithPort(port string) Option {
	return func(c *Config) error {
		if port == "" {
			return errors.New("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the runtime environment
func WithEnvironment(env string) Option {
	return func(c *Config) error {
		c.Environment = env
		return nil
	}
}

// WithDatabase selects the object store. dbType is memory, postgres or
// sqlite; target is the URL or file path.
func WithDatabase(dbType, target string) Option {
	return func(c *Config) error {
		switch dbType {
		case DatabaseMemory:
			c.DatabaseURL = DatabaseMemory
		case DatabasePostgres:
			if target == "" {
				return errors.New("database url is required for postgres")
			}
			c.DatabaseURL = target
		case DatabaseSQLite:
			if target == "" {
				return errors.New("database path is required for sqlite")
			}
			c.DatabaseURL = "sqlite://" + target
		default:
			return fmt.Errorf("unsupported database type: %s", dbType)
		}
		return nil
	}
}

// WithStorage sets the blob storage URL
func WithStorage(storageURL string) Option {
	return func(c *Config) error {
		c.StorageURL = storageURL
		return nil
	}
}

// WithS3 replaces the S3 settings
func WithS3(s3 S3Config) Option {
	return func(c *Config) error {
		c.S3 = s3
		return nil
	}
}

// WithTempPath sets the root of the upload session workspaces
func WithTempPath(path string) Option {
	return func(c *Config) error {
		c.TempPath = path
		return nil
	}
}

// WithMaxPageSize bounds listing limits and store page sizes
func WithMaxPageSize(n int) Option {
	return func(c *Config) error {
		c.MaxPageSize = n
		return nil
	}
}

// WithMaxUploadSize caps the body of a file upload request
func WithMaxUploadSize(n int64) Option {
	return func(c *Config) error {
		c.MaxUploadSize = n
		return nil
	}
}

// WithJWT sets the token verification secret and algorithm
func WithJWT(secret, algorithm string) Option {
	return func(c *Config) error {
		c.JWTSecret = secret
		if algorithm != "" {
			c.JWTAlgorithm = algorithm
		}
		return nil
	}
}

// WithCleanup configures the background task runner
func WithCleanup(workers, queueSize int, timeout time.Duration) Option {
	return func(c *Config) error {
		c.CleanupWorkers = workers
		c.CleanupQueueSize = queueSize
		c.CleanupTimeout = timeout
		return nil
	}
}

// WithLogging sets the log level and format
func WithLogging(level, format string) Option {
	return func(c *Config) error {
		if level != "" {
			c.LogLevel = level
		}
		if format != "" {
			c.LogFormat = format
		}
		return nil
	}
}

// WithFlushOnStartup removes stale upload sessions when the server starts
func WithFlushOnStartup(enabled bool) Option {
	return func(c *Config) error {
		c.FlushOnStartup = enabled
		return nil
	}
}
