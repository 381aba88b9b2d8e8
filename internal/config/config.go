package config

import (
	"fmt"
	"strings"
)

// Config represents the complete library configuration
type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	Query   QueryConfig   `mapstructure:"query"`
	Remote  RemoteConfig  `mapstructure:"remote"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// StorageConfig controls how tables are written
type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
	// TempDir holds scratch tables; any protocol path is accepted
	// (e.g. "mem://scratch").
	TempDir         string `mapstructure:"temp_dir"`
	BlockRows       int    `mapstructure:"block_rows"`       // rows per storage block
	DefaultSegments int    `mapstructure:"default_segments"` // segments per new table
	Compression     string `mapstructure:"compression"`      // none, snappy, lz4, zstd
	FormatVersion   int    `mapstructure:"format_version"`   // 1 = legacy, 2 = current
}

// QueryConfig controls plan optimization and materialization
type QueryConfig struct {
	MaxIterations       int  `mapstructure:"max_iterations"`
	DisableOptimization bool `mapstructure:"disable_optimization"`
	Workers             int  `mapstructure:"workers"` // 0 = GOMAXPROCS
	NaiveMaterialize    bool `mapstructure:"naive_materialize"`
}

// RemoteConfig configures object-store protocols
type RemoteConfig struct {
	S3    S3Config    `mapstructure:"s3"`
	MinIO MinIOConfig `mapstructure:"minio"`
}

type S3Config struct {
	Enabled        bool   `mapstructure:"enabled"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

type MinIOConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, or file path
	TimeFormat string `mapstructure:"time_format"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}
	if err := c.Query.Validate(); err != nil {
		return fmt.Errorf("query config: %w", err)
	}
	if err := c.Remote.Validate(); err != nil {
		return fmt.Errorf("remote config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// Validate validates storage configuration
func (c *StorageConfig) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.TempDir == "" {
		return fmt.Errorf("temp_dir is required")
	}
	if c.BlockRows < 1 {
		return fmt.Errorf("block_rows must be positive")
	}
	if c.DefaultSegments < 1 {
		return fmt.Errorf("default_segments must be positive")
	}
	switch strings.ToLower(c.Compression) {
	case "none", "snappy", "lz4", "zstd":
	default:
		return fmt.Errorf("compression must be one of: none, snappy, lz4, zstd")
	}
	if c.FormatVersion != 1 && c.FormatVersion != 2 {
		return fmt.Errorf("format_version must be 1 or 2")
	}
	return nil
}

// Validate validates query configuration
func (c *QueryConfig) Validate() error {
	if c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be positive")
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers cannot be negative")
	}
	return nil
}

// Validate validates remote storage configuration
func (c *RemoteConfig) Validate() error {
	if c.MinIO.Enabled && c.MinIO.Endpoint == "" {
		return fmt.Errorf("minio.endpoint is required when minio is enabled")
	}
	return nil
}

// Validate validates logging configuration
func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	switch c.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be 'json' or 'console'")
	}
	return nil
}
