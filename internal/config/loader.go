package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load loads configuration from file, environment (SFRAME_*) and defaults
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("sframe")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/sframe")
	}

	setDefaults(v)

	v.SetEnvPrefix("SFRAME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return parseConfig(v)
}

func defaultTempDir() string {
	return filepath.Join(os.TempDir(), "sframe")
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("storage.data_dir", d.Storage.DataDir)
	v.SetDefault("storage.temp_dir", d.Storage.TempDir)
	v.SetDefault("storage.block_rows", d.Storage.BlockRows)
	v.SetDefault("storage.default_segments", d.Storage.DefaultSegments)
	v.SetDefault("storage.compression", d.Storage.Compression)
	v.SetDefault("storage.format_version", d.Storage.FormatVersion)

	v.SetDefault("query.max_iterations", d.Query.MaxIterations)
	v.SetDefault("query.disable_optimization", d.Query.DisableOptimization)
	v.SetDefault("query.workers", d.Query.Workers)
	v.SetDefault("query.naive_materialize", d.Query.NaiveMaterialize)

	v.SetDefault("remote.s3.enabled", false)
	v.SetDefault("remote.s3.region", "")
	v.SetDefault("remote.s3.endpoint", "")
	v.SetDefault("remote.s3.force_path_style", false)
	v.SetDefault("remote.minio.enabled", false)
	v.SetDefault("remote.minio.endpoint", "")
	v.SetDefault("remote.minio.access_key", "")
	v.SetDefault("remote.minio.secret_key", "")
	v.SetDefault("remote.minio.use_ssl", false)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output_path", d.Logging.OutputPath)
	v.SetDefault("logging.time_format", d.Logging.TimeFormat)
}

// parseConfig parses viper config into Config struct
func parseConfig(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from file or returns default config
func LoadOrDefault(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		return DefaultConfig()
	}
	return cfg
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir:         "./data",
			TempDir:         defaultTempDir(),
			BlockRows:       4096,
			DefaultSegments: 4,
			Compression:     "snappy",
			FormatVersion:   2,
		},
		Query: QueryConfig{
			MaxIterations: 10000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			OutputPath: "stderr",
			TimeFormat: "RFC3339",
		},
	}
}
