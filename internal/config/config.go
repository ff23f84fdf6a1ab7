// Package config loads process configuration from .env, an optional YAML file
// and environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds settings shared by the server and the admin CLI.
type Config struct {
	Port   int    `yaml:"port"`
	DBPath string `yaml:"db_path"`

	BackupDir           string `yaml:"backup_dir"`
	BackupRetentionDays int    `yaml:"backup_retention_days"`
	BackupSchedule      string `yaml:"backup_schedule"`
	CheckpointSchedule  string `yaml:"checkpoint_schedule"`
	SweepSchedule       string `yaml:"sweep_schedule"`

	CacheTTL     time.Duration `yaml:"cache_ttl"`
	CacheMaxSize int           `yaml:"cache_max_size"`
	FlushDelay   time.Duration `yaml:"flush_delay"`

	// Timezone decides calendar boundaries for user stats and backup file names.
	Timezone string `yaml:"timezone"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:                8080,
		DBPath:              "./data/tatekae.db",
		BackupDir:           "./data/backups",
		BackupRetentionDays: 7,
		BackupSchedule:      "0 3 * * *",
		CheckpointSchedule:  "*/30 * * * *",
		SweepSchedule:       "@hourly",
		CacheTTL:            24 * time.Hour,
		CacheMaxSize:        1000,
		FlushDelay:          100 * time.Millisecond,
		Timezone:            "Asia/Tokyo",
	}
}

// Load builds the configuration. The YAML file named by TATEKAE_CONFIG is
// optional, but if set it must exist and parse.
func Load() (*Config, error) {
	// Load environment variables from .env if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("TATEKAE_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.DBPath = getEnvDefault("DB_PATH", c.DBPath)
	c.BackupDir = getEnvDefault("BACKUP_DIR", c.BackupDir)
	c.BackupSchedule = getEnvDefault("BACKUP_SCHEDULE", c.BackupSchedule)
	c.CheckpointSchedule = getEnvDefault("CHECKPOINT_SCHEDULE", c.CheckpointSchedule)
	c.SweepSchedule = getEnvDefault("SWEEP_SCHEDULE", c.SweepSchedule)
	c.Timezone = getEnvDefault("TIMEZONE", c.Timezone)

	var err error
	if c.Port, err = envInt("PORT", c.Port); err != nil {
		return err
	}
	if c.BackupRetentionDays, err = envInt("BACKUP_RETENTION_DAYS", c.BackupRetentionDays); err != nil {
		return err
	}
	if c.CacheMaxSize, err = envInt("CACHE_MAX_SIZE", c.CacheMaxSize); err != nil {
		return err
	}
	if c.CacheTTL, err = envDuration("CACHE_TTL", c.CacheTTL); err != nil {
		return err
	}
	if c.FlushDelay, err = envDuration("FLUSH_DELAY", c.FlushDelay); err != nil {
		return err
	}
	return nil
}

// Validate checks value ranges and that the timezone is known.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("DB_PATH is required"))
	}
	if c.BackupRetentionDays <= 0 {
		errs = append(errs, fmt.Errorf("BACKUP_RETENTION_DAYS must be positive, got %d", c.BackupRetentionDays))
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("CACHE_TTL must be positive, got %s", c.CacheTTL))
	}
	if c.CacheMaxSize <= 0 {
		errs = append(errs, fmt.Errorf("CACHE_MAX_SIZE must be positive, got %d", c.CacheMaxSize))
	}
	if c.FlushDelay < 0 {
		errs = append(errs, fmt.Errorf("FLUSH_DELAY must not be negative, got %s", c.FlushDelay))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err))
	}
	return errors.Join(errs...)
}

// Location returns the configured time zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Addr is the server listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func getEnvDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}
