package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the application's configuration.
type Config struct {
	DatabaseDSN  string
	BackupDir    string
	Workers      int
	CursorTTL    time.Duration
	OperationTTL time.Duration
	MaxFileSize  int64
	UseFsync     bool
	LogLevel     string
	Debug        bool
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() *Config {
	cfg := &Config{
		DatabaseDSN:  os.Getenv("SCOUR_DB_DSN"),
		BackupDir:    os.Getenv("SCOUR_BACKUP_DIR"),
		Workers:      0,                // all available CPUs
		CursorTTL:    5 * time.Minute,  // default
		OperationTTL: 30 * time.Minute, // default
		MaxFileSize:  10 * 1024 * 1024, // default
		LogLevel:     os.Getenv("SCOUR_LOG_LEVEL"),
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if workersStr := os.Getenv("SCOUR_WORKERS"); workersStr != "" {
		if workers, err := strconv.Atoi(workersStr); err == nil && workers >= 0 {
			cfg.Workers = workers
		}
	}

	if ttlStr := os.Getenv("SCOUR_CURSOR_TTL"); ttlStr != "" {
		if ttl, err := time.ParseDuration(ttlStr); err == nil && ttl > 0 {
			cfg.CursorTTL = ttl
		}
	}

	if ttlStr := os.Getenv("SCOUR_OPERATION_TTL"); ttlStr != "" {
		if ttl, err := time.ParseDuration(ttlStr); err == nil && ttl > 0 {
			cfg.OperationTTL = ttl
		}
	}

	if sizeStr := os.Getenv("SCOUR_MAX_FILE_SIZE"); sizeStr != "" {
		if size, err := strconv.ParseInt(sizeStr, 10, 64); err == nil && size > 0 {
			cfg.MaxFileSize = size
		}
	}

	if fsyncStr := os.Getenv("SCOUR_FSYNC"); fsyncStr != "" {
		if fsync, err := strconv.ParseBool(fsyncStr); err == nil {
			cfg.UseFsync = fsync
		}
	}

	if debugStr := os.Getenv("SCOUR_DEBUG"); debugStr != "" {
		if debug, err := strconv.ParseBool(debugStr); err == nil {
			cfg.Debug = debug
		}
	}

	return cfg
}
