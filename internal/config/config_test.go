package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SCOUR_DB_DSN", "SCOUR_BACKUP_DIR", "SCOUR_LOG_LEVEL", "SCOUR_WORKERS",
		"SCOUR_CURSOR_TTL", "SCOUR_OPERATION_TTL", "SCOUR_MAX_FILE_SIZE",
		"SCOUR_FSYNC", "SCOUR_DEBUG",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg := LoadConfig()

	if cfg.DatabaseDSN != "" || cfg.BackupDir != "" {
		t.Errorf("Paths should default empty: %+v", cfg)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.Workers != 0 {
		t.Errorf("Workers = %d, want 0 (all CPUs)", cfg.Workers)
	}
	if cfg.CursorTTL != 5*time.Minute {
		t.Errorf("CursorTTL = %v, want 5m", cfg.CursorTTL)
	}
	if cfg.OperationTTL != 30*time.Minute {
		t.Errorf("OperationTTL = %v, want 30m", cfg.OperationTTL)
	}
	if cfg.MaxFileSize != 10*1024*1024 {
		t.Errorf("MaxFileSize = %d, want 10MB", cfg.MaxFileSize)
	}
	if cfg.UseFsync || cfg.Debug {
		t.Errorf("Booleans should default off: %+v", cfg)
	}
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("SCOUR_DB_DSN", "libsql://scour-prod.turso.io")
	t.Setenv("SCOUR_BACKUP_DIR", "/var/lib/scour/backups")
	t.Setenv("SCOUR_LOG_LEVEL", "debug")
	t.Setenv("SCOUR_WORKERS", "8")
	t.Setenv("SCOUR_CURSOR_TTL", "90s")
	t.Setenv("SCOUR_OPERATION_TTL", "2h")
	t.Setenv("SCOUR_MAX_FILE_SIZE", "1048576")
	t.Setenv("SCOUR_FSYNC", "true")
	t.Setenv("SCOUR_DEBUG", "1")

	cfg := LoadConfig()

	if cfg.DatabaseDSN != "libsql://scour-prod.turso.io" {
		t.Errorf("DatabaseDSN = %q", cfg.DatabaseDSN)
	}
	if cfg.BackupDir != "/var/lib/scour/backups" {
		t.Errorf("BackupDir = %q", cfg.BackupDir)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.Workers != 8 {
		t.Errorf("Workers = %d", cfg.Workers)
	}
	if cfg.CursorTTL != 90*time.Second {
		t.Errorf("CursorTTL = %v", cfg.CursorTTL)
	}
	if cfg.OperationTTL != 2*time.Hour {
		t.Errorf("OperationTTL = %v", cfg.OperationTTL)
	}
	if cfg.MaxFileSize != 1048576 {
		t.Errorf("MaxFileSize = %d", cfg.MaxFileSize)
	}
	if !cfg.UseFsync || !cfg.Debug {
		t.Errorf("Booleans not picked up: %+v", cfg)
	}
}

func TestLoadConfigIgnoresInvalidValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("SCOUR_WORKERS", "not-a-number")
	t.Setenv("SCOUR_CURSOR_TTL", "-5m")
	t.Setenv("SCOUR_OPERATION_TTL", "soon")
	t.Setenv("SCOUR_MAX_FILE_SIZE", "0")
	t.Setenv("SCOUR_FSYNC", "maybe")

	cfg := LoadConfig()

	if cfg.Workers != 0 {
		t.Errorf("Invalid worker count should keep the default, got %d", cfg.Workers)
	}
	if cfg.CursorTTL != 5*time.Minute {
		t.Errorf("Negative TTL should keep the default, got %v", cfg.CursorTTL)
	}
	if cfg.OperationTTL != 30*time.Minute {
		t.Errorf("Unparseable TTL should keep the default, got %v", cfg.OperationTTL)
	}
	if cfg.MaxFileSize != 10*1024*1024 {
		t.Errorf("Zero size ceiling should keep the default, got %d", cfg.MaxFileSize)
	}
	if cfg.UseFsync {
		t.Error("Unparseable bool should keep the default")
	}
}
