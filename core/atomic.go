package core

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// fileLock represents an on-disk lock guarding one target path.
type fileLock struct {
	file   *os.File
	path   string
	locked bool
	mu     sync.Mutex
}

// AtomicWriteConfig controls atomic writing behavior.
type AtomicWriteConfig struct {
	UseFsync    bool          // Force fsync before rename for durability
	LockTimeout time.Duration // Max time to wait for the file lock
	TempSuffix  string        // Suffix for temporary files
}

// DefaultAtomicConfig provides sensible defaults.
func DefaultAtomicConfig() AtomicWriteConfig {
	return AtomicWriteConfig{
		UseFsync:    false,
		LockTimeout: 5 * time.Second,
		TempSuffix:  ".scour.tmp",
	}
}

// AtomicWriter replaces file contents via write-to-temp-then-rename, never a
// partial in-place write. A lock file with the owning PID serializes writers
// across processes; stale locks from dead processes are reclaimed.
type AtomicWriter struct {
	config AtomicWriteConfig
	locks  map[string]*fileLock
	mu     sync.RWMutex
}

// NewAtomicWriter creates a new atomic writer.
func NewAtomicWriter(config AtomicWriteConfig) *AtomicWriter {
	if config.TempSuffix == "" {
		config.TempSuffix = ".scour.tmp"
	}
	if config.LockTimeout <= 0 {
		config.LockTimeout = 5 * time.Second
	}
	return &AtomicWriter{
		config: config,
		locks:  make(map[string]*fileLock),
	}
}

// WriteFile atomically writes content to path, preserving the existing file
// mode when the file already exists.
func (aw *AtomicWriter) WriteFile(path string, content []byte) error {
	if err := aw.acquireLock(path); err != nil {
		return WrapError(AtomicWriteFailed, fmt.Sprintf("failed to acquire lock for %s", path), err)
	}
	defer aw.releaseLock(path)

	var fileMode os.FileMode = 0o644
	if info, err := os.Stat(path); err == nil {
		fileMode = info.Mode()
	}

	tempPath := path + aw.config.TempSuffix
	tempFile, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fileMode)
	if err != nil {
		return WrapError(AtomicWriteFailed, "failed to create temp file", err)
	}

	if _, err := tempFile.Write(content); err != nil {
		tempFile.Close()
		os.Remove(tempPath)
		return WrapError(AtomicWriteFailed, "failed to write content", err)
	}

	if aw.config.UseFsync {
		if err := tempFile.Sync(); err != nil {
			tempFile.Close()
			os.Remove(tempPath)
			return WrapError(AtomicWriteFailed, "failed to sync", err)
		}
	}

	tempFile.Close()

	// The rename is the single atomic step.
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return WrapError(AtomicWriteFailed, "failed to atomic rename", err)
	}

	return nil
}

// acquireLock gets an exclusive lock file for path.
func (aw *AtomicWriter) acquireLock(path string) error {
	aw.mu.Lock()
	defer aw.mu.Unlock()

	if _, exists := aw.locks[path]; exists {
		return nil // Already held by this writer
	}

	lockPath := path + ".lock"

	deadline := time.Now().Add(aw.config.LockTimeout)
	for time.Now().Before(deadline) {
		lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			lock := &fileLock{
				file:   lockFile,
				path:   lockPath,
				locked: true,
			}
			aw.locks[path] = lock

			// PID lets another process judge staleness.
			fmt.Fprintf(lockFile, "%d\n", os.Getpid())
			lockFile.Sync()
			return nil
		}

		if os.IsExist(err) {
			if aw.isLockStale(lockPath) {
				os.Remove(lockPath)
				continue
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}

		return fmt.Errorf("failed to create lock file: %w", err)
	}

	return fmt.Errorf("timeout waiting for lock on %s", path)
}

// releaseLock releases the lock file for path.
func (aw *AtomicWriter) releaseLock(path string) {
	aw.mu.Lock()
	defer aw.mu.Unlock()

	lock, exists := aw.locks[path]
	if !exists {
		return
	}

	lock.mu.Lock()
	defer lock.mu.Unlock()

	if lock.locked {
		lock.file.Close()
		os.Remove(lock.path)
		lock.locked = false
	}

	delete(aw.locks, path)
}

// isLockStale checks if a lock file belongs to a dead process.
func (aw *AtomicWriter) isLockStale(lockPath string) bool {
	content, err := os.ReadFile(lockPath)
	if err != nil {
		return true
	}

	var pid int
	if _, err := fmt.Sscanf(string(content), "%d", &pid); err != nil {
		return true
	}

	return !isProcessAlive(pid)
}

// Cleanup removes all held locks (call on shutdown).
func (aw *AtomicWriter) Cleanup() {
	aw.mu.Lock()
	paths := make([]string, 0, len(aw.locks))
	for path := range aw.locks {
		paths = append(paths, path)
	}
	aw.mu.Unlock()

	for _, path := range paths {
		aw.releaseLock(path)
	}
}
