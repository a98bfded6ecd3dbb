package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileBackup captures one file's original content the instant before the
// owning operation first mutates it.
type FileBackup struct {
	OperationID string      `json:"operation_id"`
	FilePath    string      `json:"file_path"`
	Digest      string      `json:"digest"` // SHA256 of the captured content
	BlobPath    string      `json:"blob_path"`
	Mode        os.FileMode `json:"mode"`
	CapturedAt  time.Time   `json:"captured_at"`
}

// BackupStore holds content-hash-addressed backup blobs. Each file is owned
// by at most one uncommitted operation at a time; a second operation touching
// the same file gets a Conflict instead of silently overwriting the first
// operation's backup.
type BackupStore struct {
	dir     string
	mu      sync.Mutex
	owners  map[string]string       // file path -> owning operation ID
	backups map[string][]FileBackup // operation ID -> backups in capture order
	clock   func() time.Time
}

// NewBackupStore creates the blob directory if needed.
func NewBackupStore(dir string) (*BackupStore, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "scour-backups")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, WrapError(BackupFailed, "failed to create backup directory", err)
	}
	return &BackupStore{
		dir:     dir,
		owners:  make(map[string]string),
		backups: make(map[string][]FileBackup),
		clock:   time.Now,
	}, nil
}

// Dir returns the blob directory.
func (bs *BackupStore) Dir() string {
	return bs.dir
}

// Capture snapshots filePath for operationID. Capturing the same file twice
// inside one operation returns the existing backup; capturing a file owned by
// a different uncommitted operation returns a Conflict.
func (bs *BackupStore) Capture(operationID, filePath string) (*FileBackup, error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if owner, held := bs.owners[filePath]; held {
		if owner != operationID {
			return nil, NewError(Conflict, fmt.Sprintf(
				"file %s has an in-flight backup owned by operation %s", filePath, owner))
		}
		for _, b := range bs.backups[operationID] {
			if b.FilePath == filePath {
				existing := b
				return &existing, nil
			}
		}
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return nil, WrapError(BackupFailed, "failed to stat file for backup", err)
	}
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, WrapError(BackupFailed, "failed to read file for backup", err)
	}

	digest := contentDigest(content)
	blobPath := filepath.Join(bs.dir, digest)
	if _, err := os.Stat(blobPath); err != nil {
		if err := os.WriteFile(blobPath, content, 0o600); err != nil {
			return nil, WrapError(BackupFailed, "failed to write backup blob", err)
		}
	}

	backup := FileBackup{
		OperationID: operationID,
		FilePath:    filePath,
		Digest:      digest,
		BlobPath:    blobPath,
		Mode:        info.Mode().Perm(),
		CapturedAt:  bs.clock(),
	}
	bs.owners[filePath] = operationID
	bs.backups[operationID] = append(bs.backups[operationID], backup)
	return &backup, nil
}

// Adopt installs backups captured by an earlier process, restoring ownership
// as if Capture had run here. Backups already resident for the operation are
// kept as-is; a file owned by a different uncommitted operation is a Conflict.
func (bs *BackupStore) Adopt(operationID string, backups []FileBackup) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if len(bs.backups[operationID]) > 0 {
		return nil
	}
	for _, b := range backups {
		if owner, held := bs.owners[b.FilePath]; held && owner != operationID {
			return NewError(Conflict, fmt.Sprintf(
				"file %s has an in-flight backup owned by operation %s", b.FilePath, owner))
		}
	}
	for _, b := range backups {
		bs.owners[b.FilePath] = operationID
	}
	bs.backups[operationID] = append([]FileBackup(nil), backups...)
	return nil
}

// Backups returns the operation's backups in capture order.
func (bs *BackupStore) Backups(operationID string) []FileBackup {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	out := make([]FileBackup, len(bs.backups[operationID]))
	copy(out, bs.backups[operationID])
	return out
}

// Owner reports which operation currently owns the file's backup, if any.
func (bs *BackupStore) Owner(filePath string) (string, bool) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	owner, held := bs.owners[filePath]
	return owner, held
}

// ReadBlob loads and hash-verifies a backup's content.
func (bs *BackupStore) ReadBlob(backup FileBackup) ([]byte, error) {
	content, err := os.ReadFile(backup.BlobPath)
	if err != nil {
		return nil, WrapError(RollbackIncomplete,
			fmt.Sprintf("backup blob missing for %s", backup.FilePath), err)
	}
	if got := contentDigest(content); got != backup.Digest {
		return nil, NewError(RollbackIncomplete, fmt.Sprintf(
			"backup blob for %s is corrupt: digest %s, expected %s",
			backup.FilePath, got, backup.Digest))
	}
	return content, nil
}

// Release ends the operation's exclusive ownership. With deleteBlobs (the
// commit path) blob files no longer referenced by any live backup are
// removed; the rollback path keeps them until Sweep.
func (bs *BackupStore) Release(operationID string, deleteBlobs bool) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	released := bs.backups[operationID]
	delete(bs.backups, operationID)
	for _, b := range released {
		if bs.owners[b.FilePath] == operationID {
			delete(bs.owners, b.FilePath)
		}
	}

	if !deleteBlobs {
		return
	}
	for _, b := range released {
		if !bs.blobReferencedLocked(b.Digest) {
			os.Remove(b.BlobPath)
		}
	}
}

// Sweep removes blob files older than the retention window that no live
// backup references. Returns the number of blobs removed.
func (bs *BackupStore) Sweep(olderThan time.Duration) int {
	cutoff := bs.clock().Add(-olderThan)

	bs.mu.Lock()
	defer bs.mu.Unlock()

	entries, err := os.ReadDir(bs.dir)
	if err != nil {
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if bs.blobReferencedLocked(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if os.Remove(filepath.Join(bs.dir, entry.Name())) == nil {
			removed++
		}
	}
	return removed
}

func (bs *BackupStore) blobReferencedLocked(digest string) bool {
	for _, list := range bs.backups {
		for _, b := range list {
			if b.Digest == digest {
				return true
			}
		}
	}
	return false
}

// contentDigest is the SHA256 hex digest used for backup verification and
// preview/apply conflict detection.
func contentDigest(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
