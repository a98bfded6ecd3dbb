package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/oxhq/scour/core"
	"github.com/oxhq/scour/models"
)

// Store adapts a gorm database to the engine's persistence interfaces. It
// implements both core.OperationPersistence and core.CursorPersistence.
type Store struct {
	db *gorm.DB
}

// NewStore wraps an open connection.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// SaveOperation upserts the operation row.
func (s *Store) SaveOperation(rec core.OperationRecord) error {
	filesJSON, err := json.Marshal(rec.Files)
	if err != nil {
		return fmt.Errorf("failed to encode planned files: %w", err)
	}

	row := models.Operation{
		ID:            rec.ID,
		Pattern:       rec.Pattern,
		IsRegex:       rec.IsRegex,
		CaseSensitive: rec.CaseSensitive,
		WholeWord:     rec.WholeWord,
		Replacement:   rec.Replacement,
		FilesPlanned:  len(rec.Files),
		Files:         filesJSON,
		Status:        string(rec.Status),
		CreatedAt:     rec.CreatedAt,
	}
	if !rec.CompletedAt.IsZero() {
		completed := rec.CompletedAt
		row.CompletedAt = &completed
	}

	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

// LoadOperation fetches an operation by ID so a later process can apply,
// roll back, or inspect it. Missing rows return (nil, nil), mirroring
// LoadCursor.
func (s *Store) LoadOperation(operationID string) (*core.OperationRecord, error) {
	var row models.Operation
	err := s.db.First(&row, "id = ?", operationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var files []core.PlannedFile
	if len(row.Files) > 0 {
		if err := json.Unmarshal(row.Files, &files); err != nil {
			return nil, fmt.Errorf("failed to decode planned files: %w", err)
		}
	}

	rec := &core.OperationRecord{
		ID:            row.ID,
		Status:        core.OperationStatus(row.Status),
		Pattern:       row.Pattern,
		IsRegex:       row.IsRegex,
		CaseSensitive: row.CaseSensitive,
		WholeWord:     row.WholeWord,
		Replacement:   row.Replacement,
		Files:         files,
		CreatedAt:     row.CreatedAt,
	}
	if row.CompletedAt != nil {
		rec.CompletedAt = *row.CompletedAt
	}
	return rec, nil
}

// SaveBackups records the pre-images captured during an apply.
func (s *Store) SaveBackups(operationID string, backups []core.FileBackup) error {
	if len(backups) == 0 {
		return nil
	}
	rows := make([]models.Backup, 0, len(backups))
	for _, b := range backups {
		rows = append(rows, models.Backup{
			OperationID: operationID,
			FilePath:    b.FilePath,
			Digest:      b.Digest,
			BlobPath:    b.BlobPath,
			FileMode:    uint32(b.Mode),
			CapturedAt:  b.CapturedAt,
		})
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("operation_id = ?", operationID).Delete(&models.Backup{}).Error; err != nil {
			return err
		}
		return tx.Create(&rows).Error
	})
}

// LoadBackups fetches an operation's backup rows in capture order.
func (s *Store) LoadBackups(operationID string) ([]core.FileBackup, error) {
	var rows []models.Backup
	if err := s.db.Where("operation_id = ?", operationID).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	backups := make([]core.FileBackup, 0, len(rows))
	for _, r := range rows {
		backups = append(backups, core.FileBackup{
			OperationID: r.OperationID,
			FilePath:    r.FilePath,
			Digest:      r.Digest,
			BlobPath:    r.BlobPath,
			Mode:        os.FileMode(r.FileMode),
			CapturedAt:  r.CapturedAt,
		})
	}
	return backups, nil
}

// DeleteBackups drops the backup rows once an operation commits or rolls back.
func (s *Store) DeleteBackups(operationID string) error {
	return s.db.Where("operation_id = ?", operationID).Delete(&models.Backup{}).Error
}

// SaveCursor upserts the durable half of a resume token.
func (s *Store) SaveCursor(state core.CursorState, token string) error {
	_ = token // the token is derivable from the state; only state is stored
	row := models.Cursor{
		SearchID:       state.SearchID,
		Fingerprint:    state.Fingerprint,
		FilesProcessed: state.FilesProcessed,
		LastFilePath:   state.LastFilePath,
		TotalSoFar:     state.TotalSoFar,
		CreatedAt:      state.CreatedAt,
		ExpiresAt:      state.ExpiresAt,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "search_id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

// LoadCursor fetches resumable state by search ID. Missing rows return
// (nil, nil) so the in-memory store stays authoritative.
func (s *Store) LoadCursor(searchID string) (*core.CursorState, error) {
	var row models.Cursor
	err := s.db.First(&row, "search_id = ?", searchID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &core.CursorState{
		SearchID:       row.SearchID,
		Fingerprint:    row.Fingerprint,
		FilesProcessed: row.FilesProcessed,
		LastFilePath:   row.LastFilePath,
		TotalSoFar:     row.TotalSoFar,
		CreatedAt:      row.CreatedAt,
		ExpiresAt:      row.ExpiresAt,
	}, nil
}

// DeleteCursor removes a consumed or expired cursor.
func (s *Store) DeleteCursor(searchID string) error {
	return s.db.Delete(&models.Cursor{}, "search_id = ?", searchID).Error
}

// SweepCursors deletes every cursor that expired before now.
func (s *Store) SweepCursors(now time.Time) (int64, error) {
	res := s.db.Where("expires_at < ?", now).Delete(&models.Cursor{})
	return res.RowsAffected, res.Error
}
