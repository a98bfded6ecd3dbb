package models

import (
	"time"

	"gorm.io/datatypes"
)

// Operation represents one bulk transform from preview through its terminal
// state. Enough of the request survives here for a restarted server to show
// what an operation was going to do.
type Operation struct {
	ID string `gorm:"primaryKey;type:varchar(40)"`

	// Operation details; pattern flags are kept so apply can recompile the
	// exact matcher the preview used.
	Pattern       string `gorm:"type:text;not null"`
	IsRegex       bool   `gorm:"default:false"`
	CaseSensitive bool   `gorm:"default:false"`
	WholeWord     bool   `gorm:"default:false"`
	Replacement   string `gorm:"type:text"`

	// Plan summary
	FilesPlanned int            `gorm:"default:0"`
	Files        datatypes.JSON `gorm:"type:jsonb"` // planned files with base digests

	// Status tracking
	Status      string    `gorm:"type:varchar(20);default:'pending';index"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	CompletedAt *time.Time

	// Relationships
	Backups []Backup `gorm:"foreignKey:OperationID"`
}

// Backup records one pre-image captured during apply. The blob itself lives
// on disk content-addressed by digest; this row maps it back to its file.
type Backup struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	OperationID string `gorm:"type:varchar(40);index;not null"`

	FilePath string `gorm:"type:varchar(4096);not null"`
	Digest   string `gorm:"type:varchar(64);not null"` // SHA256 of the pre-image
	BlobPath string `gorm:"type:varchar(4096);not null"`
	FileMode uint32 `gorm:"default:0"`

	CapturedAt time.Time `gorm:"autoCreateTime"`

	// Relationship
	Operation Operation `gorm:"foreignKey:OperationID"`
}

// Cursor is the durable side of a search resume token. Only resumable state
// is stored here; the token the client holds is just an ID plus fingerprint.
type Cursor struct {
	SearchID    string `gorm:"primaryKey;type:varchar(40)"`
	Fingerprint uint64 `gorm:"not null"`

	FilesProcessed int    `gorm:"default:0"`
	LastFilePath   string `gorm:"type:varchar(4096)"`
	TotalSoFar     int    `gorm:"default:0"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	ExpiresAt time.Time `gorm:"index"`
}

// TableName customizations for cleaner names
func (Operation) TableName() string { return "operations" }
func (Backup) TableName() string    { return "backups" }
func (Cursor) TableName() string    { return "cursors" }
