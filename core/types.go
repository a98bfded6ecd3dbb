package core

import "time"

// FileScope defines which files a search or transform operates on.
type FileScope struct {
	Path           string   `json:"path"`                // Root path to scan
	Include        []string `json:"include,omitempty"`   // Glob patterns to include (*.go, **/*.ts)
	Exclude        []string `json:"exclude,omitempty"`   // Glob patterns to exclude
	MaxDepth       int      `json:"max_depth,omitempty"` // Max directory depth (0 = unlimited)
	MaxFiles       int      `json:"max_files,omitempty"` // Max candidate files (0 = unlimited)
	FollowSymlinks bool     `json:"follow_symlinks"`     // Follow symbolic links
	MaxFileSize    int64    `json:"max_file_size"`       // Per-file size ceiling (0 = default)
	StreamLarge    bool     `json:"stream_large"`        // Scan files above the ceiling anyway
	NoDefaultSkips bool     `json:"no_default_excludes"` // Disable the built-in exclusion list
}

// SearchRequest describes one logical search. Immutable once issued; the
// cursor fingerprint is computed over every field except ResumeCursor.
type SearchRequest struct {
	Pattern       string    `json:"pattern"`
	IsRegex       bool      `json:"is_regex"`
	CaseSensitive bool      `json:"case_sensitive"`
	WholeWord     bool      `json:"whole_word"`
	Scope         FileScope `json:"scope"`
	ContextLines  int       `json:"context_lines"`
	MaxResults    int       `json:"max_results"`
	ResumeCursor  string    `json:"resume_cursor,omitempty"`
}

// SearchMatch is one pattern hit with its surrounding context. Never mutated
// after the scanner emits it.
type SearchMatch struct {
	FilePath      string   `json:"file_path"`
	LineNumber    int      `json:"line_number"` // 1-based
	ColumnStart   int      `json:"column_start"`
	ColumnEnd     int      `json:"column_end"`
	MatchedText   string   `json:"matched_text"`
	LineText      string   `json:"line_text"`
	ContextBefore []string `json:"context_before,omitempty"`
	ContextAfter  []string `json:"context_after,omitempty"`
}

// SkippedFile records why a candidate was excluded from scanning.
type SkippedFile struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// SearchStats summarizes a search so partial success is always legible.
type SearchStats struct {
	FilesScanned int           `json:"files_scanned"`
	FilesMatched int           `json:"files_matched"`
	FilesSkipped int           `json:"files_skipped"`
	Skipped      []SkippedFile `json:"skipped,omitempty"`
	Duration     time.Duration `json:"duration_ms"`
}

// SearchStatus describes how a search invocation ended.
type SearchStatus string

const (
	SearchCompleted SearchStatus = "completed"
	SearchTruncated SearchStatus = "truncated"
	SearchCancelled SearchStatus = "cancelled"
)

// SearchResult is one page of a search.
type SearchResult struct {
	Matches    []SearchMatch `json:"matches"`
	TotalSoFar int           `json:"total_so_far"`
	HasMore    bool          `json:"has_more"`
	NextCursor string        `json:"next_cursor,omitempty"`
	Status     SearchStatus  `json:"status"`
	Stats      SearchStats   `json:"stats"`
}

// TransformRequest describes a bulk find/replace across a file scope.
type TransformRequest struct {
	Pattern       string    `json:"pattern"`
	IsRegex       bool      `json:"is_regex"`
	CaseSensitive bool      `json:"case_sensitive"`
	WholeWord     bool      `json:"whole_word"`
	Replacement   string    `json:"replacement"`
	Scope         FileScope `json:"scope"`
}

// FileDiff is a per-file preview of a bulk transform.
type FileDiff struct {
	FilePath   string `json:"file_path"`
	MatchCount int    `json:"match_count"`
	Diff       string `json:"diff"`
	BaseDigest string `json:"base_digest"` // SHA256 of the previewed content
}

// PreviewResult is returned by PreviewBulkTransform. Side-effect-free.
type PreviewResult struct {
	OperationID string        `json:"operation_id"`
	Diffs       []FileDiff    `json:"diffs"`
	Conflicts   []FileFailure `json:"conflicts,omitempty"`
	Stats       SearchStats   `json:"stats"`
}

// ApplyOptions control bulk apply semantics.
type ApplyOptions struct {
	AllOrNothing  bool `json:"all_or_nothing"` // Any failure rolls back every touched file
	ForceOverride bool `json:"force_override"` // Apply even when on-disk content changed since preview
}

// FileFailure records a per-file error inside a batch result.
type FileFailure struct {
	Path   string `json:"path"`
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

// ApplyResult is returned by ApplyBulkTransform.
type ApplyResult struct {
	OperationID   string          `json:"operation_id"`
	Status        OperationStatus `json:"status"`
	FilesModified []string        `json:"files_modified"`
	FilesFailed   []FileFailure   `json:"files_failed,omitempty"`
	Conflicts     []FileFailure   `json:"conflicts,omitempty"`
}

// RollbackResult is returned by RollbackBulkTransform.
type RollbackResult struct {
	OperationID   string          `json:"operation_id"`
	Status        OperationStatus `json:"status"`
	FilesRestored []string        `json:"files_restored"`
	FilesFailed   []FileFailure   `json:"files_failed,omitempty"`
}

// OperationStatus is the bulk operation state machine.
// Pending -> Running -> {Committed, RolledBack, Failed}. Cancellation while
// running is treated as Failed with no partial commit.
type OperationStatus string

const (
	OpPending    OperationStatus = "pending"
	OpRunning    OperationStatus = "running"
	OpCommitted  OperationStatus = "committed"
	OpRolledBack OperationStatus = "rolled_back"
	OpFailed     OperationStatus = "failed"
)

// ProgressState tracks one long-running operation. CompletedUnits counts
// fully processed files; a file is never half-counted.
type ProgressState struct {
	OperationID     string `json:"operation_id"`
	TotalUnits      int64  `json:"total_units"`
	CompletedUnits  int64  `json:"completed_units"`
	CancelRequested bool   `json:"cancel_requested"`
	LastError       string `json:"last_error,omitempty"`
}
