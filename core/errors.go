package core

import "fmt"

// Error codes grouped by concern. Validation failures are reported
// synchronously before any file I/O; per-file codes travel inside batch
// summaries instead of aborting the batch.
const (
	// Validation errors (12xxx range)
	PatternRejected = 12001 // Unsafe or invalid pattern
	ScopeEmpty      = 12002 // No files matched the requested scope
	InvalidRequest  = 12003 // Malformed request parameters
	CursorNotFound  = 12004 // Resume token unknown or evicted
	CursorExpired   = 12005 // Resume token past its TTL
	CursorMismatch  = 12006 // Resume token issued for a different request

	// Per-file errors (13xxx range)
	FileSkipped = 13001 // Binary or oversized file excluded from scope
	IOFailure   = 13002 // Read or write failed for a single file
	Conflict    = 13003 // On-disk content changed since preview, or
	// another uncommitted operation owns the file's backup

	// Operation errors (14xxx range)
	OperationNotFound  = 14001 // Unknown operation ID
	OperationConflict  = 14002 // Operation not in a state allowing the call
	BackupFailed       = 14003 // Backup capture failed before mutation
	AtomicWriteFailed  = 14004 // Temp-write or rename failed
	RollbackIncomplete = 14005 // Backup missing or restore hash mismatch
	Cancelled          = 14006 // Cooperative cancellation, not a failure
	StoreFailed        = 14007 // Persistence layer rejected the record
)

// EngineError is the structured error type surfaced by every engine
// operation. Data carries per-file detail when the error summarizes a batch.
type EngineError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	wrapped error
}

func (e *EngineError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("%s (%d): %v", e.Message, e.Code, e.Data)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *EngineError) Unwrap() error {
	return e.wrapped
}

// NewError creates an engine error with optional data payload.
func NewError(code int, message string, data ...any) *EngineError {
	err := &EngineError{
		Code:    code,
		Message: message,
	}
	if len(data) > 0 {
		err.Data = data[0]
	}
	return err
}

// WrapError attaches an underlying error as both cause and payload.
func WrapError(code int, message string, err error) *EngineError {
	if err == nil {
		return NewError(code, message)
	}
	return &EngineError{
		Code:    code,
		Message: message,
		Data:    err.Error(),
		wrapped: err,
	}
}

// CodeOf returns the engine error code, or 0 for foreign errors.
func CodeOf(err error) int {
	if ee, ok := err.(*EngineError); ok {
		return ee.Code
	}
	return 0
}

// IsCancelled reports whether err represents cooperative cancellation.
func IsCancelled(err error) bool {
	return CodeOf(err) == Cancelled
}
