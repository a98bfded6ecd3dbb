package core

import (
	"context"
	"time"
)

// EngineConfig carries every tunable the engine exposes. Zero values fall
// back to the package defaults.
type EngineConfig struct {
	Workers      int           // scan/apply parallelism, 0 = NumCPU
	CursorTTL    time.Duration // search cursor lifetime
	OperationTTL time.Duration // finished bulk operation retention
	BackupDir    string        // blob directory, required for transforms
	UseFsync     bool          // fsync temp files before rename
	LockTimeout  time.Duration // per-file lock wait during apply

	Logger      *Logger
	Cursors     CursorPersistence    // optional durable cursor side-store
	Persistence OperationPersistence // optional durable operation store
}

// Engine is the top-level facade: one handle owning the compiler, resolver,
// scanner, cursor and progress coordinators, and the bulk transformer.
type Engine struct {
	logger      *Logger
	compiler    *PatternCompiler
	resolver    *ScopeResolver
	scanner     *MatchScanner
	cursors     *CursorManager
	progress    *ProgressCoordinator
	backups     *BackupStore
	writer      *AtomicWriter
	searcher    *SearchOrchestrator
	transformer *BulkTransformer
}

// NewEngine builds a fully wired engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = NopLogger()
	}

	backups, err := NewBackupStore(cfg.BackupDir)
	if err != nil {
		return nil, err
	}

	compiler := NewPatternCompiler(0, 0)
	resolver := NewScopeResolver(logger)
	scanner := NewMatchScanner()
	cursors := NewCursorManager(cfg.CursorTTL, 0, cfg.Cursors)
	progress := NewProgressCoordinator(0)
	writer := NewAtomicWriter(AtomicWriteConfig{
		UseFsync:    cfg.UseFsync,
		LockTimeout: cfg.LockTimeout,
	})

	e := &Engine{
		logger:   logger,
		compiler: compiler,
		resolver: resolver,
		scanner:  scanner,
		cursors:  cursors,
		progress: progress,
		backups:  backups,
		writer:   writer,
	}
	e.searcher = NewSearchOrchestrator(SearchOrchestratorConfig{
		Compiler: compiler,
		Resolver: resolver,
		Scanner:  scanner,
		Cursors:  cursors,
		Progress: progress,
		Logger:   logger,
		Workers:  cfg.Workers,
	})
	e.transformer = NewBulkTransformer(BulkTransformerConfig{
		Compiler:     compiler,
		Resolver:     resolver,
		Writer:       writer,
		Backups:      backups,
		Progress:     progress,
		Logger:       logger,
		Persistence:  cfg.Persistence,
		Workers:      cfg.Workers,
		OperationTTL: cfg.OperationTTL,
	})
	return e, nil
}

// Search runs one page of a search.
func (e *Engine) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	return e.searcher.Search(ctx, req)
}

// PreviewTransform plans a bulk transform and returns unified diffs without
// touching any file.
func (e *Engine) PreviewTransform(ctx context.Context, req TransformRequest) (*PreviewResult, error) {
	return e.transformer.Preview(ctx, req)
}

// ApplyTransform executes a previously previewed operation.
func (e *Engine) ApplyTransform(ctx context.Context, operationID string, opts ApplyOptions) (*ApplyResult, error) {
	return e.transformer.Apply(ctx, operationID, opts)
}

// RollbackTransform restores every file a failed operation wrote.
func (e *Engine) RollbackTransform(ctx context.Context, operationID string) (*RollbackResult, error) {
	return e.transformer.Rollback(ctx, operationID)
}

// GetOperation looks up a bulk operation by ID.
func (e *Engine) GetOperation(operationID string) (*BulkOperation, bool) {
	return e.transformer.Get(operationID)
}

// GetProgress reports the live counters of a running or recently finished
// operation.
func (e *Engine) GetProgress(operationID string) (ProgressState, bool) {
	return e.progress.Get(operationID)
}

// Cancel requests cooperative cancellation of a running operation. Work stops
// at the next file boundary.
func (e *Engine) Cancel(operationID string) error {
	return e.progress.Cancel(operationID)
}

// Cleanup sweeps expired cursors, finished operations past their TTL, stale
// progress entries, and orphaned lock files. Safe to call periodically.
func (e *Engine) Cleanup() {
	_ = e.cursors.Len() // Len sweeps expired entries as a side effect
	e.transformer.Cleanup()
	e.progress.Cleanup()
	e.writer.Cleanup()
}
