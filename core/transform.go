package core

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/sync/errgroup"
)

// DefaultOperationTTL evicts finished bulk operations from the registry.
const DefaultOperationTTL = 30 * time.Minute

// PlannedFile is one file the preview selected for transformation.
type PlannedFile struct {
	Path       string `json:"path"`
	BaseDigest string `json:"base_digest"` // SHA256 at preview time
	MatchCount int    `json:"match_count"`
}

// BulkOperation is the unit of preview/apply/rollback. It exclusively owns
// the FileBackups captured during its apply.
type BulkOperation struct {
	ID          string           `json:"id"`
	Request     TransformRequest `json:"request"`
	Status      OperationStatus  `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	CompletedAt time.Time        `json:"completed_at,omitempty"`
	Files       []PlannedFile    `json:"files"`

	applied []string // paths successfully written, in apply order
}

// OperationRecord is the serializable snapshot handed to persistence. It
// carries the full pattern settings so a rehydrated operation recompiles the
// exact matcher the preview used.
type OperationRecord struct {
	ID            string
	Status        OperationStatus
	Pattern       string
	IsRegex       bool
	CaseSensitive bool
	WholeWord     bool
	Replacement   string
	Files         []PlannedFile
	CreatedAt     time.Time
	CompletedAt   time.Time
}

// OperationPersistence durably records operations and their backups when the
// engine is configured with a database. Saves are best-effort upserts; the
// Load methods return (nil, nil) for an unknown operation so a later process
// can pick up where a preview or failed apply left off.
type OperationPersistence interface {
	SaveOperation(rec OperationRecord) error
	LoadOperation(operationID string) (*OperationRecord, error)
	SaveBackups(operationID string, backups []FileBackup) error
	LoadBackups(operationID string) ([]FileBackup, error)
	DeleteBackups(operationID string) error
}

// BulkTransformer locates replacement sites with the same compiler and scope
// resolver as search, then previews, applies, and rolls back transforms with
// per-file backups and atomic writes.
type BulkTransformer struct {
	compiler *PatternCompiler
	resolver *ScopeResolver
	writer   *AtomicWriter
	backups  *BackupStore
	progress *ProgressCoordinator
	logger   *Logger
	persist  OperationPersistence
	workers  int
	opTTL    time.Duration

	mu    sync.Mutex
	ops   map[string]*BulkOperation
	clock func() time.Time
}

// BulkTransformerConfig wires the transformer's collaborators.
type BulkTransformerConfig struct {
	Compiler     *PatternCompiler
	Resolver     *ScopeResolver
	Writer       *AtomicWriter
	Backups      *BackupStore
	Progress     *ProgressCoordinator
	Logger       *Logger
	Persistence  OperationPersistence // optional
	Workers      int                  // 0 = NumCPU
	OperationTTL time.Duration        // 0 = default
}

// NewBulkTransformer creates a transformer.
func NewBulkTransformer(cfg BulkTransformerConfig) *BulkTransformer {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	opTTL := cfg.OperationTTL
	if opTTL <= 0 {
		opTTL = DefaultOperationTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = NopLogger()
	}
	return &BulkTransformer{
		compiler: cfg.Compiler,
		resolver: cfg.Resolver,
		writer:   cfg.Writer,
		backups:  cfg.Backups,
		progress: cfg.Progress,
		logger:   logger,
		persist:  cfg.Persistence,
		workers:  workers,
		opTTL:    opTTL,
		ops:      make(map[string]*BulkOperation),
		clock:    time.Now,
	}
}

// Preview runs the same scan as search and reports proposed replacements
// without touching disk. Safe to call repeatedly; each call creates a fresh
// pending operation.
func (bt *BulkTransformer) Preview(ctx context.Context, req TransformRequest) (*PreviewResult, error) {
	start := bt.clock()

	matcher, err := bt.compiler.Compile(req.Pattern, req.IsRegex, req.CaseSensitive, req.WholeWord)
	if err != nil {
		return nil, err
	}

	resolved, err := bt.resolver.Resolve(ctx, req.Scope)
	if err != nil {
		return nil, err
	}
	if len(resolved.Candidates) == 0 {
		return nil, NewError(ScopeEmpty, "no files matched the requested scope",
			map[string]any{"skipped": resolved.Skipped})
	}

	op := &BulkOperation{
		ID:        uuid.NewString(),
		Request:   req,
		Status:    OpPending,
		CreatedAt: start,
	}

	opCtx := ctx
	if bt.progress != nil {
		opCtx, err = bt.progress.Register(ctx, op.ID, int64(len(resolved.Candidates)))
		if err != nil {
			return nil, err
		}
		defer bt.progress.Complete(op.ID)
	}

	outs := make([]*previewOut, len(resolved.Candidates))

	g, gctx := errgroup.WithContext(opCtx)
	g.SetLimit(bt.workers)
	for i, cand := range resolved.Candidates {
		i, cand := i, cand
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return WrapError(Cancelled, "preview cancelled", err)
			}
			out, err := bt.previewFile(cand.Path, matcher, req.Replacement)
			if bt.progress != nil {
				bt.progress.Update(op.ID, 1)
			}
			if err != nil {
				outs[i] = &previewOut{failure: &FileFailure{
					Path:   cand.Path,
					Code:   CodeOf(err),
					Reason: err.Error(),
				}}
				return nil // per-file errors never abort the batch
			}
			outs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if IsCancelled(err) {
			return nil, err
		}
		return nil, WrapError(IOFailure, "preview failed", err)
	}

	result := &PreviewResult{
		OperationID: op.ID,
		Stats: SearchStats{
			FilesScanned: len(resolved.Candidates),
			FilesSkipped: len(resolved.Skipped),
			Skipped:      resolved.Skipped,
		},
	}
	for _, out := range outs {
		if out == nil {
			continue
		}
		if out.failure != nil {
			result.Conflicts = append(result.Conflicts, *out.failure)
			continue
		}
		if out.planned.MatchCount == 0 {
			continue
		}
		op.Files = append(op.Files, out.planned)
		result.Diffs = append(result.Diffs, out.diff)
		result.Stats.FilesMatched++
	}
	result.Stats.Duration = bt.clock().Sub(start)

	bt.mu.Lock()
	bt.cleanupLocked()
	bt.ops[op.ID] = op
	bt.mu.Unlock()

	bt.saveOperation(op)
	return result, nil
}

type previewOut struct {
	diff    FileDiff
	planned PlannedFile
	failure *FileFailure
}

// previewFile computes the proposed replacement and unified diff for one file.
func (bt *BulkTransformer) previewFile(path string, matcher *Matcher, replacement string) (*previewOut, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapError(IOFailure, "failed to read file", err)
	}

	modified, count := transformContent(content, matcher, replacement)
	digest := contentDigest(content)

	out := &previewOut{
		planned: PlannedFile{Path: path, BaseDigest: digest, MatchCount: count},
	}
	if count == 0 {
		return out, nil
	}

	diffText, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(content)),
		B:        difflib.SplitLines(string(modified)),
		FromFile: path,
		ToFile:   path + " (proposed)",
		Context:  3,
	})
	if err != nil {
		return nil, WrapError(IOFailure, "failed to compute diff", err)
	}

	out.diff = FileDiff{
		FilePath:   path,
		MatchCount: count,
		Diff:       diffText,
		BaseDigest: digest,
	}
	return out, nil
}

// Apply performs the transform for a previewed operation. Per-file failures
// are isolated unless AllOrNothing is set, in which case the first failure
// rolls back every file touched so far and the operation ends Failed.
func (bt *BulkTransformer) Apply(ctx context.Context, operationID string, opts ApplyOptions) (*ApplyResult, error) {
	op, err := bt.takeForApply(operationID)
	if err != nil {
		return nil, err
	}

	matcher, err := bt.compiler.Compile(
		op.Request.Pattern, op.Request.IsRegex, op.Request.CaseSensitive, op.Request.WholeWord)
	if err != nil {
		bt.finish(op, OpFailed)
		return nil, err
	}

	// The apply phase re-registers under the operation's own ID so that
	// GetProgress and Cancel reach the running apply, not the finished
	// preview.
	opCtx := ctx
	if bt.progress != nil {
		opCtx, err = bt.progress.Register(ctx, operationID, int64(len(op.Files)))
		if err != nil {
			bt.finish(op, OpFailed)
			return nil, err
		}
		defer bt.progress.Complete(operationID)
	}

	result := &ApplyResult{OperationID: operationID}

	var resMu sync.Mutex

	g, gctx := errgroup.WithContext(opCtx)
	g.SetLimit(bt.workers)
	for _, planned := range op.Files {
		planned := planned
		g.Go(func() error {
			// Cancellation is observed at the file boundary: a file is
			// either fully transformed or not started.
			if err := gctx.Err(); err != nil {
				return WrapError(Cancelled, "apply cancelled", err)
			}

			ferr := bt.applyFile(op, planned, matcher, opts)
			if bt.progress != nil {
				bt.progress.Update(operationID, 1)
			}

			resMu.Lock()
			defer resMu.Unlock()
			switch {
			case ferr == nil:
				result.FilesModified = append(result.FilesModified, planned.Path)
			case CodeOf(ferr) == Conflict:
				result.Conflicts = append(result.Conflicts, FileFailure{
					Path: planned.Path, Code: Conflict, Reason: ferr.Error(),
				})
				if opts.AllOrNothing {
					return ferr
				}
			default:
				result.FilesFailed = append(result.FilesFailed, FileFailure{
					Path: planned.Path, Code: CodeOf(ferr), Reason: ferr.Error(),
				})
				if bt.progress != nil {
					bt.progress.Fail(operationID, ferr)
				}
				if opts.AllOrNothing {
					return ferr // cancels the group; remaining files not started
				}
			}
			return nil
		})
	}
	err = g.Wait()

	sort.Strings(result.FilesModified)
	sortFailures(result.FilesFailed)
	sortFailures(result.Conflicts)

	// Without all-or-nothing, workers only propagate cancellation; per-file
	// failures stay inside the result.
	switch {
	case err != nil && opts.AllOrNothing:
		// Roll back everything touched in this operation, then fail.
		restored, rbFailures := bt.restoreBackups(op)
		result.FilesModified = nil
		result.FilesFailed = append(result.FilesFailed, rbFailures...)
		bt.logger.Warning("all-or-nothing apply rolled back", LogData{
			"operation": operationID,
			"restored":  len(restored),
		})
		bt.backups.Release(operationID, false)
		bt.finish(op, OpFailed)
		result.Status = OpFailed

	case err != nil:
		// Cooperative cancellation without all-or-nothing: applied files
		// stay applied, backups retained for explicit rollback.
		bt.finish(op, OpFailed)
		result.Status = OpFailed

	case len(result.FilesFailed) > 0 || len(result.Conflicts) > 0:
		// Partial success: succeeded files stay, backups retained so the
		// caller can still roll the operation back.
		bt.finish(op, OpFailed)
		result.Status = OpFailed

	default:
		// Commit: backups are owned by this operation and discarded now.
		bt.backups.Release(operationID, true)
		if bt.persist != nil {
			_ = bt.persist.DeleteBackups(operationID)
		}
		bt.finish(op, OpCommitted)
		result.Status = OpCommitted
	}

	return result, nil
}

// applyFile transforms a single file: conflict check, lazy backup, atomic
// write.
func (bt *BulkTransformer) applyFile(op *BulkOperation, planned PlannedFile, matcher *Matcher, opts ApplyOptions) error {
	content, err := os.ReadFile(planned.Path)
	if err != nil {
		return WrapError(IOFailure, "failed to read file", err)
	}

	// Conflict detection: on-disk content changed since preview.
	if digest := contentDigest(content); digest != planned.BaseDigest && !opts.ForceOverride {
		return NewError(Conflict, fmt.Sprintf(
			"%s changed on disk since preview (digest %.12s, previewed %.12s)",
			planned.Path, digest, planned.BaseDigest))
	}

	// Backup is captured the instant before first mutation. A backup held
	// by another uncommitted operation surfaces as a Conflict here.
	if _, err := bt.backups.Capture(op.ID, planned.Path); err != nil {
		return err
	}
	// SaveBackups replaces the operation's rows, so persist the full
	// captured set each time a file is added.
	if bt.persist != nil {
		_ = bt.persist.SaveBackups(op.ID, bt.backups.Backups(op.ID))
	}

	modified, count := transformContent(content, matcher, op.Request.Replacement)
	if count == 0 {
		// Nothing to write; file already satisfies the transform.
		bt.markApplied(op, planned.Path)
		return nil
	}

	if err := bt.writer.WriteFile(planned.Path, modified); err != nil {
		return err
	}
	bt.markApplied(op, planned.Path)
	return nil
}

// Rollback restores every backup belonging to the operation, newest first,
// hash-verifying each restored file. A file that cannot be restored is
// reported and the operation ends Failed rather than claiming success.
func (bt *BulkTransformer) Rollback(ctx context.Context, operationID string) (*RollbackResult, error) {
	op, err := bt.takeForRollback(operationID)
	if err != nil {
		return nil, err
	}

	// Register under the operation ID so callers polling GetProgress keep
	// watching the same handle across phases.
	if bt.progress != nil {
		if _, err := bt.progress.Register(ctx, operationID, int64(len(bt.backups.Backups(operationID)))); err == nil {
			defer bt.progress.Complete(operationID)
		}
	}

	restored, failures := bt.restoreBackups(op)

	result := &RollbackResult{
		OperationID:   operationID,
		FilesRestored: restored,
		FilesFailed:   failures,
	}
	if len(failures) > 0 {
		bt.finish(op, OpFailed)
		result.Status = OpFailed
		return result, NewError(RollbackIncomplete,
			fmt.Sprintf("%d of %d files could not be restored", len(failures), len(failures)+len(restored)),
			failures)
	}

	bt.backups.Release(operationID, true)
	if bt.persist != nil {
		_ = bt.persist.DeleteBackups(operationID)
	}
	bt.finish(op, OpRolledBack)
	result.Status = OpRolledBack
	return result, nil
}

// restoreBackups restores the operation's backups in reverse capture order,
// verifying content hashes before declaring success.
func (bt *BulkTransformer) restoreBackups(op *BulkOperation) ([]string, []FileFailure) {
	backups := bt.backups.Backups(op.ID)

	var (
		restored []string
		failures []FileFailure
	)
	for i := len(backups) - 1; i >= 0; i-- {
		b := backups[i]

		content, err := bt.backups.ReadBlob(b)
		if err != nil {
			failures = append(failures, FileFailure{
				Path: b.FilePath, Code: RollbackIncomplete, Reason: err.Error(),
			})
			continue
		}

		if err := bt.writer.WriteFile(b.FilePath, content); err != nil {
			failures = append(failures, FileFailure{
				Path: b.FilePath, Code: RollbackIncomplete, Reason: err.Error(),
			})
			continue
		}

		// Verify the restore round-trip byte for byte.
		onDisk, err := os.ReadFile(b.FilePath)
		if err != nil || contentDigest(onDisk) != b.Digest {
			failures = append(failures, FileFailure{
				Path: b.FilePath, Code: RollbackIncomplete,
				Reason: "restored content does not match backup digest",
			})
			continue
		}

		restored = append(restored, b.FilePath)
		if bt.progress != nil {
			bt.progress.Update(op.ID, 1)
		}
	}
	return restored, failures
}

// Get returns a snapshot of the operation.
func (bt *BulkTransformer) Get(operationID string) (*BulkOperation, bool) {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	op, ok := bt.lookupLocked(operationID)
	if !ok {
		return nil, false
	}
	snapshot := *op
	snapshot.Files = append([]PlannedFile(nil), op.Files...)
	return &snapshot, true
}

// Cleanup evicts finished operations past the TTL and sweeps orphaned blobs.
func (bt *BulkTransformer) Cleanup() int {
	bt.mu.Lock()
	removed := bt.cleanupLocked()
	bt.mu.Unlock()
	bt.backups.Sweep(bt.opTTL)
	return removed
}

func (bt *BulkTransformer) cleanupLocked() int {
	cutoff := bt.clock().Add(-bt.opTTL)
	removed := 0
	for id, op := range bt.ops {
		if op.Status == OpPending || op.Status == OpRunning {
			continue
		}
		if op.CompletedAt.Before(cutoff) {
			delete(bt.ops, id)
			removed++
		}
	}
	return removed
}

// lookupLocked finds an operation in the registry, falling back to the
// durable store the same way cursor resolution falls back to persisted
// cursors. A rehydrated operation re-adopts its persisted backups so apply
// and rollback see the same ownership a single process would.
func (bt *BulkTransformer) lookupLocked(operationID string) (*BulkOperation, bool) {
	if op, ok := bt.ops[operationID]; ok {
		return op, true
	}
	if bt.persist == nil {
		return nil, false
	}

	rec, err := bt.persist.LoadOperation(operationID)
	if err != nil {
		bt.logger.Warning("failed to load persisted operation", LogData{
			"operation": operationID,
			"error":     err.Error(),
		})
		return nil, false
	}
	if rec == nil {
		return nil, false
	}

	backups, err := bt.persist.LoadBackups(operationID)
	if err != nil {
		bt.logger.Warning("failed to load persisted backups", LogData{
			"operation": operationID,
			"error":     err.Error(),
		})
		return nil, false
	}
	if len(backups) > 0 {
		if err := bt.backups.Adopt(operationID, backups); err != nil {
			bt.logger.Warning("failed to adopt persisted backups", LogData{
				"operation": operationID,
				"error":     err.Error(),
			})
			return nil, false
		}
	}

	op := &BulkOperation{
		ID: rec.ID,
		Request: TransformRequest{
			Pattern:       rec.Pattern,
			IsRegex:       rec.IsRegex,
			CaseSensitive: rec.CaseSensitive,
			WholeWord:     rec.WholeWord,
			Replacement:   rec.Replacement,
		},
		Status:      rec.Status,
		CreatedAt:   rec.CreatedAt,
		CompletedAt: rec.CompletedAt,
		Files:       rec.Files,
	}
	bt.ops[operationID] = op
	return op, true
}

func (bt *BulkTransformer) takeForApply(operationID string) (*BulkOperation, error) {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	op, ok := bt.lookupLocked(operationID)
	if !ok {
		return nil, NewError(OperationNotFound, "unknown operation", operationID)
	}
	if op.Status != OpPending {
		return nil, NewError(OperationConflict,
			fmt.Sprintf("operation is %s, not pending", op.Status))
	}
	op.Status = OpRunning
	bt.saveOperationLocked(op)
	return op, nil
}

func (bt *BulkTransformer) takeForRollback(operationID string) (*BulkOperation, error) {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	op, ok := bt.lookupLocked(operationID)
	if !ok {
		return nil, NewError(OperationNotFound, "unknown operation", operationID)
	}
	switch op.Status {
	case OpFailed:
		return op, nil
	case OpCommitted:
		return nil, NewError(OperationConflict,
			"operation is committed and its backups are discarded; nothing to roll back")
	case OpRolledBack:
		return nil, NewError(OperationConflict, "operation is already rolled back")
	default:
		return nil, NewError(OperationConflict,
			fmt.Sprintf("operation is %s; only failed operations can be rolled back", op.Status))
	}
}

func (bt *BulkTransformer) markApplied(op *BulkOperation, path string) {
	bt.mu.Lock()
	op.applied = append(op.applied, path)
	bt.mu.Unlock()
}

func (bt *BulkTransformer) finish(op *BulkOperation, status OperationStatus) {
	bt.mu.Lock()
	op.Status = status
	op.CompletedAt = bt.clock()
	bt.saveOperationLocked(op)
	bt.mu.Unlock()
}

func (bt *BulkTransformer) saveOperation(op *BulkOperation) {
	bt.mu.Lock()
	bt.saveOperationLocked(op)
	bt.mu.Unlock()
}

func (bt *BulkTransformer) saveOperationLocked(op *BulkOperation) {
	if bt.persist == nil {
		return
	}
	rec := OperationRecord{
		ID:            op.ID,
		Status:        op.Status,
		Pattern:       op.Request.Pattern,
		IsRegex:       op.Request.IsRegex,
		CaseSensitive: op.Request.CaseSensitive,
		WholeWord:     op.Request.WholeWord,
		Replacement:   op.Request.Replacement,
		Files:         append([]PlannedFile(nil), op.Files...),
		CreatedAt:     op.CreatedAt,
		CompletedAt:   op.CompletedAt,
	}
	if err := bt.persist.SaveOperation(rec); err != nil {
		bt.logger.Warning("failed to persist operation", LogData{
			"operation": op.ID,
			"error":     err.Error(),
		})
	}
}

func sortFailures(failures []FileFailure) {
	sort.Slice(failures, func(i, j int) bool {
		return failures[i].Path < failures[j].Path
	})
}

// transformContent applies the matcher line by line, preserving original
// line endings, and returns the rewritten content with the match count.
func transformContent(content []byte, matcher *Matcher, replacement string) ([]byte, int) {
	lines := strings.Split(string(content), "\n")

	count := 0
	for i, line := range lines {
		cr := strings.HasSuffix(line, "\r")
		base := strings.TrimSuffix(line, "\r")

		locs := matcher.FindAll(base)
		if len(locs) == 0 {
			continue
		}
		count += len(locs)

		base = matcher.Replace(base, replacement)
		if cr {
			base += "\r"
		}
		lines[i] = base
	}

	return []byte(strings.Join(lines, "\n")), count
}
