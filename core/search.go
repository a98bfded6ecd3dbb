package core

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// SearchOrchestrator fans the match scanner out across the scope resolver's
// output under bounded parallelism and merges results into one stream ordered
// by file path, then line.
type SearchOrchestrator struct {
	compiler *PatternCompiler
	resolver *ScopeResolver
	scanner  *MatchScanner
	cursors  *CursorManager
	progress *ProgressCoordinator
	logger   *Logger
	workers  int
}

// SearchOrchestratorConfig wires the orchestrator's collaborators.
type SearchOrchestratorConfig struct {
	Compiler *PatternCompiler
	Resolver *ScopeResolver
	Scanner  *MatchScanner
	Cursors  *CursorManager
	Progress *ProgressCoordinator
	Logger   *Logger
	Workers  int // 0 = NumCPU
}

// NewSearchOrchestrator creates an orchestrator.
func NewSearchOrchestrator(cfg SearchOrchestratorConfig) *SearchOrchestrator {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = NopLogger()
	}
	return &SearchOrchestrator{
		compiler: cfg.Compiler,
		resolver: cfg.Resolver,
		scanner:  cfg.Scanner,
		cursors:  cfg.Cursors,
		progress: cfg.Progress,
		logger:   logger,
		workers:  workers,
	}
}

// Search executes one page of a search. Pattern validation and scope
// resolution fail synchronously before any file scanning begins.
//
// Truncation happens at file boundaries so results stay file-atomic: the
// page includes every match of each included file, stopping once the match
// count reaches MaxResults. Paged invocations therefore replay the exact
// prefix an unpaginated invocation would produce on an unchanged tree.
func (so *SearchOrchestrator) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	start := time.Now()

	matcher, err := so.compiler.Compile(req.Pattern, req.IsRegex, req.CaseSensitive, req.WholeWord)
	if err != nil {
		return nil, err
	}

	var resume *CursorState
	if req.ResumeCursor != "" {
		resume, err = so.cursors.Resolve(req.ResumeCursor, req)
		if err != nil {
			return nil, err
		}
	}

	resolved, err := so.resolver.Resolve(ctx, req.Scope)
	if err != nil {
		return nil, err
	}
	if len(resolved.Candidates) == 0 {
		return nil, NewError(ScopeEmpty, "no files matched the requested scope",
			map[string]any{"skipped": resolved.Skipped})
	}

	candidates := resolved.Candidates
	searchID := uuid.NewString()
	priorTotal := 0
	if resume != nil {
		searchID = resume.SearchID
		priorTotal = resume.TotalSoFar
		candidates = resumeCandidates(candidates, resume)
	}

	result := &SearchResult{
		Stats: SearchStats{
			FilesSkipped: len(resolved.Skipped),
			Skipped:      resolved.Skipped,
		},
	}
	if len(candidates) == 0 {
		// The cursor pointed past the end of the (possibly shrunken) tree.
		result.Status = SearchCompleted
		result.TotalSoFar = priorTotal
		result.Stats.Duration = time.Since(start)
		return result, nil
	}

	opCtx := ctx
	if so.progress != nil {
		opCtx, err = so.progress.Register(ctx, searchID, int64(len(candidates)))
		if err != nil {
			return nil, err
		}
		defer so.progress.Complete(searchID)
	}

	batches := make([][]SearchMatch, len(candidates))
	scanned := make([]bool, len(candidates))
	skips := make([]*SkippedFile, len(candidates))

	var (
		matchCount atomic.Int64
		stateMu    sync.Mutex
	)

	g, gctx := errgroup.WithContext(opCtx)
	g.SetLimit(so.workers)

	dispatched := 0
	for i, cand := range candidates {
		// Short-circuit: no new files once the running count reaches the
		// cap; in-flight workers still finish their current file.
		if req.MaxResults > 0 && matchCount.Load() >= int64(req.MaxResults) {
			break
		}
		if gctx.Err() != nil {
			break
		}
		dispatched++

		i, cand := i, cand
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil // cancelled before starting; file stays unscanned
			}

			fileMatches, scanErr := so.scanner.ScanFile(gctx, cand.Path, matcher, req.ContextLines)
			if scanErr != nil {
				if IsCancelled(scanErr) {
					// Discard the partial file to keep results file-atomic.
					return nil
				}
				so.logger.Warning("file scan failed", LogData{
					"path":  cand.Path,
					"error": scanErr.Error(),
				})
				stateMu.Lock()
				skips[i] = &SkippedFile{Path: cand.Path, Reason: scanErr.Error()}
				scanned[i] = true
				stateMu.Unlock()
				if so.progress != nil {
					so.progress.Update(searchID, 1)
				}
				return nil
			}

			stateMu.Lock()
			batches[i] = fileMatches
			scanned[i] = true
			stateMu.Unlock()
			matchCount.Add(int64(len(fileMatches)))
			if so.progress != nil {
				so.progress.Update(searchID, 1)
			}
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; cancellation flows via context

	cancelled := opCtx.Err() != nil

	lastIncluded := mergeScanBatches(result, batches, scanned, skips, dispatched, req.MaxResults)

	result.TotalSoFar = priorTotal + len(result.Matches)
	result.Stats.Duration = time.Since(start)

	switch {
	case cancelled:
		result.Status = SearchCancelled
	case lastIncluded < len(candidates)-1:
		result.Status = SearchTruncated
		result.HasMore = true
		token, cerr := so.cursors.Create(CursorState{
			SearchID:       searchID,
			Fingerprint:    RequestFingerprint(req),
			FilesProcessed: fileOffset(resume) + lastIncluded + 1,
			LastFilePath:   candidates[lastIncluded].Path,
			TotalSoFar:     result.TotalSoFar,
		})
		if cerr != nil {
			return nil, cerr
		}
		result.NextCursor = token
	default:
		result.Status = SearchCompleted
	}

	return result, nil
}

// mergeScanBatches folds per-file scan results into the page in path order,
// never completion order, stopping at the first unscanned file so a cancelled
// page is still an exact ordered prefix. A file whose scan failed is counted
// as skipped, not scanned. Returns the index of the last file folded in.
func mergeScanBatches(result *SearchResult, batches [][]SearchMatch, scanned []bool, skips []*SkippedFile, dispatched, maxResults int) int {
	lastIncluded := -1
	for i := 0; i < dispatched; i++ {
		if !scanned[i] {
			break
		}
		if skips[i] != nil {
			result.Stats.Skipped = append(result.Stats.Skipped, *skips[i])
			result.Stats.FilesSkipped++
			lastIncluded = i
			continue
		}
		result.Matches = append(result.Matches, batches[i]...)
		result.Stats.FilesScanned++
		if len(batches[i]) > 0 {
			result.Stats.FilesMatched++
		}
		lastIncluded = i
		if maxResults > 0 && len(result.Matches) >= maxResults {
			break
		}
	}
	return lastIncluded
}

// resumeCandidates drops the already-processed prefix. The walk order is
// deterministic, so the last processed path is located by value first and by
// recorded offset as a fallback when the tree changed underneath the cursor.
func resumeCandidates(candidates []FileCandidate, resume *CursorState) []FileCandidate {
	for i, cand := range candidates {
		if cand.Path == resume.LastFilePath {
			return candidates[i+1:]
		}
	}
	if resume.FilesProcessed < len(candidates) {
		return candidates[resume.FilesProcessed:]
	}
	return nil
}

func fileOffset(resume *CursorState) int {
	if resume == nil {
		return 0
	}
	return resume.FilesProcessed
}
