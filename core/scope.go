package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	// DefaultMaxFileSize is the per-file size ceiling unless the scope
	// overrides it or opts into large-file streaming.
	DefaultMaxFileSize = 10 * 1024 * 1024

	binarySampleSize   = 8 * 1024
	binaryNulThreshold = 0.30
)

// defaultExcludedDirs are pruned from every walk unless the scope disables
// default exclusions: version control, build output, package caches, and the
// engine's own data directory.
var defaultExcludedDirs = map[string]struct{}{
	".git":         {},
	".hg":          {},
	".svn":         {},
	".scour":       {},
	"node_modules": {},
	"vendor":       {},
	"target":       {},
	"dist":         {},
	"build":        {},
	"out":          {},
	"__pycache__":  {},
	".gradle":      {},
	".cache":       {},
}

// FileCandidate is one file admitted into scope.
type FileCandidate struct {
	Path string
	Size int64
}

// ResolvedScope is the ordered outcome of scope resolution. Candidates are
// in deterministic walk order (directories read in sorted entry order), so
// cursor-based resumption replays identically on an unchanged tree.
type ResolvedScope struct {
	Candidates []FileCandidate
	Skipped    []SkippedFile
}

// ScopeResolver enumerates candidate files beneath a root, applying glob
// filters, default exclusions, and cheap binary/size pre-filters.
type ScopeResolver struct {
	logger *Logger
}

// NewScopeResolver creates a resolver. A nil logger is replaced with a nop.
func NewScopeResolver(logger *Logger) *ScopeResolver {
	if logger == nil {
		logger = NopLogger()
	}
	return &ScopeResolver{logger: logger}
}

// Resolve validates the scope and walks it. An unreadable directory is
// logged and skipped, never fatal to the whole enumeration.
func (sr *ScopeResolver) Resolve(ctx context.Context, scope FileScope) (*ResolvedScope, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}

	maxSize := scope.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	resolved := &ResolvedScope{}
	walker := &scopeWalk{
		resolver: sr,
		scope:    scope,
		maxSize:  maxSize,
		out:      resolved,
	}
	if scope.FollowSymlinks {
		walker.visited = make(map[string]struct{})
		if real, err := filepath.EvalSymlinks(scope.Path); err == nil {
			walker.visited[real] = struct{}{}
		} else {
			walker.visited[scope.Path] = struct{}{}
		}
	}

	if err := walker.walkDir(ctx, scope.Path, 0); err != nil {
		return nil, err
	}
	return resolved, nil
}

type scopeWalk struct {
	resolver *ScopeResolver
	scope    FileScope
	maxSize  int64
	out      *ResolvedScope
	visited  map[string]struct{} // resolved dir paths, only when following symlinks
}

// walkDir recurses in os.ReadDir's sorted entry order. Returns an error only
// for context cancellation.
func (w *scopeWalk) walkDir(ctx context.Context, dirPath string, depth int) error {
	if err := ctx.Err(); err != nil {
		return WrapError(Cancelled, "scope resolution cancelled", err)
	}
	if w.scope.MaxDepth > 0 && depth > w.scope.MaxDepth {
		return nil
	}
	if w.scope.MaxFiles > 0 && len(w.out.Candidates) >= w.scope.MaxFiles {
		return nil
	}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		w.resolver.logger.Warning("skipping unreadable directory", LogData{
			"path":  dirPath,
			"error": err.Error(),
		})
		return nil
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return WrapError(Cancelled, "scope resolution cancelled", err)
		}
		if w.scope.MaxFiles > 0 && len(w.out.Candidates) >= w.scope.MaxFiles {
			return nil
		}

		fullPath := filepath.Join(dirPath, entry.Name())

		if entry.IsDir() || (entry.Type()&os.ModeSymlink != 0 && w.scope.FollowSymlinks) {
			if w.isDirExcluded(entry.Name(), fullPath) {
				continue
			}
		}

		// Symlinks are ignored unless the scope opts in.
		if entry.Type()&os.ModeSymlink != 0 {
			if !w.scope.FollowSymlinks {
				continue
			}
			real, err := filepath.EvalSymlinks(fullPath)
			if err != nil || real == "" {
				continue
			}
			info, err := os.Stat(real)
			if err != nil {
				continue
			}
			if info.IsDir() {
				if _, seen := w.visited[real]; seen {
					continue
				}
				w.visited[real] = struct{}{}
				if err := w.walkDir(ctx, fullPath, depth+1); err != nil {
					return err
				}
				continue
			}
			w.considerFile(fullPath, info.Size())
			continue
		}

		if entry.IsDir() {
			if w.visited != nil {
				real := fullPath
				if resolved, err := filepath.EvalSymlinks(fullPath); err == nil && resolved != "" {
					real = resolved
				}
				if _, seen := w.visited[real]; seen {
					continue
				}
				w.visited[real] = struct{}{}
			}
			if err := w.walkDir(ctx, fullPath, depth+1); err != nil {
				return err
			}
			continue
		}

		info, err := entry.Info()
		if err != nil {
			w.out.Skipped = append(w.out.Skipped, SkippedFile{
				Path:   fullPath,
				Reason: fmt.Sprintf("stat failed: %v", err),
			})
			continue
		}
		w.considerFile(fullPath, info.Size())
	}

	return nil
}

// considerFile applies include/exclude globs and the binary/size pre-filters.
func (w *scopeWalk) considerFile(path string, size int64) {
	if isExcluded(path, w.scope.Exclude) {
		return
	}
	if !isIncluded(path, w.scope.Include) {
		return
	}

	if size > w.maxSize && !w.scope.StreamLarge {
		w.out.Skipped = append(w.out.Skipped, SkippedFile{
			Path:   path,
			Reason: fmt.Sprintf("file size %d exceeds ceiling %d", size, w.maxSize),
		})
		return
	}

	if binary, err := sampleLooksBinary(path); err != nil {
		w.out.Skipped = append(w.out.Skipped, SkippedFile{
			Path:   path,
			Reason: fmt.Sprintf("unreadable: %v", err),
		})
		return
	} else if binary {
		w.out.Skipped = append(w.out.Skipped, SkippedFile{
			Path:   path,
			Reason: "binary content",
		})
		return
	}

	w.out.Candidates = append(w.out.Candidates, FileCandidate{Path: path, Size: size})
}

func (w *scopeWalk) isDirExcluded(name, fullPath string) bool {
	if !w.scope.NoDefaultSkips {
		if _, skip := defaultExcludedDirs[name]; skip {
			return true
		}
	}
	return isExcluded(fullPath, w.scope.Exclude)
}

// sampleLooksBinary reads the first 8KB and checks the proportion of NUL
// bytes against the threshold. An empty file is text.
func sampleLooksBinary(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	sample := make([]byte, binarySampleSize)
	n, err := f.Read(sample)
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	sample = sample[:n]

	nuls := bytes.Count(sample, []byte{0})
	return float64(nuls)/float64(n) > binaryNulThreshold, nil
}

func isIncluded(path string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, pattern := range patterns {
		if matchPattern(path, pattern) {
			return true
		}
	}
	return false
}

func isExcluded(path string, patterns []string) bool {
	for _, pattern := range patterns {
		if matchPattern(path, pattern) {
			return true
		}
	}
	return false
}

// matchPattern performs glob matching with ** support; simple patterns
// without separators also match against the basename.
func matchPattern(path, pattern string) bool {
	if matched, err := doublestar.PathMatch(pattern, path); err == nil && matched {
		return true
	}
	if !strings.Contains(pattern, "/") {
		basename := filepath.Base(path)
		if matched, err := doublestar.PathMatch(pattern, basename); err == nil && matched {
			return true
		}
	}
	return false
}

func validateScope(scope FileScope) error {
	if scope.Path == "" {
		return NewError(InvalidRequest, "scope path is required")
	}
	info, err := os.Stat(scope.Path)
	if err != nil {
		return WrapError(InvalidRequest, fmt.Sprintf("cannot access path %s", scope.Path), err)
	}
	if !info.IsDir() {
		return NewError(InvalidRequest, fmt.Sprintf("path %s is not a directory", scope.Path))
	}
	return nil
}
