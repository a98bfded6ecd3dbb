package core

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func writeTestFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create parent dirs: %v", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	return path
}

func candidatePaths(resolved *ResolvedScope) []string {
	paths := make([]string, 0, len(resolved.Candidates))
	for _, c := range resolved.Candidates {
		paths = append(paths, c.Path)
	}
	return paths
}

func TestResolveBasicEnumeration(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.go", []byte("package a\n"))
	writeTestFile(t, dir, "b.txt", []byte("hello\n"))
	writeTestFile(t, dir, "sub/c.go", []byte("package c\n"))

	resolver := NewScopeResolver(nil)
	resolved, err := resolver.Resolve(context.Background(), FileScope{Path: dir})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if len(resolved.Candidates) != 3 {
		t.Fatalf("Expected 3 candidates, got %d: %v", len(resolved.Candidates), candidatePaths(resolved))
	}
}

func TestResolveIncludeGlobs(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "main.go", []byte("package main\n"))
	writeTestFile(t, dir, "notes.md", []byte("# notes\n"))
	writeTestFile(t, dir, "nested/util.go", []byte("package nested\n"))

	resolver := NewScopeResolver(nil)
	resolved, err := resolver.Resolve(context.Background(), FileScope{
		Path:    dir,
		Include: []string{"*.go"},
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	for _, c := range resolved.Candidates {
		if filepath.Ext(c.Path) != ".go" {
			t.Errorf("Include filter let through %s", c.Path)
		}
	}
	if len(resolved.Candidates) != 2 {
		t.Errorf("Expected 2 .go candidates, got %d", len(resolved.Candidates))
	}
}

func TestResolveExcludeGlobs(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "keep.go", []byte("package keep\n"))
	writeTestFile(t, dir, "skip_test.go", []byte("package keep\n"))

	resolver := NewScopeResolver(nil)
	resolved, err := resolver.Resolve(context.Background(), FileScope{
		Path:    dir,
		Exclude: []string{"*_test.go"},
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if len(resolved.Candidates) != 1 {
		t.Fatalf("Expected 1 candidate, got %v", candidatePaths(resolved))
	}
	if filepath.Base(resolved.Candidates[0].Path) != "keep.go" {
		t.Errorf("Wrong file survived exclusion: %s", resolved.Candidates[0].Path)
	}
}

func TestResolveDefaultDirExclusions(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "src.go", []byte("package src\n"))
	writeTestFile(t, dir, ".git/config", []byte("[core]\n"))
	writeTestFile(t, dir, "node_modules/pkg/index.js", []byte("x\n"))

	resolver := NewScopeResolver(nil)
	resolved, err := resolver.Resolve(context.Background(), FileScope{Path: dir})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if len(resolved.Candidates) != 1 {
		t.Fatalf("Default exclusions failed: %v", candidatePaths(resolved))
	}

	// Opting out should surface them again
	resolved, err = resolver.Resolve(context.Background(), FileScope{Path: dir, NoDefaultSkips: true})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(resolved.Candidates) != 3 {
		t.Errorf("NoDefaultSkips should include all files, got %v", candidatePaths(resolved))
	}
}

func TestResolveBinaryDetection(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "text.txt", []byte("plain text content\n"))

	binary := bytes.Repeat([]byte{0x00, 'a'}, 512) // 50% NUL bytes
	writeTestFile(t, dir, "blob.bin", binary)

	resolver := NewScopeResolver(nil)
	resolved, err := resolver.Resolve(context.Background(), FileScope{Path: dir})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if len(resolved.Candidates) != 1 {
		t.Fatalf("Expected only the text file, got %v", candidatePaths(resolved))
	}

	foundSkip := false
	for _, s := range resolved.Skipped {
		if filepath.Base(s.Path) == "blob.bin" && s.Reason == "binary content" {
			foundSkip = true
		}
	}
	if !foundSkip {
		t.Errorf("Binary file not reported in skip list: %v", resolved.Skipped)
	}
}

func TestResolveSparseNulsStayText(t *testing.T) {
	dir := t.TempDir()
	// A few NULs in mostly-text content stays under the 30% threshold
	content := append(bytes.Repeat([]byte("text line here\n"), 100), 0x00, 0x00)
	writeTestFile(t, dir, "mostly-text.dat", content)

	resolver := NewScopeResolver(nil)
	resolved, err := resolver.Resolve(context.Background(), FileScope{Path: dir})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(resolved.Candidates) != 1 {
		t.Errorf("Sparse NUL bytes should not classify as binary: %v", resolved.Skipped)
	}
}

func TestResolveSizeCeiling(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "small.txt", []byte("tiny\n"))
	writeTestFile(t, dir, "large.txt", bytes.Repeat([]byte("padding line\n"), 100))

	resolver := NewScopeResolver(nil)
	resolved, err := resolver.Resolve(context.Background(), FileScope{
		Path:        dir,
		MaxFileSize: 64,
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if len(resolved.Candidates) != 1 {
		t.Fatalf("Expected only the small file, got %v", candidatePaths(resolved))
	}
	if len(resolved.Skipped) != 1 {
		t.Errorf("Oversized file should be in the skip list: %v", resolved.Skipped)
	}

	// StreamLarge admits it despite the ceiling
	resolved, err = resolver.Resolve(context.Background(), FileScope{
		Path:        dir,
		MaxFileSize: 64,
		StreamLarge: true,
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(resolved.Candidates) != 2 {
		t.Errorf("StreamLarge should admit oversized files, got %v", candidatePaths(resolved))
	}
}

func TestResolveDeterministicOrder(t *testing.T) {
	dir := t.TempDir()
	names := []string{"zeta.txt", "alpha.txt", "mid/inner.txt", "beta.txt"}
	for _, name := range names {
		writeTestFile(t, dir, name, []byte("x\n"))
	}

	resolver := NewScopeResolver(nil)

	first, err := resolver.Resolve(context.Background(), FileScope{Path: dir})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	second, err := resolver.Resolve(context.Background(), FileScope{Path: dir})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	firstPaths := candidatePaths(first)
	secondPaths := candidatePaths(second)
	if len(firstPaths) != len(secondPaths) {
		t.Fatal("Two resolutions disagree on candidate count")
	}
	for i := range firstPaths {
		if firstPaths[i] != secondPaths[i] {
			t.Fatalf("Order differs at %d: %s vs %s", i, firstPaths[i], secondPaths[i])
		}
	}

	// Entries inside one directory come back sorted
	var topLevel []string
	for _, p := range firstPaths {
		if filepath.Dir(p) == dir {
			topLevel = append(topLevel, p)
		}
	}
	if !sort.StringsAreSorted(topLevel) {
		t.Errorf("Top-level entries not in sorted order: %v", topLevel)
	}
}

func TestResolveMaxDepth(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "top.txt", []byte("x\n"))
	writeTestFile(t, dir, "one/mid.txt", []byte("x\n"))
	writeTestFile(t, dir, "one/two/deep.txt", []byte("x\n"))

	resolver := NewScopeResolver(nil)
	resolved, err := resolver.Resolve(context.Background(), FileScope{Path: dir, MaxDepth: 1})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	for _, c := range resolved.Candidates {
		if filepath.Base(c.Path) == "deep.txt" {
			t.Error("MaxDepth 1 should not reach two levels down")
		}
	}
}

func TestResolveMaxFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.txt", "b.txt", "c.txt", "d.txt"} {
		writeTestFile(t, dir, name, []byte("x\n"))
	}

	resolver := NewScopeResolver(nil)
	resolved, err := resolver.Resolve(context.Background(), FileScope{Path: dir, MaxFiles: 2})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(resolved.Candidates) != 2 {
		t.Errorf("Expected 2 candidates under MaxFiles, got %d", len(resolved.Candidates))
	}
}

func TestResolveInvalidScope(t *testing.T) {
	resolver := NewScopeResolver(nil)

	if _, err := resolver.Resolve(context.Background(), FileScope{}); CodeOf(err) != InvalidRequest {
		t.Errorf("Empty path: expected InvalidRequest, got %v", err)
	}

	if _, err := resolver.Resolve(context.Background(), FileScope{Path: "/nonexistent/nowhere"}); CodeOf(err) != InvalidRequest {
		t.Errorf("Missing path: expected InvalidRequest, got %v", err)
	}

	file := writeTestFile(t, t.TempDir(), "plain.txt", []byte("x\n"))
	if _, err := resolver.Resolve(context.Background(), FileScope{Path: file}); CodeOf(err) != InvalidRequest {
		t.Errorf("File path: expected InvalidRequest, got %v", err)
	}
}

func TestResolveSymlinksIgnoredByDefault(t *testing.T) {
	dir := t.TempDir()
	target := writeTestFile(t, dir, "real.txt", []byte("x\n"))
	link := filepath.Join(dir, "link.txt")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	resolver := NewScopeResolver(nil)
	resolved, err := resolver.Resolve(context.Background(), FileScope{Path: dir})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(resolved.Candidates) != 1 {
		t.Errorf("Symlink followed without opt-in: %v", candidatePaths(resolved))
	}

	resolved, err = resolver.Resolve(context.Background(), FileScope{Path: dir, FollowSymlinks: true})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(resolved.Candidates) != 2 {
		t.Errorf("FollowSymlinks should admit the link: %v", candidatePaths(resolved))
	}
}

func TestResolveSymlinkCycleTerminates(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	writeTestFile(t, dir, "sub/file.txt", []byte("x\n"))
	if err := os.Symlink(dir, filepath.Join(sub, "loop")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	resolver := NewScopeResolver(nil)
	resolved, err := resolver.Resolve(context.Background(), FileScope{Path: dir, FollowSymlinks: true})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(resolved.Candidates) == 0 {
		t.Error("Cycle detection dropped all files")
	}
}
