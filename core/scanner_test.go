package core

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

func mustCompile(t *testing.T, pattern string, isRegex bool) *Matcher {
	t.Helper()
	m, err := NewPatternCompiler(0, 0).Compile(pattern, isRegex, true, false)
	if err != nil {
		t.Fatalf("Compile %q failed: %v", pattern, err)
	}
	return m
}

func TestScanBasicMatch(t *testing.T) {
	input := "first line\nsecond with needle here\nthird line\n"
	scanner := NewMatchScanner()

	matches, err := scanner.scan(context.Background(), strings.NewReader(input), "mem.txt", mustCompile(t, "needle", false), 0)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if len(matches) != 1 {
		t.Fatalf("Expected 1 match, got %d", len(matches))
	}
	m := matches[0]
	if m.LineNumber != 2 {
		t.Errorf("Expected line 2, got %d", m.LineNumber)
	}
	if m.ColumnStart != 13 || m.ColumnEnd != 19 {
		t.Errorf("Expected columns 13-19, got %d-%d", m.ColumnStart, m.ColumnEnd)
	}
	if m.MatchedText != "needle" {
		t.Errorf("Wrong matched text: %q", m.MatchedText)
	}
	if m.LineText != "second with needle here" {
		t.Errorf("Wrong line text: %q", m.LineText)
	}
}

func TestScanMultipleMatchesPerLine(t *testing.T) {
	input := "ab ab ab\n"
	scanner := NewMatchScanner()

	matches, err := scanner.scan(context.Background(), strings.NewReader(input), "mem.txt", mustCompile(t, "ab", false), 0)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("Expected 3 matches, got %d", len(matches))
	}
	if matches[0].ColumnStart != 1 || matches[1].ColumnStart != 4 || matches[2].ColumnStart != 7 {
		t.Errorf("Wrong columns: %d, %d, %d",
			matches[0].ColumnStart, matches[1].ColumnStart, matches[2].ColumnStart)
	}
}

func TestScanUnicodeColumns(t *testing.T) {
	// Three multi-byte runes precede the match; columns count runes
	input := "λλλ needle\n"
	scanner := NewMatchScanner()

	matches, err := scanner.scan(context.Background(), strings.NewReader(input), "mem.txt", mustCompile(t, "needle", false), 0)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("Expected 1 match, got %d", len(matches))
	}
	if matches[0].ColumnStart != 5 {
		t.Errorf("Expected rune column 5, got %d", matches[0].ColumnStart)
	}
}

func TestScanContextLines(t *testing.T) {
	input := "one\ntwo\nthree\nhit\nfive\nsix\nseven\n"
	scanner := NewMatchScanner()

	matches, err := scanner.scan(context.Background(), strings.NewReader(input), "mem.txt", mustCompile(t, "hit", false), 2)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("Expected 1 match, got %d", len(matches))
	}

	m := matches[0]
	if len(m.ContextBefore) != 2 || m.ContextBefore[0] != "two" || m.ContextBefore[1] != "three" {
		t.Errorf("Wrong before-context: %v", m.ContextBefore)
	}
	if len(m.ContextAfter) != 2 || m.ContextAfter[0] != "five" || m.ContextAfter[1] != "six" {
		t.Errorf("Wrong after-context: %v", m.ContextAfter)
	}
}

func TestScanContextAtFileEdges(t *testing.T) {
	input := "hit at start\nmiddle\nhit at end"
	scanner := NewMatchScanner()

	matches, err := scanner.scan(context.Background(), strings.NewReader(input), "mem.txt", mustCompile(t, "hit", false), 3)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("Expected 2 matches, got %d", len(matches))
	}

	if len(matches[0].ContextBefore) != 0 {
		t.Errorf("First line should have no before-context: %v", matches[0].ContextBefore)
	}
	if len(matches[1].ContextAfter) != 0 {
		t.Errorf("Last line should have no after-context: %v", matches[1].ContextAfter)
	}
	if len(matches[0].ContextAfter) != 2 {
		t.Errorf("First match should see the 2 following lines: %v", matches[0].ContextAfter)
	}
}

func TestScanMatchSpanningChunkBoundary(t *testing.T) {
	// Build input so "needle" straddles the 64KB chunk boundary inside one line
	var sb strings.Builder
	sb.WriteString(strings.Repeat("x", scanChunkSize-3))
	sb.WriteString("needle")
	sb.WriteString(strings.Repeat("y", 100))
	sb.WriteString("\n")

	scanner := NewMatchScanner()
	matches, err := scanner.scan(context.Background(), strings.NewReader(sb.String()), "mem.txt", mustCompile(t, "needle", false), 0)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("Match across the chunk boundary lost: got %d matches", len(matches))
	}
	if matches[0].ColumnStart != scanChunkSize-2 {
		t.Errorf("Wrong boundary match column: %d", matches[0].ColumnStart)
	}
}

func TestScanCRLFLineEndings(t *testing.T) {
	input := "alpha\r\nbeta needle\r\ngamma\r\n"
	scanner := NewMatchScanner()

	matches, err := scanner.scan(context.Background(), strings.NewReader(input), "mem.txt", mustCompile(t, "needle", false), 1)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("Expected 1 match, got %d", len(matches))
	}
	if matches[0].LineText != "beta needle" {
		t.Errorf("CR not stripped from line text: %q", matches[0].LineText)
	}
	if matches[0].ContextBefore[0] != "alpha" {
		t.Errorf("CR not stripped from context: %q", matches[0].ContextBefore[0])
	}
}

func TestScanNoTrailingNewline(t *testing.T) {
	input := "no newline needle"
	scanner := NewMatchScanner()

	matches, err := scanner.scan(context.Background(), strings.NewReader(input), "mem.txt", mustCompile(t, "needle", false), 0)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("Final unterminated line missed: got %d matches", len(matches))
	}
}

func TestScanOversizedLineTruncated(t *testing.T) {
	// One physical line beyond the assembly bound, with the marker past the cut
	var sb strings.Builder
	sb.WriteString("prefix-needle-")
	sb.WriteString(strings.Repeat("z", maxScanLineBytes))
	sb.WriteString("tail-needle\n")
	sb.WriteString("next needle line\n")

	scanner := NewMatchScanner()
	matches, err := scanner.scan(context.Background(), strings.NewReader(sb.String()), "mem.txt", mustCompile(t, "needle", false), 0)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	// The prefix occurrence is found, the beyond-bound occurrence is not, and
	// scanning continues cleanly on the following line.
	if len(matches) != 2 {
		t.Fatalf("Expected 2 matches (prefix + next line), got %d", len(matches))
	}
	if matches[0].LineNumber != 1 || matches[1].LineNumber != 2 {
		t.Errorf("Wrong line numbers: %d, %d", matches[0].LineNumber, matches[1].LineNumber)
	}
}

func TestScanCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	scanner := NewMatchScanner()
	matches, err := scanner.scan(ctx, strings.NewReader("a needle\n"), "mem.txt", mustCompile(t, "needle", false), 0)
	if !IsCancelled(err) {
		t.Fatalf("Expected Cancelled, got %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("Cancelled before reading should yield no matches, got %d", len(matches))
	}
}

func TestScanFileMissing(t *testing.T) {
	scanner := NewMatchScanner()
	_, err := scanner.ScanFile(context.Background(), "/nonexistent/file.txt", mustCompile(t, "x", false), 0)
	if CodeOf(err) != IOFailure {
		t.Fatalf("Expected IOFailure, got %v", err)
	}
}

func TestScanManyLinesStableNumbers(t *testing.T) {
	var sb strings.Builder
	for i := 1; i <= 5000; i++ {
		if i%1000 == 0 {
			fmt.Fprintf(&sb, "line %d has a needle\n", i)
		} else {
			fmt.Fprintf(&sb, "line %d\n", i)
		}
	}

	scanner := NewMatchScanner()
	matches, err := scanner.scan(context.Background(), strings.NewReader(sb.String()), "mem.txt", mustCompile(t, "needle", false), 0)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(matches) != 5 {
		t.Fatalf("Expected 5 matches, got %d", len(matches))
	}
	for i, m := range matches {
		if m.LineNumber != (i+1)*1000 {
			t.Errorf("Match %d at wrong line %d", i, m.LineNumber)
		}
	}
}
