package core

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"unicode/utf8"
)

const (
	// scanChunkSize is the read buffer size; a file is never pulled into
	// memory whole.
	scanChunkSize = 64 * 1024

	// maxScanLineBytes bounds single-line assembly. A pathological line
	// beyond this is matched against its prefix only, keeping memory use
	// proportional to the chunk size rather than the file.
	maxScanLineBytes = 4 * 1024 * 1024
)

// MatchScanner streams one file and yields matches with surrounding context.
type MatchScanner struct {
	chunkSize int
}

// NewMatchScanner creates a scanner with the default chunk size.
func NewMatchScanner() *MatchScanner {
	return &MatchScanner{chunkSize: scanChunkSize}
}

// pendingMatch is an emitted-but-not-finalized match waiting for its
// after-context lines.
type pendingMatch struct {
	match     SearchMatch
	remaining int
}

// ScanFile scans path with the compiled matcher and returns its matches in
// line order. Context lines before a match come from a rolling window of the
// last N lines; context after is filled retroactively from a short queue
// bounded by contextLines. Cancellation is checked as lines are consumed.
func (ms *MatchScanner) ScanFile(ctx context.Context, path string, matcher *Matcher, contextLines int) ([]SearchMatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, WrapError(IOFailure, "failed to open file", err)
	}
	defer f.Close()

	return ms.scan(ctx, f, path, matcher, contextLines)
}

func (ms *MatchScanner) scan(ctx context.Context, r io.Reader, path string, matcher *Matcher, contextLines int) ([]SearchMatch, error) {
	if contextLines < 0 {
		contextLines = 0
	}

	reader := bufio.NewReaderSize(r, ms.chunkSize)

	var (
		matches []SearchMatch
		before  []string // rolling window, at most contextLines entries
		pending []pendingMatch
		lineNum int
	)

	flush := func(force bool) {
		for len(pending) > 0 && (force || pending[0].remaining == 0) {
			matches = append(matches, pending[0].match)
			pending = pending[1:]
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return matches, WrapError(Cancelled, "scan cancelled", err)
		}

		line, truncated, err := readAssembledLine(reader)
		if err != nil && !errors.Is(err, io.EOF) {
			flush(true)
			return matches, WrapError(IOFailure, "read failed", err)
		}
		atEOF := errors.Is(err, io.EOF)
		if atEOF && line == "" {
			break
		}
		lineNum++

		// Feed this line into the after-context of queued matches.
		for i := range pending {
			if pending[i].remaining > 0 {
				pending[i].match.ContextAfter = append(pending[i].match.ContextAfter, line)
				pending[i].remaining--
			}
		}
		flush(false)

		for _, loc := range matcher.FindAll(line) {
			m := SearchMatch{
				FilePath:    path,
				LineNumber:  lineNum,
				ColumnStart: utf8.RuneCountInString(line[:loc[0]]) + 1,
				ColumnEnd:   utf8.RuneCountInString(line[:loc[1]]) + 1,
				MatchedText: line[loc[0]:loc[1]],
				LineText:    line,
			}
			if contextLines > 0 {
				m.ContextBefore = append([]string(nil), before...)
				pending = append(pending, pendingMatch{match: m, remaining: contextLines})
			} else {
				matches = append(matches, m)
			}
		}

		if contextLines > 0 {
			before = append(before, line)
			if len(before) > contextLines {
				before = before[1:]
			}
		}

		_ = truncated // oversized lines are matched on their retained prefix

		if atEOF {
			break
		}
	}

	flush(true)
	return matches, nil
}

// readAssembledLine reads one logical line without its trailing newline,
// assembling across chunk boundaries. Lines beyond maxScanLineBytes are
// truncated for matching and the remainder of the physical line is drained.
func readAssembledLine(reader *bufio.Reader) (string, bool, error) {
	var (
		assembled []byte
		truncated bool
	)

	for {
		frag, err := reader.ReadSlice('\n')
		if len(frag) > 0 {
			if len(assembled)+len(frag) > maxScanLineBytes {
				keep := maxScanLineBytes - len(assembled)
				if keep > 0 {
					assembled = append(assembled, frag[:keep]...)
				}
				truncated = true
			} else {
				assembled = append(assembled, frag...)
			}
		}

		switch {
		case err == nil:
			return trimLineEnding(assembled), truncated, nil
		case errors.Is(err, bufio.ErrBufferFull):
			if truncated {
				if derr := drainLine(reader); derr != nil {
					return trimLineEnding(assembled), truncated, derr
				}
				return trimLineEnding(assembled), truncated, nil
			}
			continue
		case errors.Is(err, io.EOF):
			return trimLineEnding(assembled), truncated, io.EOF
		default:
			return trimLineEnding(assembled), truncated, err
		}
	}
}

// drainLine consumes the rest of an oversized physical line.
func drainLine(reader *bufio.Reader) error {
	for {
		_, err := reader.ReadSlice('\n')
		switch {
		case err == nil:
			return nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			return nil
		default:
			return err
		}
	}
}

func trimLineEnding(line []byte) string {
	n := len(line)
	if n > 0 && line[n-1] == '\n' {
		n--
	}
	if n > 0 && line[n-1] == '\r' {
		n--
	}
	return string(line[:n])
}
