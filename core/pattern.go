package core

import (
	"container/list"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
)

const (
	// probeTimeout bounds the one-shot test execution of a freshly compiled
	// pattern against a benign input.
	probeTimeout = 100 * time.Millisecond

	// probeInput is short but exercises word boundaries, repeats and unicode.
	probeInput = "lorem ipsum dolor sit amet 12345 aaaaaaaaaaaaaaaaaaaaaaaa\tλλλ end"

	defaultPatternCacheSize = 256
	defaultPatternCacheTTL  = 10 * time.Minute
	maxCachedPatternLength  = 1000
)

// denylist of quantifier shapes known to blow up backtracking engines.
// The engine executes patterns with RE2 semantics, but rejected shapes are
// almost always authoring mistakes and their match semantics differ across
// engines, so they are refused up front rather than silently accepted.
var catastrophicShapes = []*regexp.Regexp{
	// Nested unbounded quantifiers: (a+)+, (a*)*, (a+)*, (\w*)+ ...
	regexp.MustCompile(`\((?:[^()\\]|\\.)*[+*]\)[+*]`),
	// Counted repetition of an unbounded group: (a+){2,}
	regexp.MustCompile(`\((?:[^()\\]|\\.)*[+*]\)\{\d*,\}`),
	// Unbounded group containing .* or .+: ((.*)*), (.+)+ with wildcard body
	regexp.MustCompile(`\(\.[+*]\)[+*]`),
	// Alternation of unbounded branches under an unbounded quantifier:
	// (a+|b+)* and friends
	regexp.MustCompile(`\((?:[^()\\]|\\.)*[+*]\|(?:[^()\\]|\\.)*\)[+*]`),
	// Quantified group wrapping another quantified group: ((a+))+, (x(a*)y)*.
	// Matched textually one nesting level deep; anything deeper falls through
	// to the probe timeout.
	regexp.MustCompile(`\((?:[^()\\]|\\.)*\((?:[^()\\]|\\.)*[+*]\)(?:[^()\\]|\\.)*\)[+*]`),
}

// Matcher is an executable compiled pattern.
type Matcher struct {
	re        *regexp.Regexp
	source    string // original user pattern
	isRegex   bool
	wholeWord bool
}

// FindAll returns all [start, end) byte ranges of the pattern in line.
func (m *Matcher) FindAll(line string) [][]int {
	return m.re.FindAllStringIndex(line, -1)
}

// Replace expands the replacement for every occurrence in line. For literal
// patterns the replacement is taken verbatim; for regexes $1-style
// references expand as usual.
func (m *Matcher) Replace(line, replacement string) string {
	if !m.isRegex {
		replacement = escapeReplacement(replacement)
	}
	return m.re.ReplaceAllString(line, replacement)
}

// Pattern returns the user's original pattern string.
func (m *Matcher) Pattern() string {
	return m.source
}

// escapeReplacement neutralizes $ expansion for literal replacements.
func escapeReplacement(s string) string {
	return strings.ReplaceAll(s, "$", "$$")
}

type patternKey struct {
	pattern       string
	isRegex       bool
	caseSensitive bool
	wholeWord     bool
}

type patternEntry struct {
	key      patternKey
	matcher  *Matcher
	cachedAt time.Time
}

// PatternCacheStats tracks compiler cache performance.
type PatternCacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// PatternCompiler validates and compiles user patterns into matchers, with a
// bounded LRU cache evicting entries past their TTL.
type PatternCompiler struct {
	mu      sync.Mutex
	entries map[patternKey]*list.Element
	lru     *list.List
	maxSize int
	ttl     time.Duration
	stats   PatternCacheStats
	clock   func() time.Time
}

// NewPatternCompiler creates a compiler with the given cache bounds.
// Zero values select the defaults.
func NewPatternCompiler(maxSize int, ttl time.Duration) *PatternCompiler {
	if maxSize <= 0 {
		maxSize = defaultPatternCacheSize
	}
	if ttl <= 0 {
		ttl = defaultPatternCacheTTL
	}
	return &PatternCompiler{
		entries: make(map[patternKey]*list.Element),
		lru:     list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		clock:   time.Now,
	}
}

// Compile turns a user pattern into a Matcher, or returns a PatternRejected
// error with a human-readable reason. Identical repeated requests reuse the
// cached compiled form.
func (pc *PatternCompiler) Compile(pattern string, isRegex, caseSensitive, wholeWord bool) (*Matcher, error) {
	if pattern == "" {
		return nil, NewError(PatternRejected, "pattern must not be empty")
	}

	key := patternKey{pattern, isRegex, caseSensitive, wholeWord}

	if len(pattern) <= maxCachedPatternLength {
		if m := pc.lookup(key); m != nil {
			return m, nil
		}
	}

	matcher, err := compilePattern(pattern, isRegex, caseSensitive, wholeWord)
	if err != nil {
		return nil, err
	}

	if len(pattern) <= maxCachedPatternLength {
		pc.store(key, matcher)
	}
	return matcher, nil
}

// Stats returns a snapshot of cache counters.
func (pc *PatternCompiler) Stats() PatternCacheStats {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.stats
}

func (pc *PatternCompiler) lookup(key patternKey) *Matcher {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	elem, ok := pc.entries[key]
	if !ok {
		pc.stats.Misses++
		return nil
	}

	entry := elem.Value.(*patternEntry)
	if pc.clock().Sub(entry.cachedAt) > pc.ttl {
		pc.lru.Remove(elem)
		delete(pc.entries, key)
		pc.stats.Misses++
		pc.stats.Evictions++
		return nil
	}

	pc.lru.MoveToFront(elem)
	pc.stats.Hits++
	return entry.matcher
}

func (pc *PatternCompiler) store(key patternKey, matcher *Matcher) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if elem, ok := pc.entries[key]; ok {
		elem.Value.(*patternEntry).cachedAt = pc.clock()
		pc.lru.MoveToFront(elem)
		return
	}

	for pc.lru.Len() >= pc.maxSize {
		oldest := pc.lru.Back()
		if oldest == nil {
			break
		}
		pc.lru.Remove(oldest)
		delete(pc.entries, oldest.Value.(*patternEntry).key)
		pc.stats.Evictions++
	}

	elem := pc.lru.PushFront(&patternEntry{key: key, matcher: matcher, cachedAt: pc.clock()})
	pc.entries[key] = elem
}

func compilePattern(pattern string, isRegex, caseSensitive, wholeWord bool) (*Matcher, error) {
	expr := pattern
	if !isRegex {
		expr = regexp.QuoteMeta(pattern)
	} else {
		if reason := classifyUnsafe(pattern); reason != "" {
			return nil, NewError(PatternRejected, "unsafe regex pattern", reason)
		}
	}

	if wholeWord {
		expr = `\b(?:` + expr + `)\b`
	}
	if !caseSensitive {
		expr = `(?i)` + expr
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, WrapError(PatternRejected, "pattern failed to compile", err)
	}

	if err := probeExecute(re); err != nil {
		return nil, err
	}

	return &Matcher{
		re:        re,
		source:    pattern,
		isRegex:   isRegex,
		wholeWord: wholeWord,
	}, nil
}

// classifyUnsafe returns a non-empty reason when the pattern matches a known
// catastrophic-backtracking shape.
func classifyUnsafe(pattern string) string {
	for _, shape := range catastrophicShapes {
		if loc := shape.FindStringIndex(pattern); loc != nil {
			return fmt.Sprintf("nested unbounded quantifier at offset %d: %q",
				loc[0], pattern[loc[0]:loc[1]])
		}
	}
	return ""
}

// probeExecute test-runs the compiled pattern once against a benign input
// under a hard wall-clock timeout.
func probeExecute(re *regexp.Regexp) error {
	done := make(chan struct{})
	go func() {
		re.FindAllStringIndex(probeInput, -1)
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(probeTimeout):
		return NewError(PatternRejected, "pattern probe execution timed out",
			fmt.Sprintf("exceeded %s against a %d-byte input", probeTimeout, len(probeInput)))
	}
}
