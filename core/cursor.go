package core

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

const (
	// DefaultCursorTTL garbage-collects unconsumed cursors.
	DefaultCursorTTL = 5 * time.Minute

	defaultCursorStoreSize = 1024
)

// CursorState is the resumable search state kept in the side-store. The
// caller only ever sees the opaque token.
type CursorState struct {
	SearchID       string    `json:"search_id"`
	Fingerprint    uint64    `json:"fingerprint"`
	FilesProcessed int       `json:"files_processed"`
	LastFilePath   string    `json:"last_file_path"`
	TotalSoFar     int       `json:"total_so_far"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// cursorToken is the structured payload behind the opaque string.
type cursorToken struct {
	SearchID    string `json:"sid"`
	Fingerprint uint64 `json:"fp"`
}

// CursorPersistence is an optional durable side-store for cursors, used in
// addition to the in-memory store when the engine has a database.
type CursorPersistence interface {
	SaveCursor(state CursorState, token string) error
	LoadCursor(searchID string) (*CursorState, error)
	DeleteCursor(searchID string) error
}

// CursorManager issues and resolves opaque resume tokens. The token itself is
// stateless from the caller's point of view; the manager's bounded TTL store
// holds the resumable state.
type CursorManager struct {
	mu      sync.Mutex
	entries map[string]*CursorState // keyed by search ID
	order   []string                // insertion order for size-bound eviction
	ttl     time.Duration
	maxSize int
	persist CursorPersistence
	clock   func() time.Time
}

// NewCursorManager creates a manager with the given TTL and size bound.
// Zero values select defaults. persist may be nil.
func NewCursorManager(ttl time.Duration, maxSize int, persist CursorPersistence) *CursorManager {
	if ttl <= 0 {
		ttl = DefaultCursorTTL
	}
	if maxSize <= 0 {
		maxSize = defaultCursorStoreSize
	}
	return &CursorManager{
		entries: make(map[string]*CursorState),
		ttl:     ttl,
		maxSize: maxSize,
		persist: persist,
		clock:   time.Now,
	}
}

// RequestFingerprint hashes the identifying fields of a request. ResumeCursor
// and MaxResults are excluded: pages of the same logical search share one
// fingerprint even when the caller varies the page size.
func RequestFingerprint(req SearchRequest) uint64 {
	req.ResumeCursor = ""
	req.MaxResults = 0
	payload, _ := json.Marshal(req)
	return xxhash.Sum64(payload)
}

// Create stores resumable state and returns the opaque token. The search ID
// is assigned here if the state carries none.
func (cm *CursorManager) Create(state CursorState) (string, error) {
	if state.SearchID == "" {
		state.SearchID = uuid.NewString()
	}
	now := cm.clock()
	state.CreatedAt = now
	state.ExpiresAt = now.Add(cm.ttl)

	token, err := encodeCursorToken(cursorToken{
		SearchID:    state.SearchID,
		Fingerprint: state.Fingerprint,
	})
	if err != nil {
		return "", WrapError(StoreFailed, "failed to encode cursor token", err)
	}

	cm.mu.Lock()
	cm.sweepLocked(now)
	for len(cm.order) >= cm.maxSize {
		oldest := cm.order[0]
		cm.order = cm.order[1:]
		delete(cm.entries, oldest)
	}
	stored := state
	cm.entries[state.SearchID] = &stored
	cm.order = append(cm.order, state.SearchID)
	cm.mu.Unlock()

	if cm.persist != nil {
		if err := cm.persist.SaveCursor(state, token); err != nil {
			return "", WrapError(StoreFailed, "failed to persist cursor", err)
		}
	}
	return token, nil
}

// Resolve decodes a token, verifies it against the new request's fingerprint,
// and consumes the stored state exactly once.
func (cm *CursorManager) Resolve(token string, req SearchRequest) (*CursorState, error) {
	decoded, err := decodeCursorToken(token)
	if err != nil {
		return nil, WrapError(CursorNotFound, "malformed resume cursor", err)
	}

	if fp := RequestFingerprint(req); fp != decoded.Fingerprint {
		return nil, NewError(CursorMismatch,
			"resume cursor was issued for a different request; restart the search")
	}

	now := cm.clock()

	cm.mu.Lock()
	state, ok := cm.entries[decoded.SearchID]
	if ok {
		delete(cm.entries, decoded.SearchID)
		cm.removeOrderLocked(decoded.SearchID)
	}
	cm.sweepLocked(now)
	cm.mu.Unlock()

	if !ok && cm.persist != nil {
		loaded, perr := cm.persist.LoadCursor(decoded.SearchID)
		if perr == nil && loaded != nil {
			state, ok = loaded, true
		}
	}
	if cm.persist != nil {
		// Consumed exactly once regardless of which store answered.
		_ = cm.persist.DeleteCursor(decoded.SearchID)
	}

	if !ok {
		return nil, NewError(CursorNotFound,
			"resume cursor is unknown or was evicted; restart the search")
	}
	if now.After(state.ExpiresAt) {
		return nil, NewError(CursorExpired, fmt.Sprintf(
			"resume cursor expired at %s; restart the search",
			state.ExpiresAt.Format(time.RFC3339)))
	}
	return state, nil
}

// Len returns the number of live entries, sweeping expired ones first.
func (cm *CursorManager) Len() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.sweepLocked(cm.clock())
	return len(cm.entries)
}

func (cm *CursorManager) sweepLocked(now time.Time) {
	if len(cm.entries) == 0 {
		return
	}
	kept := cm.order[:0]
	for _, id := range cm.order {
		state, ok := cm.entries[id]
		if !ok {
			continue
		}
		if now.After(state.ExpiresAt) {
			delete(cm.entries, id)
			continue
		}
		kept = append(kept, id)
	}
	cm.order = kept
}

func (cm *CursorManager) removeOrderLocked(id string) {
	for i, v := range cm.order {
		if v == id {
			cm.order = append(cm.order[:i], cm.order[i+1:]...)
			return
		}
	}
}

func encodeCursorToken(tok cursorToken) (string, error) {
	payload, err := json.Marshal(tok)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(payload), nil
}

func decodeCursorToken(token string) (cursorToken, error) {
	var tok cursorToken
	payload, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return tok, err
	}
	if err := json.Unmarshal(payload, &tok); err != nil {
		return tok, err
	}
	if tok.SearchID == "" {
		return tok, fmt.Errorf("token carries no search id")
	}
	return tok, nil
}
