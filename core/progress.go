package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultProgressRetention keeps completed operation state visible for a
// while after the operation ends, then Cleanup evicts it.
const DefaultProgressRetention = 10 * time.Minute

type progressEntry struct {
	operationID string
	total       atomic.Int64
	completed   atomic.Int64
	cancelled   atomic.Bool
	lastError   atomic.Value // string
	cancel      context.CancelFunc

	mu       sync.Mutex
	done     bool
	touched  time.Time
	updateAt time.Time
}

// ProgressCoordinator tracks long-running operations and carries their
// cooperative cancellation signal. Workers only ever touch it through
// Update, which is a lock-free counter add.
type ProgressCoordinator struct {
	mu        sync.RWMutex
	ops       map[string]*progressEntry
	retention time.Duration
	clock     func() time.Time
}

// NewProgressCoordinator creates a coordinator. Zero retention selects the
// default window.
func NewProgressCoordinator(retention time.Duration) *ProgressCoordinator {
	if retention <= 0 {
		retention = DefaultProgressRetention
	}
	return &ProgressCoordinator{
		ops:       make(map[string]*progressEntry),
		retention: retention,
		clock:     time.Now,
	}
}

// Register creates the ProgressState for a new operation and returns a
// context cancelled by Cancel(operationID).
func (pc *ProgressCoordinator) Register(ctx context.Context, operationID string, totalUnits int64) (context.Context, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if entry, exists := pc.ops[operationID]; exists {
		entry.mu.Lock()
		active := !entry.done
		entry.mu.Unlock()
		if active {
			return nil, NewError(OperationConflict, "operation already registered", operationID)
		}
	}

	opCtx, cancel := context.WithCancel(ctx)
	entry := &progressEntry{
		operationID: operationID,
		cancel:      cancel,
		touched:     pc.clock(),
	}
	entry.total.Store(totalUnits)
	pc.ops[operationID] = entry
	return opCtx, nil
}

// Update adds completed units. It is the only mutation path used from
// worker goroutines.
func (pc *ProgressCoordinator) Update(operationID string, completedDelta int64) {
	if entry := pc.get(operationID); entry != nil {
		entry.completed.Add(completedDelta)
	}
}

// SetTotal adjusts the total unit count once scope resolution knows it.
func (pc *ProgressCoordinator) SetTotal(operationID string, totalUnits int64) {
	if entry := pc.get(operationID); entry != nil {
		entry.total.Store(totalUnits)
	}
}

// Fail records the most recent error for the operation.
func (pc *ProgressCoordinator) Fail(operationID string, err error) {
	if entry := pc.get(operationID); entry != nil && err != nil {
		entry.lastError.Store(err.Error())
	}
}

// Cancel requests cooperative cancellation. Workers observe it at file
// boundaries; nothing is hard-killed.
func (pc *ProgressCoordinator) Cancel(operationID string) error {
	entry := pc.get(operationID)
	if entry == nil {
		return NewError(OperationNotFound, "unknown operation", operationID)
	}
	entry.cancelled.Store(true)
	entry.cancel()
	return nil
}

// Complete marks the operation finished; its state stays queryable until
// Cleanup evicts it after the retention window.
func (pc *ProgressCoordinator) Complete(operationID string) {
	if entry := pc.get(operationID); entry != nil {
		entry.mu.Lock()
		entry.done = true
		entry.touched = pc.clock()
		entry.mu.Unlock()
		entry.cancel()
	}
}

// Get returns a snapshot of the operation's progress.
func (pc *ProgressCoordinator) Get(operationID string) (ProgressState, bool) {
	entry := pc.get(operationID)
	if entry == nil {
		return ProgressState{}, false
	}
	state := ProgressState{
		OperationID:     entry.operationID,
		TotalUnits:      entry.total.Load(),
		CompletedUnits:  entry.completed.Load(),
		CancelRequested: entry.cancelled.Load(),
	}
	if v := entry.lastError.Load(); v != nil {
		state.LastError = v.(string)
	}
	return state, true
}

// Cleanup evicts completed operations older than the retention window and
// returns how many entries were removed.
func (pc *ProgressCoordinator) Cleanup() int {
	cutoff := pc.clock().Add(-pc.retention)

	pc.mu.Lock()
	defer pc.mu.Unlock()

	removed := 0
	for id, entry := range pc.ops {
		entry.mu.Lock()
		evict := entry.done && entry.touched.Before(cutoff)
		entry.mu.Unlock()
		if evict {
			delete(pc.ops, id)
			removed++
		}
	}
	return removed
}

func (pc *ProgressCoordinator) get(operationID string) *progressEntry {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.ops[operationID]
}
