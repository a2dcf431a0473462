// Package progress tracks in-flight operations for the polling API.
package progress

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ljutzkanovltd/codeharvest/internal/models"
)

// DefaultPollInterval is the client poll hint for active operations, in
// milliseconds. Terminal operations always hint 0.
const DefaultPollInterval = 1000

// Tracker holds the ephemeral progress state of every operation. Operations
// are garbage-collected a retention window after reaching a terminal state,
// so clients must tolerate a short window of not-found for just-completed
// operations.
type Tracker struct {
	mu         sync.RWMutex
	operations map[string]*models.Operation
	retention  time.Duration
}

// NewTracker creates a tracker with the given terminal-operation retention.
func NewTracker(retention time.Duration) *Tracker {
	if retention <= 0 {
		retention = 5 * time.Minute
	}
	return &Tracker{
		operations: make(map[string]*models.Operation),
		retention:  retention,
	}
}

// Start registers a new operation in the starting state.
func (t *Tracker) Start(id string, opType models.OperationType, itemID string) *models.Operation {
	op := &models.Operation{
		ID:           id,
		Type:         opType,
		Status:       models.OpStarting,
		Message:      "queued",
		ItemID:       itemID,
		StartedAt:    time.Now(),
		PollInterval: DefaultPollInterval,
	}

	t.mu.Lock()
	t.operations[id] = op
	t.mu.Unlock()

	slog.Info("operation started", "operation_id", id, "type", opType, "item_id", itemID)
	return op
}

// Update advances a non-terminal operation. Updates against terminal or
// unknown operations are dropped: once terminal, state never moves again.
func (t *Tracker) Update(id string, status models.OperationStatus, percent int, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	op, ok := t.operations[id]
	if !ok || op.Status.Terminal() {
		return
	}

	op.Status = status
	op.Message = message
	if percent >= 0 {
		if percent > 100 {
			percent = 100
		}
		op.Progress = percent
	}
}

// UpdateStats replaces the stats payload of a non-terminal operation.
func (t *Tracker) UpdateStats(id string, stats models.CrawlStats) {
	t.mu.Lock()
	defer t.mu.Unlock()

	op, ok := t.operations[id]
	if !ok || op.Status.Terminal() {
		return
	}
	op.Stats = stats
}

// Finish moves an operation into a terminal state. Finishing an already
// terminal operation is a no-op, so cancel/complete races resolve to
// whichever arrived first.
func (t *Tracker) Finish(id string, status models.OperationStatus, message string) {
	if !status.Terminal() {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	op, ok := t.operations[id]
	if !ok || op.Status.Terminal() {
		return
	}

	now := time.Now()
	op.Status = status
	op.Message = message
	op.CompletedAt = &now
	op.PollInterval = 0
	if status == models.OpCompleted {
		op.Progress = 100
	}

	slog.Info("operation finished", "operation_id", id, "status", status, "message", message)
}

// Get returns a snapshot of one operation, or false when unknown or already
// garbage-collected.
func (t *Tracker) Get(id string) (models.Operation, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	op, ok := t.operations[id]
	if !ok {
		return models.Operation{}, false
	}
	return *op, true
}

// ListActive returns snapshots of all non-terminal operations, most recent
// first. Terminal operations never appear, even immediately after the
// transition.
func (t *Tracker) ListActive() []models.Operation {
	t.mu.RLock()
	defer t.mu.RUnlock()

	active := make([]models.Operation, 0, len(t.operations))
	for _, op := range t.operations {
		if op.Status.Terminal() {
			continue
		}
		active = append(active, *op)
	}

	slices.SortFunc(active, func(a, b models.Operation) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return active
}

// FindByItem returns the operation tracking a queue item. An active
// operation wins over terminal ones; among terminal operations the most
// recently started is returned.
func (t *Tracker) FindByItem(itemID string) (models.Operation, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var latest *models.Operation
	for _, op := range t.operations {
		if op.ItemID != itemID {
			continue
		}
		if !op.Status.Terminal() {
			return *op, true
		}
		if latest == nil || op.StartedAt.After(latest.StartedAt) {
			latest = op
		}
	}
	if latest != nil {
		return *latest, true
	}
	return models.Operation{}, false
}

// GC drops terminal operations older than the retention window. Returns the
// number removed.
func (t *Tracker) GC(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, op := range t.operations {
		if op.CompletedAt != nil && now.Sub(*op.CompletedAt) > t.retention {
			delete(t.operations, id)
			removed++
		}
	}
	return removed
}

// RunGC periodically garbage-collects terminal operations until the context
// is cancelled.
func (t *Tracker) RunGC(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if removed := t.GC(now); removed > 0 {
				slog.Debug("operation gc", "removed", removed)
			}
		}
	}
}
