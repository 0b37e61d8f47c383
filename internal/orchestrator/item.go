package orchestrator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/eventshot/internal/pipeline"
)

// Outcome is the terminal result of a WorkItem.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeDelivered Outcome = "delivered"
	OutcomeFailed    Outcome = "failed"
	OutcomeAbandoned Outcome = "abandoned"
)

// ErrIllegalTransition is returned when a stage change violates the item
// state machine.
var ErrIllegalTransition = errors.New("illegal stage transition")

// ErrUnknownItem is returned for ids that are not in the table.
var ErrUnknownItem = errors.New("unknown work item")

// WorkItem is one file's journey through the pipeline.
type WorkItem struct {
	ID            string                 `json:"id"`
	Identity      string                 `json:"identity"`
	Path          string                 `json:"path"`
	Stage         pipeline.Stage         `json:"stage"`
	Attempts      int                    `json:"attempts"`
	StageAttempts map[pipeline.Stage]int `json:"stage_attempts,omitempty"`
	Queued        bool                   `json:"queued"`
	NextRetry     time.Time              `json:"next_retry,omitzero"`
	Outcome       Outcome                `json:"outcome,omitempty"`
	LastError     string                 `json:"last_error,omitempty"`
	FailedStage   pipeline.Stage         `json:"failed_stage,omitzero"`
	Faces         int                    `json:"faces"`
	Candidate     string                 `json:"candidate,omitempty"`
	FellBack      bool                   `json:"fell_back"`
	Location      string                 `json:"location,omitempty"`
	DiscoveredAt  time.Time              `json:"discovered_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	CompletedAt   time.Time              `json:"completed_at,omitzero"`
}

func (w *WorkItem) clone() WorkItem {
	c := *w
	if w.StageAttempts != nil {
		c.StageAttempts = make(map[pipeline.Stage]int, len(w.StageAttempts))
		for k, v := range w.StageAttempts {
			c.StageAttempts[k] = v
		}
	}
	return c
}

// Table is the indexed set of live WorkItems. Identities stay remembered
// after an item is evicted so re-scans never enqueue a file twice.
type Table struct {
	mu    sync.Mutex
	items map[string]*WorkItem
	seen  map[string]string
	order []string
	now   func() time.Time
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{
		items: make(map[string]*WorkItem),
		seen:  make(map[string]string),
		now:   time.Now,
	}
}

// Add creates a Discovered item for c unless its identity was seen before.
func (t *Table) Add(c Candidate) (WorkItem, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.seen[c.Identity]; ok {
		return WorkItem{}, false
	}
	now := t.now()
	it := &WorkItem{
		ID:           uuid.NewString(),
		Identity:     c.Identity,
		Path:         c.Path,
		Stage:        pipeline.Discovered,
		DiscoveredAt: now,
		UpdatedAt:    now,
	}
	t.items[it.ID] = it
	t.seen[c.Identity] = it.ID
	t.order = append(t.order, it.ID)
	return it.clone(), true
}

// Get returns a copy of the item.
func (t *Table) Get(id string) (WorkItem, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	it, ok := t.items[id]
	if !ok {
		return WorkItem{}, false
	}
	return it.clone(), true
}

// Transition moves the item to stage to, applying update (if non-nil) under
// the table lock. The returned copy reflects the new state.
func (t *Table) Transition(id string, to pipeline.Stage, update func(*WorkItem)) (WorkItem, pipeline.Stage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	it, ok := t.items[id]
	if !ok {
		return WorkItem{}, 0, fmt.Errorf("%w: %s", ErrUnknownItem, id)
	}
	from := it.Stage
	if !pipeline.CanTransition(from, to) {
		return it.clone(), from, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	it.Stage = to
	it.UpdatedAt = t.now()
	it.Queued = false
	if to.Active() {
		if it.StageAttempts == nil {
			it.StageAttempts = make(map[pipeline.Stage]int)
		}
		it.StageAttempts[to]++
	}
	switch to {
	case pipeline.Enhancing:
		it.Attempts++
		it.NextRetry = time.Time{}
	case pipeline.Delivered:
		it.Outcome = OutcomeDelivered
		it.CompletedAt = it.UpdatedAt
	case pipeline.Failed:
		it.Outcome = OutcomeFailed
		it.CompletedAt = it.UpdatedAt
	}
	if update != nil {
		update(it)
	}
	return it.clone(), from, nil
}

// SetQueued flags a Discovered item as sitting in the dispatch queue. The
// flag is cleared by the next transition.
func (t *Table) SetQueued(id string, queued bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if it, ok := t.items[id]; ok && it.Stage == pipeline.Discovered {
		it.Queued = queued
	}
}

// Due returns ids of Discovered items that are not queued and whose retry
// time has passed, oldest discovery first.
func (t *Table) Due(now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ids []string
	for _, id := range t.order {
		it := t.items[id]
		if it == nil || it.Stage != pipeline.Discovered || it.Queued {
			continue
		}
		if !it.NextRetry.IsZero() && it.NextRetry.After(now) {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// Evict removes a terminal item and returns it.
func (t *Table) Evict(id string) (WorkItem, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	it, ok := t.items[id]
	if !ok || !it.Stage.Terminal() {
		return WorkItem{}, false
	}
	t.remove(id)
	return it.clone(), true
}

// Abandon removes every item still waiting in Discovered and returns them
// with OutcomeAbandoned.
func (t *Table) Abandon() []WorkItem {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []WorkItem
	now := t.now()
	for _, id := range append([]string(nil), t.order...) {
		it := t.items[id]
		if it == nil || it.Stage != pipeline.Discovered {
			continue
		}
		out = append(out, t.abandonLocked(it, now))
	}
	return out
}

// AbandonItem removes a single Discovered item as abandoned. It is used for
// work cut off by a hard stop after the item was reset to Discovered.
func (t *Table) AbandonItem(id string) (WorkItem, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	it := t.items[id]
	if it == nil || it.Stage != pipeline.Discovered {
		return WorkItem{}, false
	}
	return t.abandonLocked(it, t.now()), true
}

func (t *Table) abandonLocked(it *WorkItem, now time.Time) WorkItem {
	it.Outcome = OutcomeAbandoned
	it.Queued = false
	it.NextRetry = time.Time{}
	it.UpdatedAt = now
	it.CompletedAt = now
	out := it.clone()
	t.remove(it.ID)
	return out
}

func (t *Table) remove(id string) {
	delete(t.items, id)
	for i, v := range t.order {
		if v == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Snapshot returns copies of all live items ordered by discovery.
func (t *Table) Snapshot() []WorkItem {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]WorkItem, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.items[id].clone())
	}
	return out
}

// Len returns the number of live items.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// Active returns the number of items past Discovered and not terminal.
func (t *Table) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, it := range t.items {
		if it.Stage.Active() {
			n++
		}
	}
	return n
}
