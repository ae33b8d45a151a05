package conflict

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/planora/planora-sync/internal/entity"
	"github.com/planora/planora-sync/internal/state"
)

// historyCap bounds the resolved-conflict history kept on disk.
const historyCap = 100

// ResolvedConflict pairs a conflict with the resolution that closed it.
type ResolvedConflict struct {
	Conflict   Conflict   `json:"conflict"`
	Resolution Resolution `json:"resolution"`
}

// Stats counts resolver activity since the persisted state was created.
type Stats struct {
	Detected   int              `json:"detected"`
	Resolved   int              `json:"resolved"`
	ByStrategy map[Strategy]int `json:"by_strategy"`
	BySeverity map[Severity]int `json:"by_severity"`
}

// Resolver owns the pending-conflict queue, the resolution history, and the
// per-table strategy overrides. All three are persisted through the state
// store after every mutation, so a restart picks up exactly where the last
// process left off.
type Resolver struct {
	mu     sync.Mutex
	store  state.Store
	logger *log.Logger

	pending   []Conflict
	history   []ResolvedConflict
	overrides map[entity.Table]Strategy
	stats     Stats
}

// NewResolver creates a resolver, loading any persisted queue, history, and
// overrides from the store. A nil logger falls back to stderr.
func NewResolver(store state.Store, logger *log.Logger) (*Resolver, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[conflict] ", log.LstdFlags)
	}

	r := &Resolver{
		store:     store,
		logger:    logger,
		overrides: make(map[entity.Table]Strategy),
		stats: Stats{
			ByStrategy: make(map[Strategy]int),
			BySeverity: make(map[Severity]int),
		},
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Resolver) load() error {
	if err := loadKey(r.store, state.KeyPendingConflicts, &r.pending); err != nil {
		return err
	}
	if err := loadKey(r.store, state.KeyConflictHistory, &r.history); err != nil {
		return err
	}
	if err := loadKey(r.store, state.KeyStrategyOverrides, &r.overrides); err != nil {
		return err
	}
	if r.overrides == nil {
		r.overrides = make(map[entity.Table]Strategy)
	}
	r.stats.Detected = len(r.pending) + len(r.history)
	r.stats.Resolved = len(r.history)
	for _, rc := range r.history {
		r.stats.ByStrategy[rc.Resolution.Strategy]++
		r.stats.BySeverity[rc.Conflict.Severity]++
	}
	return nil
}

func loadKey(store state.Store, key string, out any) error {
	blob, err := store.Get(key)
	if errors.Is(err, state.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(blob, out); err != nil {
		return fmt.Errorf("failed to decode persisted %s: %w", key, err)
	}
	return nil
}

func (r *Resolver) persist() {
	saveKey(r.store, r.logger, state.KeyPendingConflicts, r.pending)
	saveKey(r.store, r.logger, state.KeyConflictHistory, r.history)
	saveKey(r.store, r.logger, state.KeyStrategyOverrides, r.overrides)
}

// saveKey writes one blob; persistence failures are logged, not fatal, so a
// read-only disk never blocks live resolution.
func saveKey(store state.Store, logger *log.Logger, key string, v any) {
	blob, err := json.Marshal(v)
	if err != nil {
		logger.Printf("Warning: failed to encode %s: %v", key, err)
		return
	}
	if err := store.Put(key, blob); err != nil {
		logger.Printf("Warning: failed to persist %s: %v", key, err)
	}
}

// Enqueue records a detected conflict at the tail of the pending queue and
// assigns it an id. Conflicts without conflicted fields are ignored.
func (r *Resolver) Enqueue(c Conflict) Conflict {
	if !c.HasConflict() {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	r.pending = append(r.pending, c)
	r.stats.Detected++
	r.persist()

	r.logger.Printf("Detected %s conflict on %s/%s (%d fields)",
		c.Severity, c.Table, c.RecordID, len(c.Fields))
	return c
}

// Resolve computes the resolution for c under its table's strategy, records
// it in the history, and removes c from the pending queue if present.
func (r *Resolver) Resolve(c Conflict) (Resolution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolveLocked(c)
}

func (r *Resolver) resolveLocked(c Conflict) (Resolution, error) {
	if !c.HasConflict() {
		return Resolution{}, fmt.Errorf("conflict %s has no conflicted fields", c.ID)
	}

	strategy := r.strategyForLocked(c.Table)
	res := Resolution{
		ConflictID: c.ID,
		Table:      c.Table,
		RecordID:   c.RecordID,
		Strategy:   strategy,
		Document:   apply(c, strategy),
		ResolvedAt: time.Now().UTC(),
	}

	for i, pending := range r.pending {
		if pending.ID == c.ID {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			break
		}
	}

	r.history = append(r.history, ResolvedConflict{Conflict: c, Resolution: res})
	if len(r.history) > historyCap {
		r.history = r.history[len(r.history)-historyCap:]
	}
	r.stats.Resolved++
	r.stats.ByStrategy[strategy]++
	r.stats.BySeverity[c.Severity]++
	r.persist()

	r.logger.Printf("Resolved conflict on %s/%s via %s", c.Table, c.RecordID, strategy)
	return res, nil
}

// ResolveAll drains the pending queue strictly in detection order. One
// failed resolution stops the drain so the order stays intact.
func (r *Resolver) ResolveAll() ([]Resolution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Resolution
	for len(r.pending) > 0 {
		res, err := r.resolveLocked(r.pending[0])
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

// SetStrategy overrides the strategy for one table. The override persists
// across restarts.
func (r *Resolver) SetStrategy(table entity.Table, strategy Strategy) error {
	if !strategy.Valid() {
		return fmt.Errorf("unknown strategy: %s", strategy)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[table] = strategy
	r.persist()
	return nil
}

// StrategyFor returns the effective strategy for a table.
func (r *Resolver) StrategyFor(table entity.Table) Strategy {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.strategyForLocked(table)
}

func (r *Resolver) strategyForLocked(table entity.Table) Strategy {
	if s, ok := r.overrides[table]; ok {
		return s
	}
	return DefaultStrategy(table)
}

// Pending returns a copy of the pending queue in detection order.
func (r *Resolver) Pending() []Conflict {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Conflict, len(r.pending))
	copy(out, r.pending)
	return out
}

// History returns a copy of the resolved history, oldest first.
func (r *Resolver) History() []ResolvedConflict {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ResolvedConflict, len(r.history))
	copy(out, r.history)
	return out
}

// Stats returns a copy of the running counters.
func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := Stats{
		Detected:   r.stats.Detected,
		Resolved:   r.stats.Resolved,
		ByStrategy: make(map[Strategy]int, len(r.stats.ByStrategy)),
		BySeverity: make(map[Severity]int, len(r.stats.BySeverity)),
	}
	for k, v := range r.stats.ByStrategy {
		out.ByStrategy[k] = v
	}
	for k, v := range r.stats.BySeverity {
		out.BySeverity[k] = v
	}
	return out
}
