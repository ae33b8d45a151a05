// Package sync provides the orchestrator that ties the caches, the change
// streams, the conflict resolver, and the validator into one engine.
//
// Lifecycle: a signed-in session moves the engine from idle to ready;
// Initialize opens every table's change stream and runs the sequential
// initial full sync; sign-out tears everything down. Manual refreshes
// re-run the fetch logic without touching subscriptions.
//
// Concurrency: the engine mutex serializes status transitions and counter
// updates; each cache serializes its own mutations, so change-stream
// callbacks landing during a full sync cannot lose updates — the last
// writer for a given id wins.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	stdsync "sync"
	"time"

	"github.com/planora/planora-sync/internal/cache"
	"github.com/planora/planora-sync/internal/conflict"
	"github.com/planora/planora-sync/internal/entity"
	"github.com/planora/planora-sync/internal/state"
	"github.com/planora/planora-sync/internal/stream"
	"github.com/planora/planora-sync/internal/validate"
)

// ErrNotAuthenticated is returned by operations that need a signed-in user.
var ErrNotAuthenticated = errors.New("sync: no authenticated user")

// Config holds engine tuning.
type Config struct {
	// FetchRetries is the retry budget per table for genuine fetch
	// failures during full sync. Cancellations are never retried.
	FetchRetries int

	// FetchBackoff is the initial delay between retries; it doubles per
	// attempt.
	FetchBackoff time.Duration

	// Logger for engine activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		FetchRetries: 3,
		FetchBackoff: 500 * time.Millisecond,
		Logger:       log.New(os.Stderr, "[engine] ", log.LstdFlags),
	}
}

// TableStats counts per-table sync activity.
type TableStats struct {
	Fetched        int `json:"fetched"`
	FetchErrors    int `json:"fetch_errors"`
	DecodeFailures int `json:"decode_failures"`
	Cached         int `json:"cached"`
}

// Stats is a point-in-time view of engine activity.
type Stats struct {
	Status    Status                      `json:"status"`
	Tables    map[entity.Table]TableStats `json:"tables"`
	Conflicts conflict.Stats              `json:"conflicts"`

	// PendingLocal counts queued local writes awaiting push.
	PendingLocal int `json:"pending_local"`
}

// LocalQueue is the optional pending-local-writes surface the engine
// consults during conflict detection. The outbox implements it.
type LocalQueue interface {
	stream.LocalEdits
	Len() int
}

// Engine is the sync orchestrator.
type Engine struct {
	transport  stream.Transport
	caches     *cache.Set
	resolver   *conflict.Resolver
	subscriber *stream.Subscriber
	validator  *validate.Validator
	local      LocalQueue
	config     *Config
	logger     *log.Logger

	mu          stdsync.Mutex
	userID      string
	status      Status
	fetched     map[entity.Table]int
	fetchErrors map[entity.Table]int
	taskCancel  context.CancelFunc
}

// New assembles an engine over a transport and a state store. local may be
// nil when no outbox is wired; conflict detection then only ever sees
// remote drift.
func New(transport stream.Transport, store state.Store, local LocalQueue, config *Config) (*Engine, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}

	caches := cache.NewSet()

	resolver, err := conflict.NewResolver(store, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver: %w", err)
	}

	var localEdits stream.LocalEdits
	if local != nil {
		localEdits = local
	}
	subscriber, err := stream.NewSubscriber(transport, caches, resolver, localEdits, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscriber: %w", err)
	}

	return &Engine{
		transport:   transport,
		caches:      caches,
		resolver:    resolver,
		subscriber:  subscriber,
		validator:   validate.New(caches, nil),
		local:       local,
		config:      config,
		logger:      logger,
		status:      statusOf(StatusIdle),
		fetched:     make(map[entity.Table]int),
		fetchErrors: make(map[entity.Table]int),
	}, nil
}

// SignIn marks the session authenticated, moving idle (or a previous
// disconnect) to ready. Initialize may be called afterwards.
func (e *Engine) SignIn(userID string) error {
	if userID == "" {
		return ErrNotAuthenticated
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.userID = userID
	e.status = statusOf(StatusReady)
	e.logger.Printf("Signed in: %s", userID)
	return nil
}

// Initialize opens every table's change stream and runs the initial full
// sync. On subscription failure the status becomes error(reason) but
// subscriptions that already succeeded keep running.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	if e.userID == "" {
		e.mu.Unlock()
		return ErrNotAuthenticated
	}
	userID := e.userID
	e.status = statusOf(StatusInitializing)
	taskCtx, cancel := context.WithCancel(context.Background())
	e.taskCancel = cancel
	e.mu.Unlock()

	for _, table := range entity.SubscribedTables() {
		if err := e.subscriber.Subscribe(taskCtx, table, userID); err != nil {
			e.mu.Lock()
			e.status = errorStatus(err.Error())
			e.mu.Unlock()
			return fmt.Errorf("failed to initialize subscriptions: %w", err)
		}
	}

	e.mu.Lock()
	e.status = statusOf(StatusSyncing)
	e.mu.Unlock()

	e.fullSync(ctx, userID)
	e.notifySyncComplete()

	e.mu.Lock()
	e.status = statusOf(StatusConnected)
	e.mu.Unlock()

	e.logger.Printf("Initialize complete")
	return nil
}

// fullSync fetches every table sequentially in the fixed order. A later
// table's fetch begins only after the previous table's cache has been
// fully replaced, keeping progress monotonic and load bounded.
func (e *Engine) fullSync(ctx context.Context, userID string) {
	for _, table := range entity.SubscribedTables() {
		e.syncTable(ctx, table, userID)
	}
}

// syncTable fetches one table and replaces its cache wholesale. A
// cancelled fetch is swallowed: the cache keeps its prior contents and no
// counter moves. Genuine failures are retried with backoff, then counted.
func (e *Engine) syncTable(ctx context.Context, table entity.Table, userID string) {
	filter := userID
	if !table.UserFiltered() {
		filter = ""
	}

	var rows []json.RawMessage
	var err error
	backoff := e.config.FetchBackoff
	for attempt := 0; ; attempt++ {
		rows, err = e.transport.Fetch(ctx, table, filter)
		if err == nil || errors.Is(err, stream.ErrFetchCanceled) {
			break
		}
		if attempt >= e.config.FetchRetries {
			break
		}
		e.logger.Printf("Warning: fetch %s failed (attempt %d/%d): %v",
			table, attempt+1, e.config.FetchRetries, err)
		select {
		case <-ctx.Done():
			err = stream.ErrFetchCanceled
		case <-time.After(backoff):
			backoff *= 2
			continue
		}
		break
	}

	if errors.Is(err, stream.ErrFetchCanceled) {
		// Superseded request: soft failure, nothing changes.
		e.logger.Printf("Fetch %s canceled, keeping prior cache", table)
		return
	}
	if err != nil {
		e.mu.Lock()
		e.fetchErrors[table]++
		e.mu.Unlock()
		e.logger.Printf("Warning: failed to sync %s: %v", table, err)
		return
	}

	recs := make([]entity.Record, 0, len(rows))
	var decodeFailures int
	for _, row := range rows {
		rec, err := entity.Decode(table, row)
		if err != nil {
			decodeFailures++
			continue
		}
		recs = append(recs, rec)
	}
	if decodeFailures > 0 {
		e.logger.Printf("Warning: dropped %d undecodable %s rows", decodeFailures, table)
	}

	e.caches.ReplaceTable(table, recs)

	e.mu.Lock()
	e.fetched[table] += len(recs)
	e.mu.Unlock()

	e.logger.Printf("Synced %s: %d records", table, len(recs))
}

// notifySyncComplete fans one "SYNC" notification per table out to the
// registered delegates, each carrying the full snapshot of its type, so
// consumers populate in one pass instead of many incremental ones.
func (e *Engine) notifySyncComplete() {
	for _, table := range entity.SubscribedTables() {
		recs := e.caches.Records(table)
		rows := make([]any, 0, len(recs))
		for _, rec := range recs {
			if doc, err := toDocument(rec); err == nil {
				rows = append(rows, doc)
			}
		}
		e.subscriber.Notify(table, map[string]any{
			"table":   string(table),
			"records": rows,
		}, stream.ActionSync)
	}
}

func toDocument(rec entity.Record) (map[string]any, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// RefreshAll re-runs the full-sync fetch logic for every table without
// touching subscriptions.
func (e *Engine) RefreshAll(ctx context.Context) error {
	e.mu.Lock()
	if e.userID == "" {
		e.mu.Unlock()
		return ErrNotAuthenticated
	}
	userID := e.userID
	e.mu.Unlock()

	e.fullSync(ctx, userID)
	e.notifySyncComplete()
	return nil
}

// ForceSyncTable re-fetches a single table without touching subscriptions.
func (e *Engine) ForceSyncTable(ctx context.Context, table entity.Table) error {
	if !table.Valid() {
		return fmt.Errorf("unknown table: %s", table)
	}
	e.mu.Lock()
	if e.userID == "" {
		e.mu.Unlock()
		return ErrNotAuthenticated
	}
	userID := e.userID
	e.mu.Unlock()

	e.syncTable(ctx, table, userID)
	return nil
}

// Cleanup unsubscribes every table, cancels outstanding observer tasks,
// clears every cache, and resets to disconnected. Idempotent; called on
// sign-out.
func (e *Engine) Cleanup() {
	e.subscriber.UnsubscribeAll()

	e.mu.Lock()
	if e.taskCancel != nil {
		e.taskCancel()
		e.taskCancel = nil
	}
	e.userID = ""
	e.status = statusOf(StatusDisconnected)
	e.mu.Unlock()

	e.caches.Clear()
	e.logger.Printf("Cleaned up, disconnected")
}

// RegisterDelegate adds a consumer callback for one table's notifications.
func (e *Engine) RegisterDelegate(table entity.Table, d stream.Delegate) {
	e.subscriber.RegisterDelegate(table, d)
}

// Validate runs a consistency pass over the current caches.
func (e *Engine) Validate() *validate.Report {
	return e.validator.Validate()
}

// AutoFix applies the corrective mutation for an auto-fixable issue.
func (e *Engine) AutoFix(issue validate.Issue) error {
	return e.validator.AutoFix(issue)
}

// Resolver exposes the conflict resolver for queue inspection and
// strategy overrides.
func (e *Engine) Resolver() *conflict.Resolver {
	return e.resolver
}

// Caches exposes the cache set. Intended for read paths and tests.
func (e *Engine) Caches() *cache.Set {
	return e.caches
}

// Status returns the current lifecycle state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Stats returns a snapshot of per-table counters, conflict counters, and
// the current status.
func (e *Engine) Stats() Stats {
	decodeFailures := e.subscriber.DecodeFailures()

	e.mu.Lock()
	defer e.mu.Unlock()

	tables := make(map[entity.Table]TableStats)
	for _, table := range entity.SubscribedTables() {
		tables[table] = TableStats{
			Fetched:        e.fetched[table],
			FetchErrors:    e.fetchErrors[table],
			DecodeFailures: decodeFailures[table],
			Cached:         e.caches.Count(table),
		}
	}

	stats := Stats{
		Status:    e.status,
		Tables:    tables,
		Conflicts: e.resolver.Stats(),
	}
	if e.local != nil {
		stats.PendingLocal = e.local.Len()
	}
	return stats
}
