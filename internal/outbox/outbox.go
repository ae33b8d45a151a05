// Package outbox queues locally originated writes until the transport
// accepts them.
//
// Every optimistic local create, update, or delete is written as one JSON
// file in the outbox directory. A watcher picks new files up, debounces
// rapid bursts, and pushes each entry upstream, deleting the file on
// success. Entries that fail to push stay on disk and are retried on the
// next tick, so a device that goes offline mid-edit loses nothing.
//
// The outbox doubles as the engine's record of pending local edits: while
// an entry sits in the queue, its document is the "local" side of three-way
// conflict detection for that record.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/planora/planora-sync/internal/entity"
	"github.com/planora/planora-sync/internal/state"
	"github.com/planora/planora-sync/internal/stream"
)

// Entry is one queued local write.
type Entry struct {
	ID       string            `json:"id"`
	Table    entity.Table      `json:"table"`
	Kind     stream.ChangeKind `json:"kind"`
	RecordID string            `json:"record_id"`
	Payload  json.RawMessage   `json:"payload,omitempty"`
	QueuedAt time.Time         `json:"queued_at"`
}

// Config holds outbox tuning.
type Config struct {
	// FlushInterval is how often queued entries are retried.
	FlushInterval time.Duration

	// DebounceInterval batches rapid file events before a flush.
	DebounceInterval time.Duration

	// Logger for outbox activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		FlushInterval:    2 * time.Second,
		DebounceInterval: 100 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[outbox] ", log.LstdFlags),
	}
}

// Outbox is the durable queue of local writes.
type Outbox struct {
	dir       string
	transport stream.Transport
	config    *Config

	mu      sync.Mutex
	pending map[string]Entry // entry ID -> entry
	dirty   bool

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an outbox rooted at dir, creating the directory if needed,
// and loads any entries left over from a previous run.
func New(dir string, transport stream.Transport, config *Config) (*Outbox, error) {
	if dir == "" {
		return nil, fmt.Errorf("dir cannot be empty")
	}
	if transport == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create outbox directory: %w", err)
	}

	o := &Outbox{
		dir:       dir,
		transport: transport,
		config:    config,
		pending:   make(map[string]Entry),
	}
	if err := o.reload(); err != nil {
		return nil, err
	}
	return o, nil
}

// reload rebuilds the in-memory index from the directory contents.
// Unreadable files are logged and skipped, never fatal.
func (o *Outbox) reload() error {
	entries, err := os.ReadDir(o.dir)
	if err != nil {
		return fmt.Errorf("failed to read outbox directory: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = make(map[string]Entry)

	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		entry, err := readEntryFile(filepath.Join(o.dir, de.Name()))
		if err != nil {
			o.config.Logger.Printf("Warning: skipping unreadable outbox file %s: %v", de.Name(), err)
			continue
		}
		o.pending[entry.ID] = entry
	}
	return nil
}

func readEntryFile(path string) (Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to read entry: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, fmt.Errorf("failed to decode entry: %w", err)
	}
	if entry.ID == "" || !entry.Table.Valid() {
		return Entry{}, fmt.Errorf("entry is missing id or table")
	}
	return entry, nil
}

// Enqueue queues one local write. The payload's id field names the record;
// creates without an id get one generated.
func (o *Outbox) Enqueue(table entity.Table, kind stream.ChangeKind, payload json.RawMessage) (Entry, error) {
	if !table.Valid() {
		return Entry{}, fmt.Errorf("unknown table: %s", table)
	}

	recordID, err := entity.ExtractID(payload)
	if err != nil {
		if kind != stream.ChangeInsert {
			return Entry{}, fmt.Errorf("payload has no record id: %w", err)
		}
		recordID = uuid.NewString()
		var doc map[string]any
		if err := json.Unmarshal(payload, &doc); err != nil {
			return Entry{}, fmt.Errorf("payload is not an object: %w", err)
		}
		doc["id"] = recordID
		payload, _ = json.Marshal(doc)
	}

	entry := Entry{
		ID:       uuid.NewString(),
		Table:    table,
		Kind:     kind,
		RecordID: recordID,
		Payload:  payload,
		QueuedAt: time.Now().UTC(),
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return Entry{}, fmt.Errorf("failed to encode entry: %w", err)
	}
	if err := os.WriteFile(o.entryPath(entry), data, 0o644); err != nil {
		return Entry{}, fmt.Errorf("failed to write entry: %w", err)
	}

	o.mu.Lock()
	o.pending[entry.ID] = entry
	o.mu.Unlock()

	o.config.Logger.Printf("Queued %s %s/%s", entry.Kind, entry.Table, entry.RecordID)
	return entry, nil
}

// entryPath builds the file name: a sortable timestamp prefix keeps
// directory listings in queue order.
func (o *Outbox) entryPath(e Entry) string {
	name := fmt.Sprintf("%d--%s--%s.json", e.QueuedAt.UnixNano(), e.Table, e.ID)
	return filepath.Join(o.dir, name)
}

// PendingDocument returns the queued local document for a record, if an
// INSERT or UPDATE entry is waiting. This is the stream.LocalEdits surface.
func (o *Outbox) PendingDocument(table entity.Table, id string) (map[string]any, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	// Newest entry for the record wins if several are queued.
	var best *Entry
	for _, entry := range o.pending {
		entry := entry
		if entry.Table != table || entry.RecordID != id || entry.Kind == stream.ChangeDelete {
			continue
		}
		if best == nil || entry.QueuedAt.After(best.QueuedAt) {
			best = &entry
		}
	}
	if best == nil {
		return nil, false
	}

	var doc map[string]any
	if err := json.Unmarshal(best.Payload, &doc); err != nil {
		return nil, false
	}
	return doc, true
}

// Pending returns every queued entry in queue order.
func (o *Outbox) Pending() []Entry {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]Entry, 0, len(o.pending))
	for _, entry := range o.pending {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].QueuedAt.Before(out[j].QueuedAt)
	})
	return out
}

// Len returns the number of queued entries.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// Start begins watching the outbox directory and flushing entries. It
// returns immediately; background goroutines stop when ctx ends or Stop is
// called.
func (o *Outbox) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(o.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch outbox directory: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.watcher = watcher
	o.cancel = cancel

	o.wg.Add(2)
	go o.watchFileEvents(runCtx)
	go o.flushLoop(runCtx)

	o.config.Logger.Printf("Watching outbox: %s", o.dir)
	return nil
}

// Stop halts the watcher and flush loops. Idempotent.
func (o *Outbox) Stop() {
	if o.cancel == nil {
		return
	}
	o.cancel()
	if o.watcher != nil {
		_ = o.watcher.Close()
		o.watcher = nil
	}
	o.wg.Wait()
	o.cancel = nil
}

// watchFileEvents marks the index dirty whenever another process touches
// the directory; the next flush re-reads it.
func (o *Outbox) watchFileEvents(ctx context.Context) {
	defer o.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-o.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			o.mu.Lock()
			o.dirty = true
			o.mu.Unlock()

		case err, ok := <-o.watcher.Errors:
			if !ok {
				return
			}
			o.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// flushLoop retries queued entries on a fixed interval.
func (o *Outbox) flushLoop(ctx context.Context) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Flush(ctx)
		}
	}
}

// Flush pushes every queued entry once, oldest first. Entries that push
// successfully are removed; failures stay queued for the next flush.
// Returns the number of entries pushed.
func (o *Outbox) Flush(ctx context.Context) int {
	o.mu.Lock()
	if o.dirty {
		o.dirty = false
		o.mu.Unlock()
		if err := o.reload(); err != nil {
			o.config.Logger.Printf("Warning: failed to reload outbox: %v", err)
		}
	} else {
		o.mu.Unlock()
	}

	var pushed int
	for _, entry := range o.Pending() {
		if ctx.Err() != nil {
			return pushed
		}
		if err := o.transport.Push(ctx, entry.Table, entry.Kind, entry.Payload); err != nil {
			o.config.Logger.Printf("Warning: push failed for %s/%s, will retry: %v",
				entry.Table, entry.RecordID, err)
			continue
		}

		if err := os.Remove(o.entryPath(entry)); err != nil && !errors.Is(err, os.ErrNotExist) {
			o.config.Logger.Printf("Warning: failed to remove pushed entry %s: %v", entry.ID, err)
		}
		o.mu.Lock()
		delete(o.pending, entry.ID)
		o.mu.Unlock()
		pushed++
	}

	if pushed > 0 {
		o.config.Logger.Printf("Flushed %d queued changes", pushed)
	}
	return pushed
}

// EnsureDeviceID returns the stable device identifier, creating and
// persisting one on first use.
func EnsureDeviceID(store state.Store) (string, error) {
	blob, err := store.Get(state.KeyDeviceID)
	if err == nil && len(blob) > 0 {
		return string(blob), nil
	}
	if err != nil && !errors.Is(err, state.ErrNotFound) {
		return "", err
	}

	id := uuid.NewString()
	if err := store.Put(state.KeyDeviceID, []byte(id)); err != nil {
		return "", fmt.Errorf("failed to persist device id: %w", err)
	}
	return id, nil
}
