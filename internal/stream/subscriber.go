package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/planora/planora-sync/internal/cache"
	"github.com/planora/planora-sync/internal/conflict"
	"github.com/planora/planora-sync/internal/entity"
)

// Action tags a delegate notification. It covers the three stream kinds
// plus "SYNC", sent once per table after a full sync with the complete
// snapshot.
type Action string

const (
	ActionInsert Action = "INSERT"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
	ActionSync   Action = "SYNC"
)

// Delegate receives decoded change notifications for one table. Payloads
// are passed by value (fresh maps), so a delegate can keep or mutate them
// freely.
type Delegate func(payload map[string]any, action Action, table entity.Table)

// LocalEdits answers whether a pending local edit exists for a record, so
// the update path can run genuine local-vs-remote conflict detection. An
// implementation returning nothing degrades detection to remote drift only.
type LocalEdits interface {
	PendingDocument(table entity.Table, id string) (map[string]any, bool)
}

// Subscriber owns one change-stream subscription per table and the apply
// pipeline behind them.
type Subscriber struct {
	transport Transport
	caches    *cache.Set
	resolver  *conflict.Resolver
	local     LocalEdits
	logger    *log.Logger

	mu             sync.Mutex
	subs           map[entity.Table]Subscription
	delegates      map[entity.Table][]Delegate
	decodeFailures map[entity.Table]int
}

// NewSubscriber wires a subscriber over the given transport and caches.
// local may be nil when no pending-edit source exists; logger nil means
// stderr.
func NewSubscriber(transport Transport, caches *cache.Set, resolver *conflict.Resolver, local LocalEdits, logger *log.Logger) (*Subscriber, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}
	if caches == nil {
		return nil, fmt.Errorf("caches cannot be nil")
	}
	if resolver == nil {
		return nil, fmt.Errorf("resolver cannot be nil")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[stream] ", log.LstdFlags)
	}
	return &Subscriber{
		transport:      transport,
		caches:         caches,
		resolver:       resolver,
		local:          local,
		logger:         logger,
		subs:           make(map[entity.Table]Subscription),
		delegates:      make(map[entity.Table][]Delegate),
		decodeFailures: make(map[entity.Table]int),
	}, nil
}

// Subscribe opens the change stream for one table. Subscribing to an
// already-subscribed table is a no-op.
func (s *Subscriber) Subscribe(ctx context.Context, table entity.Table, userID string) error {
	if !table.Valid() {
		return fmt.Errorf("unknown table: %s", table)
	}

	s.mu.Lock()
	if _, exists := s.subs[table]; exists {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	filter := userID
	if !table.UserFiltered() {
		// Ownership flows through the parent schedule; the parent's
		// subscription filter covers these rows.
		filter = ""
	}

	sub, err := s.transport.Subscribe(ctx, table, filter, func(ev ChangeEvent) {
		s.handleEvent(ev)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", table, err)
	}

	s.mu.Lock()
	if _, exists := s.subs[table]; exists {
		// Lost the race with a concurrent Subscribe; keep the first.
		s.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	s.subs[table] = sub
	s.mu.Unlock()

	s.logger.Printf("Subscribed to %s", table)
	return nil
}

// UnsubscribeAll closes every open subscription. Idempotent.
func (s *Subscriber) UnsubscribeAll() {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[entity.Table]Subscription)
	s.mu.Unlock()

	for table, sub := range subs {
		sub.Unsubscribe()
		s.logger.Printf("Unsubscribed from %s", table)
	}
}

// Subscribed reports whether a stream is open for the table.
func (s *Subscriber) Subscribed(table entity.Table) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[table]
	return ok
}

// RegisterDelegate adds a callback for one table's notifications.
func (s *Subscriber) RegisterDelegate(table entity.Table, d Delegate) {
	if d == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delegates[table] = append(s.delegates[table], d)
}

// Notify fans a payload out to the table's delegates. Each delegate gets
// its own copy of the payload.
func (s *Subscriber) Notify(table entity.Table, payload map[string]any, action Action) {
	s.mu.Lock()
	delegates := make([]Delegate, len(s.delegates[table]))
	copy(delegates, s.delegates[table])
	s.mu.Unlock()

	for _, d := range delegates {
		d(copyPayload(payload), action, table)
	}
}

// DecodeFailures returns per-table counts of events that could not be
// decoded. Failures are isolated: the subscription stays up.
func (s *Subscriber) DecodeFailures() map[entity.Table]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[entity.Table]int, len(s.decodeFailures))
	for table, n := range s.decodeFailures {
		out[table] = n
	}
	return out
}

func (s *Subscriber) countDecodeFailure(table entity.Table, err error) {
	s.mu.Lock()
	s.decodeFailures[table]++
	s.mu.Unlock()
	s.logger.Printf("Warning: dropped undecodable %s event: %v", table, err)
}

// handleEvent runs the apply pipeline for one stream event.
func (s *Subscriber) handleEvent(ev ChangeEvent) {
	switch ev.Kind {
	case ChangeInsert:
		s.applyInsert(ev)
	case ChangeUpdate:
		s.applyUpdate(ev)
	case ChangeDelete:
		s.applyDelete(ev)
	default:
		s.countDecodeFailure(ev.Table, fmt.Errorf("unknown change kind %q", ev.Kind))
	}
}

func (s *Subscriber) applyInsert(ev ChangeEvent) {
	rec, err := entity.Decode(ev.Table, ev.New)
	if err != nil {
		s.countDecodeFailure(ev.Table, err)
		return
	}
	s.caches.Apply(ev.Table, rec)

	if payload, err := toPayload(ev.New); err == nil {
		s.Notify(ev.Table, payload, ActionInsert)
	}
}

func (s *Subscriber) applyDelete(ev ChangeEvent) {
	payload := ev.Old
	if len(payload) == 0 {
		payload = ev.New
	}
	id, err := entity.ExtractID(payload)
	if err != nil {
		s.countDecodeFailure(ev.Table, err)
		return
	}
	s.caches.Remove(ev.Table, id)
	s.Notify(ev.Table, map[string]any{"id": id}, ActionDelete)
}

// applyUpdate runs three-way conflict detection before applying. The local
// side is the pending local edit for this record if one exists; otherwise
// an empty document, in which case no field can be conflicted and the new
// payload applies directly.
func (s *Subscriber) applyUpdate(ev ChangeEvent) {
	remoteOld, err := toPayload(ev.Old)
	if err != nil {
		remoteOld = map[string]any{}
	}
	remoteNew, err := toPayload(ev.New)
	if err != nil {
		s.countDecodeFailure(ev.Table, err)
		return
	}

	local := map[string]any{}
	if s.local != nil {
		if id, ok := remoteNew["id"].(string); ok {
			if doc, ok := s.local.PendingDocument(ev.Table, id); ok {
				local = doc
			}
		}
	}

	applied := ev.New
	if c := conflict.Detect(local, remoteOld, remoteNew, ev.Table); c.HasConflict() {
		c = s.resolver.Enqueue(c)
		res, err := s.resolver.Resolve(c)
		if err != nil {
			s.logger.Printf("Warning: failed to resolve conflict on %s/%s: %v",
				ev.Table, c.RecordID, err)
		} else {
			resolved, err := json.Marshal(res.Document)
			if err == nil {
				applied = resolved
				remoteNew = res.Document
			}
		}
	}

	rec, err := entity.Decode(ev.Table, applied)
	if err != nil {
		s.countDecodeFailure(ev.Table, err)
		return
	}
	s.caches.Apply(ev.Table, rec)
	s.Notify(ev.Table, remoteNew, ActionUpdate)
}

func toPayload(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("payload is not an object: %w", err)
	}
	return out, nil
}

func copyPayload(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	return out
}
