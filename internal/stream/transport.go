// Package stream consumes per-table change streams and applies them to the
// local caches.
//
// The wire transport delivers, per table, an ordered sequence of
// {kind, old, new} row events and answers bulk reads during full sync. The
// Subscriber owns the decode → conflict-check → cache-apply → delegate
// pipeline for every event; the Transport interface keeps the engine
// testable against an in-memory fake.
package stream

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/planora/planora-sync/internal/entity"
)

// ChangeKind is the kind of a change-stream event.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "INSERT"
	ChangeUpdate ChangeKind = "UPDATE"
	ChangeDelete ChangeKind = "DELETE"
)

// ChangeEvent is one row change delivered on a table's stream.
type ChangeEvent struct {
	Table entity.Table    `json:"table"`
	Kind  ChangeKind      `json:"kind"`
	Old   json.RawMessage `json:"old,omitempty"`
	New   json.RawMessage `json:"new,omitempty"`
}

// ErrFetchCanceled marks a bulk read cancelled by the transport layer,
// typically because a newer request superseded it. Callers swallow it:
// the cache keeps its prior contents and no error counter moves.
var ErrFetchCanceled = errors.New("stream: fetch canceled by transport")

// Subscription is a handle on one table's open change stream.
type Subscription interface {
	// Unsubscribe closes the stream. Safe to call more than once.
	Unsubscribe()
}

// Transport is the wire surface the sync engine runs on.
type Transport interface {
	// Subscribe opens the change stream for one table and delivers events
	// to handler in arrival order. userID is applied server-side where the
	// table carries a direct user column and ignored otherwise.
	Subscribe(ctx context.Context, table entity.Table, userID string, handler func(ChangeEvent)) (Subscription, error)

	// Fetch bulk-reads every row of a table for the user. Used only during
	// full sync. Returns ErrFetchCanceled when the transport abandons the
	// request in favor of a newer one.
	Fetch(ctx context.Context, table entity.Table, userID string) ([]json.RawMessage, error)

	// Push uploads one locally originated change.
	Push(ctx context.Context, table entity.Table, kind ChangeKind, payload json.RawMessage) error

	// Close tears the transport down, ending every subscription.
	Close() error
}
