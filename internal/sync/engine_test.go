package sync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	stdsync "sync"
	"testing"
	"time"

	"github.com/planora/planora-sync/internal/entity"
	"github.com/planora/planora-sync/internal/state"
	"github.com/planora/planora-sync/internal/stream"
)

// fakeTransport serves canned rows per table and records subscribe calls.
type fakeTransport struct {
	mu         stdsync.Mutex
	rows       map[entity.Table][]json.RawMessage
	fetchErrs  map[entity.Table]error
	fetchOrder []entity.Table
	subscribed []entity.Table
	subErr     error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		rows:      make(map[entity.Table][]json.RawMessage),
		fetchErrs: make(map[entity.Table]error),
	}
}

func (f *fakeTransport) Subscribe(ctx context.Context, table entity.Table, userID string, handler func(stream.ChangeEvent)) (stream.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return nil, f.subErr
	}
	f.subscribed = append(f.subscribed, table)
	return noopSubscription{}, nil
}

func (f *fakeTransport) Fetch(ctx context.Context, table entity.Table, userID string) ([]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchOrder = append(f.fetchOrder, table)
	if err := f.fetchErrs[table]; err != nil {
		return nil, err
	}
	return f.rows[table], nil
}

func (f *fakeTransport) Push(ctx context.Context, table entity.Table, kind stream.ChangeKind, payload json.RawMessage) error {
	return nil
}

func (f *fakeTransport) Close() error { return nil }

type noopSubscription struct{}

func (noopSubscription) Unsubscribe() {}

func quietConfig() *Config {
	cfg := DefaultConfig()
	cfg.FetchRetries = 0
	cfg.FetchBackoff = time.Millisecond
	cfg.Logger = log.New(io.Discard, "", 0)
	return cfg
}

func seedRows(transport *fakeTransport) {
	transport.rows[entity.TableSchedules] = []json.RawMessage{
		json.RawMessage(`{"id":"sch-1","user_id":"u1","name":"Fall 2025","is_active":true}`),
	}
	transport.rows[entity.TableCourses] = []json.RawMessage{
		json.RawMessage(`{"id":"crs-1","user_id":"u1","schedule_id":"sch-1","name":"Calculus"}`),
		json.RawMessage(`{"id":"crs-2","user_id":"u1","schedule_id":"sch-1","name":"Physics"}`),
	}
	transport.rows[entity.TableAssignments] = []json.RawMessage{
		json.RawMessage(`{"id":"asg-1","user_id":"u1","course_id":"crs-1","name":"Problem set 1"}`),
	}
	transport.rows[entity.TableScheduleItems] = []json.RawMessage{
		json.RawMessage(`{"id":"itm-1","schedule_id":"sch-1","name":"Gym","days_of_week":[2],"start_time":"17:00:00","end_time":"18:00:00"}`),
	}
}

func newTestEngine(t *testing.T, transport stream.Transport) *Engine {
	t.Helper()
	e, err := New(transport, state.NewMem(), nil, quietConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return e
}

func TestInitializeRequiresSignIn(t *testing.T) {
	e := newTestEngine(t, newFakeTransport())
	if err := e.Initialize(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("Initialize before sign-in should fail with ErrNotAuthenticated, got %v", err)
	}
	if !e.Status().Equal(statusOf(StatusIdle)) {
		t.Errorf("Status should stay idle, got %s", e.Status())
	}
}

func TestSignInMovesToReady(t *testing.T) {
	e := newTestEngine(t, newFakeTransport())
	if err := e.SignIn(""); !errors.Is(err, ErrNotAuthenticated) {
		t.Error("Empty user id should be rejected")
	}
	if err := e.SignIn("u1"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if !e.Status().Equal(statusOf(StatusReady)) {
		t.Errorf("Status should be ready, got %s", e.Status())
	}
}

func TestInitializeSubscribesAndSyncsEveryTable(t *testing.T) {
	transport := newFakeTransport()
	seedRows(transport)
	e := newTestEngine(t, transport)

	if err := e.SignIn("u1"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if err := e.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if !e.Status().Equal(statusOf(StatusConnected)) {
		t.Errorf("Status should be connected, got %s", e.Status())
	}

	want := entity.SubscribedTables()
	if len(transport.subscribed) != len(want) {
		t.Fatalf("Expected %d subscriptions, got %d", len(want), len(transport.subscribed))
	}
	if len(transport.fetchOrder) != len(want) {
		t.Fatalf("Expected %d fetches, got %d", len(want), len(transport.fetchOrder))
	}
	for i, table := range want {
		if transport.fetchOrder[i] != table {
			t.Errorf("Fetch %d: expected %s, got %s", i, table, transport.fetchOrder[i])
		}
	}

	if got := e.Caches().Count(entity.TableCourses); got != 2 {
		t.Errorf("Expected 2 cached courses, got %d", got)
	}
	if got := e.Caches().Count(entity.TableScheduleItems); got != 1 {
		t.Errorf("Expected 1 cached item, got %d", got)
	}
}

func TestInitializeNotifiesSyncDelegates(t *testing.T) {
	transport := newFakeTransport()
	seedRows(transport)
	e := newTestEngine(t, transport)

	var mu stdsync.Mutex
	var got []map[string]any
	e.RegisterDelegate(entity.TableCourses, func(payload map[string]any, action stream.Action, table entity.Table) {
		if action != stream.ActionSync {
			return
		}
		mu.Lock()
		got = append(got, payload)
		mu.Unlock()
	})

	if err := e.SignIn("u1"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if err := e.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("Expected one SYNC notification for courses, got %d", len(got))
	}
	records, ok := got[0]["records"].([]any)
	if !ok || len(records) != 2 {
		t.Errorf("SYNC payload should carry the full snapshot, got %v", got[0]["records"])
	}
}

func TestSubscriptionFailureSetsErrorStatus(t *testing.T) {
	transport := newFakeTransport()
	transport.subErr = errors.New("stream refused")
	e := newTestEngine(t, transport)

	if err := e.SignIn("u1"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if err := e.Initialize(context.Background()); err == nil {
		t.Fatal("Initialize should surface the subscription failure")
	}
	if e.Status().Kind != StatusError {
		t.Errorf("Status should be error, got %s", e.Status())
	}
}

func TestCanceledFetchKeepsPriorCache(t *testing.T) {
	transport := newFakeTransport()
	seedRows(transport)
	e := newTestEngine(t, transport)

	if err := e.SignIn("u1"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if err := e.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	// A superseded fetch is a soft failure: nothing changes, nothing counts.
	transport.mu.Lock()
	transport.fetchErrs[entity.TableCourses] = stream.ErrFetchCanceled
	transport.mu.Unlock()

	if err := e.ForceSyncTable(context.Background(), entity.TableCourses); err != nil {
		t.Fatalf("ForceSyncTable failed: %v", err)
	}

	if got := e.Caches().Count(entity.TableCourses); got != 2 {
		t.Errorf("Canceled fetch should keep the prior cache, got %d courses", got)
	}
	if got := e.Stats().Tables[entity.TableCourses].FetchErrors; got != 0 {
		t.Errorf("Canceled fetch must not count as an error, got %d", got)
	}
}

func TestGenuineFetchFailureCountsButDoesNotStopSiblings(t *testing.T) {
	transport := newFakeTransport()
	seedRows(transport)
	transport.fetchErrs[entity.TableCourses] = errors.New("server error")
	e := newTestEngine(t, transport)

	if err := e.SignIn("u1"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if err := e.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	stats := e.Stats()
	if stats.Tables[entity.TableCourses].FetchErrors != 1 {
		t.Errorf("Expected 1 fetch error for courses, got %d",
			stats.Tables[entity.TableCourses].FetchErrors)
	}
	// Sibling tables still synced.
	if got := e.Caches().Count(entity.TableAssignments); got != 1 {
		t.Errorf("Sibling tables should still sync, got %d assignments", got)
	}
	if !e.Status().Equal(statusOf(StatusConnected)) {
		t.Errorf("Per-table failures must not fail the whole sync, got %s", e.Status())
	}
}

func TestFetchRetriesOnFailure(t *testing.T) {
	transport := newFakeTransport()
	seedRows(transport)
	transport.fetchErrs[entity.TableCourses] = errors.New("flaky")
	cfg := quietConfig()
	cfg.FetchRetries = 2

	e, err := New(transport, state.NewMem(), nil, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := e.SignIn("u1"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if err := e.ForceSyncTable(context.Background(), entity.TableCourses); err != nil {
		t.Fatalf("ForceSyncTable failed: %v", err)
	}

	var attempts int
	transport.mu.Lock()
	for _, table := range transport.fetchOrder {
		if table == entity.TableCourses {
			attempts++
		}
	}
	transport.mu.Unlock()
	if attempts != 3 {
		t.Errorf("Expected 1 attempt + 2 retries, got %d", attempts)
	}
}

func TestUndecodableRowsAreDropped(t *testing.T) {
	transport := newFakeTransport()
	transport.rows[entity.TableCourses] = []json.RawMessage{
		json.RawMessage(`{"id":"crs-1","user_id":"u1","schedule_id":"sch-1","name":"Calculus"}`),
		json.RawMessage(`{"name":"missing id"}`),
		json.RawMessage(`not json`),
	}
	e := newTestEngine(t, transport)

	if err := e.SignIn("u1"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if err := e.ForceSyncTable(context.Background(), entity.TableCourses); err != nil {
		t.Fatalf("ForceSyncTable failed: %v", err)
	}

	if got := e.Caches().Count(entity.TableCourses); got != 1 {
		t.Errorf("Only the decodable row should cache, got %d", got)
	}
}

func TestCleanupDisconnectsAndClearsCaches(t *testing.T) {
	transport := newFakeTransport()
	seedRows(transport)
	e := newTestEngine(t, transport)

	if err := e.SignIn("u1"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if err := e.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	e.Cleanup()
	e.Cleanup() // idempotent

	if !e.Status().Equal(statusOf(StatusDisconnected)) {
		t.Errorf("Status should be disconnected, got %s", e.Status())
	}
	for _, table := range entity.SubscribedTables() {
		if n := e.Caches().Count(table); n != 0 {
			t.Errorf("Cache %s should be empty after cleanup, got %d", table, n)
		}
	}

	// Operations requiring a session are rejected again.
	if err := e.RefreshAll(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("RefreshAll after cleanup should fail, got %v", err)
	}
}

func TestStatusEquality(t *testing.T) {
	if !statusOf(StatusConnected).Equal(statusOf(StatusConnected)) {
		t.Error("Identical kinds should be equal")
	}
	if statusOf(StatusConnected).Equal(statusOf(StatusSyncing)) {
		t.Error("Different kinds should differ")
	}
	if !errorStatus("boom").Equal(errorStatus("boom")) {
		t.Error("Error statuses with the same reason should be equal")
	}
	if errorStatus("boom").Equal(errorStatus("other")) {
		t.Error("Error statuses with different reasons should differ")
	}
}
