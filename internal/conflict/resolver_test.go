package conflict

import (
	"fmt"
	"log"
	"os"
	"testing"

	"github.com/planora/planora-sync/internal/entity"
	"github.com/planora/planora-sync/internal/state"
)

func testLogger() *log.Logger {
	return log.New(os.Stderr, "[conflict-test] ", 0)
}

func notesConflict(id string) Conflict {
	return Conflict{
		ID:        id,
		Table:     entity.TableCourses,
		RecordID:  "crs-1",
		Local:     map[string]any{"id": "crs-1", "notes": "local"},
		RemoteOld: map[string]any{"id": "crs-1", "notes": "old"},
		RemoteNew: map[string]any{"id": "crs-1", "notes": "remote"},
		Fields:    []FieldConflict{{Field: "notes", Local: "local", RemoteOld: "old", RemoteNew: "remote"}},
		Severity:  SeverityLow,
	}
}

func TestEnqueueAssignsID(t *testing.T) {
	r, err := NewResolver(state.NewMem(), testLogger())
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}

	c := r.Enqueue(notesConflict(""))
	if c.ID == "" {
		t.Error("Enqueue should assign an id")
	}
	if len(r.Pending()) != 1 {
		t.Errorf("Expected 1 pending conflict, got %d", len(r.Pending()))
	}
}

func TestEnqueueIgnoresCleanConflicts(t *testing.T) {
	r, err := NewResolver(state.NewMem(), testLogger())
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}

	r.Enqueue(Conflict{Table: entity.TableCourses, RecordID: "crs-1"})
	if len(r.Pending()) != 0 {
		t.Error("A conflict with no conflicted fields must not be queued")
	}
}

func TestResolveRemovesFromQueueAndRecordsHistory(t *testing.T) {
	r, err := NewResolver(state.NewMem(), testLogger())
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}

	c := r.Enqueue(notesConflict(""))
	res, err := r.Resolve(c)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if res.Strategy != StrategyMerge {
		t.Errorf("Courses should resolve via merge by default, got %s", res.Strategy)
	}
	if len(r.Pending()) != 0 {
		t.Error("Resolved conflict should leave the pending queue")
	}
	if len(r.History()) != 1 {
		t.Errorf("Expected 1 history entry, got %d", len(r.History()))
	}

	stats := r.Stats()
	if stats.Detected != 1 || stats.Resolved != 1 {
		t.Errorf("Stats = %d detected / %d resolved, want 1/1", stats.Detected, stats.Resolved)
	}
	if stats.ByStrategy[StrategyMerge] != 1 {
		t.Errorf("Expected 1 merge resolution, got %d", stats.ByStrategy[StrategyMerge])
	}
}

func TestStateSurvivesRestart(t *testing.T) {
	store := state.NewMem()

	r1, err := NewResolver(store, testLogger())
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	queued := r1.Enqueue(notesConflict(""))
	if _, err := r1.Resolve(r1.Enqueue(notesConflict(""))); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if err := r1.SetStrategy(entity.TableCourses, StrategyUseLocal); err != nil {
		t.Fatalf("SetStrategy failed: %v", err)
	}

	// A fresh resolver over the same store picks up where r1 left off.
	r2, err := NewResolver(store, testLogger())
	if err != nil {
		t.Fatalf("NewResolver after restart failed: %v", err)
	}

	pending := r2.Pending()
	if len(pending) != 1 || pending[0].ID != queued.ID {
		t.Errorf("Pending queue did not survive the restart: %+v", pending)
	}
	if len(r2.History()) != 1 {
		t.Errorf("History did not survive the restart, got %d entries", len(r2.History()))
	}
	if got := r2.StrategyFor(entity.TableCourses); got != StrategyUseLocal {
		t.Errorf("Strategy override did not survive the restart, got %s", got)
	}
}

func TestSetStrategyRejectsUnknown(t *testing.T) {
	r, err := NewResolver(state.NewMem(), testLogger())
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	if err := r.SetStrategy(entity.TableCourses, Strategy("coin_flip")); err == nil {
		t.Error("SetStrategy should reject an unknown strategy")
	}
}

func TestStrategyOverrideChangesResolution(t *testing.T) {
	r, err := NewResolver(state.NewMem(), testLogger())
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	if err := r.SetStrategy(entity.TableCourses, StrategyUseRemote); err != nil {
		t.Fatalf("SetStrategy failed: %v", err)
	}

	res, err := r.Resolve(r.Enqueue(notesConflict("")))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Strategy != StrategyUseRemote {
		t.Errorf("Override should apply, got %s", res.Strategy)
	}
	if res.Document["notes"] != "remote" {
		t.Errorf("use_remote should return the remote document, got %v", res.Document["notes"])
	}
}

func TestResolveAllDrainsInOrder(t *testing.T) {
	r, err := NewResolver(state.NewMem(), testLogger())
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}

	var ids []string
	for i := 0; i < 5; i++ {
		c := notesConflict(fmt.Sprintf("c-%d", i))
		r.Enqueue(c)
		ids = append(ids, c.ID)
	}

	resolutions, err := r.ResolveAll()
	if err != nil {
		t.Fatalf("ResolveAll failed: %v", err)
	}
	if len(resolutions) != 5 {
		t.Fatalf("Expected 5 resolutions, got %d", len(resolutions))
	}
	for i, res := range resolutions {
		if res.ConflictID != ids[i] {
			t.Errorf("Resolution %d out of order: got %s, want %s", i, res.ConflictID, ids[i])
		}
	}
	if len(r.Pending()) != 0 {
		t.Error("Queue should be empty after ResolveAll")
	}
}

func TestHistoryIsCapped(t *testing.T) {
	r, err := NewResolver(state.NewMem(), testLogger())
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}

	total := historyCap + 20
	for i := 0; i < total; i++ {
		if _, err := r.Resolve(r.Enqueue(notesConflict(fmt.Sprintf("c-%d", i)))); err != nil {
			t.Fatalf("Resolve %d failed: %v", i, err)
		}
	}

	history := r.History()
	if len(history) != historyCap {
		t.Fatalf("Expected history capped at %d, got %d", historyCap, len(history))
	}
	// The oldest entries are the ones evicted.
	if history[0].Conflict.ID != fmt.Sprintf("c-%d", total-historyCap) {
		t.Errorf("Unexpected oldest history entry: %s", history[0].Conflict.ID)
	}
	if got := r.Stats().Resolved; got != total {
		t.Errorf("Resolved counter should be uncapped, got %d", got)
	}
}
