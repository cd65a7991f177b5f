package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/openfroyo/graphpatch/pkg/engine"
	"github.com/openfroyo/graphpatch/pkg/script"
)

const target = "900000000000000000"

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := Open(context.Background(), Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testPatch(targetID, planID string, created time.Time) *engine.PendingPatch {
	return &engine.PendingPatch{
		PlanID:   planID,
		TargetID: targetID,
		Code:     "ABC234",
		Actions: []script.Action{
			{Verb: "rename", ResourceType: "channel", HandlerID: "channel.rename", Line: 1,
				Arguments: map[string]string{"id": "100000000000000002", "name": "chat"}, Raw: "rename:channel id=100000000000000002 name=chat"},
			{Verb: "delete", ResourceType: "role", HandlerID: "role.delete", Line: 3,
				Arguments: map[string]string{"id": "100000000000000010"}, Raw: "delete:role id=100000000000000010", Destructive: true},
		},
		CreatedAt:           created,
		ContainsDestructive: true,
		Actor:               "alice",
	}
}

func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"pending_patches", "runs", "action_results", "audit"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// Running migrations twice is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Errorf("second Migrate() error = %v", err)
	}
}

func TestPendingPatchSlot(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.Get(ctx, target); !errors.Is(err, engine.ErrPatchNotFound) {
		t.Fatalf("Get() on empty slot error = %v, want ErrPatchNotFound", err)
	}

	first := testPatch(target, "plan-1", base)
	replaced, err := store.Put(ctx, first)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if replaced {
		t.Error("first Put() reported a replacement")
	}

	got, err := store.Get(ctx, target)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if diff := cmp.Diff(first, got); diff != "" {
		t.Errorf("patch mismatch (-want +got):\n%s", diff)
	}

	second := testPatch(target, "plan-2", base.Add(time.Minute))
	second.Code = "XYZ789"
	second.ContainsDestructive = false
	second.Actions = second.Actions[:1]
	replaced, err = store.Put(ctx, second)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if !replaced {
		t.Error("second Put() should replace the first patch")
	}

	got, err = store.Get(ctx, target)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if diff := cmp.Diff(second, got); diff != "" {
		t.Errorf("patch mismatch (-want +got):\n%s", diff)
	}

	// The slot now holds plan-2, so consuming plan-1 must leave it alone.
	consumed, err := store.Consume(ctx, target, "plan-1")
	if err != nil {
		t.Fatalf("Consume(plan-1) error = %v", err)
	}
	if consumed {
		t.Error("Consume() removed a plan that was already replaced")
	}
	if _, err := store.Get(ctx, target); err != nil {
		t.Fatalf("Get() after stale consume error = %v", err)
	}

	consumed, err = store.Consume(ctx, target, "plan-2")
	if err != nil || !consumed {
		t.Fatalf("Consume(plan-2) = %v, %v; want true", consumed, err)
	}
	if _, err := store.Get(ctx, target); !errors.Is(err, engine.ErrPatchNotFound) {
		t.Errorf("Get() after consume error = %v", err)
	}
	if consumed, err := store.Consume(ctx, target, "plan-2"); err != nil || consumed {
		t.Errorf("second Consume() = %v, %v; want false", consumed, err)
	}
}

func TestDeleteExpired(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"900000000000000001", "900000000000000002", "900000000000000003"} {
		if _, err := store.Put(ctx, testPatch(id, "plan-"+id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	// A patch created exactly at the cutoff stays.
	removed, err := store.DeleteExpired(ctx, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("DeleteExpired() error = %v", err)
	}
	if len(removed) != 1 || removed[0].TargetID != "900000000000000001" {
		t.Fatalf("removed = %+v, want only the oldest patch", removed)
	}

	pending, err := store.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(pending) != 2 || pending[0].TargetID != "900000000000000002" {
		t.Errorf("pending = %+v", pending)
	}
}

func testRun(id string, started time.Time) *engine.ApplyResult {
	return &engine.ApplyResult{
		RunID:    id,
		PlanID:   "plan-" + id,
		TargetID: target,
		Actor:    "alice",
		Reason:   "cleanup",
		Status:   engine.RunStatusPartial,
		Results: []engine.ActionResult{
			{Success: true, Line: 1, HandlerID: "channel.rename", AffectedID: "100000000000000002", Changed: true, Duration: 3 * time.Millisecond},
			{Success: false, Line: 3, HandlerID: "role.delete", Error: "not found", Duration: time.Millisecond},
		},
		SuccessCount: 1,
		FailureCount: 1,
		StartedAt:    started,
		CompletedAt:  started.Add(time.Second),
	}
}

func TestRecordApply(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := testRun("run-1", base)
	if err := store.RecordApply(ctx, run); err != nil {
		t.Fatalf("RecordApply() error = %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if diff := cmp.Diff(run, got); diff != "" {
		t.Errorf("run mismatch (-want +got):\n%s", diff)
	}

	if _, err := store.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun(missing) error = %v, want ErrNotFound", err)
	}

	bad := testRun("run-2", base)
	bad.Status = "exploded"
	if err := store.RecordApply(ctx, bad); err == nil {
		t.Error("expected error for invalid status")
	}
}

func TestListRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"run-1", "run-2", "run-3"} {
		run := testRun(id, base.Add(time.Duration(i)*time.Hour))
		if id == "run-3" {
			run.TargetID = "900000000000000001"
		}
		if err := store.RecordApply(ctx, run); err != nil {
			t.Fatalf("RecordApply() error = %v", err)
		}
	}

	runs, err := store.ListRuns(ctx, RunFilter{TargetID: target})
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	var ids []string
	for _, r := range runs {
		ids = append(ids, r.RunID)
		if r.Results != nil {
			t.Errorf("ListRuns() should not load results for %s", r.RunID)
		}
	}
	if diff := cmp.Diff([]string{"run-2", "run-1"}, ids); diff != "" {
		t.Errorf("run order mismatch (-want +got):\n%s", diff)
	}

	all, err := store.ListRuns(ctx, RunFilter{Limit: 1})
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(all) != 1 || all[0].RunID != "run-3" {
		t.Errorf("first page = %+v", all)
	}
}

func TestAuditTrail(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	events := []engine.Event{
		{Type: engine.EventPlanCreated, TargetID: target, PlanID: "plan-1", Actor: "alice", Message: "2 actions planned", Timestamp: base},
		{Type: engine.EventApplyCompleted, TargetID: target, PlanID: "plan-1", Actor: "alice", Message: "succeeded", Timestamp: base.Add(time.Minute)},
		{Type: engine.EventPlanCreated, TargetID: "900000000000000001", PlanID: "plan-2", Message: "1 action planned", Timestamp: base.Add(2 * time.Minute)},
	}
	for _, e := range events {
		if err := store.RecordEvent(ctx, e); err != nil {
			t.Fatalf("RecordEvent() error = %v", err)
		}
	}

	got, err := store.ListEvents(ctx, EventFilter{TargetID: target})
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(got) != 2 || got[0].Type != engine.EventApplyCompleted || got[0].ID == 0 {
		t.Fatalf("events = %+v", got)
	}
	if diff := cmp.Diff(events[1], got[0].Event); diff != "" {
		t.Errorf("event mismatch (-want +got):\n%s", diff)
	}

	created, err := store.ListEvents(ctx, EventFilter{Type: engine.EventPlanCreated, Since: base.Add(time.Second)})
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(created) != 1 || created[0].PlanID != "plan-2" {
		t.Errorf("filtered events = %+v", created)
	}
}

func TestPruneHistory(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.RecordApply(ctx, testRun("old", base)); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordApply(ctx, testRun("new", base.Add(48*time.Hour))); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordEvent(ctx, engine.Event{Type: engine.EventPlanCreated, TargetID: target, Timestamp: base}); err != nil {
		t.Fatal(err)
	}

	n, err := store.PruneHistory(ctx, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("PruneHistory() error = %v", err)
	}
	if n != 2 {
		t.Errorf("pruned %d rows, want 2", n)
	}

	// Results of the pruned run cascade.
	var results int
	if err := store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM action_results WHERE run_id = 'old'`).Scan(&results); err != nil {
		t.Fatal(err)
	}
	if results != 0 {
		t.Errorf("%d orphaned action results", results)
	}
	if _, err := store.GetRun(ctx, "new"); err != nil {
		t.Errorf("recent run was pruned: %v", err)
	}
}

func TestFileDatabasePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graphpatch.db")
	ctx := context.Background()

	store, err := Open(ctx, Config{Path: path})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := store.Put(ctx, testPatch(target, "plan-1", base)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := Open(ctx, Config{Path: path})
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, target)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.PlanID != "plan-1" || !got.CreatedAt.Equal(base) {
		t.Errorf("patch = %+v", got)
	}
}
