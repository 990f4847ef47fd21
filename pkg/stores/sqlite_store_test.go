package stores

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/kilnproject/kiln/pkg/engine"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	return store
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
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
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	// Check that tables exist by querying them
	tables := []string{"resource_state", "events"}
	for _, table := range tables {
		query := "SELECT COUNT(*) FROM " + table
		var count int
		err := store.db.QueryRowContext(ctx, query).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

// TestResourceStateCRUD tests resource state persistence
func TestResourceStateCRUD(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	record := &engine.ResourceRecord{
		Name:      "web-server",
		Type:      "test.server",
		Identity:  "srv-123",
		Action:    engine.ActionCreate,
		Status:    engine.StatusComplete,
		UpdatedAt: time.Now(),
	}

	if err := store.SaveResourceState(ctx, record); err != nil {
		t.Fatalf("failed to save resource state: %v", err)
	}

	got, err := store.GetResourceState(ctx, "web-server")
	if err != nil {
		t.Fatalf("failed to get resource state: %v", err)
	}
	if got.Type != "test.server" || got.Identity != "srv-123" {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.Action != engine.ActionCreate || got.Status != engine.StatusComplete {
		t.Errorf("expected (CREATE, COMPLETE), got (%s, %s)", got.Action, got.Status)
	}

	// Upsert replaces the existing row
	record.Action = engine.ActionSuspend
	record.Status = engine.StatusFailed
	record.Reason = `Went to status SUSPEND_FAILED due to "disk full"`
	if err := store.SaveResourceState(ctx, record); err != nil {
		t.Fatalf("failed to upsert resource state: %v", err)
	}

	got, err = store.GetResourceState(ctx, "web-server")
	if err != nil {
		t.Fatalf("failed to get resource state after upsert: %v", err)
	}
	if got.Action != engine.ActionSuspend || got.Status != engine.StatusFailed {
		t.Errorf("expected (SUSPEND, FAILED), got (%s, %s)", got.Action, got.Status)
	}
	if got.Reason != record.Reason {
		t.Errorf("expected reason %q, got %q", record.Reason, got.Reason)
	}

	states, err := store.ListResourceStates(ctx, 10, 0)
	if err != nil {
		t.Fatalf("failed to list resource states: %v", err)
	}
	if len(states) != 1 {
		t.Errorf("expected 1 resource state, got %d", len(states))
	}

	if err := store.DeleteResourceState(ctx, "web-server"); err != nil {
		t.Fatalf("failed to delete resource state: %v", err)
	}
	if _, err := store.GetResourceState(ctx, "web-server"); err == nil {
		t.Error("expected error for deleted resource state")
	}
	if err := store.DeleteResourceState(ctx, "web-server"); err == nil {
		t.Error("expected error deleting nonexistent resource state")
	}
}

// TestEventAppendAndList tests the lifecycle event log
func TestEventAppendAndList(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	base := time.Now().Add(-time.Minute)

	events := []*engine.LifecycleEvent{
		{
			ID:        "evt-1",
			Resource:  "web-server",
			TaskID:    "task-1",
			Action:    engine.ActionCreate,
			Status:    engine.StatusInProgress,
			Message:   "started create of web-server",
			Level:     "info",
			Timestamp: base,
		},
		{
			ID:        "evt-2",
			Resource:  "web-server",
			TaskID:    "task-1",
			Action:    engine.ActionCreate,
			Status:    engine.StatusComplete,
			Message:   "create of web-server complete",
			Level:     "info",
			Timestamp: base.Add(10 * time.Second),
		},
		{
			ID:        "evt-3",
			Resource:  "database",
			TaskID:    "task-2",
			Action:    engine.ActionDelete,
			Status:    engine.StatusFailed,
			Message:   "Cannot delete database, resource not found",
			Level:     "error",
			Timestamp: base.Add(20 * time.Second),
		},
	}

	for _, e := range events {
		if err := store.AppendEvent(ctx, e); err != nil {
			t.Fatalf("failed to append event %s: %v", e.ID, err)
		}
	}

	all, err := store.ListEvents(ctx, EventFilter{})
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
	// Newest first
	if all[0].ID != "evt-3" {
		t.Errorf("expected newest event first, got %s", all[0].ID)
	}

	resource := "web-server"
	byResource, err := store.ListEvents(ctx, EventFilter{Resource: &resource})
	if err != nil {
		t.Fatalf("failed to list events by resource: %v", err)
	}
	if len(byResource) != 2 {
		t.Errorf("expected 2 web-server events, got %d", len(byResource))
	}

	level := "error"
	byLevel, err := store.ListEvents(ctx, EventFilter{Level: &level})
	if err != nil {
		t.Fatalf("failed to list events by level: %v", err)
	}
	if len(byLevel) != 1 || byLevel[0].ID != "evt-3" {
		t.Errorf("unexpected error-level events: %+v", byLevel)
	}
	if byLevel[0].Message != "Cannot delete database, resource not found" {
		t.Errorf("unexpected message: %q", byLevel[0].Message)
	}

	count, err := store.CountEvents(ctx, "web-server")
	if err != nil {
		t.Fatalf("failed to count events: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 events for web-server, got %d", count)
	}
	count, err = store.CountEvents(ctx, "")
	if err != nil {
		t.Fatalf("failed to count all events: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 events total, got %d", count)
	}
}

// TestPurgeEvents tests per-resource event retention
func TestPurgeEvents(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	// 10 events for one resource, 3 for another
	for i := 0; i < 10; i++ {
		e := &engine.LifecycleEvent{
			ID:        fmt.Sprintf("srv-%02d", i),
			Resource:  "web-server",
			Action:    engine.ActionUpdate,
			Status:    engine.StatusComplete,
			Message:   "update of web-server complete",
			Level:     "info",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.AppendEvent(ctx, e); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		e := &engine.LifecycleEvent{
			ID:        fmt.Sprintf("db-%02d", i),
			Resource:  "database",
			Action:    engine.ActionCreate,
			Status:    engine.StatusComplete,
			Message:   "create of database complete",
			Level:     "info",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.AppendEvent(ctx, e); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
	}

	// Small batch size forces multiple purge passes
	deleted, err := store.PurgeEvents(ctx, 4, 2)
	if err != nil {
		t.Fatalf("failed to purge events: %v", err)
	}
	if deleted != 6 {
		t.Errorf("expected 6 deleted events, got %d", deleted)
	}

	count, err := store.CountEvents(ctx, "web-server")
	if err != nil {
		t.Fatalf("failed to count events: %v", err)
	}
	if count != 4 {
		t.Errorf("expected 4 retained web-server events, got %d", count)
	}

	// The survivors are the newest ones
	resource := "web-server"
	kept, err := store.ListEvents(ctx, EventFilter{Resource: &resource})
	if err != nil {
		t.Fatalf("failed to list surviving events: %v", err)
	}
	for _, e := range kept {
		if e.ID < "srv-06" {
			t.Errorf("expected oldest events purged, found %s", e.ID)
		}
	}

	// Under the cap, purging is a no-op
	deleted, err = store.PurgeEvents(ctx, 4, 2)
	if err != nil {
		t.Fatalf("failed to re-purge events: %v", err)
	}
	if deleted != 0 {
		t.Errorf("expected no further deletions, got %d", deleted)
	}

	// Disabled retention never deletes
	deleted, err = store.PurgeEvents(ctx, 0, 2)
	if err != nil {
		t.Fatalf("purge with retention disabled failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("expected no deletions with retention disabled, got %d", deleted)
	}
}
