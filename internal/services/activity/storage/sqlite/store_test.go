package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/cldcde/pulse/internal/services/activity/storage"
)

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(""); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestAppendEventIsIdempotentByID(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	now := time.Date(2026, 8, 12, 12, 0, 0, 0, time.UTC)

	record := storage.EventRecord{
		ID:           "evt-1",
		EventType:    "extension_added",
		ActorUserID:  "user-1",
		ActorName:    "ada",
		TargetID:     "ext-1",
		TargetName:   "claude-live",
		TargetType:   "extension",
		MetadataJSON: `{}`,
		CreatedAt:    now,
	}
	if err := store.AppendEvent(context.Background(), record); err != nil {
		t.Fatalf("append event: %v", err)
	}

	err := store.AppendEvent(context.Background(), record)
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict on duplicate append, got %v", err)
	}

	events, err := store.ListEventsSince(context.Background(), now.Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one stored event, got %d", len(events))
	}
	if events[0].MetadataJSON != "{}" {
		t.Fatalf("unexpected metadata %q", events[0].MetadataJSON)
	}
}

func TestListEventsSinceOrdersOldestFirst(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	base := time.Date(2026, 8, 12, 12, 0, 0, 0, time.UTC)

	for index, offset := range []time.Duration{3 * time.Minute, time.Minute, 2 * time.Minute} {
		record := storage.EventRecord{
			ID:        []string{"evt-c", "evt-a", "evt-b"}[index],
			EventType: "download",
			CreatedAt: base.Add(offset),
		}
		if err := store.AppendEvent(context.Background(), record); err != nil {
			t.Fatalf("append event %d: %v", index, err)
		}
	}

	events, err := store.ListEventsSince(context.Background(), base, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].ID != "evt-a" || events[1].ID != "evt-b" || events[2].ID != "evt-c" {
		t.Fatalf("unexpected order: %q, %q, %q", events[0].ID, events[1].ID, events[2].ID)
	}
}

func TestListEventsSinceFiltersAndLimits(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	base := time.Date(2026, 8, 12, 12, 0, 0, 0, time.UTC)

	for index := range 5 {
		record := storage.EventRecord{
			ID:        sequentialID("evt", index),
			EventType: "download",
			CreatedAt: base.Add(time.Duration(index) * time.Minute),
		}
		if err := store.AppendEvent(context.Background(), record); err != nil {
			t.Fatalf("append event %d: %v", index, err)
		}
	}

	events, err := store.ListEventsSince(context.Background(), base.Add(2*time.Minute), 2)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(events))
	}
	if events[0].ID != "evt-002" {
		t.Fatalf("expected since filter to start at evt-002, got %q", events[0].ID)
	}
}

func TestDeleteEventsBeforeRemovesOnlyExpired(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	now := time.Date(2026, 8, 12, 12, 0, 0, 0, time.UTC)

	expired := storage.EventRecord{ID: "evt-expired", EventType: "download", CreatedAt: now.Add(-8 * 24 * time.Hour)}
	edge := storage.EventRecord{ID: "evt-edge", EventType: "download", CreatedAt: now.Add(-7 * 24 * time.Hour)}
	fresh := storage.EventRecord{ID: "evt-fresh", EventType: "download", CreatedAt: now.Add(-time.Hour)}
	for _, record := range []storage.EventRecord{expired, edge, fresh} {
		if err := store.AppendEvent(context.Background(), record); err != nil {
			t.Fatalf("append %s: %v", record.ID, err)
		}
	}

	removed, err := store.DeleteEventsBefore(context.Background(), now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("delete events: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one removed row, got %d", removed)
	}

	events, err := store.ListEventsSince(context.Background(), now.Add(-30*24*time.Hour), 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected edge and fresh rows retained, got %d", len(events))
	}
}

func TestPutAndGetTargetOwner(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	now := time.Date(2026, 8, 12, 12, 0, 0, 0, time.UTC)

	record := storage.OwnerRecord{
		TargetType:  "extension",
		TargetID:    "ext-1",
		OwnerUserID: "user-1",
		UpdatedAt:   now,
	}
	if err := store.PutTargetOwner(context.Background(), record); err != nil {
		t.Fatalf("put target owner: %v", err)
	}

	got, err := store.GetTargetOwner(context.Background(), "extension", "ext-1")
	if err != nil {
		t.Fatalf("get target owner: %v", err)
	}
	if got.OwnerUserID != "user-1" {
		t.Fatalf("expected owner user-1, got %q", got.OwnerUserID)
	}

	// Re-publishing under a new owner replaces the row.
	record.OwnerUserID = "user-2"
	if err := store.PutTargetOwner(context.Background(), record); err != nil {
		t.Fatalf("update target owner: %v", err)
	}
	got, err = store.GetTargetOwner(context.Background(), "extension", "ext-1")
	if err != nil {
		t.Fatalf("get updated target owner: %v", err)
	}
	if got.OwnerUserID != "user-2" {
		t.Fatalf("expected owner user-2, got %q", got.OwnerUserID)
	}

	if _, err := store.GetTargetOwner(context.Background(), "extension", "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "activity.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func sequentialID(prefix string, index int) string {
	return fmt.Sprintf("%s-%03d", prefix, index)
}
