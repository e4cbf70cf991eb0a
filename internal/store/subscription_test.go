package store

import (
	"context"
	"testing"
	"time"

	"github.com/dukerupert/homebase/internal/model"
)

func TestSubscriptionLifecycle(t *testing.T) {
	s := NewSubscriptionStore(newTestDB(t))
	ctx := context.Background()

	sub, err := s.Create(ctx, 1, 10, "School", "https://example.com/school.ics")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !sub.Active || sub.LastSyncStatus != model.SyncStatusPending {
		t.Errorf("new subscription = %+v", sub)
	}

	at := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	if err := s.RecordSync(ctx, sub.ID, SyncResult{Status: model.SyncStatusOK, ETag: `"abc"`, At: at}); err != nil {
		t.Fatalf("record sync: %v", err)
	}
	got, _ := s.GetByID(ctx, sub.ID)
	if got.ETag != `"abc"` || got.LastSyncStatus != model.SyncStatusOK {
		t.Errorf("after sync = %+v", got)
	}
	if got.LastSyncedAt == nil || !got.LastSyncedAt.Equal(at) {
		t.Errorf("last_synced_at = %v, want %v", got.LastSyncedAt, at)
	}

	active, err := s.ListActive(ctx)
	if err != nil || len(active) != 1 {
		t.Fatalf("list active = %d, %v", len(active), err)
	}
	if err := s.SetActive(ctx, sub.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	active, _ = s.ListActive(ctx)
	if len(active) != 0 {
		t.Errorf("inactive subscription still listed")
	}

	mine, _ := s.ListByUser(ctx, 1, 10)
	if len(mine) != 1 {
		t.Errorf("list by user = %d, want 1", len(mine))
	}
}

func TestExternalEventUpsertIsIdempotent(t *testing.T) {
	s := NewSubscriptionStore(newTestDB(t))
	ctx := context.Background()
	sub, _ := s.Create(ctx, 1, 10, "Work", "https://example.com/work.ics")

	ev := &model.ExternalEvent{
		SubscriptionID: sub.ID,
		ExternalUID:    "abc@example.com",
		Title:          "Review",
		StartTime:      ts(2026, 2, 2, 14),
		EndTime:        ts(2026, 2, 2, 15),
	}
	if err := s.UpsertEvent(ctx, ev); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	ev.Title = "Design review"
	ev.EndTime = ts(2026, 2, 2, 16)
	if err := s.UpsertEvent(ctx, ev); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	events, err := s.ListEvents(ctx, 1, []int64{10}, ts(2026, 2, 1, 0), ts(2026, 2, 3, 0))
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].Title != "Design review" || !events[0].EndTime.Equal(ts(2026, 2, 2, 16)) {
		t.Errorf("event = %+v", events[0])
	}
	if events[0].UserID != 10 {
		t.Errorf("user_id = %d, want 10", events[0].UserID)
	}
}

func TestExternalEventPrune(t *testing.T) {
	s := NewSubscriptionStore(newTestDB(t))
	ctx := context.Background()
	sub, _ := s.Create(ctx, 1, 10, "Work", "https://example.com/work.ics")

	for _, uid := range []string{"a", "b", "c"} {
		if err := s.UpsertEvent(ctx, &model.ExternalEvent{
			SubscriptionID: sub.ID, ExternalUID: uid, StartTime: ts(2026, 2, 2, 9), EndTime: ts(2026, 2, 2, 10),
		}); err != nil {
			t.Fatalf("upsert %s: %v", uid, err)
		}
	}

	n, err := s.PruneEvents(ctx, sub.ID, []string{"a", "c"})
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}

	n, _ = s.PruneEvents(ctx, sub.ID, nil)
	if n != 2 {
		t.Errorf("prune all = %d, want 2", n)
	}
}

func TestExternalEventsHiddenForInactiveSubscription(t *testing.T) {
	s := NewSubscriptionStore(newTestDB(t))
	ctx := context.Background()
	sub, _ := s.Create(ctx, 1, 10, "Work", "https://example.com/work.ics")
	_ = s.UpsertEvent(ctx, &model.ExternalEvent{
		SubscriptionID: sub.ID, ExternalUID: "a", StartTime: ts(2026, 2, 2, 9), EndTime: ts(2026, 2, 2, 10),
	})
	_ = s.SetActive(ctx, sub.ID, false)

	events, err := s.ListEvents(ctx, 1, []int64{10}, ts(2026, 2, 1, 0), ts(2026, 2, 3, 0))
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events = %d, want 0", len(events))
	}
}
