package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dukerupert/stayvia/internal/model"
)

func mapped(ids ...string) []model.MappedEvent {
	out := make([]model.MappedEvent, len(ids))
	for i, id := range ids {
		out[i] = model.MappedEvent{ID: id, Due: date(2024, time.Month(i+1), 10)}
	}
	return out
}

func TestEventMappingPutGetRemove(t *testing.T) {
	ms := NewEventMappingStore(setupTestDB(t))
	ctx := context.Background()

	ids := []string{"e-3", "e-1", "e-2"}
	if err := ms.Put(ctx, "owner-1", "lease-1", mapped(ids...)); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := ms.Get(ctx, "owner-1", "lease-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(ids, got); diff != "" {
		t.Errorf("mapping mismatch (-want +got):\n%s", diff)
	}

	// Other owners have their own mapping.
	other, _ := ms.Get(ctx, "owner-2", "lease-1")
	if len(other) != 0 {
		t.Errorf("owner-2 mapping = %v, want empty", other)
	}

	if err := ms.Put(ctx, "owner-1", "lease-1", mapped("e-9")); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, _ = ms.Get(ctx, "owner-1", "lease-1")
	if diff := cmp.Diff([]string{"e-9"}, got); diff != "" {
		t.Errorf("replaced mapping mismatch (-want +got):\n%s", diff)
	}

	leases, err := ms.ListLeaseIDs(ctx, "owner-1")
	if err != nil {
		t.Fatalf("list lease ids: %v", err)
	}
	if diff := cmp.Diff([]string{"lease-1"}, leases); diff != "" {
		t.Errorf("lease ids mismatch (-want +got):\n%s", diff)
	}

	if err := ms.Remove(ctx, "owner-1", "lease-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	got, _ = ms.Get(ctx, "owner-1", "lease-1")
	if len(got) != 0 {
		t.Errorf("mapping after remove = %v", got)
	}
}

func TestEventMappingDueBetween(t *testing.T) {
	ms := NewEventMappingStore(setupTestDB(t))
	ctx := context.Background()

	// Jan 10, Feb 10 (never created), Mar 10, Apr 10.
	events := mapped("e-1", "", "e-3", "e-4")
	if err := ms.Put(ctx, "owner-1", "lease-1", events); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := ms.GetDueBetween(ctx, "owner-1", "lease-1", date(2024, 2, 1), date(2024, 4, 10))
	if err != nil {
		t.Fatalf("get due between: %v", err)
	}
	if diff := cmp.Diff([]string{"", "e-3"}, got); diff != "" {
		t.Errorf("window mismatch (-want +got):\n%s", diff)
	}

	all, _ := ms.Get(ctx, "owner-1", "lease-1")
	if diff := cmp.Diff([]string{"e-1", "e-3", "e-4"}, all); diff != "" {
		t.Errorf("Get returned placeholders (-want +got):\n%s", diff)
	}

	// Rows without a due date always fall inside the window.
	if err := ms.Put(ctx, "owner-1", "lease-2", []model.MappedEvent{{ID: "legacy"}}); err != nil {
		t.Fatalf("put legacy: %v", err)
	}
	got, _ = ms.GetDueBetween(ctx, "owner-1", "lease-2", date(2030, 1, 1), date(2031, 1, 1))
	if diff := cmp.Diff([]string{"legacy"}, got); diff != "" {
		t.Errorf("legacy window mismatch (-want +got):\n%s", diff)
	}
}
