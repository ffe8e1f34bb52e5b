package activitylog

import (
	"context"
	"testing"
)

func TestMemStore_RecordAssignsIDAndTimestamp(t *testing.T) {
	s := NewMemStore()

	e := &Entry{TenantID: "guild-1", Event: "join", Action: "join", ActionRoomID: "room-1"}
	if err := s.Record(context.Background(), e); err != nil {
		t.Fatalf("Record: unexpected error: %v", err)
	}
	if e.ID == 0 {
		t.Error("ID not assigned")
	}
	if e.OccurredAt.IsZero() {
		t.Error("OccurredAt not assigned")
	}
}

func TestMemStore_RecentByTenant(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	for _, e := range []Entry{
		{TenantID: "guild-1", Event: "join", DisplayName: "Ada"},
		{TenantID: "guild-2", Event: "join", DisplayName: "Bob"},
		{TenantID: "guild-1", Event: "move", DisplayName: "Ada"},
		{TenantID: "guild-1", Event: "leave", DisplayName: "Ada"},
	} {
		if err := s.Record(ctx, &e); err != nil {
			t.Fatalf("Record: unexpected error: %v", err)
		}
	}

	got, err := s.RecentByTenant(ctx, "guild-1", 2)
	if err != nil {
		t.Fatalf("RecentByTenant: unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Event != "leave" || got[1].Event != "move" {
		t.Errorf("events = [%s %s], want newest first [leave move]", got[0].Event, got[1].Event)
	}
	for _, e := range got {
		if e.TenantID != "guild-1" {
			t.Errorf("entry for tenant %q leaked into guild-1 query", e.TenantID)
		}
	}
}

func TestMemStore_RecentByTenant_Empty(t *testing.T) {
	s := NewMemStore()
	got, err := s.RecentByTenant(context.Background(), "guild-x", 10)
	if err != nil {
		t.Fatalf("RecentByTenant: unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("len = %d, want 0", len(got))
	}
}
