// InnSync - Offline-First Synchronization Core for Hotel Desk Operations
// Copyright 2026 Innkeeper Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/innkeeper-labs/innsync

package realtime

import (
	"errors"
	"testing"

	"github.com/innkeeper-labs/innsync/internal/models"
	"github.com/innkeeper-labs/innsync/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	opts := store.DefaultOptions(t.TempDir())
	opts.SyncWrites = false

	stores, err := store.NewManager(opts)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { _ = stores.CloseAll() })

	st, err := stores.Open("tenant-a")
	if err != nil {
		t.Fatalf("Open tenant store: %v", err)
	}
	return st
}

func TestApplyUpsertsKnownTables(t *testing.T) {
	st := newTestStore(t)
	applier := NewCacheApplier(st)

	applier.Apply(Change{
		Table:  "rooms",
		Action: "INSERT",
		Record: map[string]any{"id": "r1", "number": "101", "status": "vacant"},
	})

	var room map[string]any
	if err := st.Get(models.CollectionRooms, "r1", &room); err != nil {
		t.Fatalf("Get after apply: %v", err)
	}
	if room["number"] != "101" {
		t.Errorf("number = %v, want 101", room["number"])
	}
	if room["cached_at"] == nil || room["last_synced_at"] == nil {
		t.Error("cache metadata not stamped")
	}

	applier.Apply(Change{
		Table:  "rooms",
		Action: "UPDATE",
		Record: map[string]any{"id": "r1", "number": "101", "status": "occupied"},
	})
	if err := st.Get(models.CollectionRooms, "r1", &room); err != nil {
		t.Fatalf("Get after update: %v", err)
	}
	if room["status"] != "occupied" {
		t.Errorf("status = %v, want occupied", room["status"])
	}
}

func TestApplyDeleteRemovesRow(t *testing.T) {
	st := newTestStore(t)
	applier := NewCacheApplier(st)

	applier.Apply(Change{
		Table:  "bookings",
		Action: "INSERT",
		Record: map[string]any{"id": "b1", "guest_name": "Ada"},
	})
	applier.Apply(Change{Table: "bookings", Action: "DELETE", OldID: "b1"})

	var booking map[string]any
	err := st.Get(models.CollectionBookings, "b1", &booking)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestApplyIgnoresUnknownTablesAndMissingIDs(t *testing.T) {
	st := newTestStore(t)
	applier := NewCacheApplier(st)

	applier.Apply(Change{
		Table:  "audit_log",
		Action: "INSERT",
		Record: map[string]any{"id": "x1"},
	})
	applier.Apply(Change{Table: "rooms", Action: "INSERT", Record: map[string]any{"number": "204"}})
	applier.Apply(Change{Table: "rooms", Action: "DELETE"})

	n, err := st.Count(models.CollectionRooms)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 0 {
		t.Errorf("rooms count = %d, want 0", n)
	}
}
