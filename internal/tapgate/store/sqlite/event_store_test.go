package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/tapgate/tapgate/internal/tapgate/types"

	sqlitestore "github.com/tapgate/tapgate/internal/tapgate/store/sqlite"
)

func newTestEventStore(t *testing.T) *sqlitestore.EventStore {
	t.Helper()
	conn := openTestDB(t)
	return sqlitestore.NewEventStore(conn, newTestWriter(t, conn))
}

func testEvent(uid string) types.AccessEvent {
	return types.AccessEvent{
		UID:            uid,
		HolderID:       7,
		ControlPointID: 1,
		OccurredAt:     time.Date(2026, 2, 16, 12, 0, 0, 0, time.UTC),
		Granted:        true,
		Reason:         "within permitted schedule (offline)",
	}
}

func TestEventStore_Append_AssignsIncreasingIDs(t *testing.T) {
	es := newTestEventStore(t)
	ctx := context.Background()

	id1, err := es.Append(ctx, testEvent("uid-1"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	id2, err := es.Append(ctx, testEvent("uid-2"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if id2 <= id1 {
		t.Errorf("expected increasing ids, got %d then %d", id1, id2)
	}
}

func TestEventStore_UnsyncedFor_ReturnsOldestFirst(t *testing.T) {
	es := newTestEventStore(t)
	ctx := context.Background()

	for _, uid := range []string{"uid-1", "uid-2", "uid-3"} {
		if _, err := es.Append(ctx, testEvent(uid)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	evs, err := es.UnsyncedFor(ctx, 7, 0)
	if err != nil {
		t.Fatalf("UnsyncedFor: %v", err)
	}
	if len(evs) != 3 {
		t.Fatalf("expected 3 unsynced events, got %d", len(evs))
	}
	if evs[0].UID != "uid-1" || evs[2].UID != "uid-3" {
		t.Errorf("expected oldest first, got %q..%q", evs[0].UID, evs[2].UID)
	}
	for _, ev := range evs {
		if ev.Synced {
			t.Errorf("event %q unexpectedly synced", ev.UID)
		}
		if ev.BackendID != nil {
			t.Errorf("event %q unexpectedly has backend id", ev.UID)
		}
	}
}

func TestEventStore_UnsyncedFor_OtherHolderExcluded(t *testing.T) {
	es := newTestEventStore(t)
	ctx := context.Background()

	ev := testEvent("uid-other")
	ev.HolderID = 99
	if _, err := es.Append(ctx, ev); err != nil {
		t.Fatalf("Append: %v", err)
	}

	evs, err := es.UnsyncedFor(ctx, 7, 0)
	if err != nil {
		t.Fatalf("UnsyncedFor: %v", err)
	}
	if len(evs) != 0 {
		t.Errorf("expected no events for holder 7, got %d", len(evs))
	}
}

func TestEventStore_MarkSynced(t *testing.T) {
	es := newTestEventStore(t)
	ctx := context.Background()

	id, err := es.Append(ctx, testEvent("uid-1"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := es.MarkSynced(ctx, id, 5001); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}

	evs, err := es.UnsyncedFor(ctx, 7, 0)
	if err != nil {
		t.Fatalf("UnsyncedFor: %v", err)
	}
	if len(evs) != 0 {
		t.Errorf("expected no unsynced events after MarkSynced, got %d", len(evs))
	}

	all, err := es.EventsFor(ctx, 7, 0)
	if err != nil {
		t.Fatalf("EventsFor: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 event, got %d", len(all))
	}
	if !all[0].Synced {
		t.Error("expected synced=true")
	}
	if all[0].BackendID == nil || *all[0].BackendID != 5001 {
		t.Errorf("expected backend_id=5001, got %v", all[0].BackendID)
	}
}

func TestEventStore_MarkPushFailed_BoundsRetries(t *testing.T) {
	es := newTestEventStore(t)
	ctx := context.Background()

	id, err := es.Append(ctx, testEvent("uid-1"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := es.MarkPushFailed(ctx, id); err != nil {
			t.Fatalf("MarkPushFailed: %v", err)
		}
	}

	// Below the limit the event is still a push candidate.
	evs, err := es.UnsyncedFor(ctx, 7, 4)
	if err != nil {
		t.Fatalf("UnsyncedFor: %v", err)
	}
	if len(evs) != 1 || evs[0].SyncAttempts != 3 {
		t.Fatalf("expected 1 event with 3 attempts, got %+v", evs)
	}

	// At the limit it is excluded; only the history pull can resolve it.
	evs, err = es.UnsyncedFor(ctx, 7, 3)
	if err != nil {
		t.Fatalf("UnsyncedFor: %v", err)
	}
	if len(evs) != 0 {
		t.Errorf("expected exhausted event excluded, got %d", len(evs))
	}
}

func TestEventStore_ReplaceAllFor_DiscardsUnsyncedDuplicates(t *testing.T) {
	es := newTestEventStore(t)
	ctx := context.Background()

	// An offline event that the authority has since accepted via a
	// racing push.
	if _, err := es.Append(ctx, testEvent("uid-1")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	backend := int64(9001)
	authoritative := testEvent("uid-1")
	authoritative.BackendID = &backend
	if err := es.ReplaceAllFor(ctx, 7, []types.AccessEvent{authoritative}); err != nil {
		t.Fatalf("ReplaceAllFor: %v", err)
	}

	all, err := es.EventsFor(ctx, 7, 0)
	if err != nil {
		t.Fatalf("EventsFor: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected exactly 1 event after reconcile, got %d", len(all))
	}
	if !all[0].Synced {
		t.Error("expected authoritative row to be synced")
	}
	if all[0].BackendID == nil || *all[0].BackendID != backend {
		t.Errorf("expected backend_id=%d, got %v", backend, all[0].BackendID)
	}

	if evs, _ := es.UnsyncedFor(ctx, 7, 0); len(evs) != 0 {
		t.Errorf("expected no unsynced rows after reconcile, got %d", len(evs))
	}
}

func TestEventStore_ReplaceAllFor_KeepsUnknownUnsyncedRows(t *testing.T) {
	es := newTestEventStore(t)
	ctx := context.Background()

	// Created offline after the authority snapshot; the pull must not
	// erase it, or it could never be pushed.
	if _, err := es.Append(ctx, testEvent("uid-local-only")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	backend := int64(9001)
	authoritative := testEvent("uid-known")
	authoritative.BackendID = &backend
	if err := es.ReplaceAllFor(ctx, 7, []types.AccessEvent{authoritative}); err != nil {
		t.Fatalf("ReplaceAllFor: %v", err)
	}

	unsynced, err := es.UnsyncedFor(ctx, 7, 0)
	if err != nil {
		t.Fatalf("UnsyncedFor: %v", err)
	}
	if len(unsynced) != 1 || unsynced[0].UID != "uid-local-only" {
		t.Fatalf("expected the local-only event to survive, got %+v", unsynced)
	}

	all, err := es.EventsFor(ctx, 7, 0)
	if err != nil {
		t.Fatalf("EventsFor: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 rows (authoritative + local-only), got %d", len(all))
	}
}

func TestEventStore_ReplaceAllFor_LeavesOtherHoldersAlone(t *testing.T) {
	es := newTestEventStore(t)
	ctx := context.Background()

	other := testEvent("uid-other")
	other.HolderID = 99
	if _, err := es.Append(ctx, other); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if err := es.ReplaceAllFor(ctx, 7, nil); err != nil {
		t.Fatalf("ReplaceAllFor: %v", err)
	}

	evs, err := es.EventsFor(ctx, 99, 0)
	if err != nil {
		t.Fatalf("EventsFor: %v", err)
	}
	if len(evs) != 1 {
		t.Errorf("expected holder 99's event untouched, got %d rows", len(evs))
	}
}

func TestEventStore_EventsFor_NewestFirstWithLimit(t *testing.T) {
	es := newTestEventStore(t)
	ctx := context.Background()

	for _, uid := range []string{"uid-1", "uid-2", "uid-3"} {
		if _, err := es.Append(ctx, testEvent(uid)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	evs, err := es.EventsFor(ctx, 7, 2)
	if err != nil {
		t.Fatalf("EventsFor: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
	if evs[0].UID != "uid-3" {
		t.Errorf("expected newest first, got %q", evs[0].UID)
	}
}
