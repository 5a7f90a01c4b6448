package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tapgate/tapgate/internal/tapgate/types"
)

// EventStore is an in-memory event queue for tests and dev environments.
// It preserves the sqlite store's semantics: increasing local ids,
// synced/unsynced marking, and full-history replacement per holder.
type EventStore struct {
	mu     sync.Mutex
	nextID int64
	events []types.AccessEvent
}

func NewEventStore() *EventStore {
	return &EventStore{nextID: 1}
}

func (s *EventStore) Append(_ context.Context, ev types.AccessEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	ev.ID = s.nextID
	s.nextID++
	s.events = append(s.events, ev)
	return ev.ID, nil
}

func (s *EventStore) UnsyncedFor(_ context.Context, holderID int64, maxAttempts int) ([]types.AccessEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.AccessEvent
	for _, ev := range s.events {
		if ev.HolderID != holderID || ev.Synced {
			continue
		}
		if maxAttempts > 0 && ev.SyncAttempts >= maxAttempts {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *EventStore) MarkSynced(_ context.Context, id, backendID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.events {
		if s.events[i].ID == id {
			b := backendID
			s.events[i].Synced = true
			s.events[i].BackendID = &b
			break
		}
	}
	return nil
}

func (s *EventStore) MarkPushFailed(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.events {
		if s.events[i].ID == id {
			s.events[i].SyncAttempts++
			break
		}
	}
	return nil
}

func (s *EventStore) ReplaceAllFor(_ context.Context, holderID int64, events []types.AccessEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	incoming := make(map[string]struct{}, len(events))
	for _, ev := range events {
		incoming[ev.UID] = struct{}{}
	}

	kept := s.events[:0]
	for _, ev := range s.events {
		if ev.HolderID == holderID && ev.Synced {
			continue
		}
		if _, dup := incoming[ev.UID]; dup {
			continue
		}
		kept = append(kept, ev)
	}
	s.events = kept

	for _, ev := range events {
		ev.ID = s.nextID
		s.nextID++
		ev.HolderID = holderID
		ev.Synced = true
		ev.SyncAttempts = 0
		s.events = append(s.events, ev)
	}
	return nil
}

func (s *EventStore) EventsFor(_ context.Context, holderID int64, limit int) ([]types.AccessEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.AccessEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].HolderID != holderID {
			continue
		}
		out = append(out, s.events[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Events returns a copy of every stored event.  Test-only helper.
func (s *EventStore) Events() []types.AccessEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.AccessEvent, len(s.events))
	copy(out, s.events)
	return out
}
