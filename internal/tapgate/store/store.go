// Package store defines the local persistence interfaces shared by the
// reader and the sync coordinator. Both sqlite and memory
// implementations exist; sqlite is the durable one on devices.
package store

import (
	"context"

	"github.com/tapgate/tapgate/internal/tapgate/types"
)

// RuleCache is the versioned local projection of the authority's rules.
// The cache is bulk-replaced on every successful sync; stale entries are
// dropped wholesale rather than diffed.
type RuleCache interface {
	// ReplaceAll swaps the entire cache for the given rules in a single
	// transaction. A concurrent Lookup never observes a half-replaced
	// cache.
	ReplaceAll(ctx context.Context, rules []types.CachedRule) error

	// Lookup returns the cached rules for one holder at one control
	// point. An empty result means "nothing cached", which the decision
	// engine treats as its own deny reason.
	Lookup(ctx context.Context, holderID, controlPointID int64) ([]types.CachedRule, error)
}

// EventStore is the durable local queue of access events.
type EventStore interface {
	// Append stores a new event and returns its local id. The caller
	// sets UID; Synced and SyncAttempts start at their zero values.
	Append(ctx context.Context, ev types.AccessEvent) (int64, error)

	// UnsyncedFor returns the holder's unsynced events whose attempt
	// count is below maxAttempts, oldest first. maxAttempts <= 0 means
	// no attempt limit.
	UnsyncedFor(ctx context.Context, holderID int64, maxAttempts int) ([]types.AccessEvent, error)

	// MarkSynced records that the authority accepted the event under
	// backendID.
	MarkSynced(ctx context.Context, id, backendID int64) error

	// MarkPushFailed increments the event's attempt counter.
	MarkPushFailed(ctx context.Context, id int64) error

	// ReplaceAllFor replaces the holder's synced history with the
	// authoritative list, in a single transaction. Local unsynced rows
	// whose uid appears in the authoritative list are discarded (this is
	// how push/pull races converge); unsynced rows the authority does
	// not know about survive and remain push candidates.
	ReplaceAllFor(ctx context.Context, holderID int64, events []types.AccessEvent) error

	// EventsFor returns the holder's most recent events, newest first,
	// capped at limit (<= 0 means no cap).
	EventsFor(ctx context.Context, holderID int64, limit int) ([]types.AccessEvent, error)
}
