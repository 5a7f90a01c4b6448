package types

import "time"

// AccessEvent is one recorded passage decision.
//
// ID is assigned by the local store. UID is assigned by the reader at
// decision time and travels with the event to the authority, which
// deduplicates on it. BackendID is nil until the authority has accepted
// the event; an event with BackendID set is authoritative and must not
// be pushed again.
type AccessEvent struct {
	ID             int64
	UID            string
	BackendID      *int64
	HolderID       int64
	ControlPointID int64
	OccurredAt     time.Time
	Granted        bool
	Reason         string
	Synced         bool
	SyncAttempts   int
}
