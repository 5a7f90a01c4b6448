package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/tapgate/tapgate/internal/db"
	"github.com/tapgate/tapgate/internal/tapgate/types"
)

type EventStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewEventStore(db *sql.DB, writer *dbpkg.Worker) *EventStore {
	return &EventStore{db: db, writer: writer}
}

func (s *EventStore) Append(ctx context.Context, ev types.AccessEvent) (int64, error) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	var id int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
INSERT INTO access_events(
  event_uid, backend_id, holder_id, control_point_id,
  occurred_at_ms, granted, reason, synced, sync_attempts
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
			ev.UID, nullableID(ev.BackendID), ev.HolderID, ev.ControlPointID,
			ev.OccurredAt.UTC().UnixMilli(), boolInt(ev.Granted), ev.Reason,
			boolInt(ev.Synced), ev.SyncAttempts,
		)
		if err != nil {
			return fmt.Errorf("Append insert: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("Append last id: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *EventStore) UnsyncedFor(ctx context.Context, holderID int64, maxAttempts int) ([]types.AccessEvent, error) {
	q := `
SELECT id, event_uid, backend_id, holder_id, control_point_id,
       occurred_at_ms, granted, reason, synced, sync_attempts
FROM access_events
WHERE holder_id = ? AND synced = 0`
	args := []any{holderID}
	if maxAttempts > 0 {
		q += ` AND sync_attempts < ?`
		args = append(args, maxAttempts)
	}
	q += ` ORDER BY id;`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("UnsyncedFor query: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *EventStore) MarkSynced(ctx context.Context, id, backendID int64) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
UPDATE access_events SET synced = 1, backend_id = ? WHERE id = ?;
`, backendID, id); err != nil {
			return fmt.Errorf("MarkSynced: %w", err)
		}
		return nil
	})
}

func (s *EventStore) MarkPushFailed(ctx context.Context, id int64) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
UPDATE access_events SET sync_attempts = sync_attempts + 1 WHERE id = ?;
`, id); err != nil {
			return fmt.Errorf("MarkPushFailed: %w", err)
		}
		return nil
	})
}

// ReplaceAllFor swaps the holder's synced history for the authoritative
// list inside one transaction. Unsynced rows duplicated by the
// authoritative list (same uid) are dropped with it; unsynced rows the
// authority has never seen survive, so a later push can still submit
// them.
func (s *EventStore) ReplaceAllFor(ctx context.Context, holderID int64, events []types.AccessEvent) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
DELETE FROM access_events WHERE holder_id = ? AND synced = 1;
`, holderID); err != nil {
			return fmt.Errorf("ReplaceAllFor delete: %w", err)
		}

		for _, ev := range events {
			if _, err := tx.ExecContext(ctx, `
DELETE FROM access_events WHERE event_uid = ?;
`, ev.UID); err != nil {
				return fmt.Errorf("ReplaceAllFor dedup: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
INSERT INTO access_events(
  event_uid, backend_id, holder_id, control_point_id,
  occurred_at_ms, granted, reason, synced, sync_attempts
) VALUES (?, ?, ?, ?, ?, ?, ?, 1, 0);
`,
				ev.UID, nullableID(ev.BackendID), holderID, ev.ControlPointID,
				ev.OccurredAt.UTC().UnixMilli(), boolInt(ev.Granted), ev.Reason,
			); err != nil {
				return fmt.Errorf("ReplaceAllFor insert: %w", err)
			}
		}

		return nil
	})
}

func (s *EventStore) EventsFor(ctx context.Context, holderID int64, limit int) ([]types.AccessEvent, error) {
	q := `
SELECT id, event_uid, backend_id, holder_id, control_point_id,
       occurred_at_ms, granted, reason, synced, sync_attempts
FROM access_events
WHERE holder_id = ?
ORDER BY id DESC`
	args := []any{holderID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	q += `;`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("EventsFor query: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]types.AccessEvent, error) {
	var out []types.AccessEvent
	for rows.Next() {
		var (
			ev         types.AccessEvent
			backendID  sql.NullInt64
			occurredMs int64
			granted    int
			synced     int
		)
		if err := rows.Scan(&ev.ID, &ev.UID, &backendID, &ev.HolderID,
			&ev.ControlPointID, &occurredMs, &granted, &ev.Reason,
			&synced, &ev.SyncAttempts); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if backendID.Valid {
			v := backendID.Int64
			ev.BackendID = &v
		}
		ev.OccurredAt = time.UnixMilli(occurredMs).UTC()
		ev.Granted = granted != 0
		ev.Synced = synced != 0
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("event rows: %w", err)
	}
	return out, nil
}

func nullableID(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
