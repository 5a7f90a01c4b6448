package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	dbpkg "github.com/tapgate/tapgate/internal/db"
	"github.com/tapgate/tapgate/internal/tapgate/types"
)

type RuleCache struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewRuleCache(db *sql.DB, writer *dbpkg.Worker) *RuleCache {
	return &RuleCache{db: db, writer: writer}
}

// ReplaceAll swaps the whole cache inside one transaction, so a
// concurrent Lookup sees either the old rule set or the new one.
func (c *RuleCache) ReplaceAll(ctx context.Context, rules []types.CachedRule) error {
	return c.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cached_rules;`); err != nil {
			return fmt.Errorf("ReplaceAll delete: %w", err)
		}

		for _, r := range rules {
			syncedMs := r.LastSyncedAt.UTC().UnixMilli()
			if r.LastSyncedAt.IsZero() {
				syncedMs = time.Now().UTC().UnixMilli()
			}
			if _, err := tx.ExecContext(ctx, `
INSERT INTO cached_rules(
  holder_id, control_point_id, allowed_days,
  start_minutes, end_minutes, last_synced_at_ms
) VALUES (?, ?, ?, ?, ?, ?);
`,
				r.HolderID, r.ControlPointID, encodeDays(r.AllowedDays),
				r.Start, r.End, syncedMs,
			); err != nil {
				return fmt.Errorf("ReplaceAll insert: %w", err)
			}
		}

		return nil
	})
}

func (c *RuleCache) Lookup(ctx context.Context, holderID, controlPointID int64) ([]types.CachedRule, error) {
	rows, err := c.db.QueryContext(ctx, `
SELECT holder_id, control_point_id, allowed_days,
       start_minutes, end_minutes, last_synced_at_ms
FROM cached_rules
WHERE holder_id = ? AND control_point_id = ?
ORDER BY id;
`, holderID, controlPointID)
	if err != nil {
		return nil, fmt.Errorf("Lookup query: %w", err)
	}
	defer rows.Close()

	var out []types.CachedRule
	for rows.Next() {
		var (
			r        types.CachedRule
			days     string
			syncedMs int64
		)
		if err := rows.Scan(&r.HolderID, &r.ControlPointID, &days,
			&r.Start, &r.End, &syncedMs); err != nil {
			return nil, fmt.Errorf("Lookup scan: %w", err)
		}
		r.AllowedDays = decodeDays(days)
		r.LastSyncedAt = time.UnixMilli(syncedMs).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Lookup rows: %w", err)
	}
	return out, nil
}

// encodeDays renders a DaySet as an ascending CSV of weekday numbers.
func encodeDays(s types.DaySet) string {
	days := s.Days()
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

func decodeDays(csv string) types.DaySet {
	s := make(types.DaySet)
	for _, p := range strings.Split(csv, ",") {
		d, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || d < 0 || d > 6 {
			continue
		}
		s[d] = struct{}{}
	}
	return s
}
