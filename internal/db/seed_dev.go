package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type SeedDevOptions struct {
	// HolderID / ControlPointID scope the starter rule. Zero values are
	// replaced with the dev defaults below.
	HolderID       int64
	ControlPointID int64
}

// SeedDev inserts a permissive starter rule so a fresh dev database can
// grant something before the first successful sync. Idempotent.
func SeedDev(ctx context.Context, db *sql.DB, opt SeedDevOptions) error {
	if opt.HolderID == 0 {
		opt.HolderID = 1
	}
	if opt.ControlPointID == 0 {
		opt.ControlPointID = 1
	}

	var count int
	err := db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM cached_rules WHERE holder_id = ? AND control_point_id = ?;
`, opt.HolderID, opt.ControlPointID).Scan(&count)
	if err != nil {
		return fmt.Errorf("seed check: %w", err)
	}
	if count > 0 {
		return nil
	}

	now := time.Now().UTC().UnixMilli()
	if _, err := db.ExecContext(ctx, `
INSERT INTO cached_rules(
  holder_id, control_point_id, allowed_days,
  start_minutes, end_minutes, last_synced_at_ms
) VALUES (?, ?, '0,1,2,3,4,5,6', 0, 1439, ?);
`, opt.HolderID, opt.ControlPointID, now); err != nil {
		return fmt.Errorf("seed cached rule: %w", err)
	}

	return nil
}
