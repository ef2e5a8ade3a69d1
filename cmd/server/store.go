package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"rollcall/internal/platform/config"
)

const storeConnectTimeout = 5 * time.Second

// attendanceSchema is applied at startup so a fresh database is usable
// without a separate migration step.
const attendanceSchema = `
	CREATE TABLE IF NOT EXISTS attendance_records (
		id              UUID PRIMARY KEY,
		credential_id   TEXT NOT NULL,
		holder          TEXT NOT NULL,
		distance_meters DOUBLE PRECISION NOT NULL DEFAULT 0,
		recorded_at     TIMESTAMPTZ NOT NULL,
		status          TEXT NOT NULL DEFAULT 'present'
	);
	CREATE UNIQUE INDEX IF NOT EXISTS attendance_records_credential_holder
		ON attendance_records (credential_id, holder)
		WHERE status <> 'superseded';
`

// openPostgres connects the attendance database and applies the schema.
func openPostgres(ctx context.Context, cfg config.Postgres) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, storeConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := db.ExecContext(ctx, attendanceSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply attendance schema: %w", err)
	}
	return db, nil
}
