// Package postgres implements the attendance record store. The
// (credential_id, holder) uniqueness invariant lives here, in a partial
// unique index, so redemption stays idempotent under retry regardless of how
// many protocol instances submit.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"rollcall/internal/redemption"
)

// Store is a database/sql-backed attendance record store.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL attendance store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append inserts the record. Idempotent via ON CONFLICT DO NOTHING over the
// non-superseded (credential_id, holder) index; a conflicting insert affects
// zero rows and reports redemption.ErrDuplicate.
func (s *Store) Append(ctx context.Context, record redemption.Record) (redemption.Record, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.Status == "" {
		record.Status = redemption.RecordStatusPresent
	}

	query := `
		INSERT INTO attendance_records (id, credential_id, holder, distance_meters, recorded_at, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (credential_id, holder) WHERE status <> 'superseded' DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		record.ID,
		record.CredentialID,
		record.Holder,
		record.DistanceMeters,
		record.RecordedAt,
		record.Status,
	)
	if err != nil {
		return redemption.Record{}, fmt.Errorf("insert attendance record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return redemption.Record{}, fmt.Errorf("insert attendance record: %w", err)
	}
	if affected == 0 {
		return redemption.Record{}, redemption.ErrDuplicate
	}
	return record, nil
}

// ListByCredential returns records for a credential, newest first.
func (s *Store) ListByCredential(ctx context.Context, credentialID string) ([]redemption.Record, error) {
	query := `
		SELECT id, credential_id, holder, distance_meters, recorded_at, status
		FROM attendance_records
		WHERE credential_id = $1
		ORDER BY recorded_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, credentialID)
	if err != nil {
		return nil, fmt.Errorf("query attendance records: %w", err)
	}
	defer rows.Close()

	var records []redemption.Record
	for rows.Next() {
		var r redemption.Record
		if err := rows.Scan(&r.ID, &r.CredentialID, &r.Holder, &r.DistanceMeters, &r.RecordedAt, &r.Status); err != nil {
			return nil, fmt.Errorf("scan attendance record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance records: %w", err)
	}
	return records, nil
}
