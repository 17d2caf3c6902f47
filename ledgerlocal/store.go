// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledgerlocal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Fixed-width fractional seconds keep lexicographic and chronological order
// identical, so updated_at can be compared as text in SQL.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is the embedded local database holding the full working set of
// syncable records. All repository mutations go through WithTx so a write
// either lands completely or not at all; the store survives process restart
// when backed by a file database.
type Store struct {
	db *sql.DB
}

// NewStore initializes the local database (WAL mode, foreign keys, schema)
// and returns a Store over it.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS ledger_records (
			table_name     TEXT NOT NULL,
			id             TEXT NOT NULL,          -- client-generated UUID
			user_id        TEXT NOT NULL,
			version        INTEGER NOT NULL DEFAULT 1,  -- last server-acknowledged version
			deleted_at     TEXT,                   -- NULL = active, non-NULL = tombstone
			sync_status    TEXT NOT NULL CHECK (sync_status IN ('pending','synced','conflict')),
			payload        TEXT NOT NULL,          -- JSON domain fields, opaque here
			ever_synced    INTEGER NOT NULL DEFAULT 0,
			server_version INTEGER,                -- set while sync_status='conflict'
			server_data    TEXT,                   -- server row snapshot while in conflict
			updated_at     TEXT NOT NULL,
			PRIMARY KEY (table_name, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_records_user_status
			ON ledger_records (user_id, sync_status)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_records_user_table
			ON ledger_records (user_id, table_name)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to create local schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// WithTx runs fn inside a transaction, committing on nil and rolling back on
// error. This is the only mutation primitive the repository uses.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

const recordColumns = `table_name, id, user_id, version, deleted_at, sync_status,
	payload, ever_synced, server_version, server_data, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var deletedAt, serverData sql.NullString
	var serverVersion sql.NullInt64
	var everSynced int
	var payload, updatedAt string
	err := row.Scan(&rec.Table, &rec.ID, &rec.UserID, &rec.Version, &deletedAt,
		&rec.Status, &payload, &everSynced, &serverVersion, &serverData, &updatedAt)
	if err != nil {
		return nil, err
	}
	rec.Payload = json.RawMessage(payload)
	rec.EverSynced = everSynced != 0
	if deletedAt.Valid {
		t, err := time.Parse(timeLayout, deletedAt.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt deleted_at for %s/%s: %w", rec.Table, rec.ID, err)
		}
		rec.DeletedAt = &t
	}
	if serverVersion.Valid {
		rec.ServerVersion = &serverVersion.Int64
	}
	if serverData.Valid {
		rec.ServerData = json.RawMessage(serverData.String)
	}
	if t, err := time.Parse(timeLayout, updatedAt); err == nil {
		rec.UpdatedAt = t
	}
	return &rec, nil
}

// Get loads a single record regardless of tombstone or status. Returns
// (nil, nil) when absent; callers apply ownership and visibility rules.
func (s *Store) Get(ctx context.Context, table, id string) (*Record, error) {
	return getRecord(ctx, s.db, table, id)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getRecord(ctx context.Context, q querier, table, id string) (*Record, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM ledger_records WHERE table_name = ? AND id = ?
	`, table, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load record %s/%s: %w", table, id, err)
	}
	return rec, nil
}

// Query returns all of a user's records visible under the given scope,
// optionally narrowed by predicates, ordered by last local modification.
func (s *Store) Query(ctx context.Context, userID string, scope Scope, preds ...QueryPredicate) ([]*Record, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + recordColumns + ` FROM ledger_records WHERE user_id = ? AND `)
	sb.WriteString(scope.predicate())
	args := []any{userID}
	for _, p := range preds {
		sb.WriteString(" AND ")
		sb.WriteString(p.clause)
		if p.arg != nil {
			args = append(args, p.arg)
		}
	}
	sb.WriteString(" ORDER BY updated_at, table_name, id")

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return out, nil
}

// insertTx writes a brand new record inside tx.
func insertTx(ctx context.Context, tx *sql.Tx, rec *Record) error {
	var deletedAt any
	if rec.DeletedAt != nil {
		deletedAt = rec.DeletedAt.Format(timeLayout)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_records (table_name, id, user_id, version, deleted_at,
			sync_status, payload, ever_synced, server_version, server_data, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, ?)
	`, rec.Table, rec.ID, rec.UserID, rec.Version, deletedAt,
		string(rec.Status), string(rec.Payload), boolToInt(rec.EverSynced),
		rec.UpdatedAt.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to insert %s/%s: %w", rec.Table, rec.ID, err)
	}
	return nil
}

// updateLocalTx applies a local mutation inside tx: payload and/or tombstone,
// status forced back to pending, version deliberately untouched.
func updateLocalTx(ctx context.Context, tx *sql.Tx, rec *Record, payload json.RawMessage, deletedAt *time.Time, now time.Time) error {
	var deleted any
	if deletedAt != nil {
		deleted = deletedAt.Format(timeLayout)
	} else if rec.DeletedAt != nil {
		deleted = rec.DeletedAt.Format(timeLayout)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE ledger_records
		SET payload = ?, deleted_at = ?, sync_status = 'pending', updated_at = ?
		WHERE table_name = ? AND id = ?
	`, string(payload), deleted, now.Format(timeLayout), rec.Table, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to update %s/%s: %w", rec.Table, rec.ID, err)
	}
	return requireOneRow(res, rec.Table, rec.ID)
}

// updateFieldsKeepStatusTx writes payload and tombstone without touching
// sync_status. Used when flushing a buffered patch onto a record that turned
// conflicted mid-flight: its fields move forward, its status may not.
func updateFieldsKeepStatusTx(ctx context.Context, tx *sql.Tx, table, id string, payload json.RawMessage, deletedAt *time.Time, now time.Time) error {
	var deleted any
	if deletedAt != nil {
		deleted = deletedAt.Format(timeLayout)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE ledger_records
		SET payload = ?, deleted_at = ?, updated_at = ?
		WHERE table_name = ? AND id = ?
	`, string(payload), deleted, now.Format(timeLayout), table, id)
	if err != nil {
		return fmt.Errorf("failed to update fields on %s/%s: %w", table, id, err)
	}
	return requireOneRow(res, table, id)
}

// markSyncedTx is the only statement in the package that writes version. It
// lives here so the Applier is the sole reachable path to it.
func markSyncedTx(ctx context.Context, tx *sql.Tx, table, id string, serverVersion int64, now time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE ledger_records
		SET version = ?, sync_status = 'synced', ever_synced = 1,
			server_version = NULL, server_data = NULL, updated_at = ?
		WHERE table_name = ? AND id = ?
	`, serverVersion, now.Format(timeLayout), table, id)
	if err != nil {
		return fmt.Errorf("failed to mark %s/%s synced: %w", table, id, err)
	}
	return requireOneRow(res, table, id)
}

func markConflictTx(ctx context.Context, tx *sql.Tx, table, id string, serverVersion int64, serverData json.RawMessage, now time.Time) error {
	var data any
	if serverData != nil {
		data = string(serverData)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE ledger_records
		SET sync_status = 'conflict', server_version = ?, server_data = ?, updated_at = ?
		WHERE table_name = ? AND id = ?
	`, serverVersion, data, now.Format(timeLayout), table, id)
	if err != nil {
		return fmt.Errorf("failed to mark %s/%s conflicted: %w", table, id, err)
	}
	return requireOneRow(res, table, id)
}

// resetPendingTx requeues a conflicted record, keeping local fields.
func resetPendingTx(ctx context.Context, tx *sql.Tx, table, id string, now time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE ledger_records
		SET sync_status = 'pending', server_version = NULL, server_data = NULL, updated_at = ?
		WHERE table_name = ? AND id = ?
	`, now.Format(timeLayout), table, id)
	if err != nil {
		return fmt.Errorf("failed to requeue %s/%s: %w", table, id, err)
	}
	return requireOneRow(res, table, id)
}

// hardDeleteTx physically removes a row. Used only by conflict discard.
func hardDeleteTx(ctx context.Context, tx *sql.Tx, table, id string) error {
	res, err := tx.ExecContext(ctx, `
		DELETE FROM ledger_records WHERE table_name = ? AND id = ?
	`, table, id)
	if err != nil {
		return fmt.Errorf("failed to remove %s/%s: %w", table, id, err)
	}
	return requireOneRow(res, table, id)
}

func requireOneRow(res sql.Result, table, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected for %s/%s: %w", table, id, err)
	}
	if n == 0 {
		return fmt.Errorf("record %s/%s vanished mid-write", table, id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
