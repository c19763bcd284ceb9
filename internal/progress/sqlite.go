package progress

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/matchlog/internal/record"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial schema
const currentSchemaVersion = 1

// SQLiteLedger stores State in a SQLite database.
type SQLiteLedger struct {
	db *sql.DB

	// saved mirrors the absent table so Save only writes changed rows.
	// It is trusted once synced is set by a Load or a Save.
	saved  map[record.ID]Absence
	synced bool
}

// OpenSQLite creates or opens a ledger database at path.
//
// The database is configured with:
//   - WAL mode
//   - FULL synchronous mode, so a committed Save survives power loss
//   - 5-second busy timeout for lock contention
func OpenSQLite(path string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to ledger database: %w", err)
	}

	// Single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply ledger schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		db.Close()
		return nil, fmt.Errorf("set user_version: %w", err)
	}

	return &SQLiteLedger{db: db, saved: make(map[record.ID]Absence)}, nil
}

func (l *SQLiteLedger) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *SQLiteLedger) Load(ctx context.Context) (State, error) {
	s := NewState()

	var (
		patchMajor, patchMinor sql.NullInt64
		updatedAt              string
	)
	err := l.db.QueryRowContext(ctx, `
		SELECT base, frontier, cursor, bound, patch_major, patch_minor, run_id, updated_at
		FROM meta WHERE singleton = 1
	`).Scan(&s.Base, &s.Frontier, &s.Cursor, &s.Bound, &patchMajor, &patchMinor, &s.RunID, &updatedAt)
	if err == sql.ErrNoRows {
		return s, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("load ledger meta: %w", err)
	}
	if patchMajor.Valid && patchMinor.Valid {
		s.TargetPatch = &record.Patch{Major: int(patchMajor.Int64), Minor: int(patchMinor.Int64)}
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return State{}, fmt.Errorf("load ledger meta: %w", err)
	}

	rows, err := l.db.QueryContext(ctx, `SELECT id, attempts, seq, not_before, cause FROM pending ORDER BY seq ASC, id ASC`)
	if err != nil {
		return State{}, fmt.Errorf("load pending: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id        record.ID
			r         Retry
			notBefore string
		)
		if err := rows.Scan(&id, &r.Attempts, &r.Seq, &notBefore, &r.LastCause); err != nil {
			return State{}, fmt.Errorf("scan pending: %w", err)
		}
		if r.NotBefore, err = parseTime(notBefore); err != nil {
			return State{}, fmt.Errorf("pending %d: %w", id, err)
		}
		s.Pending[id] = r
	}
	if err := rows.Err(); err != nil {
		return State{}, fmt.Errorf("load pending: %w", err)
	}

	clear(l.saved)
	l.synced = false
	absentRows, err := l.db.QueryContext(ctx, `SELECT id, reason, cause FROM absent ORDER BY id ASC`)
	if err != nil {
		return State{}, fmt.Errorf("load absent: %w", err)
	}
	defer absentRows.Close()
	for absentRows.Next() {
		var (
			id record.ID
			a  Absence
		)
		if err := absentRows.Scan(&id, &a.Reason, &a.Cause); err != nil {
			return State{}, fmt.Errorf("scan absent: %w", err)
		}
		s.Absent[id] = a
		l.saved[id] = a
	}
	if err := absentRows.Err(); err != nil {
		return State{}, fmt.Errorf("load absent: %w", err)
	}
	l.synced = true

	return s, nil
}

// Save replaces the stored state in one transaction.
func (l *SQLiteLedger) Save(ctx context.Context, s State) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger save: %w", err)
	}
	defer tx.Rollback()

	var patchMajor, patchMinor sql.NullInt64
	if s.TargetPatch != nil {
		patchMajor = sql.NullInt64{Int64: int64(s.TargetPatch.Major), Valid: true}
		patchMinor = sql.NullInt64{Int64: int64(s.TargetPatch.Minor), Valid: true}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO meta (singleton, base, frontier, cursor, bound, patch_major, patch_minor, run_id, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(singleton) DO UPDATE SET
			base = excluded.base,
			frontier = excluded.frontier,
			cursor = excluded.cursor,
			bound = excluded.bound,
			patch_major = excluded.patch_major,
			patch_minor = excluded.patch_minor,
			run_id = excluded.run_id,
			updated_at = excluded.updated_at
	`, s.Base, s.Frontier, s.Cursor, s.Bound, patchMajor, patchMinor, s.RunID, formatTime(s.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save ledger meta: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM pending`); err != nil {
		return fmt.Errorf("clear pending: %w", err)
	}
	for _, id := range s.PendingIDs() {
		r := s.Pending[id]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pending (id, attempts, seq, not_before, cause) VALUES (?, ?, ?, ?, ?)`,
			id, r.Attempts, r.Seq, formatTime(r.NotBefore), r.LastCause,
		); err != nil {
			return fmt.Errorf("save pending %d: %w", id, err)
		}
	}

	var removed []record.ID
	if !l.synced {
		if _, err := tx.ExecContext(ctx, `DELETE FROM absent`); err != nil {
			return fmt.Errorf("clear absent: %w", err)
		}
		clear(l.saved)
	}
	for id := range l.saved {
		if _, ok := s.Absent[id]; ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM absent WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete absent %d: %w", id, err)
		}
		removed = append(removed, id)
	}

	var written []record.ID
	for id, a := range s.Absent {
		if prev, ok := l.saved[id]; ok && prev == a {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO absent (id, reason, cause) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET reason = excluded.reason, cause = excluded.cause
		`, id, a.Reason, a.Cause); err != nil {
			return fmt.Errorf("save absent %d: %w", id, err)
		}
		written = append(written, id)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger save: %w", err)
	}
	for _, id := range removed {
		delete(l.saved, id)
	}
	for _, id := range written {
		l.saved[id] = s.Absent[id]
	}
	l.synced = true
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
