package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/compresr/shrinker/internal/pipeline"
)

const schema = `
CREATE TABLE IF NOT EXISTS outcomes (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	session           TEXT    NOT NULL,
	file_id           TEXT    NOT NULL,
	name              TEXT    NOT NULL,
	source_size       INTEGER NOT NULL,
	output_size       INTEGER NOT NULL,
	level             TEXT    NOT NULL,
	format            TEXT    NOT NULL,
	status            TEXT    NOT NULL,
	already_optimized INTEGER NOT NULL DEFAULT 0,
	error             TEXT    NOT NULL DEFAULT '',
	at                INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outcomes_session ON outcomes(session);
`

// SQLiteStore persists outcomes in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't support multiple writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Add inserts one record.
func (s *SQLiteStore) Add(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outcomes (session, file_id, name, source_size, output_size, level, format, status, already_optimized, error, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Session, r.FileID, r.Name, r.SourceSize, r.OutputSize,
		string(r.Level), string(r.Format), string(r.Status),
		r.AlreadyOptimized, r.Error, r.At.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// Stats aggregates in SQL.
func (s *SQLiteStore) Stats(ctx context.Context, session string) (Stats, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(status = 'done'), 0),
			COALESCE(SUM(status = 'error'), 0),
			COALESCE(SUM(status = 'done' AND already_optimized = 1), 0),
			COALESCE(SUM(CASE WHEN status = 'done' THEN source_size ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'done' THEN output_size ELSE 0 END), 0)
		FROM outcomes`
	var args []any
	if session != "" {
		query += " WHERE session = ?"
		args = append(args, session)
	}

	var st Stats
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&st.Files, &st.Done, &st.Failed, &st.AlreadyOptimized, &st.BytesIn, &st.BytesOut,
	)
	if err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	st.finish()
	return st, nil
}

// Recent returns up to limit records, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session, file_id, name, source_size, output_size, level, format, status, already_optimized, error, at
		FROM outcomes ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                     Record
			level, format, status string
			at                    int64
		)
		if err := rows.Scan(&r.Session, &r.FileID, &r.Name, &r.SourceSize, &r.OutputSize,
			&level, &format, &status, &r.AlreadyOptimized, &r.Error, &at); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		r.Level = pipeline.Level(level)
		r.Format = pipeline.Format(format)
		r.Status = pipeline.Status(status)
		r.At = time.Unix(0, at).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ensure SQLiteStore implements Store
var _ Store = (*SQLiteStore)(nil)
