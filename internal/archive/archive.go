// Package archive records finished downloads so later runs can skip them.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS downloads (
	id          TEXT PRIMARY KEY,
	recorded_at INTEGER NOT NULL
)`

// Archive is a SQLite-backed set of downloaded job IDs.
type Archive struct {
	db *sql.DB
}

// Open opens or creates the archive database at path.
func Open(ctx context.Context, path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create archive schema: %w", err)
	}
	return &Archive{db: db}, nil
}

// Has reports whether id was recorded.
func (a *Archive) Has(ctx context.Context, id string) (bool, error) {
	var n int
	err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM downloads WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query archive: %w", err)
	}
	return n > 0, nil
}

// Record adds id to the archive. Recording an existing id is a no-op.
func (a *Archive) Record(ctx context.Context, id string) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO downloads (id, recorded_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
		id, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("record %s: %w", id, err)
	}
	return nil
}

// Count returns the number of recorded ids.
func (a *Archive) Count(ctx context.Context) (int, error) {
	var n int
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM downloads`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count archive: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}
