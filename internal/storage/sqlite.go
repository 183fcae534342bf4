package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure Go driver
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS packs (size INTEGER PRIMARY KEY)`

// SQLiteStorage persists pack sizes as rows of a single-column table.
type SQLiteStorage struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path with WAL journaling and
// ensures the packs table exists.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStorage, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		path, (5 * time.Second).Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// GetPackSizes returns all stored sizes in ascending order.
func (s *SQLiteStorage) GetPackSizes(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT size FROM packs ORDER BY size ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query packs: %w", err)
	}
	defer rows.Close()

	sizes := []int{}
	for rows.Next() {
		var size int
		if err := rows.Scan(&size); err != nil {
			return nil, fmt.Errorf("sqlite: scan pack: %w", err)
		}
		sizes = append(sizes, size)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate packs: %w", err)
	}
	return sizes, nil
}

// SetPackSizes syncs the table to sizes in one transaction: rows not in
// sizes are deleted and missing ones inserted.
func (s *SQLiteStorage) SetPackSizes(ctx context.Context, sizes []int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if len(sizes) == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM packs`); err != nil {
			return fmt.Errorf("sqlite: clear packs: %w", err)
		}
		return commit(tx)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(sizes)), ",")
	args := make([]any, len(sizes))
	for i, size := range sizes {
		args[i] = size
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM packs WHERE size NOT IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("sqlite: delete stale packs: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO packs(size) VALUES (?) ON CONFLICT(size) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, size := range sizes {
		if _, err := stmt.ExecContext(ctx, size); err != nil {
			return fmt.Errorf("sqlite: insert pack %d: %w", size, err)
		}
	}
	return commit(tx)
}

// Ping checks database connectivity.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func commit(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}
