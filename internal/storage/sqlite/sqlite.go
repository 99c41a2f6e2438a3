package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/FranksOps/harrier/internal/storage"
	_ "modernc.org/sqlite"
)

// ensure sqliteBackend implements storage.Backend
var _ storage.Backend = (*sqliteBackend)(nil)

type sqliteBackend struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS captures (
	id TEXT PRIMARY KEY,
	query TEXT NOT NULL,
	mode TEXT NOT NULL,
	page INTEGER NOT NULL,
	strategy TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	outcome TEXT NOT NULL,
	block_reason TEXT,
	accepted INTEGER NOT NULL,
	body_size INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	created_at DATETIME NOT NULL,
	error TEXT
);
`

// New creates a new SQLite-backed storage.Backend.
func New(dsn string) (storage.Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: %w", err)
	}

	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) Save(ctx context.Context, c *storage.Capture) error {
	query := `
	INSERT INTO captures (
		id, query, mode, page, strategy, status_code, outcome, block_reason, accepted, body_size, duration_ms, created_at, error
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := b.db.ExecContext(ctx, query,
		c.ID,
		c.Query,
		c.Mode,
		c.Page,
		c.Strategy,
		c.StatusCode,
		c.Outcome,
		c.BlockReason,
		c.Accepted,
		c.BodySize,
		c.Duration.Milliseconds(),
		c.CreatedAt,
		c.Error,
	)
	if err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	return nil
}

func (b *sqliteBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Capture, error) {
	query := `SELECT id, query, mode, page, strategy, status_code, outcome, block_reason, accepted, body_size, duration_ms, created_at, error FROM captures WHERE 1=1`
	args := []any{}

	if filter.Query != "" {
		query += ` AND query = ?`
		args = append(args, filter.Query)
	}
	if filter.Outcome != "" {
		query += ` AND outcome = ?`
		args = append(args, filter.Outcome)
	}
	if filter.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, *filter.Since)
	}

	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	defer rows.Close()

	var captures []*storage.Capture
	for rows.Next() {
		var c storage.Capture
		var durationMs int64

		err := rows.Scan(
			&c.ID, &c.Query, &c.Mode, &c.Page, &c.Strategy, &c.StatusCode,
			&c.Outcome, &c.BlockReason, &c.Accepted, &c.BodySize, &durationMs,
			&c.CreatedAt, &c.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}

		c.Duration = time.Duration(durationMs) * time.Millisecond
		captures = append(captures, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}

	return captures, nil
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}
