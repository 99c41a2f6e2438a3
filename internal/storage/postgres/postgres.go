package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/FranksOps/harrier/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ensure postgresBackend implements storage.Backend
var _ storage.Backend = (*postgresBackend)(nil)

type postgresBackend struct {
	pool *pgxpool.Pool
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
	body_size BIGINT NOT NULL,
	duration_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	error TEXT
);
`

// New creates a new Postgres-backed storage.Backend.
func New(ctx context.Context, dsn string) (storage.Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}

	_, err = pool.Exec(ctx, schema)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: %w", err)
	}

	return &postgresBackend{pool: pool}, nil
}

func (b *postgresBackend) Save(ctx context.Context, c *storage.Capture) error {
	query := `
	INSERT INTO captures (
		id, query, mode, page, strategy, status_code, outcome, block_reason, accepted, body_size, duration_ms, created_at, error
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := b.pool.Exec(ctx, query,
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
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (b *postgresBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Capture, error) {
	query := `SELECT id, query, mode, page, strategy, status_code, outcome, block_reason, accepted, body_size, duration_ms, created_at, error FROM captures WHERE 1=1`
	args := []any{}
	paramCount := 1

	if filter.Query != "" {
		query += fmt.Sprintf(` AND query = $%d`, paramCount)
		args = append(args, filter.Query)
		paramCount++
	}
	if filter.Outcome != "" {
		query += fmt.Sprintf(` AND outcome = $%d`, paramCount)
		args = append(args, filter.Outcome)
		paramCount++
	}
	if filter.Since != nil {
		query += fmt.Sprintf(` AND created_at >= $%d`, paramCount)
		args = append(args, *filter.Since)
		paramCount++
	}

	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, paramCount)
		args = append(args, filter.Limit)
		paramCount++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, paramCount)
		args = append(args, filter.Offset)
		paramCount++
	}

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	defer rows.Close()

	var captures []*storage.Capture
	for rows.Next() {
		var c storage.Capture
		var durationMs int64

		err := rows.Scan(
			&c.ID, &c.Query, &c.Mode, &c.Page, &c.Strategy, &c.StatusCode,
			&c.Outcome, &c.BlockReason, &c.Accepted, &c.BodySize,
			&durationMs, &c.CreatedAt, &c.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}

		c.Duration = time.Duration(durationMs) * time.Millisecond
		captures = append(captures, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}

	return captures, nil
}

func (b *postgresBackend) Close() error {
	b.pool.Close()
	return nil
}
