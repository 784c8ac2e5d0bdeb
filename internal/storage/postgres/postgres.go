package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/FranksOps/sift/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ensure postgresBackend implements storage.Backend
var _ storage.Backend = (*postgresBackend)(nil)

type postgresBackend struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS search_jobs (
	id TEXT PRIMARY KEY,
	query TEXT NOT NULL,
	sources JSONB NOT NULL,
	result_limit INTEGER NOT NULL,
	include_content BOOLEAN NOT NULL,
	status TEXT NOT NULL,
	results JSONB NOT NULL,
	failures JSONB NOT NULL,
	error TEXT,
	summary TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS search_jobs_created_at ON search_jobs (created_at);
`

// New creates a new Postgres-backed storage.Backend.
func New(ctx context.Context, dsn string) (storage.Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create postgres schema: %w", err)
	}

	return &postgresBackend{pool: pool}, nil
}

func (b *postgresBackend) Save(ctx context.Context, rec *storage.Record) error {
	sources, err := json.Marshal(rec.Sources)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}
	results, err := json.Marshal(rec.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	failures, err := json.Marshal(rec.Failures)
	if err != nil {
		return fmt.Errorf("marshal failures: %w", err)
	}

	var finished *time.Time
	if !rec.FinishedAt.IsZero() {
		finished = &rec.FinishedAt
	}

	query := `
	INSERT INTO search_jobs (
		id, query, sources, result_limit, include_content, status, results, failures, error, summary, created_at, finished_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status,
		results = EXCLUDED.results,
		failures = EXCLUDED.failures,
		error = EXCLUDED.error,
		summary = EXCLUDED.summary,
		finished_at = EXCLUDED.finished_at
	`

	_, err = b.pool.Exec(ctx, query,
		rec.ID,
		rec.Query,
		sources,
		rec.Limit,
		rec.IncludeContent,
		rec.Status,
		results,
		failures,
		rec.Error,
		rec.Summary,
		rec.CreatedAt,
		finished,
	)
	if err != nil {
		return fmt.Errorf("save record %s: %w", rec.ID, err)
	}
	return nil
}

func (b *postgresBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Record, error) {
	query := `SELECT id, query, sources, result_limit, include_content, status, results, failures, COALESCE(error, ''), COALESCE(summary, ''), created_at, finished_at FROM search_jobs WHERE 1=1`
	args := []any{}
	paramCount := 1

	if filter.Query != "" {
		query += fmt.Sprintf(` AND query = $%d`, paramCount)
		args = append(args, filter.Query)
		paramCount++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, paramCount)
		args = append(args, filter.Status)
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
	}

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []*storage.Record
	for rows.Next() {
		var (
			r                          storage.Record
			sources, results, failures []byte
			finished                   *time.Time
		)
		err := rows.Scan(
			&r.ID, &r.Query, &sources, &r.Limit, &r.IncludeContent, &r.Status,
			&results, &failures, &r.Error, &r.Summary, &r.CreatedAt, &finished,
		)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if finished != nil {
			r.FinishedAt = *finished
		}
		if err := json.Unmarshal(sources, &r.Sources); err != nil {
			return nil, fmt.Errorf("decode sources: %w", err)
		}
		if err := json.Unmarshal(results, &r.Results); err != nil {
			return nil, fmt.Errorf("decode results: %w", err)
		}
		if err := json.Unmarshal(failures, &r.Failures); err != nil {
			return nil, fmt.Errorf("decode failures: %w", err)
		}
		out = append(out, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

func (b *postgresBackend) Close() error {
	b.pool.Close()
	return nil
}
