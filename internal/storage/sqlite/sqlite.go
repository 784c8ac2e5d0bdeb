package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/FranksOps/sift/internal/storage"
	_ "modernc.org/sqlite"
)

// ensure sqliteBackend implements storage.Backend
var _ storage.Backend = (*sqliteBackend)(nil)

type sqliteBackend struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS search_jobs (
	id TEXT PRIMARY KEY,
	query TEXT NOT NULL,
	sources TEXT NOT NULL,
	result_limit INTEGER NOT NULL,
	include_content BOOLEAN NOT NULL,
	status TEXT NOT NULL,
	results TEXT NOT NULL,
	failures TEXT NOT NULL,
	error TEXT,
	summary TEXT,
	created_at DATETIME NOT NULL,
	finished_at DATETIME
);
CREATE INDEX IF NOT EXISTS search_jobs_created_at ON search_jobs (created_at);
`

// New creates a new SQLite-backed storage.Backend.
func New(dsn string) (storage.Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}

	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) Save(ctx context.Context, rec *storage.Record) error {
	sources, results, failures, err := encode(rec)
	if err != nil {
		return err
	}

	var finished any
	if !rec.FinishedAt.IsZero() {
		finished = rec.FinishedAt
	}

	query := `
	INSERT INTO search_jobs (
		id, query, sources, result_limit, include_content, status, results, failures, error, summary, created_at, finished_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		results = excluded.results,
		failures = excluded.failures,
		error = excluded.error,
		summary = excluded.summary,
		finished_at = excluded.finished_at
	`

	_, err = b.db.ExecContext(ctx, query,
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

func (b *sqliteBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Record, error) {
	query := `SELECT id, query, sources, result_limit, include_content, status, results, failures, error, summary, created_at, finished_at FROM search_jobs WHERE 1=1`
	args := []any{}

	if filter.Query != "" {
		query += ` AND query = ?`
		args = append(args, filter.Query)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, *filter.Since)
	}

	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		query += ` LIMIT -1`
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []*storage.Record
	for rows.Next() {
		var (
			r                          storage.Record
			sources, results, failures string
			errText, summary           sql.NullString
			finished                   sql.NullTime
		)
		err := rows.Scan(
			&r.ID, &r.Query, &sources, &r.Limit, &r.IncludeContent, &r.Status,
			&results, &failures, &errText, &summary, &r.CreatedAt, &finished,
		)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Error = errText.String
		r.Summary = summary.String
		if finished.Valid {
			r.FinishedAt = finished.Time
		}
		if err := decode(&r, sources, results, failures); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}

func encode(rec *storage.Record) (sources, results, failures string, err error) {
	s, err := json.Marshal(rec.Sources)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal sources: %w", err)
	}
	r, err := json.Marshal(rec.Results)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal results: %w", err)
	}
	f, err := json.Marshal(rec.Failures)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal failures: %w", err)
	}
	return string(s), string(r), string(f), nil
}

func decode(r *storage.Record, sources, results, failures string) error {
	if err := json.Unmarshal([]byte(sources), &r.Sources); err != nil {
		return fmt.Errorf("decode sources: %w", err)
	}
	if err := json.Unmarshal([]byte(results), &r.Results); err != nil {
		return fmt.Errorf("decode results: %w", err)
	}
	if err := json.Unmarshal([]byte(failures), &r.Failures); err != nil {
		return fmt.Errorf("decode failures: %w", err)
	}
	return nil
}
