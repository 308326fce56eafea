package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/capitalize-ai/outreach-engine/internal/apperr"
)

const schema = `
CREATE TABLE IF NOT EXISTS outreach_documents (
    kind       TEXT        NOT NULL,
    id         TEXT        NOT NULL,
    version    BIGINT      NOT NULL DEFAULT 1,
    data       JSONB       NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (kind, id)
);
CREATE INDEX IF NOT EXISTS outreach_documents_data_idx ON outreach_documents USING GIN (data jsonb_path_ops);
`

const uniqueViolation = "23505"

// Postgres is a Backend storing every entity as a JSONB row.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects to dsn and ensures the documents table exists.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Insert implements Backend.
func (p *Postgres) Insert(ctx context.Context, kind, id string, data []byte) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO outreach_documents (kind, id, data) VALUES ($1, $2, $3)`,
		kind, id, string(data))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return apperr.AlreadyExists(kind, id)
		}
		return fmt.Errorf("failed to insert %s: %w", kind, err)
	}
	return nil
}

// Update implements Backend.
func (p *Postgres) Update(ctx context.Context, kind, id string, expected int64, data []byte) (int64, error) {
	var version int64
	err := p.db.QueryRowContext(ctx, `
		UPDATE outreach_documents
		   SET data = $4, version = version + 1, updated_at = now()
		 WHERE kind = $1 AND id = $2 AND ($3::bigint < 0 OR version = $3::bigint)
		RETURNING version`,
		kind, id, expected, string(data)).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := p.Get(ctx, kind, id); getErr != nil {
			return 0, getErr
		}
		return 0, apperr.StateConflict(kind, id)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to update %s: %w", kind, err)
	}
	return version, nil
}

// Get implements Backend.
func (p *Postgres) Get(ctx context.Context, kind, id string) (*Document, error) {
	doc := &Document{ID: id}
	err := p.db.QueryRowContext(ctx,
		`SELECT version, data FROM outreach_documents WHERE kind = $1 AND id = $2`,
		kind, id).Scan(&doc.Version, &doc.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(kind, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", kind, err)
	}
	return doc, nil
}

// List implements Backend. Filters use JSONB containment.
func (p *Postgres) List(ctx context.Context, kind string, filter Filter) ([]*Document, error) {
	contains, err := containment(filter)
	if err != nil {
		return nil, err
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, version, data FROM outreach_documents
		 WHERE kind = $1 AND data @> $2::jsonb
		 ORDER BY created_at, id`,
		kind, contains)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind, err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc := &Document{}
		if err := rows.Scan(&doc.ID, &doc.Version, &doc.Data); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", kind, err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Delete implements Backend.
func (p *Postgres) Delete(ctx context.Context, kind, id string) error {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM outreach_documents WHERE kind = $1 AND id = $2`, kind, id)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", kind, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound(kind, id)
	}
	return nil
}

// DeleteWhere implements Backend.
func (p *Postgres) DeleteWhere(ctx context.Context, kind string, filter Filter) (int, error) {
	contains, err := containment(filter)
	if err != nil {
		return 0, err
	}
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM outreach_documents WHERE kind = $1 AND data @> $2::jsonb`, kind, contains)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s: %w", kind, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Ping implements Backend.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close implements Backend.
func (p *Postgres) Close() error {
	return p.db.Close()
}

func containment(filter Filter) (string, error) {
	if len(filter) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]string(filter))
	if err != nil {
		return "", fmt.Errorf("failed to encode filter: %w", err)
	}
	return string(b), nil
}
