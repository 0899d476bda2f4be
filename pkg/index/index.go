// Package index is an optional Postgres-backed cache of the manifest
// tree (SPEC_FULL.md §11), mirroring the teacher's pkg/database +
// pkg/metadata pattern: a *sql.DB opened with lib/pq, plain
// database/sql calls with $N placeholders, best-effort writes that
// never fail the caller's request.
//
// The filesystem manifest store remains authoritative (spec.md §4.4);
// this index only accelerates list()/tags(). It is kept current by
// the Model Store's pull (Upsert) and delete (Delete); it is never
// rebuilt from the filesystem.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"

	"github.com/modelhost/modelhost/pkg/config"
)

type Index struct {
	db *sql.DB
}

// Connect opens the Postgres index. A nil *Index (with nil error) is
// returned when cfg.DatabaseURL is empty — callers treat a nil Index as
// "no cache, fall back to directory walk", the same degrade-gracefully
// pattern the teacher uses for its optional Redis queue.
func Connect(cfg *config.Config) (*Index, error) {
	if cfg.DatabaseURL == "" {
		return nil, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("index: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("index: ping: %w", err)
	}

	idx := &Index{db: db}
	if err := idx.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *Index) ensureSchema(ctx context.Context) error {
	_, err := idx.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS model_index (
			registry    TEXT NOT NULL,
			namespace   TEXT NOT NULL,
			name        TEXT NOT NULL,
			tag         TEXT NOT NULL,
			digest      TEXT NOT NULL,
			total_size  BIGINT NOT NULL,
			modified_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (registry, namespace, name, tag)
		)`)
	if err != nil {
		return fmt.Errorf("index: ensure schema: %w", err)
	}
	return nil
}

// Row is one indexed manifest.
type Row struct {
	Registry   string
	Namespace  string
	Name       string
	Tag        string
	Digest     string
	TotalSize  int64
	ModifiedAt time.Time
}

// Upsert records (or refreshes) one manifest entry. Errors are logged
// and swallowed, never fatal; a failed write leaves that entry missing
// or stale in index-backed list() results.
func (idx *Index) Upsert(ctx context.Context, r Row) {
	if idx == nil {
		return
	}
	_, err := idx.db.ExecContext(ctx, `
		INSERT INTO model_index (registry, namespace, name, tag, digest, total_size, modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (registry, namespace, name, tag) DO UPDATE SET
			digest = EXCLUDED.digest,
			total_size = EXCLUDED.total_size,
			modified_at = EXCLUDED.modified_at`,
		r.Registry, r.Namespace, r.Name, r.Tag, r.Digest, r.TotalSize, r.ModifiedAt)
	if err != nil {
		log.Printf("[index] upsert %s/%s/%s:%s failed: %v", r.Registry, r.Namespace, r.Name, r.Tag, err)
	}
}

// Delete removes one manifest entry from the index.
func (idx *Index) Delete(ctx context.Context, registry, namespace, name, tag string) {
	if idx == nil {
		return
	}
	_, err := idx.db.ExecContext(ctx, `
		DELETE FROM model_index WHERE registry=$1 AND namespace=$2 AND name=$3 AND tag=$4`,
		registry, namespace, name, tag)
	if err != nil {
		log.Printf("[index] delete %s/%s/%s:%s failed: %v", registry, namespace, name, tag, err)
	}
}

// List returns every indexed row. Returning an error here (unlike
// Upsert/Delete) is intentional: the Model Store's list() uses the
// error to decide whether to fall back to a directory walk.
func (idx *Index) List(ctx context.Context) ([]Row, error) {
	if idx == nil {
		return nil, fmt.Errorf("index: not configured")
	}
	rows, err := idx.db.QueryContext(ctx, `
		SELECT registry, namespace, name, tag, digest, total_size, modified_at FROM model_index`)
	if err != nil {
		return nil, fmt.Errorf("index: list: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.Registry, &r.Namespace, &r.Name, &r.Tag, &r.Digest, &r.TotalSize, &r.ModifiedAt); err != nil {
			return nil, fmt.Errorf("index: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (idx *Index) Close() error {
	if idx == nil {
		return nil
	}
	return idx.db.Close()
}
