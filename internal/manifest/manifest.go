// Package manifest records every published index build in PostgreSQL so
// that searchers can resolve the current file of a domain without static
// configuration.
package manifest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	apperrors "github.com/edgedb/website-search/pkg/errors"
	"github.com/edgedb/website-search/pkg/postgres"
)

var Migrations = []postgres.Migration{
	{
		Version: 1,
		Name:    "index_builds",
		SQL: `CREATE TABLE IF NOT EXISTS index_builds (
			id              BIGSERIAL PRIMARY KEY,
			domain          TEXT NOT NULL,
			index_id        TEXT NOT NULL,
			path            TEXT NOT NULL,
			documents       INTEGER NOT NULL,
			terms           INTEGER NOT NULL,
			size            INTEGER NOT NULL,
			compressed_size INTEGER NOT NULL,
			built_at        TIMESTAMPTZ NOT NULL,
			UNIQUE (domain, index_id)
		);
		CREATE INDEX IF NOT EXISTS index_builds_domain_built_at
			ON index_builds (domain, built_at DESC)`,
	},
}

// Build is one published index file.
type Build struct {
	Domain         string    `json:"domain"`
	IndexID        string    `json:"id"`
	Path           string    `json:"path"`
	Documents      int       `json:"documents"`
	Terms          int       `json:"terms"`
	Size           int       `json:"size"`
	CompressedSize int       `json:"compressed_size"`
	BuiltAt        time.Time `json:"built_at"`
}

// Store reads and writes the manifest.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "manifest"),
	}
}

// Migrate creates the manifest tables.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.Migrate(ctx, Migrations)
}

// Record stores b. Rebuilding identical content refreshes the existing row.
func (s *Store) Record(ctx context.Context, b Build) error {
	_, err := s.db.DB.ExecContext(ctx, `
		INSERT INTO index_builds
			(domain, index_id, path, documents, terms, size, compressed_size, built_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (domain, index_id) DO UPDATE
			SET path = EXCLUDED.path, built_at = EXCLUDED.built_at`,
		b.Domain, b.IndexID, b.Path, b.Documents, b.Terms, b.Size, b.CompressedSize, b.BuiltAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording build of %s: %w", b.Domain, err)
	}
	s.logger.Info("build recorded", "domain", b.Domain, "index_id", b.IndexID, "path", b.Path)
	return nil
}

const selectBuild = `SELECT domain, index_id, path, documents, terms, size, compressed_size, built_at
	FROM index_builds`

// Latest returns the newest build of domain.
func (s *Store) Latest(ctx context.Context, domain string) (Build, error) {
	row := s.db.DB.QueryRowContext(ctx,
		selectBuild+` WHERE domain = $1 ORDER BY built_at DESC, id DESC LIMIT 1`, domain)
	b, err := scanBuild(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Build{}, apperrors.Newf(apperrors.ErrIndexNotLoaded, http.StatusNotFound,
			"no build recorded for %q", domain)
	}
	if err != nil {
		return Build{}, fmt.Errorf("querying latest build of %s: %w", domain, err)
	}
	return b, nil
}

// History returns up to limit builds of domain, newest first.
func (s *Store) History(ctx context.Context, domain string, limit int) ([]Build, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		selectBuild+` WHERE domain = $1 ORDER BY built_at DESC, id DESC LIMIT $2`, domain, limit)
	if err != nil {
		return nil, fmt.Errorf("querying builds of %s: %w", domain, err)
	}
	defer rows.Close()

	var builds []Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning build: %w", err)
		}
		builds = append(builds, b)
	}
	return builds, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBuild(row scanner) (Build, error) {
	var b Build
	err := row.Scan(&b.Domain, &b.IndexID, &b.Path, &b.Documents, &b.Terms, &b.Size, &b.CompressedSize, &b.BuiltAt)
	return b, err
}
