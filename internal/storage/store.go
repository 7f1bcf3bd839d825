// internal/storage/store.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"small-projects-fetcher/internal/model"
)

// ErrDuplicate is returned by InsertRepository when the repository's GitHub
// URL already exists. Callers treat it as "already stored, skip".
var ErrDuplicate = errors.New("repository already exists")

const uniqueViolation = "23505"

const repositoryColumns = "name, owner, description, language, stars, contributors, github_url, last_updated"

// Store provides repository persistence over a shared pgx connection pool.
// The pool's MaxConns setting is the binding concurrency ceiling for every
// operation issued through it.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by the given pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// FindExistingURLs returns the subset of urls already present in storage.
func (s *Store) FindExistingURLs(ctx context.Context, urls []string) ([]string, error) {
	if len(urls) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT github_url FROM repositories WHERE github_url = ANY($1)`, urls)
	if err != nil {
		return nil, fmt.Errorf("querying existing urls: %w", err)
	}
	defer rows.Close()

	var existing []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, err
		}
		existing = append(existing, url)
	}
	return existing, rows.Err()
}

// InsertRepositories inserts one batch of repositories with a single
// duplicate-tolerant statement and reports how many rows were actually
// written. Rows colliding with an existing github_url, including duplicates
// within the batch itself, are skipped by ON CONFLICT DO NOTHING.
func (s *Store) InsertRepositories(ctx context.Context, repos []model.Repository) (int64, error) {
	if len(repos) == 0 {
		return 0, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO repositories (%s) VALUES ", repositoryColumns)

	args := make([]any, 0, len(repos)*8)
	for i, repo := range repos {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 8
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8)
		args = append(args,
			repo.Name, repo.Owner, repo.Description, repo.Language,
			repo.Stars, repo.Contributors, repo.GitHubURL, repo.LastUpdated)
	}
	sb.WriteString(" ON CONFLICT (github_url) DO NOTHING")

	tag, err := s.pool.Exec(ctx, sb.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("batch insert of %d repositories: %w", len(repos), err)
	}
	return tag.RowsAffected(), nil
}

// InsertRepository inserts a single repository, mapping a unique violation on
// github_url to ErrDuplicate. It is the per-record fallback for a failed
// batch insert.
func (s *Store) InsertRepository(ctx context.Context, repo model.Repository) error {
	query := fmt.Sprintf(
		"INSERT INTO repositories (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		repositoryColumns)

	_, err := s.pool.Exec(ctx, query,
		repo.Name, repo.Owner, repo.Description, repo.Language,
		repo.Stars, repo.Contributors, repo.GitHubURL, repo.LastUpdated)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// UpdateRepository refreshes the mutable descriptive fields of a stored
// repository, keyed by github_url. Name, owner and the URL itself are
// immutable after creation.
func (s *Store) UpdateRepository(ctx context.Context, repo model.Repository) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE repositories
		 SET description = $1, language = $2, stars = $3, last_updated = $4, updated_at = now()
		 WHERE github_url = $5`,
		repo.Description, repo.Language, repo.Stars, repo.LastUpdated, repo.GitHubURL)
	if err != nil {
		return fmt.Errorf("updating %s: %w", repo.GitHubURL, err)
	}
	return nil
}
