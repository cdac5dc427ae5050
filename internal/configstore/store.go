// Package configstore reads per-scraper settings from the shared
// Postgres control plane. Operators flip container_state to 0 to ask a
// running scraper to restart and pick up new settings.
package configstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no row exists for the scraper name.
var ErrNotFound = errors.New("scraper configuration not found")

// DB is the subset of pgxpool.Pool the store needs. pgxmock satisfies
// it too.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Settings is one row of scrapers_configuration.
type Settings struct {
	ScraperName    string
	Retailer       string
	Concurrency    int
	BatchSize      int
	MaxRetries     int
	BulkThreshold  int
	ContainerState int
}

// Store reads and updates scraper settings.
type Store struct {
	db DB
}

// New creates a Store over an existing connection pool.
func New(db DB) *Store {
	return &Store{db: db}
}

// Connect opens a pgx pool for the DSN and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// Load fetches the settings row for the named scraper.
func (s *Store) Load(ctx context.Context, scraperName string) (Settings, error) {
	query := `
		SELECT scraper_name, retailer, concurrency, batch_size,
		       max_retries, bulk_threshold, container_state
		FROM scrapers_configuration
		WHERE scraper_name = $1
	`
	var settings Settings
	err := s.db.QueryRow(ctx, query, scraperName).Scan(
		&settings.ScraperName,
		&settings.Retailer,
		&settings.Concurrency,
		&settings.BatchSize,
		&settings.MaxRetries,
		&settings.BulkThreshold,
		&settings.ContainerState,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Settings{}, ErrNotFound
	}
	if err != nil {
		return Settings{}, fmt.Errorf("load scraper configuration: %w", err)
	}
	return settings, nil
}

// MarkRunning records that this scraper has started with the current
// settings by setting container_state back to 1.
func (s *Store) MarkRunning(ctx context.Context, scraperName string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE scrapers_configuration SET container_state = 1 WHERE scraper_name = $1`,
		scraperName,
	)
	if err != nil {
		return fmt.Errorf("mark scraper running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RestartRequired reports whether an operator has reset the container
// state, signalling the scraper should exit and be restarted.
func (s *Store) RestartRequired(ctx context.Context, scraperName string) (bool, error) {
	var state int
	err := s.db.QueryRow(ctx,
		`SELECT container_state FROM scrapers_configuration WHERE scraper_name = $1`,
		scraperName,
	).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("check container state: %w", err)
	}
	return state == 0, nil
}
