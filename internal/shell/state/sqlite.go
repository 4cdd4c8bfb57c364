package state

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/skylift/skylift/internal/core/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens the state database and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStateError("NewSQLiteStore", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStateError("NewSQLiteStore", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStateError("NewSQLiteStore", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Cached State
// =============================================================================

type layerRow struct {
	Name       string `db:"name"`
	VersionARN string `db:"version_arn"`
	ContentSHA string `db:"content_sha"`
}

// Load reads the layer version cache. Empty database yields an empty
// cache.
func (s *SQLiteStore) Load(ctx context.Context) (*domain.CachedState, error) {
	var rows []layerRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT name, version_arn, content_sha FROM layer_cache`); err != nil {
		return nil, NewStateError("Load", err.Error(), ErrQueryFailed)
	}

	cached := domain.NewCachedState()
	for _, r := range rows {
		cached.Layers[r.Name] = domain.CachedLayer{VersionARN: r.VersionARN, ContentSHA: r.ContentSHA}
	}
	return cached, nil
}

// Save upserts the layer version cache.
func (s *SQLiteStore) Save(ctx context.Context, cached *domain.CachedState) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStateError("Save", err.Error(), ErrQueryFailed)
	}
	defer tx.Rollback()

	for name, layer := range cached.Layers {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO layer_cache (name, version_arn, content_sha, updated_at)
			VALUES (?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(name) DO UPDATE SET
				version_arn = excluded.version_arn,
				content_sha = excluded.content_sha,
				updated_at = excluded.updated_at`,
			name, layer.VersionARN, layer.ContentSHA,
		)
		if err != nil {
			return NewStateError("Save", err.Error(), ErrQueryFailed)
		}
	}

	if err := tx.Commit(); err != nil {
		return NewStateError("Save", err.Error(), ErrQueryFailed)
	}
	return nil
}

// =============================================================================
// Run Records
// =============================================================================

type runRow struct {
	ID          string `db:"id"`
	StartedAt   string `db:"started_at"`
	FinishedAt  string `db:"finished_at"`
	Status      string `db:"status"`
	FailedStage string `db:"failed_stage"`
}

// RecordRun appends one finished run.
func (s *SQLiteStore) RecordRun(ctx context.Context, run domain.RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, status, failed_stage)
		VALUES (?, ?, ?, ?, ?)`,
		run.ID,
		run.StartedAt.UTC().Format(timeLayout),
		run.FinishedAt.UTC().Format(timeLayout),
		run.Status,
		run.FailedStage,
	)
	if err != nil {
		return NewStateError("RecordRun", err.Error(), ErrQueryFailed)
	}
	return nil
}

// LastRun returns the most recent run record, or nil when no run has
// been recorded yet.
func (s *SQLiteStore) LastRun(ctx context.Context) (*domain.RunRecord, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, started_at, finished_at, status, failed_stage
		FROM runs ORDER BY started_at DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, NewStateError("LastRun", err.Error(), ErrQueryFailed)
	}

	record := &domain.RunRecord{
		ID:          row.ID,
		Status:      row.Status,
		FailedStage: row.FailedStage,
	}
	record.StartedAt, _ = parseTime(row.StartedAt)
	record.FinishedAt, _ = parseTime(row.FinishedAt)
	return record, nil
}
