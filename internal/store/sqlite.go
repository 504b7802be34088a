package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"quantlab/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ StrategyStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS strategies (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	slug        TEXT NOT NULL,
	rule        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_strategies_created ON strategies(created_at);
`

// SQLiteStore implements StrategyStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// schema and returns a ready-to-use SQLiteStore. ":memory:" is accepted.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One connection: writes are serialized and ":memory:" stays one database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// StrategyStore implementation
// ---------------------------------------------------------------------------

// SaveStrategy upserts a custom strategy definition.
func (s *SQLiteStore) SaveStrategy(ctx context.Context, def domain.StrategyDefinition) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO strategies (id, name, slug, rule, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			slug = excluded.slug,
			rule = excluded.rule,
			description = excluded.description,
			updated_at = excluded.updated_at`,
		def.ID, def.Name, def.Slug, def.Rule, def.Description,
		def.CreatedAt.UnixMilli(), def.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("saving strategy %s: %w", def.ID, err)
	}
	return nil
}

// GetStrategy retrieves a single definition by ID.
func (s *SQLiteStore) GetStrategy(ctx context.Context, id string) (domain.StrategyDefinition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, rule, description, created_at, updated_at
		FROM strategies WHERE id = ?`, id)
	def, err := scanStrategy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StrategyDefinition{}, fmt.Errorf("strategy %q: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.StrategyDefinition{}, fmt.Errorf("reading strategy %s: %w", id, err)
	}
	return def, nil
}

// ListStrategies returns all custom definitions, oldest first.
func (s *SQLiteStore) ListStrategies(ctx context.Context) ([]domain.StrategyDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, slug, rule, description, created_at, updated_at
		FROM strategies ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("listing strategies: %w", err)
	}
	defer rows.Close()

	var out []domain.StrategyDefinition
	for rows.Next() {
		def, err := scanStrategy(rows)
		if err != nil {
			return nil, fmt.Errorf("listing strategies: %w", err)
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

// DeleteStrategy removes the definition with the given ID.
func (s *SQLiteStore) DeleteStrategy(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM strategies WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting strategy %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("strategy %q: %w", id, domain.ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStrategy(sc scanner) (domain.StrategyDefinition, error) {
	var (
		def                  domain.StrategyDefinition
		createdAt, updatedAt int64
	)
	if err := sc.Scan(&def.ID, &def.Name, &def.Slug, &def.Rule, &def.Description, &createdAt, &updatedAt); err != nil {
		return domain.StrategyDefinition{}, err
	}
	def.CreatedAt = time.UnixMilli(createdAt).UTC()
	def.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	def.IsCustom = true
	return def, nil
}
