package remote

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/amaumene/shelfsync/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS library_items (
	user_id          TEXT NOT NULL,
	id               TEXT NOT NULL,
	title            TEXT NOT NULL DEFAULT '',
	category         TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT '',
	added_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	year             INTEGER NOT NULL DEFAULT 0,
	rating           DOUBLE PRECISION NOT NULL DEFAULT 0,
	image            TEXT NOT NULL DEFAULT '',
	author           TEXT NOT NULL DEFAULT '',
	artist           TEXT NOT NULL DEFAULT '',
	director         TEXT NOT NULL DEFAULT '',
	developer        TEXT NOT NULL DEFAULT '',
	developers       TEXT NOT NULL DEFAULT '[]',
	publishers       TEXT NOT NULL DEFAULT '[]',
	genres           TEXT NOT NULL DEFAULT '[]',
	background_image TEXT NOT NULL DEFAULT '',
	released         TEXT NOT NULL DEFAULT '',
	type             TEXT NOT NULL DEFAULT '',
	is_movie         BOOLEAN NOT NULL DEFAULT false,
	is_series        BOOLEAN NOT NULL DEFAULT false,
	total_seasons    INTEGER,
	display_title    TEXT NOT NULL DEFAULT '',
	overview         TEXT NOT NULL DEFAULT '',
	runtime          TEXT NOT NULL DEFAULT '',
	actors           TEXT NOT NULL DEFAULT '',
	language         TEXT NOT NULL DEFAULT '',
	country          TEXT NOT NULL DEFAULT '',
	awards           TEXT NOT NULL DEFAULT '',
	user_rating      DOUBLE PRECISION,
	progress         INTEGER,
	notes            TEXT NOT NULL DEFAULT '',
	date_started     TIMESTAMPTZ,
	date_completed   TIMESTAMPTZ,
	additional_info  TEXT NOT NULL DEFAULT '[]',
	PRIMARY KEY (user_id, id)
)`

const createIndexSQL = `CREATE INDEX IF NOT EXISTS library_items_added_at_idx ON library_items (user_id, added_at DESC)`

var (
	selectAllSQL = fmt.Sprintf(
		"SELECT %s FROM library_items WHERE user_id = $1 ORDER BY added_at DESC",
		strings.Join(models.RowColumns, ", "))

	upsertSQL = buildUpsertSQL()
)

// PostgresStore is a Store backed by a Postgres library_items table
type PostgresStore struct {
	pool   *pgxpool.Pool
	userID string
}

// NewPostgresPool parses the connection string and opens a verified pool
func NewPostgresPool(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// NewPostgresStore creates a store for userID on an open pool
func NewPostgresStore(pool *pgxpool.Pool, userID string) *PostgresStore {
	return &PostgresStore{pool: pool, userID: userID}
}

// EnsureSchema creates the library table when it does not exist yet
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create library table: %w", err)
	}
	if _, err := s.pool.Exec(ctx, createIndexSQL); err != nil {
		return fmt.Errorf("failed to create library index: %w", err)
	}
	return nil
}

// Close closes the pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// FetchAll implements Store.FetchAll
func (s *PostgresStore) FetchAll(ctx context.Context) ([]models.Row, error) {
	rows, err := s.pool.Query(ctx, selectAllSQL, s.userID)
	if err != nil {
		return nil, wrap("fetch_all", "", err)
	}

	result, err := pgx.CollectRows(rows, pgx.RowToStructByName[models.Row])
	if err != nil {
		return nil, wrap("fetch_all", "", fmt.Errorf("failed to scan rows: %w", err))
	}
	return result, nil
}

// Upsert implements Store.Upsert
func (s *PostgresStore) Upsert(ctx context.Context, row *models.Row) error {
	stored := *row
	stored.UserID = s.userID

	args := append(stored.Values(), row.KeepsExisting("date_started"), row.KeepsExisting("date_completed"))
	_, err := s.pool.Exec(ctx, upsertSQL, args...)
	return wrap("upsert", row.ID, err)
}

// Patch implements Store.Patch
func (s *PostgresStore) Patch(ctx context.Context, id string, fields models.Columns) error {
	if err := checkColumns(fields); err != nil {
		return wrap("patch", id, err)
	}

	query, args := buildPatchSQL(s.userID, id, fields)
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return wrap("patch", id, err)
	}
	if tag.RowsAffected() == 0 {
		return wrap("patch", id, ErrNotFound)
	}
	return nil
}

// Remove implements Store.Remove
func (s *PostgresStore) Remove(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM library_items WHERE user_id = $1 AND id = $2", s.userID, id)
	if err != nil {
		return wrap("remove", id, err)
	}
	if tag.RowsAffected() == 0 {
		return wrap("remove", id, ErrNotFound)
	}
	return nil
}

func buildUpsertSQL() string {
	placeholders := make([]string, len(models.RowColumns))
	for i := range models.RowColumns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	// The two trailing parameters say whether a stored status date wins
	keep := map[string]int{
		"date_started":   len(models.RowColumns) + 1,
		"date_completed": len(models.RowColumns) + 2,
	}

	updates := make([]string, len(models.UpsertColumns))
	for i, c := range models.UpsertColumns {
		if n, ok := keep[c]; ok {
			updates[i] = fmt.Sprintf(
				"%s = CASE WHEN $%d::boolean THEN COALESCE(library_items.%s, EXCLUDED.%s) ELSE EXCLUDED.%s END",
				c, n, c, c, c)
			continue
		}
		updates[i] = fmt.Sprintf("%s = EXCLUDED.%s", c, c)
	}

	return fmt.Sprintf(
		"INSERT INTO library_items (%s) VALUES (%s) ON CONFLICT (user_id, id) DO UPDATE SET %s",
		strings.Join(models.RowColumns, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(updates, ", "))
}

// buildPatchSQL expects fields to be checked against models.PatchableColumns
func buildPatchSQL(userID, id string, fields models.Columns) (string, []any) {
	cols := make([]string, 0, len(fields))
	for c := range fields {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	sets := make([]string, len(cols))
	args := []any{userID, id}
	for i, c := range cols {
		if keep, ok := fields[c].(models.IfNull); ok {
			args = append(args, keep.Value)
			sets[i] = fmt.Sprintf("%s = COALESCE(%s, $%d)", c, c, len(args))
			continue
		}
		args = append(args, fields[c])
		sets[i] = fmt.Sprintf("%s = $%d", c, len(args))
	}

	query := fmt.Sprintf("UPDATE library_items SET %s WHERE user_id = $1 AND id = $2", strings.Join(sets, ", "))
	return query, args
}
