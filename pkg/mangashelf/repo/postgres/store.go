package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/tendant/mangashelf/pkg/mangashelf"
	"github.com/tendant/mangashelf/pkg/mangashelf/repo/postgres/migrations"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Store implements mangashelf.ObjectStore on a single JSONB table
type Store struct {
	db DBTX
}

// New creates a new PostgreSQL object store
func New(db DBTX) *Store {
	return &Store{db: db}
}

// Open connects to url, applies pending migrations and returns the store
// together with its pool. The caller closes the pool.
func Open(ctx context.Context, url string) (*Store, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := MigratePool(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return New(pool), pool, nil
}

// MigratePool applies the embedded migrations through a database/sql view
// of the pool.
func MigratePool(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	return Migrate(ctx, db)
}

// Migrate applies the embedded migrations
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Error handling helper
func (s *Store) handlePostgresError(operation string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
		return mangashelf.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("duplicate record")
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}

func (s *Store) Put(ctx context.Context, collection string, rec mangashelf.Record) error {
	query := `
		INSERT INTO records (collection, key, version, data, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (collection, key) DO UPDATE
		SET version = EXCLUDED.version, data = EXCLUDED.data, updated_at = now()`

	_, err := s.db.Exec(ctx, query, collection, rec.Key, rec.Version, rec.Data)
	if err != nil {
		return s.handlePostgresError("put", err)
	}
	return nil
}

func (s *Store) Replace(ctx context.Context, collection string, rec mangashelf.Record, prevVersion int) error {
	query := `
		UPDATE records SET version = $4, data = $5, updated_at = now()
		WHERE collection = $1 AND key = $2 AND version = $3`

	tag, err := s.db.Exec(ctx, query, collection, rec.Key, prevVersion, rec.Version, rec.Data)
	if err != nil {
		return s.handlePostgresError("replace", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	err = s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM records WHERE collection = $1 AND key = $2)`,
		collection, rec.Key).Scan(&exists)
	if err != nil {
		return s.handlePostgresError("replace", err)
	}
	if !exists {
		return mangashelf.ErrNotFound
	}
	return mangashelf.ErrVersionConflict
}

func (s *Store) Get(ctx context.Context, collection, key string) (*mangashelf.Record, error) {
	rec := mangashelf.Record{Key: key}
	err := s.db.QueryRow(ctx, `SELECT version, data FROM records WHERE collection = $1 AND key = $2`,
		collection, key).Scan(&rec.Version, &rec.Data)
	if err != nil {
		return nil, s.handlePostgresError("get", err)
	}
	return &rec, nil
}

func (s *Store) Delete(ctx context.Context, collection, key string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM records WHERE collection = $1 AND key = $2`, collection, key)
	if err != nil {
		return s.handlePostgresError("delete", err)
	}
	return nil
}

// buildPageQuery renders the conditions as parameterized jsonb lookups.
func buildPageQuery(collection string, q mangashelf.Query, cursor string, limit int) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString(`SELECT key, version, data FROM records WHERE collection = $1 AND key COLLATE "C" > $2`)
	args := []interface{}{collection, cursor}

	for _, c := range q {
		field := fmt.Sprintf("COALESCE(data->>($%d::text), '')", len(args)+1)
		args = append(args, c.Field)
		value := fmt.Sprintf("$%d::text", len(args)+1)
		args = append(args, c.Value)

		switch c.Op {
		case mangashelf.OpEq:
			sb.WriteString(" AND " + field + " = " + value)
		case mangashelf.OpNotEq:
			sb.WriteString(" AND " + field + " <> " + value)
		case mangashelf.OpContains:
			sb.WriteString(" AND strpos(lower(" + field + "), lower(" + value + ")) > 0")
		}
	}

	args = append(args, limit+1)
	sb.WriteString(fmt.Sprintf(" ORDER BY key COLLATE \"C\" LIMIT $%d", len(args)))
	return sb.String(), args
}

func (s *Store) FetchPage(ctx context.Context, collection string, q mangashelf.Query, cursor string, limit int) (*mangashelf.Page, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if limit < 1 {
		return nil, mangashelf.Invalid("page limit must be positive")
	}

	query, args := buildPageQuery(collection, q, cursor, limit)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, s.handlePostgresError("fetch", err)
	}
	defer rows.Close()

	page := &mangashelf.Page{}
	for rows.Next() {
		var rec mangashelf.Record
		if err := rows.Scan(&rec.Key, &rec.Version, &rec.Data); err != nil {
			return nil, s.handlePostgresError("fetch", err)
		}
		page.Records = append(page.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, s.handlePostgresError("fetch", err)
	}

	if len(page.Records) > limit {
		page.Records = page.Records[:limit]
		page.Next = page.Records[limit-1].Key
	}
	return page, nil
}
