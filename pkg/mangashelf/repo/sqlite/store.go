package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/tendant/mangashelf/pkg/mangashelf"
	"github.com/tendant/mangashelf/pkg/mangashelf/repo/sqlite/migrations"
)

const (
	busyTimeoutMS   = 5000
	maxOpenConns    = 1
	maxIdleConns    = 1
	connMaxLifetime = 5 * time.Minute
)

// Store implements mangashelf.ObjectStore on an SQLite database file
type Store struct {
	db *sql.DB
}

// Open opens the database at path, configures it and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn, err := sqliteDSN(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if err := configureDB(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate applies the embedded migrations
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

func configureDB(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		fmt.Sprintf("PRAGMA busy_timeout = %d;", busyTimeoutMS),
	}
	// Pragmas are per connection, so pin the pool to one connection first.
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	for _, stmt := range pragmas {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func sqliteDSN(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("db path is required")
	}
	u := url.URL{Scheme: "file", Path: path}
	return u.String(), nil
}

func storeError(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return mangashelf.ErrNotFound
	}
	return fmt.Errorf("sqlite %s: %w", op, err)
}

func (s *Store) Put(ctx context.Context, collection string, rec mangashelf.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (collection, key, version, data) VALUES (?, ?, ?, ?)
		ON CONFLICT (collection, key) DO UPDATE
		SET version = excluded.version, data = excluded.data,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`,
		collection, rec.Key, rec.Version, string(rec.Data))
	if err != nil {
		return storeError("put", err)
	}
	return nil
}

func (s *Store) Replace(ctx context.Context, collection string, rec mangashelf.Record, prevVersion int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE records SET version = ?, data = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE collection = ? AND key = ? AND version = ?`,
		rec.Version, string(rec.Data), collection, rec.Key, prevVersion)
	if err != nil {
		return storeError("replace", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeError("replace", err)
	}
	if n == 1 {
		return nil
	}

	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM records WHERE collection = ? AND key = ?`,
		collection, rec.Key).Scan(&one)
	if err != nil {
		return storeError("replace", err)
	}
	return mangashelf.ErrVersionConflict
}

func (s *Store) Get(ctx context.Context, collection, key string) (*mangashelf.Record, error) {
	var data string
	rec := mangashelf.Record{Key: key}
	err := s.db.QueryRowContext(ctx, `SELECT version, data FROM records WHERE collection = ? AND key = ?`,
		collection, key).Scan(&rec.Version, &data)
	if err != nil {
		return nil, storeError("get", err)
	}
	rec.Data = []byte(data)
	return &rec, nil
}

func (s *Store) Delete(ctx context.Context, collection, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE collection = ? AND key = ?`, collection, key)
	if err != nil {
		return storeError("delete", err)
	}
	return nil
}

// fieldExpr renders a top-level field as text with the same conventions as
// mangashelf.FieldText: JSON booleans as true/false, null as "".
const fieldExpr = `(CASE json_type(data, '$.' || ?) WHEN 'true' THEN 'true' WHEN 'false' THEN 'false' ` +
	`ELSE COALESCE(CAST(json_extract(data, '$.' || ?) AS TEXT), '') END)`

func buildPageQuery(collection string, q mangashelf.Query, cursor string, limit int) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`SELECT key, version, data FROM records WHERE collection = ? AND key > ?`)
	args := []any{collection, cursor}

	for _, c := range q {
		switch c.Op {
		case mangashelf.OpEq:
			sb.WriteString(" AND " + fieldExpr + " = ?")
		case mangashelf.OpNotEq:
			sb.WriteString(" AND " + fieldExpr + " <> ?")
		case mangashelf.OpContains:
			sb.WriteString(" AND instr(lower(" + fieldExpr + "), lower(?)) > 0")
		}
		args = append(args, c.Field, c.Field, c.Value)
	}

	sb.WriteString(" ORDER BY key LIMIT ?")
	args = append(args, limit+1)
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
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("fetch", err)
	}
	defer rows.Close()

	page := &mangashelf.Page{}
	for rows.Next() {
		var (
			rec  mangashelf.Record
			data string
		)
		if err := rows.Scan(&rec.Key, &rec.Version, &data); err != nil {
			return nil, storeError("fetch", err)
		}
		rec.Data = []byte(data)
		page.Records = append(page.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("fetch", err)
	}

	if len(page.Records) > limit {
		page.Records = page.Records[:limit]
		page.Next = page.Records[limit-1].Key
	}
	return page, nil
}
