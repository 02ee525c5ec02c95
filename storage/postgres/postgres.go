// Package postgres implements storage.Store backed by PostgreSQL.
//
// Logical tables are rows in doc_tables. Items live in a single documents
// table keyed by (table_name, doc_key) with the item body stored as JSONB,
// so creating a table never issues DDL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/funstudy/funstudy/storage"
)

const foreignKeyViolation = "23503"

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool

	mu       sync.RWMutex
	keyAttrs map[string]string
}

var _ storage.Store = (*Store)(nil)

// NewStore returns a Store backed by the given pgx connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, keyAttrs: make(map[string]string)}
}

// NewStoreFromDSN creates a connection pool from a DSN string, ensures
// the schema exists, and returns a new Store.
func NewStoreFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewStore(pool), nil
}

// Pool returns the underlying connection pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// keyAttribute resolves and caches the key attribute of a table. Table
// definitions are immutable once created.
func (s *Store) keyAttribute(ctx context.Context, table string) (string, error) {
	s.mu.RLock()
	attr, ok := s.keyAttrs[table]
	s.mu.RUnlock()
	if ok {
		return attr, nil
	}
	err := s.pool.QueryRow(ctx,
		`SELECT key_attribute FROM doc_tables WHERE name = $1`, table).Scan(&attr)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%s: %w", table, storage.ErrTableNotFound)
	}
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.keyAttrs[table] = attr
	s.mu.Unlock()
	return attr, nil
}

func (s *Store) CreateTable(ctx context.Context, spec storage.TableSpec) error {
	if spec.Name == "" || spec.KeyAttribute == "" {
		return errors.New("table name and key attribute are required")
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO doc_tables (name, key_attribute) VALUES ($1, $2)
		 ON CONFLICT (name) DO NOTHING`,
		spec.Name, spec.KeyAttribute)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", spec.Name, storage.ErrTableExists)
	}
	return nil
}

func (s *Store) TableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM doc_tables WHERE name = $1)`, table).Scan(&exists)
	return exists, err
}

func (s *Store) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT name FROM doc_tables ORDER BY name COLLATE "C"`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *Store) Get(ctx context.Context, table, key string) (storage.Item, error) {
	var body []byte
	err := s.pool.QueryRow(ctx,
		`SELECT body FROM documents WHERE table_name = $1 AND doc_key = $2`,
		table, key).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.notFoundError(ctx, table, key)
	}
	if err != nil {
		return nil, err
	}
	return decodeItem(body)
}

func (s *Store) Put(ctx context.Context, table string, item storage.Item) error {
	key, body, err := s.prepare(ctx, table, item)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO documents (table_name, doc_key, body) VALUES ($1, $2, $3::jsonb)
		 ON CONFLICT (table_name, doc_key) DO UPDATE SET body = EXCLUDED.body`,
		table, key, body)
	return mapWriteError(table, err)
}

func (s *Store) PutIfAbsent(ctx context.Context, table string, item storage.Item) error {
	key, body, err := s.prepare(ctx, table, item)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO documents (table_name, doc_key, body) VALUES ($1, $2, $3::jsonb)
		 ON CONFLICT (table_name, doc_key) DO NOTHING`,
		table, key, body)
	if err != nil {
		return mapWriteError(table, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s: %w", table, key, storage.ErrConditionFailed)
	}
	return nil
}

// Update merges fields into the stored body with the jsonb concatenation
// operator, which replaces top-level attributes and keeps the rest.
func (s *Store) Update(ctx context.Context, table, key string, fields storage.Item) (storage.Item, error) {
	attr, err := s.keyAttribute(ctx, table)
	if err != nil {
		return nil, err
	}
	patch := storage.Merge(storage.Item{}, fields)
	patch[attr] = key
	body, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("marshaling item: %w", err)
	}
	var out []byte
	err = s.pool.QueryRow(ctx,
		`INSERT INTO documents (table_name, doc_key, body) VALUES ($1, $2, $3::jsonb)
		 ON CONFLICT (table_name, doc_key) DO UPDATE SET body = documents.body || EXCLUDED.body
		 RETURNING body`,
		table, key, string(body)).Scan(&out)
	if err != nil {
		return nil, mapWriteError(table, err)
	}
	return decodeItem(out)
}

func (s *Store) Delete(ctx context.Context, table, key string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM documents WHERE table_name = $1 AND doc_key = $2`, table, key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.notFoundError(ctx, table, key)
	}
	return nil
}

func (s *Store) Scan(ctx context.Context, table string, filter *storage.Filter) ([]storage.Item, error) {
	if _, err := s.keyAttribute(ctx, table); err != nil {
		return nil, err
	}
	var (
		rows pgx.Rows
		err  error
	)
	if filter == nil {
		rows, err = s.pool.Query(ctx,
			`SELECT body FROM documents WHERE table_name = $1`, table)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT body FROM documents WHERE table_name = $1 AND body -> $2 = to_jsonb($3::text)`,
			table, filter.Attribute, filter.Equals)
	}
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

func (s *Store) BatchGet(ctx context.Context, table string, keys []string) ([]storage.Item, error) {
	if _, err := s.keyAttribute(ctx, table); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT body FROM documents WHERE table_name = $1 AND doc_key = ANY($2)`,
		table, keys)
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

// BatchPut sends every upsert in one pgx batch inside a transaction.
func (s *Store) BatchPut(ctx context.Context, table string, items []storage.Item) error {
	batch := &pgx.Batch{}
	for _, item := range items {
		key, body, err := s.prepare(ctx, table, item)
		if err != nil {
			return err
		}
		batch.Queue(
			`INSERT INTO documents (table_name, doc_key, body) VALUES ($1, $2, $3::jsonb)
			 ON CONFLICT (table_name, doc_key) DO UPDATE SET body = EXCLUDED.body`,
			table, key, body)
	}
	if batch.Len() == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return mapWriteError(table, err)
	}
	return tx.Commit(ctx)
}

func (s *Store) prepare(ctx context.Context, table string, item storage.Item) (string, string, error) {
	attr, err := s.keyAttribute(ctx, table)
	if err != nil {
		return "", "", err
	}
	key, err := storage.KeyOf(item, attr)
	if err != nil {
		return "", "", err
	}
	body, err := json.Marshal(item)
	if err != nil {
		return "", "", fmt.Errorf("marshaling item: %w", err)
	}
	return key, string(body), nil
}

func collectItems(rows pgx.Rows) ([]storage.Item, error) {
	bodies, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, err
	}
	items := make([]storage.Item, 0, len(bodies))
	for _, body := range bodies {
		item, err := decodeItem(body)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func decodeItem(body []byte) (storage.Item, error) {
	var item storage.Item
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, fmt.Errorf("unmarshaling item: %w", err)
	}
	return item, nil
}

// mapWriteError turns a foreign-key violation on documents.table_name into
// ErrTableNotFound; the table may have been dropped after its key attribute
// was cached.
func mapWriteError(table string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
		return fmt.Errorf("%s: %w", table, storage.ErrTableNotFound)
	}
	return err
}

// notFoundError distinguishes a missing table from a missing item within an
// existing table.
func (s *Store) notFoundError(ctx context.Context, table, key string) error {
	exists, err := s.TableExists(ctx, table)
	if err == nil && !exists {
		return fmt.Errorf("%s: %w", table, storage.ErrTableNotFound)
	}
	return fmt.Errorf("%s/%s: %w", table, key, storage.ErrNotFound)
}
