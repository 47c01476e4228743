/*
Package sqlite provides a SQLite-backed Entity Store.

PURPOSE:
  Implements crm.EntityStore and crm.TxStore using SQLite. Entities are
  stored as JSON documents; the reference fields every entity declares are
  written to a separate index table so ListBy<Related> queries are indexed
  lookups.

KEY TABLES:
  entities:    One row per (entity_type, id), JSON payload + refs
  entity_refs: (entity_type, id, field, value) reference index

ORDERING:
  Upserts keep the original rowid, so ORDER BY rowid is first-insertion
  order for every listing.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for the
  whole transaction; the tx view never takes the lock again.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/sales.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  quotes := quote.NewService(store, orders)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - crm/store.go: Interface definitions
  - crm/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/sales-engine/crm"
)

// Store implements crm.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every new connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entities (
		entity_type TEXT NOT NULL,
		id TEXT NOT NULL,
		data_json TEXT NOT NULL,
		refs_json TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (entity_type, id)
	);

	CREATE TABLE IF NOT EXISTS entity_refs (
		entity_type TEXT NOT NULL,
		id TEXT NOT NULL,
		field TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (entity_type, id, field),
		FOREIGN KEY (entity_type, id) REFERENCES entities(entity_type, id) ON DELETE CASCADE
	);

	-- ListBy<Related> lookups
	CREATE INDEX IF NOT EXISTS idx_entity_refs_lookup
		ON entity_refs(entity_type, field, value);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ENTITY STORE (crm.EntityStore interface)
// =============================================================================

// Get returns one record or crm.ErrRecordNotFound.
func (s *Store) Get(ctx context.Context, t crm.EntityType, id string) (crm.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return get(ctx, s.db, t, id)
}

// List returns matching records in insertion order.
func (s *Store) List(ctx context.Context, t crm.EntityType, f crm.Filter) ([]crm.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return list(ctx, s.db, t, f)
}

// Put upserts a record and rewrites its reference index in one transaction.
func (s *Store) Put(ctx context.Context, rec crm.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := put(ctx, sqlTx, rec); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// Remove deletes a record; its refs go with it (ON DELETE CASCADE).
func (s *Store) Remove(ctx context.Context, t crm.EntityType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return remove(ctx, s.db, t, id)
}

func get(ctx context.Context, q querier, t crm.EntityType, id string) (crm.Record, error) {
	var data, refsJSON string
	err := q.QueryRowContext(ctx,
		`SELECT data_json, refs_json FROM entities WHERE entity_type = ? AND id = ?`,
		string(t), id,
	).Scan(&data, &refsJSON)
	if err == sql.ErrNoRows {
		return crm.Record{}, crm.ErrRecordNotFound
	}
	if err != nil {
		return crm.Record{}, fmt.Errorf("failed to get %s %s: %w", t, id, err)
	}
	return toRecord(t, id, data, refsJSON)
}

func list(ctx context.Context, q querier, t crm.EntityType, f crm.Filter) ([]crm.Record, error) {
	query := `SELECT e.id, e.data_json, e.refs_json FROM entities e WHERE e.entity_type = ?`
	args := []any{string(t)}

	fields := make([]string, 0, len(f))
	for field := range f {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		query += ` AND EXISTS (SELECT 1 FROM entity_refs r
			WHERE r.entity_type = e.entity_type AND r.id = e.id AND r.field = ? AND r.value = ?)`
		args = append(args, field, f[field])
	}
	query += ` ORDER BY e.rowid`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", t, err)
	}
	defer rows.Close()

	var out []crm.Record
	for rows.Next() {
		var id, data, refsJSON string
		if err := rows.Scan(&id, &data, &refsJSON); err != nil {
			return nil, err
		}
		rec, err := toRecord(t, id, data, refsJSON)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func put(ctx context.Context, q querier, rec crm.Record) error {
	refs := rec.Refs
	if refs == nil {
		refs = map[string]string{}
	}
	refsJSON, err := json.Marshal(refs)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	// ON CONFLICT keeps the rowid, so list order survives updates
	_, err = q.ExecContext(ctx, `
		INSERT INTO entities (entity_type, id, data_json, refs_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, id) DO UPDATE SET
			data_json = excluded.data_json,
			refs_json = excluded.refs_json,
			updated_at = excluded.updated_at
	`, string(rec.Type), rec.ID, string(rec.Data), string(refsJSON), now, now)
	if err != nil {
		return fmt.Errorf("failed to put %s %s: %w", rec.Type, rec.ID, err)
	}

	if _, err := q.ExecContext(ctx,
		`DELETE FROM entity_refs WHERE entity_type = ? AND id = ?`,
		string(rec.Type), rec.ID,
	); err != nil {
		return fmt.Errorf("failed to clear refs: %w", err)
	}
	for field, value := range refs {
		if value == "" {
			continue
		}
		if _, err := q.ExecContext(ctx,
			`INSERT INTO entity_refs (entity_type, id, field, value) VALUES (?, ?, ?, ?)`,
			string(rec.Type), rec.ID, field, value,
		); err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("duplicate ref %s on %s %s: %w", field, rec.Type, rec.ID, err)
			}
			return fmt.Errorf("failed to index ref: %w", err)
		}
	}
	return nil
}

func remove(ctx context.Context, q querier, t crm.EntityType, id string) error {
	res, err := q.ExecContext(ctx,
		`DELETE FROM entities WHERE entity_type = ? AND id = ?`,
		string(t), id,
	)
	if err != nil {
		return fmt.Errorf("failed to remove %s %s: %w", t, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return crm.ErrRecordNotFound
	}
	return nil
}

func toRecord(t crm.EntityType, id, data, refsJSON string) (crm.Record, error) {
	rec := crm.Record{Type: t, ID: id, Data: json.RawMessage(data)}
	if refsJSON != "" {
		if err := json.Unmarshal([]byte(refsJSON), &rec.Refs); err != nil {
			return crm.Record{}, fmt.Errorf("corrupt refs on %s %s: %w", t, id, err)
		}
	}
	return rec, nil
}

// =============================================================================
// TRANSACTIONAL STORE (crm.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store crm.EntityStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) Get(ctx context.Context, t crm.EntityType, id string) (crm.Record, error) {
	return get(ctx, ts.tx, t, id)
}

func (ts *txStore) List(ctx context.Context, t crm.EntityType, f crm.Filter) ([]crm.Record, error) {
	return list(ctx, ts.tx, t, f)
}

func (ts *txStore) Put(ctx context.Context, rec crm.Record) error {
	return put(ctx, ts.tx, rec)
}

func (ts *txStore) Remove(ctx context.Context, t crm.EntityType, id string) error {
	return remove(ctx, ts.tx, t, id)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"entity_refs", "entities"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Count returns how many records of a type are stored.
func (s *Store) Count(ctx context.Context, t crm.EntityType) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entities WHERE entity_type = ?`, string(t),
	).Scan(&n)
	return n, err
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Compile-time interface checks
var (
	_ crm.TxStore     = (*Store)(nil)
	_ crm.EntityStore = (*txStore)(nil)
)
