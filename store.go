package sheetpreview

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/nao1215/sheetpreview/domain/model"
)

// Reserved metadata tables. Their names start with an underscore so they can never
// collide with a normalized "<dataset>__<sheet>" table.
const (
	datasetsTable = "_preview_datasets"
	tablesTable   = "_preview_tables"
	columnsTable  = "_preview_columns"
)

var metadataDDL = []string{
	`CREATE TABLE IF NOT EXISTS ` + datasetsTable + ` (
		name      TEXT PRIMARY KEY,
		raw_name  TEXT NOT NULL,
		source    TEXT NOT NULL DEFAULT '',
		run_id    TEXT NOT NULL DEFAULT '',
		loaded_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ` + tablesTable + ` (
		table_name TEXT PRIMARY KEY,
		dataset    TEXT NOT NULL,
		sheet      TEXT NOT NULL,
		raw_sheet  TEXT NOT NULL,
		row_count  INTEGER NOT NULL,
		loaded_at  TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS _preview_tables_dataset ON ` + tablesTable + ` (dataset)`,
	`CREATE TABLE IF NOT EXISTS ` + columnsTable + ` (
		table_name TEXT NOT NULL,
		position   INTEGER NOT NULL,
		name       TEXT NOT NULL,
		source     TEXT NOT NULL,
		type       TEXT NOT NULL,
		PRIMARY KEY (table_name, position)
	)`,
}

// Store owns the SQLite handle and the registry of ingested datasets and tables.
// It is safe for concurrent use. Create one with NewBuilder or Open.
type Store struct {
	db          *sql.DB
	path        string
	logger      *slog.Logger
	batchSize   int
	strategy    LoadStrategy
	parallelism int

	// tables serializes loads of the same table, datasets whole-dataset refreshes.
	// Lock order: dataset, table, writer.
	tables   *keyedMutex
	datasets *keyedMutex
	// writer admits one write transaction at a time. SQLite allows a single
	// writer per file; waiting here instead of on busy_timeout keeps long loads
	// from failing their siblings with SQLITE_BUSY.
	writer *semaphore.Weighted
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Loader returns a table loader using the store's batch size and load strategy.
func (s *Store) Loader() *Loader {
	return &Loader{store: s, batchSize: s.batchSize, strategy: s.strategy}
}

// Ingestor returns a dataset ingestor bound to the store.
func (s *Store) Ingestor() *Ingestor {
	return &Ingestor{store: s, loader: s.Loader()}
}

func (s *Store) ensureMetadata(ctx context.Context) error {
	for _, ddl := range metadataDDL {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return model.NewStorageError("create metadata tables", "", err)
		}
	}
	return nil
}

// queryer is implemented by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// tableExists reports whether a physical table with the given name exists.
func tableExists(ctx context.Context, q queryer, table string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// registeredSchema reads the recorded schema of a table. It returns nil without
// error when the table is not registered.
func registeredSchema(ctx context.Context, q queryer, table string) (*model.TableSchema, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT name, source, type FROM `+columnsTable+` WHERE table_name = ? ORDER BY position`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	schema := &model.TableSchema{Name: table}
	for rows.Next() {
		var c model.Column
		var typ string
		if err := rows.Scan(&c.Name, &c.Source, &typ); err != nil {
			return nil, err
		}
		c.Type = model.ParseColumnType(typ)
		schema.Columns = append(schema.Columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(schema.Columns) == 0 {
		return nil, nil
	}
	return schema, nil
}

// tableRecord is one row of the table registry.
type tableRecord struct {
	Table    string
	Dataset  string
	Sheet    string
	RawSheet string
	RowCount int64
}

// writeTableRecord replaces the registry entries of one table.
func writeTableRecord(ctx context.Context, q queryer, rec tableRecord, schema *model.TableSchema, loadedAt string) error {
	_, err := q.ExecContext(ctx, `INSERT INTO `+tablesTable+`
		(table_name, dataset, sheet, raw_sheet, row_count, loaded_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(table_name) DO UPDATE SET
			dataset = excluded.dataset,
			sheet = excluded.sheet,
			raw_sheet = excluded.raw_sheet,
			row_count = excluded.row_count,
			loaded_at = excluded.loaded_at`,
		rec.Table, rec.Dataset, rec.Sheet, rec.RawSheet, rec.RowCount, loadedAt)
	if err != nil {
		return fmt.Errorf("record table: %w", err)
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM `+columnsTable+` WHERE table_name = ?`, rec.Table); err != nil {
		return fmt.Errorf("clear columns: %w", err)
	}
	for i, c := range schema.Columns {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO `+columnsTable+` (table_name, position, name, source, type) VALUES (?, ?, ?, ?, ?)`,
			rec.Table, i, c.Name, c.Source, c.Type.String()); err != nil {
			return fmt.Errorf("record column %s: %w", c.Name, err)
		}
	}
	return nil
}

// dropTable removes a table and its registry entries.
func dropTable(ctx context.Context, q queryer, table string) error {
	if _, err := q.ExecContext(ctx, `DROP TABLE IF EXISTS `+sqlIdent(table)); err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM `+columnsTable+` WHERE table_name = ?`, table); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, `DELETE FROM `+tablesTable+` WHERE table_name = ?`, table)
	return err
}

// beginWrite waits for the store's write slot and opens a write transaction.
// The returned release function must be called once the transaction has ended.
func (s *Store) beginWrite(ctx context.Context, table string) (*sql.Tx, func(), error) {
	if err := s.writer.Acquire(ctx, 1); err != nil {
		return nil, nil, model.NewStorageError("wait for writer", table, err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.writer.Release(1)
		return nil, nil, model.NewStorageError("begin transaction", table, err)
	}
	return tx, func() { s.writer.Release(1) }, nil
}

// rollback aborts tx and joins any rollback failure to err.
func rollback(tx *sql.Tx, err error) error {
	if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
		return errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
	}
	return err
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock acquires the mutex for key and returns its unlock function.
func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
