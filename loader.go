package sheetpreview

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nao1215/sheetpreview/domain/model"
)

// LoadStrategy selects how a table is refreshed by the Loader.
type LoadStrategy int

const (
	// LoadStrategySwap builds the new rows in a staging table and renames it over
	// the old table. Readers never observe an empty table.
	LoadStrategySwap LoadStrategy = iota
	// LoadStrategyTruncate creates the table if absent, recreates it when its
	// schema changed, deletes every row and inserts the new ones.
	LoadStrategyTruncate
)

// String returns the string representation of LoadStrategy
func (s LoadStrategy) String() string {
	switch s {
	case LoadStrategySwap:
		return "swap"
	case LoadStrategyTruncate:
		return "truncate"
	default:
		return "unknown"
	}
}

// ParseLoadStrategy parses "swap" or "truncate".
func ParseLoadStrategy(s string) (LoadStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "swap":
		return LoadStrategySwap, nil
	case "truncate":
		return LoadStrategyTruncate, nil
	default:
		return LoadStrategySwap, fmt.Errorf("unknown load strategy %q: must be swap or truncate", s)
	}
}

const (
	// maxSQLVariables is SQLite's default SQLITE_MAX_VARIABLE_NUMBER
	maxSQLVariables = 32766
	// stagePrefix names the staging table of a swap load
	stagePrefix = "_stage_"
)

// LoadResult describes one completed table load.
type LoadResult struct {
	// Table is the materialized table name.
	Table string `json:"table"`
	// RowsLoaded always equals the number of rows given to Load.
	RowsLoaded int64 `json:"rows_loaded"`
	// Created is true when the table did not exist before the load.
	Created bool `json:"created"`
	// SchemaChanged is true when an existing table was rebuilt with a different column set or types.
	SchemaChanged bool `json:"schema_changed"`
	// CoercionFallbacks counts cells stored as raw text because they did not fit their column type.
	CoercionFallbacks int `json:"coercion_fallbacks"`
}

// Loader replaces the full contents of one table per call.
// Every load runs in a single transaction while holding the table's lock, so a
// failed load leaves the table exactly as it was.
type Loader struct {
	store     *Store
	batchSize int
	strategy  LoadStrategy
}

// loadRequest carries one sheet to the loader.
type loadRequest struct {
	schema   *model.TableSchema
	objects  []model.Object
	dataset  string
	sheet    string
	rawSheet string
}

// Load replaces the rows of schema.Name with rows, creating or rebuilding the
// table as needed. Every element of rows must be a JSON object.
//
// A cell that cannot be represented in its column type is stored as raw text and
// counted in LoadResult.CoercionFallbacks. Any database failure is returned as a
// *StorageError and the table keeps its previous contents.
func (l *Loader) Load(ctx context.Context, schema *model.TableSchema, rows []any) (*LoadResult, error) {
	if err := validateSchema(schema); err != nil {
		return nil, err
	}
	objects, err := model.AsObjects(rows)
	if err != nil {
		return nil, err
	}

	req := loadRequest{schema: schema, objects: objects}
	if dataset, sheet, ok := model.SplitTableName(schema.Name); ok {
		req.dataset, req.sheet, req.rawSheet = dataset, sheet, sheet
	} else {
		req.sheet, req.rawSheet = schema.Name, schema.Name
	}
	return l.load(ctx, req)
}

func (l *Loader) load(ctx context.Context, req loadRequest) (*LoadResult, error) {
	table := req.schema.Name
	unlock := l.store.tables.Lock(table)
	defer unlock()

	start := time.Now()
	tx, release, err := l.store.beginWrite(ctx, table)
	if err != nil {
		return nil, err
	}
	defer release()

	var result *LoadResult
	switch l.strategy {
	case LoadStrategyTruncate:
		result, err = l.truncateAndLoad(ctx, tx, req)
	default:
		result, err = l.swapAndLoad(ctx, tx, req)
	}
	if err != nil {
		return nil, rollback(tx, err)
	}

	rec := tableRecord{
		Table:    table,
		Dataset:  req.dataset,
		Sheet:    req.sheet,
		RawSheet: req.rawSheet,
		RowCount: result.RowsLoaded,
	}
	if err := writeTableRecord(ctx, tx, rec, req.schema, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return nil, rollback(tx, model.NewStorageError("record metadata", table, err))
	}

	if err := tx.Commit(); err != nil {
		return nil, rollback(tx, model.NewStorageError("commit", table, err))
	}

	l.store.logger.InfoContext(ctx, "table loaded",
		slog.String("table", table),
		slog.String("strategy", l.strategy.String()),
		slog.Int64("rows", result.RowsLoaded),
		slog.Int("columns", len(req.schema.Columns)),
		slog.Bool("created", result.Created),
		slog.Bool("schema_changed", result.SchemaChanged),
		slog.Duration("elapsed", time.Since(start)),
	)
	if result.CoercionFallbacks > 0 {
		l.store.logger.DebugContext(ctx, "cells stored as raw text",
			slog.String("table", table),
			slog.Int("cells", result.CoercionFallbacks),
		)
	}
	return result, nil
}

// swapAndLoad fills a staging table and renames it over the target.
func (l *Loader) swapAndLoad(ctx context.Context, tx *sql.Tx, req loadRequest) (*LoadResult, error) {
	table := req.schema.Name
	stage := stagePrefix + table

	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+sqlIdent(stage)); err != nil {
		return nil, model.NewStorageError("drop stale staging table", table, err)
	}
	if _, err := tx.ExecContext(ctx, createTableSQL(stage, req.schema)); err != nil {
		return nil, model.NewStorageError("create staging table", table, err)
	}

	fallbacks, err := l.insertRows(ctx, tx, stage, req.schema, req.objects)
	if err != nil {
		return nil, model.NewStorageError("insert rows", table, err)
	}
	if err := verifyRowCount(ctx, tx, stage, len(req.objects)); err != nil {
		return nil, model.NewStorageError("verify row count", table, err)
	}

	exists, err := tableExists(ctx, tx, table)
	if err != nil {
		return nil, model.NewStorageError("inspect table", table, err)
	}
	previous, err := registeredSchema(ctx, tx, table)
	if err != nil {
		return nil, model.NewStorageError("read table schema", table, err)
	}

	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+sqlIdent(table)); err != nil {
		return nil, model.NewStorageError("drop previous table", table, err)
	}
	if _, err := tx.ExecContext(ctx, `ALTER TABLE `+sqlIdent(stage)+` RENAME TO `+sqlIdent(table)); err != nil {
		return nil, model.NewStorageError("swap staging table", table, err)
	}

	return &LoadResult{
		Table:             table,
		RowsLoaded:        int64(len(req.objects)),
		Created:           !exists,
		SchemaChanged:     exists && !previous.Equal(req.schema),
		CoercionFallbacks: fallbacks,
	}, nil
}

// truncateAndLoad reuses the table when its schema is unchanged.
func (l *Loader) truncateAndLoad(ctx context.Context, tx *sql.Tx, req loadRequest) (*LoadResult, error) {
	table := req.schema.Name
	result := &LoadResult{Table: table, RowsLoaded: int64(len(req.objects))}

	exists, err := tableExists(ctx, tx, table)
	if err != nil {
		return nil, model.NewStorageError("inspect table", table, err)
	}
	result.Created = !exists

	if exists {
		previous, err := registeredSchema(ctx, tx, table)
		if err != nil {
			return nil, model.NewStorageError("read table schema", table, err)
		}
		if !previous.Equal(req.schema) {
			// Schema drift: the latest shape wins.
			if _, err := tx.ExecContext(ctx, `DROP TABLE `+sqlIdent(table)); err != nil {
				return nil, model.NewStorageError("drop drifted table", table, err)
			}
			result.SchemaChanged = true
			exists = false
		}
	}

	if exists {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+sqlIdent(table)); err != nil {
			return nil, model.NewStorageError("truncate table", table, err)
		}
	} else if _, err := tx.ExecContext(ctx, createTableSQL(table, req.schema)); err != nil {
		return nil, model.NewStorageError("create table", table, err)
	}

	fallbacks, err := l.insertRows(ctx, tx, table, req.schema, req.objects)
	if err != nil {
		return nil, model.NewStorageError("insert rows", table, err)
	}
	if err := verifyRowCount(ctx, tx, table, len(req.objects)); err != nil {
		return nil, model.NewStorageError("verify row count", table, err)
	}
	result.CoercionFallbacks = fallbacks
	return result, nil
}

// insertRows bulk-inserts objects with multi-row INSERT statements.
// The hidden row id is the 1-based position of the row in the sheet.
func (l *Loader) insertRows(ctx context.Context, tx *sql.Tx, table string, schema *model.TableSchema, objects []model.Object) (int, error) {
	if len(objects) == 0 {
		return 0, nil
	}

	width := len(schema.Columns) + 1
	perStatement := l.batchSize
	if limit := maxSQLVariables / width; perStatement > limit {
		perStatement = limit
	}
	if perStatement < 1 {
		perStatement = 1
	}

	prefix := insertPrefix(table, schema)
	fullSQL := prefix + valuesPlaceholders(perStatement, width)
	var fullStmt *sql.Stmt
	defer func() {
		if fullStmt != nil {
			_ = fullStmt.Close()
		}
	}()

	index := make(map[string]int, len(schema.Columns))
	for j, c := range schema.Columns {
		index[sourceKey(c)] = j
	}
	cells := make([]any, len(schema.Columns))

	fallbacks := 0
	args := make([]any, 0, perStatement*width)
	for start := 0; start < len(objects); start += perStatement {
		end := min(start+perStatement, len(objects))
		args = args[:0]
		for i := start; i < end; i++ {
			args = append(args, int64(i+1))
			objects[i].Project(index, cells)
			for j, c := range schema.Columns {
				v, ok := model.CoerceValue(c.Type, cells[j])
				if !ok {
					fallbacks++
				}
				args = append(args, v)
			}
		}

		if end-start == perStatement {
			if fullStmt == nil {
				stmt, err := tx.PrepareContext(ctx, fullSQL)
				if err != nil {
					return fallbacks, fmt.Errorf("prepare insert: %w", err)
				}
				fullStmt = stmt
			}
			if _, err := fullStmt.ExecContext(ctx, args...); err != nil {
				return fallbacks, fmt.Errorf("insert rows %d-%d: %w", start+1, end, err)
			}
			continue
		}

		if _, err := tx.ExecContext(ctx, prefix+valuesPlaceholders(end-start, width), args...); err != nil {
			return fallbacks, fmt.Errorf("insert rows %d-%d: %w", start+1, end, err)
		}
	}
	return fallbacks, nil
}

func verifyRowCount(ctx context.Context, tx *sql.Tx, table string, want int) error {
	var got int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+sqlIdent(table)).Scan(&got); err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("expected %d rows, found %d", want, got)
	}
	return nil
}

// validateSchema checks a schema handed to Load by a caller.
func validateSchema(schema *model.TableSchema) error {
	if schema == nil {
		return &ValidationError{Field: "schema", Reason: "must not be nil"}
	}
	if strings.TrimSpace(schema.Name) == "" {
		return &ValidationError{Field: "table", Value: schema.Name, Reason: "must not be empty"}
	}
	if model.IsReservedName(schema.Name) {
		return &ValidationError{Field: "table", Value: schema.Name, Reason: "names starting with an underscore are reserved"}
	}
	if len(schema.Columns) == 0 {
		return &ValidationError{Field: "columns", Value: schema.Name, Reason: "a table needs at least one column"}
	}

	seen := make(map[string]struct{}, len(schema.Columns))
	for _, c := range schema.Columns {
		if c.Name == "" {
			return &ValidationError{Field: "column", Value: c.Name, Reason: "must not be empty"}
		}
		if model.IsReservedName(c.Name) && c.Name != model.EmptySchemaColumn {
			return &ValidationError{Field: "column", Value: c.Name, Reason: "names starting with an underscore are reserved"}
		}
		if _, dup := seen[c.Name]; dup {
			return &ValidationError{Field: "column", Value: c.Name, Reason: "duplicate column name"}
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}

// sourceKey is the JSON key a column reads its values from.
func sourceKey(c model.Column) string {
	if c.Source != "" || c.Name == model.EmptySchemaColumn {
		return c.Source
	}
	return c.Name
}

func createTableSQL(table string, schema *model.TableSchema) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(sqlIdent(model.RowIDColumn))
	b.WriteString(" INTEGER PRIMARY KEY")
	for _, c := range schema.Columns {
		b.WriteString(", ")
		b.WriteString(sqlIdent(c.Name))
		b.WriteByte(' ')
		b.WriteString(c.Type.String())
	}
	b.WriteString(")")
	return b.String()
}

func insertPrefix(table string, schema *model.TableSchema) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(sqlIdent(model.RowIDColumn))
	for _, c := range schema.Columns {
		b.WriteString(", ")
		b.WriteString(sqlIdent(c.Name))
	}
	b.WriteString(") VALUES ")
	return b.String()
}

// valuesPlaceholders renders "(?, ?), (?, ?)" for rows x width.
func valuesPlaceholders(rows, width int) string {
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", width), ", ") + ")"
	var b strings.Builder
	b.Grow(rows * (len(tuple) + 2))
	for i := 0; i < rows; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(tuple)
	}
	return b.String()
}

// sqlIdent quotes an identifier for SQLite.
func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
