package sheetpreview

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"modernc.org/sqlite"

	"github.com/nao1215/sheetpreview/domain/model"
)

// Query limits
const (
	// DefaultLimit is the page size used when RowQuery.Limit is zero
	DefaultLimit = 50
	// MaxLimit is the largest accepted page size
	MaxLimit = 200
	// MaxSearchLength is the longest accepted search string, in bytes
	MaxSearchLength = 200
)

// Order directions
const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// likeEscape is the escape character used in LIKE patterns
const likeEscape = `\`

// foldFunc is the SQL function applying Unicode case folding to a TEXT value.
// SQLite's own LIKE and lower() only fold ASCII letters.
const foldFunc = "preview_fold"

func init() {
	sqlite.MustRegisterDeterministicScalarFunction(foldFunc, 1, foldSQLValue)
}

func foldSQLValue(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case string:
		return foldCase(v), nil
	case []byte:
		return foldCase(string(v)), nil
	default:
		return v, nil
	}
}

// foldCase applies full Unicode case folding. A Caser keeps state, so each
// call gets its own.
func foldCase(s string) string {
	return cases.Fold().String(s)
}

// DatasetInfo describes an ingested dataset.
type DatasetInfo struct {
	Name string `json:"dataset"`
	// RawName is the dataset name before normalization.
	RawName  string      `json:"raw_name"`
	Source   string      `json:"source,omitempty"`
	RunID    string      `json:"run_id"`
	LoadedAt time.Time   `json:"loaded_at"`
	Sheets   []SheetInfo `json:"sheets"`
}

// Tables returns the table names of the dataset's sheets.
func (d DatasetInfo) Tables() []string {
	tables := make([]string, len(d.Sheets))
	for i, s := range d.Sheets {
		tables[i] = s.Table
	}
	return tables
}

// SheetInfo describes one materialized sheet.
type SheetInfo struct {
	Sheet    string `json:"sheet"`
	RawSheet string `json:"raw_sheet"`
	Table    string `json:"table"`
	RowCount int64  `json:"count"`
}

// RowQuery selects a page of rows.
type RowQuery struct {
	// Limit is the page size, 1..MaxLimit. Zero means DefaultLimit.
	Limit int
	// Offset is the number of rows to skip.
	Offset int
	// Search matches as a substring of any TEXT column. Both sides are compared
	// after Unicode case folding, so "école" finds "ÉCOLE". Accents are significant.
	Search string
	// OrderBy names the column to sort by. Empty keeps insertion order.
	OrderBy string
	// OrderDir is "asc" (default) or "desc".
	OrderDir string
}

// Row is one table row with its values in column order.
type Row = model.Object

// RowPage is one page of a table listing.
type RowPage struct {
	Table   string         `json:"table"`
	Columns []model.Column `json:"columns"`
	// Total is the number of rows matching the search, across all pages.
	Total    int64  `json:"total"`
	Limit    int    `json:"limit"`
	Offset   int    `json:"offset"`
	OrderBy  string `json:"order_by,omitempty"`
	OrderDir string `json:"order_dir"`
	Rows     []Row  `json:"rows"`
}

// ListDatasets returns every ingested dataset with its sheets, ordered by name.
func (s *Store) ListDatasets(ctx context.Context) ([]DatasetInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, raw_name, source, run_id, loaded_at FROM `+datasetsTable+` ORDER BY name`)
	if err != nil {
		return nil, model.NewStorageError("list datasets", "", err)
	}
	defer rows.Close()

	datasets := []DatasetInfo{}
	for rows.Next() {
		var d DatasetInfo
		var loadedAt string
		if err := rows.Scan(&d.Name, &d.RawName, &d.Source, &d.RunID, &loadedAt); err != nil {
			return nil, model.NewStorageError("list datasets", "", err)
		}
		d.LoadedAt, _ = time.Parse(time.RFC3339, loadedAt)
		datasets = append(datasets, d)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewStorageError("list datasets", "", err)
	}
	rows.Close()

	for i := range datasets {
		sheets, err := s.sheets(ctx, datasets[i].Name)
		if err != nil {
			return nil, err
		}
		datasets[i].Sheets = sheets
	}
	return datasets, nil
}

// ListSheets returns the sheets of a dataset with their row counts, ordered by
// table name. The dataset may be given raw or normalized.
func (s *Store) ListSheets(ctx context.Context, dataset string) ([]SheetInfo, error) {
	name := model.NormalizeName(dataset)
	ok, err := s.datasetExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &NotFoundError{Resource: "dataset", Name: dataset}
	}
	return s.sheets(ctx, name)
}

// GetSchema returns the ordered columns of a table.
func (s *Store) GetSchema(ctx context.Context, table string) (*model.TableSchema, error) {
	if model.IsReservedName(table) {
		return nil, &NotFoundError{Resource: "table", Name: table}
	}
	schema, err := registeredSchema(ctx, s.db, table)
	if err != nil {
		return nil, model.NewStorageError("read table schema", table, err)
	}
	if schema == nil {
		return nil, &NotFoundError{Resource: "table", Name: table}
	}
	return schema, nil
}

// QueryRows returns one page of a table.
//
// Search matches as a case-insensitive substring of any TEXT column; numeric and
// DATETIME columns are never searched, so a table without TEXT columns matches
// nothing. Rows are ordered by OrderBy with the sheet position as tie-break, or by
// sheet position alone when OrderBy is empty.
//
// The schema, the total and the rows are read from one snapshot, so a reload
// committing meanwhile is either fully visible or not at all.
func (s *Store) QueryRows(ctx context.Context, table string, q RowQuery) (page *RowPage, err error) {
	if model.IsReservedName(table) {
		return nil, &NotFoundError{Resource: "table", Name: table}
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, model.NewStorageError("begin read", table, err)
	}
	defer func() {
		if err != nil {
			err = rollback(tx, err)
			return
		}
		if commitErr := tx.Commit(); commitErr != nil {
			page, err = nil, model.NewStorageError("end read", table, commitErr)
		}
	}()

	schema, err := registeredSchema(ctx, tx, table)
	if err != nil {
		return nil, model.NewStorageError("read table schema", table, err)
	}
	if schema == nil {
		return nil, &NotFoundError{Resource: "table", Name: table}
	}
	q, err = newValidator().validateRowQuery(q, schema)
	if err != nil {
		return nil, err
	}

	page = &RowPage{
		Table:    table,
		Columns:  schema.Columns,
		Limit:    q.Limit,
		Offset:   q.Offset,
		OrderBy:  q.OrderBy,
		OrderDir: q.OrderDir,
		Rows:     []Row{},
	}

	where, args, matchable := searchClause(schema, q.Search)
	if !matchable {
		return page, nil
	}

	from := ` FROM ` + sqlIdent(table) + where
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*)`+from, args...).Scan(&page.Total); err != nil {
		return nil, model.NewStorageError("count rows", table, err)
	}
	if page.Total == 0 || int64(q.Offset) >= page.Total {
		return page, nil
	}

	query := `SELECT ` + selectList(schema) + from + orderClause(q) + ` LIMIT ? OFFSET ?`
	rows, err := tx.QueryContext(ctx, query, append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, model.NewStorageError("query rows", table, err)
	}
	defer rows.Close()

	page.Rows, err = scanRows(rows, schema)
	if err != nil {
		return nil, model.NewStorageError("scan rows", table, err)
	}
	return page, nil
}

// RowsForSheet is QueryRows addressed by dataset and sheet name.
func (s *Store) RowsForSheet(ctx context.Context, dataset, sheet string, q RowQuery) (*RowPage, error) {
	name := model.NormalizeName(dataset)
	ok, err := s.datasetExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &NotFoundError{Resource: "dataset", Name: dataset}
	}

	table := name + model.TableSeparator + model.NormalizeName(sheet)
	page, err := s.QueryRows(ctx, table, q)
	var nf *NotFoundError
	if errors.As(err, &nf) && nf.Resource == "table" {
		return nil, &NotFoundError{Resource: "sheet", Name: sheet}
	}
	return page, err
}

func (s *Store) datasetExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+datasetsTable+` WHERE name = ?`, name).Scan(&n)
	if err != nil {
		return false, model.NewStorageError("look up dataset", "", err)
	}
	return n > 0, nil
}

func (s *Store) sheets(ctx context.Context, dataset string) ([]SheetInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sheet, raw_sheet, table_name, row_count FROM `+tablesTable+` WHERE dataset = ? ORDER BY table_name`,
		dataset)
	if err != nil {
		return nil, model.NewStorageError("list sheets", "", err)
	}
	defer rows.Close()

	sheets := []SheetInfo{}
	for rows.Next() {
		var si SheetInfo
		if err := rows.Scan(&si.Sheet, &si.RawSheet, &si.Table, &si.RowCount); err != nil {
			return nil, model.NewStorageError("list sheets", "", err)
		}
		sheets = append(sheets, si)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewStorageError("list sheets", "", err)
	}
	return sheets, nil
}

// datasetTables returns the table names registered for a dataset.
func (s *Store) datasetTables(ctx context.Context, dataset string) ([]string, error) {
	sheets, err := s.sheets(ctx, dataset)
	if err != nil {
		return nil, err
	}
	tables := make([]string, len(sheets))
	for i, si := range sheets {
		tables[i] = si.Table
	}
	return tables, nil
}

// searchClause builds the WHERE clause of a search. matchable is false when the
// search can match no row at all.
func searchClause(schema *model.TableSchema, search string) (where string, args []any, matchable bool) {
	if search == "" {
		return "", nil, true
	}

	pattern := "%" + escapeLike(foldCase(search)) + "%"
	var conds []string
	for _, c := range schema.Columns {
		if c.Type != model.ColumnTypeText {
			continue
		}
		conds = append(conds, foldFunc+`(`+sqlIdent(c.Name)+`) LIKE ? ESCAPE '`+likeEscape+`'`)
		args = append(args, pattern)
	}
	if len(conds) == 0 {
		return "", nil, false
	}
	return " WHERE " + strings.Join(conds, " OR "), args, true
}

// escapeLike escapes LIKE wildcards so the search is a literal substring.
func escapeLike(s string) string {
	r := strings.NewReplacer(likeEscape, likeEscape+likeEscape, "%", likeEscape+"%", "_", likeEscape+"_")
	return r.Replace(s)
}

func orderClause(q RowQuery) string {
	if q.OrderBy == "" {
		return ` ORDER BY ` + sqlIdent(model.RowIDColumn) + ` ASC`
	}
	return fmt.Sprintf(` ORDER BY %s %s, %s ASC`,
		sqlIdent(q.OrderBy), strings.ToUpper(q.OrderDir), sqlIdent(model.RowIDColumn))
}

// selectList renders the data columns of a schema. DATETIME columns are cast
// to TEXT so the driver returns the stored ISO8601 string untouched.
func selectList(schema *model.TableSchema) string {
	cols := make([]string, len(schema.Columns))
	for i, c := range schema.Columns {
		if c.Type == model.ColumnTypeDatetime {
			cols[i] = `CAST(` + sqlIdent(c.Name) + ` AS TEXT) AS ` + sqlIdent(c.Name)
			continue
		}
		cols[i] = sqlIdent(c.Name)
	}
	return strings.Join(cols, ", ")
}

// scanRows reads every row of rows into ordered objects keyed by column name.
func scanRows(rows *sql.Rows, schema *model.TableSchema) ([]Row, error) {
	out := []Row{}
	dest := make([]any, len(schema.Columns))
	ptrs := make([]any, len(schema.Columns))
	for i := range dest {
		ptrs[i] = &dest[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(schema.Columns))
		for i, c := range schema.Columns {
			row[i] = model.Field{Key: c.Name, Value: cellValue(dest[i])}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// cellValue converts a driver value to a JSON friendly one.
func cellValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	default:
		return t
	}
}
