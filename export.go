package sheetpreview

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/memory"
	"github.com/apache/arrow/go/v18/parquet"
	"github.com/apache/arrow/go/v18/parquet/pqarrow"
	"github.com/xuri/excelize/v2"

	"github.com/nao1215/sheetpreview/domain/model"
)

const (
	// parquetRowGroupRows is the number of rows buffered per Parquet record batch
	parquetRowGroupRows = 4096
	// xlsxMaxSheetName is Excel's worksheet name limit
	xlsxMaxSheetName = 31
)

// ltsvReplacer keeps LTSV field and record separators out of values
var ltsvReplacer = strings.NewReplacer("\t", " ", "\r\n", " ", "\n", " ", "\r", " ")

// ExportTable writes every row of table to w in sheet order.
//
// The header (or Parquet schema) follows the table's column order. NULL cells are
// written as empty values. When opts carries a compression type the output is
// compressed with it.
func (s *Store) ExportTable(ctx context.Context, table string, w io.Writer, opts ExportOptions) (err error) {
	if err := newValidator().validateExportOptions(opts); err != nil {
		return err
	}

	cw, closeCompressed, err := compress(w, opts.Compression)
	if err != nil {
		return NewErrorContext("export", table).Error(err)
	}
	defer func() {
		if closeErr := closeCompressed(); closeErr != nil && err == nil {
			err = NewErrorContext("export", table).Error(closeErr)
		}
	}()

	return s.exportTable(ctx, table, cw, opts.Format)
}

// DumpDataset exports every sheet of a dataset into dir, one file per table named
// "<table><ext>", and returns the written paths in table order.
// The directory is created when it does not exist.
func (s *Store) DumpDataset(ctx context.Context, dataset, dir string, opts ExportOptions) ([]string, error) {
	v := newValidator()
	if err := v.validateExportOptions(opts); err != nil {
		return nil, err
	}
	if err := v.validateOutputDirectory(dir); err != nil {
		return nil, NewErrorContext("dump", dir).Error(err)
	}

	sheets, err := s.ListSheets(ctx, dataset)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, NewErrorContext("dump", dir).Error(fmt.Errorf("failed to create output directory: %w", err))
	}

	paths := make([]string, 0, len(sheets))
	for _, sheet := range sheets {
		path := filepath.Join(dir, sheet.Table+opts.FileExtension())
		if err := s.dumpTable(ctx, sheet.Table, path, opts); err != nil {
			return paths, NewErrorContext("dump", path).WithDataset(dataset).Error(err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (s *Store) dumpTable(ctx context.Context, table, path string, opts ExportOptions) error {
	f, err := createExportFile(path, opts.Compression)
	if err != nil {
		return err
	}
	err = s.exportTable(ctx, table, f, opts.Format)
	if closeErr := f.Close(err != nil); err == nil {
		err = closeErr
	}
	return err
}

// exportTable writes the rows of table to w in the given format, uncompressed.
func (s *Store) exportTable(ctx context.Context, table string, w io.Writer, format ExportFormat) error {
	schema, err := s.GetSchema(ctx, table)
	if err != nil {
		return err
	}

	var parquetTypes []arrow.DataType
	if format == ExportFormatParquet {
		// Must run before the row cursor is opened: an in-memory store has one connection.
		if parquetTypes, err = s.parquetColumnTypes(ctx, schema); err != nil {
			return err
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectList(schema)+` FROM `+sqlIdent(table)+` ORDER BY `+sqlIdent(model.RowIDColumn))
	if err != nil {
		return model.NewStorageError("export rows", table, err)
	}
	defer rows.Close()

	cursor := newRowCursor(rows, len(schema.Columns))
	switch format {
	case ExportFormatCSV:
		err = writeDelimited(w, schema, cursor, ',')
	case ExportFormatTSV:
		err = writeDelimited(w, schema, cursor, '\t')
	case ExportFormatLTSV:
		err = writeLTSV(w, schema, cursor)
	case ExportFormatXLSX:
		err = writeXLSX(w, schema, cursor)
	case ExportFormatParquet:
		err = writeParquet(w, schema, parquetTypes, cursor)
	default:
		err = fmt.Errorf("unsupported export format: %s", format)
	}
	if err != nil {
		var se *StorageError
		if errors.As(err, &se) {
			return err
		}
		return fmt.Errorf("failed to write %s export of %s: %w", format, table, err)
	}
	return nil
}

// rowCursor iterates over exported rows, reusing one value buffer.
type rowCursor struct {
	rows *sql.Rows
	dest []any
	ptrs []any
}

func newRowCursor(rows *sql.Rows, columns int) *rowCursor {
	c := &rowCursor{rows: rows, dest: make([]any, columns), ptrs: make([]any, columns)}
	for i := range c.dest {
		c.ptrs[i] = &c.dest[i]
	}
	return c
}

// next advances to the next row and returns its cells, or nil at the end.
func (c *rowCursor) next() ([]any, error) {
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			return nil, model.NewStorageError("read export rows", "", err)
		}
		return nil, nil
	}
	if err := c.rows.Scan(c.ptrs...); err != nil {
		return nil, model.NewStorageError("scan export row", "", err)
	}
	for i, v := range c.dest {
		c.dest[i] = cellValue(v)
	}
	return c.dest, nil
}

// formatCell renders a cell for the text formats. NULL becomes the empty string.
func formatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func writeDelimited(w io.Writer, schema *model.TableSchema, cursor *rowCursor, comma rune) error {
	cw := csv.NewWriter(w)
	cw.Comma = comma

	if err := cw.Write(schema.ColumnNames()); err != nil {
		return err
	}
	record := make([]string, len(schema.Columns))
	for {
		cells, err := cursor.next()
		if err != nil {
			return err
		}
		if cells == nil {
			break
		}
		for i, v := range cells {
			record[i] = formatCell(v)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeLTSV(w io.Writer, schema *model.TableSchema, cursor *rowCursor) error {
	names := schema.ColumnNames()
	var sb strings.Builder
	for {
		cells, err := cursor.next()
		if err != nil {
			return err
		}
		if cells == nil {
			return nil
		}

		sb.Reset()
		for i, v := range cells {
			if i > 0 {
				sb.WriteByte('\t')
			}
			sb.WriteString(names[i])
			sb.WriteByte(':')
			sb.WriteString(ltsvReplacer.Replace(formatCell(v)))
		}
		sb.WriteByte('\n')
		if _, err := io.WriteString(w, sb.String()); err != nil {
			return err
		}
	}
}

func writeXLSX(w io.Writer, schema *model.TableSchema, cursor *rowCursor) (err error) {
	f := excelize.NewFile()
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	sheet := xlsxSheetName(schema.Name)
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return err
	}

	header := make([]any, len(schema.Columns))
	for i, c := range schema.Columns {
		header[i] = c.Name
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}

	for rowNum := 2; ; rowNum++ {
		cells, err := cursor.next()
		if err != nil {
			return err
		}
		if cells == nil {
			break
		}
		cell, err := excelize.CoordinatesToCellName(1, rowNum)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, cells); err != nil {
			return err
		}
	}
	if err := sw.Flush(); err != nil {
		return err
	}
	_, err = f.WriteTo(w)
	return err
}

// xlsxSheetName trims a table name to Excel's worksheet name limit.
func xlsxSheetName(table string) string {
	if len(table) > xlsxMaxSheetName {
		return table[:xlsxMaxSheetName]
	}
	return table
}

// parquetColumnTypes maps the columns of schema to Arrow types. INTEGER and REAL
// columns holding coercion fallback text are exported as strings.
func (s *Store) parquetColumnTypes(ctx context.Context, schema *model.TableSchema) ([]arrow.DataType, error) {
	types := make([]arrow.DataType, len(schema.Columns))
	var textCounts []string
	var countedCols []int
	for i, c := range schema.Columns {
		switch c.Type {
		case model.ColumnTypeInteger:
			types[i] = arrow.PrimitiveTypes.Int64
		case model.ColumnTypeReal:
			types[i] = arrow.PrimitiveTypes.Float64
		default:
			types[i] = arrow.BinaryTypes.String
			continue
		}
		textCounts = append(textCounts, `COALESCE(SUM(typeof(`+sqlIdent(c.Name)+`) = 'text'), 0)`)
		countedCols = append(countedCols, i)
	}
	if len(textCounts) == 0 {
		return types, nil
	}

	counts := make([]int64, len(textCounts))
	dest := make([]any, len(textCounts))
	for i := range counts {
		dest[i] = &counts[i]
	}
	err := s.db.QueryRowContext(ctx,
		`SELECT `+strings.Join(textCounts, ", ")+` FROM `+sqlIdent(schema.Name)).Scan(dest...)
	if err != nil {
		return nil, model.NewStorageError("inspect column storage", schema.Name, err)
	}
	for j, n := range counts {
		if n > 0 {
			types[countedCols[j]] = arrow.BinaryTypes.String
		}
	}
	return types, nil
}

func writeParquet(w io.Writer, schema *model.TableSchema, types []arrow.DataType, cursor *rowCursor) error {
	fields := make([]arrow.Field, len(schema.Columns))
	for i, c := range schema.Columns {
		fields[i] = arrow.Field{Name: c.Name, Type: types[i], Nullable: true}
	}
	arrowSchema := arrow.NewSchema(fields, nil)

	// Hide any Close method of w: the caller owns the sink.
	fw, err := pqarrow.NewFileWriter(arrowSchema, struct{ io.Writer }{w},
		parquet.NewWriterProperties(), pqarrow.DefaultWriterProps())
	if err != nil {
		return err
	}

	builder := array.NewRecordBuilder(memory.NewGoAllocator(), arrowSchema)
	defer builder.Release()

	flush := func() error {
		rec := builder.NewRecord()
		defer rec.Release()
		if rec.NumRows() == 0 {
			return nil
		}
		return fw.Write(rec)
	}

	buffered := 0
	for {
		cells, err := cursor.next()
		if err != nil {
			_ = fw.Close()
			return err
		}
		if cells == nil {
			break
		}
		for i, v := range cells {
			appendArrowValue(builder.Field(i), v)
		}
		buffered++
		if buffered == parquetRowGroupRows {
			if err := flush(); err != nil {
				_ = fw.Close()
				return err
			}
			buffered = 0
		}
	}
	if err := flush(); err != nil {
		_ = fw.Close()
		return err
	}
	return fw.Close()
}

// appendArrowValue appends v to a column builder created by writeParquet.
func appendArrowValue(b array.Builder, v any) {
	if v == nil {
		b.AppendNull()
		return
	}
	switch fb := b.(type) {
	case *array.Int64Builder:
		switch t := v.(type) {
		case int64:
			fb.Append(t)
		case float64:
			fb.Append(int64(t))
		default:
			fb.AppendNull()
		}
	case *array.Float64Builder:
		switch t := v.(type) {
		case float64:
			fb.Append(t)
		case int64:
			fb.Append(float64(t))
		default:
			fb.AppendNull()
		}
	case *array.StringBuilder:
		fb.Append(formatCell(v))
	default:
		b.AppendNull()
	}
}
