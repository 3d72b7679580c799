package sheetpreview

import "github.com/nao1215/sheetpreview/domain/model"

// ColumnType represents the SQL type of a materialized column
type ColumnType = model.ColumnType

const (
	// ColumnTypeText represents TEXT column type
	ColumnTypeText = model.ColumnTypeText
	// ColumnTypeInteger represents INTEGER column type
	ColumnTypeInteger = model.ColumnTypeInteger
	// ColumnTypeReal represents REAL column type
	ColumnTypeReal = model.ColumnTypeReal
	// ColumnTypeDatetime represents ISO8601 datetime text
	ColumnTypeDatetime = model.ColumnTypeDatetime
)

type (
	// Column is one column of a table schema.
	Column = model.Column
	// TableSchema is the ordered column list of a table.
	TableSchema = model.TableSchema
	// Object is a JSON object with its keys in document order.
	Object = model.Object
	// Document is a decoded dataset document.
	Document = model.Document
)

var (
	// InferColumnType returns the most specific type shared by every non-null value
	InferColumnType = model.InferColumnType
	// NormalizeName converts an identifier into a stable snake_case name
	NormalizeName = model.NormalizeName
	// TableName returns the table name of a sheet: "<dataset>__<sheet>"
	TableName = model.TableName
	// BuildSchema computes the table schema of one sheet
	BuildSchema = model.BuildSchema
	// DecodeDocument reads a dataset document, keeping key order
	DecodeDocument = model.DecodeDocument
)
