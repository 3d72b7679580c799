// Package model provides domain model for sheetpreview
package model

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ColumnType represents the SQL column type
type ColumnType int

const (
	// ColumnTypeText represents TEXT column type
	ColumnTypeText ColumnType = iota
	// ColumnTypeInteger represents INTEGER column type
	ColumnTypeInteger
	// ColumnTypeReal represents REAL column type
	ColumnTypeReal
	// ColumnTypeDatetime represents datetime stored as TEXT in ISO8601 format
	ColumnTypeDatetime
)

const (
	sqlTypeText     = "TEXT"
	sqlTypeInteger  = "INTEGER"
	sqlTypeReal     = "REAL"
	sqlTypeDatetime = "DATETIME"
)

// String returns the SQL column type string.
// DATETIME is a declared type only; SQLite gives it NUMERIC affinity and the
// loader always binds ISO8601 text, so values are stored as TEXT.
func (ct ColumnType) String() string {
	switch ct {
	case ColumnTypeText:
		return sqlTypeText
	case ColumnTypeInteger:
		return sqlTypeInteger
	case ColumnTypeReal:
		return sqlTypeReal
	case ColumnTypeDatetime:
		return sqlTypeDatetime
	default:
		return sqlTypeText
	}
}

// ParseColumnType converts a declared SQL type back to ColumnType.
// Unknown declarations map to TEXT.
func ParseColumnType(s string) ColumnType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case sqlTypeInteger:
		return ColumnTypeInteger
	case sqlTypeReal:
		return ColumnTypeReal
	case sqlTypeDatetime:
		return ColumnTypeDatetime
	default:
		return ColumnTypeText
	}
}

// MarshalText implements encoding.TextMarshaler
func (ct ColumnType) MarshalText() ([]byte, error) {
	return []byte(ct.String()), nil
}

// Column is one inferred column of a materialized table.
type Column struct {
	// Name is the normalized, table-unique column name.
	Name string `json:"name"`
	// Source is the raw JSON key the column was built from.
	Source string `json:"source"`
	// Type is the inferred storage type.
	Type ColumnType `json:"type"`
}

// TableSchema is the runtime schema passed from the schema builder to the loader.
type TableSchema struct {
	Name    string   `json:"table"`
	Columns []Column `json:"columns"`
}

// ColumnNames returns column names in schema order
func (s *TableSchema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Column looks a column up by its normalized name.
func (s *TableSchema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Equal reports whether two schemas have the same column names and types in the same order.
// Source keys are not compared: they do not affect the physical table.
func (s *TableSchema) Equal(other *TableSchema) bool {
	if s == nil || other == nil {
		return s == other
	}
	if len(s.Columns) != len(other.Columns) {
		return false
	}
	for i, c := range s.Columns {
		if c.Name != other.Columns[i].Name || c.Type != other.Columns[i].Type {
			return false
		}
	}
	return true
}

// Field is one key/value pair of a decoded JSON object.
type Field struct {
	Key   string
	Value any
}

// Object is a decoded JSON object that keeps the key order of the source document.
type Object []Field

// Get returns the value for key. Duplicate keys resolve to the last occurrence.
func (o Object) Get(key string) (any, bool) {
	for i := len(o) - 1; i >= 0; i-- {
		if o[i].Key == key {
			return o[i].Value, true
		}
	}
	return nil, false
}

// Project writes the values of o into dst at the positions index assigns to
// their keys, in one pass over o. Positions o has no key for are set to nil and
// keys missing from index are ignored. Duplicate keys resolve to the last occurrence.
func (o Object) Project(index map[string]int, dst []any) {
	clear(dst)
	for _, f := range o {
		if j, ok := index[f.Key]; ok {
			dst[j] = f.Value
		}
	}
}

// Map returns a lookup map for the object. Duplicate keys resolve to the last occurrence.
func (o Object) Map() map[string]any {
	m := make(map[string]any, len(o))
	for _, f := range o {
		m[f.Key] = f.Value
	}
	return m
}

// MarshalJSON encodes the object with its original key order.
func (o Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
