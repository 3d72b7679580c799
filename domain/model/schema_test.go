package model

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func decodeRows(t *testing.T, src string) []any {
	t.Helper()

	doc, err := DecodeDocument(strings.NewReader(src))
	if err != nil {
		t.Fatalf("DecodeDocument() error = %v", err)
	}
	rows, ok := doc.Entries[0].Value.([]any)
	if !ok {
		t.Fatalf("first entry is %T, want []any", doc.Entries[0].Value)
	}
	return rows
}

func TestBuildSchema(t *testing.T) {
	t.Parallel()

	t.Run("key union keeps first-seen order", func(t *testing.T) {
		t.Parallel()

		rows := decodeRows(t, `{"s":[{"a":1},{"a":1,"b":2}]}`)
		schema, err := BuildSchema("ds__s", rows)
		if err != nil {
			t.Fatalf("BuildSchema() error = %v", err)
		}
		names := schema.ColumnNames()
		if len(names) != 2 || names[0] != "a" || names[1] != "b" {
			t.Fatalf("columns = %v, want [a b]", names)
		}
		for _, c := range schema.Columns {
			if c.Type != ColumnTypeInteger {
				t.Errorf("column %s type = %s, want INTEGER", c.Name, c.Type)
			}
		}
	})

	t.Run("colliding keys get suffixes", func(t *testing.T) {
		t.Parallel()

		rows := decodeRows(t, `{"s":[{"User Name":"ann","user-name":"bob"}]}`)
		schema, err := BuildSchema("ds__s", rows)
		if err != nil {
			t.Fatalf("BuildSchema() error = %v", err)
		}
		want := []Column{
			{Name: "user_name", Source: "User Name", Type: ColumnTypeText},
			{Name: "user_name_2", Source: "user-name", Type: ColumnTypeText},
		}
		if len(schema.Columns) != len(want) {
			t.Fatalf("columns = %+v", schema.Columns)
		}
		for i := range want {
			if schema.Columns[i] != want[i] {
				t.Errorf("column %d = %+v, want %+v", i, schema.Columns[i], want[i])
			}
		}
	})

	t.Run("types inferred per column over all rows", func(t *testing.T) {
		t.Parallel()

		rows := decodeRows(t, `[
			{"id":1,"score":1,"when":"2024-01-01","note":"x"},
			{"id":2,"score":2.5,"when":"2024-02-01T10:00:00Z"},
			{"id":3,"note":null}
		]`)
		schema, err := BuildSchema("ds__data", rows)
		if err != nil {
			t.Fatalf("BuildSchema() error = %v", err)
		}
		want := map[string]ColumnType{
			"id":    ColumnTypeInteger,
			"score": ColumnTypeReal,
			"when":  ColumnTypeDatetime,
			"note":  ColumnTypeText,
		}
		for name, ct := range want {
			c, ok := schema.Column(name)
			if !ok {
				t.Fatalf("column %s missing", name)
			}
			if c.Type != ct {
				t.Errorf("column %s type = %s, want %s", name, c.Type, ct)
			}
		}
	})

	t.Run("no keys yields placeholder column", func(t *testing.T) {
		t.Parallel()

		for _, rows := range [][]any{{}, {Object{}, Object{}}} {
			schema, err := BuildSchema("ds__empty", rows)
			if err != nil {
				t.Fatalf("BuildSchema() error = %v", err)
			}
			if len(schema.Columns) != 1 || schema.Columns[0].Name != EmptySchemaColumn {
				t.Errorf("columns = %+v, want single %s", schema.Columns, EmptySchemaColumn)
			}
		}
	})

	t.Run("non object rows are a schema error", func(t *testing.T) {
		t.Parallel()

		rows := []any{Object{{Key: "a", Value: json.Number("1")}}, json.Number("2")}
		_, err := BuildSchema("ds__bad", rows)
		if !errors.Is(err, ErrSchema) {
			t.Fatalf("error = %v, want ErrSchema", err)
		}
		var se *SchemaError
		if !errors.As(err, &se) {
			t.Fatalf("error %T is not *SchemaError", err)
		}
		if se.Index != 1 || se.Kind != "number" {
			t.Errorf("SchemaError = %+v", se)
		}
	})

	t.Run("nested arrays are a schema error", func(t *testing.T) {
		t.Parallel()

		_, err := BuildSchema("ds__bad", []any{[]any{json.Number("1")}})
		if !errors.Is(err, ErrSchema) {
			t.Fatalf("error = %v, want ErrSchema", err)
		}
	})

	t.Run("maps are accepted with sorted keys", func(t *testing.T) {
		t.Parallel()

		schema, err := BuildSchema("ds__m", []any{map[string]any{"b": "x", "a": 1}})
		if err != nil {
			t.Fatalf("BuildSchema() error = %v", err)
		}
		names := schema.ColumnNames()
		if len(names) != 2 || names[0] != "a" || names[1] != "b" {
			t.Errorf("columns = %v, want [a b]", names)
		}
	})
}
