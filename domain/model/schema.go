package model

import "slices"

const (
	// RowIDColumn is the hidden column holding the 1-based position of a row in its sheet.
	RowIDColumn = "_row_id"
	// EmptySchemaColumn is the single column given to sheets that have no keys at all.
	EmptySchemaColumn = "_row"
)

// BuildSchema computes the table schema of one sheet.
//
// Every element of rows must be a JSON object, otherwise a *SchemaError naming the
// first offending index is returned. Columns follow the first-seen order of keys
// across all rows; a row missing a key contributes a null to that column.
func BuildSchema(table string, rows []any) (*TableSchema, error) {
	objects, err := AsObjects(rows)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0)
	index := make(map[string]int)
	for _, obj := range objects {
		for _, f := range obj {
			if _, ok := index[f.Key]; ok {
				continue
			}
			index[f.Key] = len(keys)
			keys = append(keys, f.Key)
		}
	}

	if len(keys) == 0 {
		return &TableSchema{
			Name:    table,
			Columns: []Column{{Name: EmptySchemaColumn, Type: ColumnTypeText}},
		}, nil
	}

	// values[c][r] is the value of key c in row r.
	values := make([][]any, len(keys))
	for c := range values {
		values[c] = make([]any, len(objects))
	}
	row := make([]any, len(keys))
	for r, obj := range objects {
		obj.Project(index, row)
		for c, v := range row {
			values[c][r] = v
		}
	}

	allocator := NewNameAllocator()
	columns := make([]Column, len(keys))
	for c, key := range keys {
		columns[c] = Column{
			Name:   allocator.Allocate(key),
			Source: key,
			Type:   InferColumnType(values[c]),
		}
	}

	return &TableSchema{Name: table, Columns: columns}, nil
}

// AsObjects checks that every element is a JSON object and returns them typed.
func AsObjects(rows []any) ([]Object, error) {
	objects := make([]Object, len(rows))
	for i, row := range rows {
		switch obj := row.(type) {
		case Object:
			objects[i] = obj
		case map[string]any:
			// Callers building rows in Go rather than through DecodeDocument.
			objects[i] = objectFromMap(obj)
		default:
			return nil, &SchemaError{
				Index:  i,
				Kind:   JSONKind(row),
				Reason: "sheet rows must be JSON objects",
			}
		}
	}
	return objects, nil
}

// objectFromMap converts a map to an Object. Map iteration order is not stable,
// so keys are sorted to keep the result deterministic.
func objectFromMap(m map[string]any) Object {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	obj := make(Object, 0, len(keys))
	for _, k := range keys {
		obj = append(obj, Field{Key: k, Value: m[k]})
	}
	return obj
}
