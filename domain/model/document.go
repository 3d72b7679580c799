package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Document is a decoded dataset: its top-level entries in source order.
type Document struct {
	Entries []Field
}

// DecodeDocument reads one JSON value from r.
//
// An object root yields one entry per top-level key. An array root yields a single
// entry named DefaultSheetName. Any other root is a SchemaError. Object key order is
// preserved at every depth and numbers are kept as json.Number.
func DecodeDocument(r io.Reader) (*Document, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &SchemaError{Index: -1, Reason: "empty document"}
		}
		return nil, fmt.Errorf("json: read first token: %w", err)
	}

	root, err := decodeFromToken(dec, tok)
	if err != nil {
		return nil, err
	}

	// Only one root value is allowed.
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		if err != nil {
			return nil, fmt.Errorf("json: trailing data: %w", err)
		}
		return nil, &SchemaError{Index: -1, Reason: "multiple root values"}
	}

	switch v := root.(type) {
	case Object:
		return &Document{Entries: []Field(v)}, nil
	case []any:
		return &Document{Entries: []Field{{Key: DefaultSheetName, Value: v}}}, nil
	default:
		return nil, &SchemaError{Index: -1, Kind: JSONKind(root), Reason: "document root must be an object or an array"}
	}
}

// decodeFromToken materializes the value starting at tok.
func decodeFromToken(dec *json.Decoder, tok json.Token) (any, error) {
	switch d := tok.(type) {
	case json.Delim:
		switch d {
		case '{':
			obj := Object{}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, fmt.Errorf("json: read object key: %w", err)
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("json: expected object key, got %v", keyTok)
				}
				valTok, err := dec.Token()
				if err != nil {
					return nil, fmt.Errorf("json: read value of %q: %w", key, err)
				}
				val, err := decodeFromToken(dec, valTok)
				if err != nil {
					return nil, err
				}
				obj = append(obj, Field{Key: key, Value: val})
			}
			if _, err := dec.Token(); err != nil {
				return nil, fmt.Errorf("json: read object end: %w", err)
			}
			return obj, nil
		case '[':
			arr := []any{}
			for dec.More() {
				elemTok, err := dec.Token()
				if err != nil {
					return nil, fmt.Errorf("json: read array element: %w", err)
				}
				elem, err := decodeFromToken(dec, elemTok)
				if err != nil {
					return nil, err
				}
				arr = append(arr, elem)
			}
			if _, err := dec.Token(); err != nil {
				return nil, fmt.Errorf("json: read array end: %w", err)
			}
			return arr, nil
		default:
			return nil, fmt.Errorf("json: unexpected delimiter %q", d)
		}
	default:
		// string, json.Number, bool or nil
		return tok, nil
	}
}

// JSONKind names the JSON kind of a decoded value.
func JSONKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case json.Number, float64, int, int64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case Object, map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
