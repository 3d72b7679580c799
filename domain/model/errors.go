package model

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors matched by the typed errors below through errors.Is.
var (
	// ErrSchema indicates a sheet whose shape cannot be ingested
	ErrSchema = errors.New("sheetpreview: schema error")
	// ErrStorage indicates a write or transaction failure in the embedded database
	ErrStorage = errors.New("sheetpreview: storage error")
	// ErrNotFound indicates an unknown dataset, sheet or table
	ErrNotFound = errors.New("sheetpreview: not found")
	// ErrValidation indicates an invalid query parameter
	ErrValidation = errors.New("sheetpreview: validation error")
)

// SchemaError reports a sheet that is not an array of JSON objects.
type SchemaError struct {
	Dataset string
	Sheet   string
	// Index is the position of the offending element, or -1 when the whole value is at fault.
	Index int
	// Kind is the JSON kind found ("string", "array", "null", ...).
	Kind   string
	Reason string
}

func (e *SchemaError) Error() string {
	parts := []string{"sheetpreview: schema error"}
	if e.Dataset != "" {
		parts = append(parts, "dataset: "+e.Dataset)
	}
	if e.Sheet != "" {
		parts = append(parts, "sheet: "+e.Sheet)
	}
	if e.Index >= 0 {
		parts = append(parts, fmt.Sprintf("row: %d", e.Index))
	}
	if e.Kind != "" {
		parts = append(parts, "found: "+e.Kind)
	}
	if e.Reason != "" {
		parts = append(parts, "details: "+e.Reason)
	}
	return strings.Join(parts, ", ")
}

// Is matches ErrSchema
func (e *SchemaError) Is(target error) bool { return target == ErrSchema }

// StorageError reports a failed database operation on a table.
type StorageError struct {
	Op    string
	Table string
	Err   error
}

func (e *StorageError) Error() string {
	msg := "sheetpreview: " + e.Op + " failed"
	if e.Table != "" {
		msg += ", table: " + e.Table
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying driver error
func (e *StorageError) Unwrap() error { return e.Err }

// Is matches ErrStorage
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// NotFoundError reports an unknown dataset, sheet or table on a read.
type NotFoundError struct {
	// Resource is "dataset", "sheet" or "table".
	Resource string
	Name     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("sheetpreview: %s not found: %s", e.Resource, e.Name)
}

// Is matches ErrNotFound
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ValidationError reports an invalid query parameter.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("sheetpreview: invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// Is matches ErrValidation
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewStorageError wraps err as a StorageError. A nil err yields nil.
func NewStorageError(op, table string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Table: table, Err: err}
}
