package sheetpreview

import (
	"fmt"
	"strings"

	"github.com/nao1215/sheetpreview/domain/model"
)

var (
	// ErrSchema indicates a sheet whose shape cannot be ingested
	ErrSchema = model.ErrSchema
	// ErrStorage indicates a write or transaction failure in the database
	ErrStorage = model.ErrStorage
	// ErrNotFound indicates an unknown dataset, sheet or table
	ErrNotFound = model.ErrNotFound
	// ErrValidation indicates an invalid query parameter
	ErrValidation = model.ErrValidation
)

type (
	// SchemaError reports a sheet that is not an array of JSON objects.
	SchemaError = model.SchemaError
	// StorageError reports a failed database operation on a table.
	StorageError = model.StorageError
	// NotFoundError reports an unknown dataset, sheet or table.
	NotFoundError = model.NotFoundError
	// ValidationError reports an invalid query parameter.
	ValidationError = model.ValidationError
)

// ErrorContext provides context for where an error occurred
type ErrorContext struct {
	Operation string
	FilePath  string
	Dataset   string
	Details   string
}

// NewErrorContext creates a new error context
func NewErrorContext(operation, filePath string) *ErrorContext {
	return &ErrorContext{
		Operation: operation,
		FilePath:  filePath,
	}
}

// WithDataset adds dataset context to the error
func (ec *ErrorContext) WithDataset(dataset string) *ErrorContext {
	ec.Dataset = dataset
	return ec
}

// WithDetails adds details to the error context
func (ec *ErrorContext) WithDetails(details string) *ErrorContext {
	ec.Details = details
	return ec
}

// Error creates a formatted error with context
func (ec *ErrorContext) Error(baseErr error) error {
	var parts []string
	parts = append(parts, fmt.Sprintf("sheetpreview: %s failed", ec.Operation))

	if ec.FilePath != "" {
		parts = append(parts, "file: "+ec.FilePath)
	}

	if ec.Dataset != "" {
		parts = append(parts, "dataset: "+ec.Dataset)
	}

	if ec.Details != "" {
		parts = append(parts, "details: "+ec.Details)
	}

	context := strings.Join(parts, ", ")
	if baseErr != nil {
		return fmt.Errorf("%s: %w", context, baseErr)
	}
	return fmt.Errorf("%s", context)
}
