package sheetpreview

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/nao1215/sheetpreview/domain/model"
)

// validator handles validation logic for the builder and read-side parameters
type validator struct {
	// No configuration needed for now, but keeping struct for future extensibility
}

// newValidator creates a new validator instance
func newValidator() *validator {
	return &validator{}
}

// validateBuilder checks the builder settings before a database is opened
func (v *validator) validateBuilder(b *Builder) error {
	if strings.TrimSpace(b.path) == "" {
		return errors.New("database path cannot be empty")
	}
	if b.batchSize < 1 {
		return fmt.Errorf("batch size must be positive, got %d", b.batchSize)
	}
	if b.parallelism < 1 {
		return fmt.Errorf("parallelism must be positive, got %d", b.parallelism)
	}
	switch b.strategy {
	case LoadStrategySwap, LoadStrategyTruncate:
	default:
		return fmt.Errorf("unknown load strategy: %d", int(b.strategy))
	}

	if b.path != MemoryDatabase {
		if info, err := os.Stat(b.path); err == nil && info.IsDir() {
			return fmt.Errorf("database path is a directory: %s", b.path)
		}
	}
	return nil
}

// validateRowQuery applies defaults to q and checks it against the table schema.
func (v *validator) validateRowQuery(q RowQuery, schema *model.TableSchema) (RowQuery, error) {
	switch {
	case q.Limit == 0:
		q.Limit = DefaultLimit
	case q.Limit < 0 || q.Limit > MaxLimit:
		return q, &ValidationError{
			Field:  "limit",
			Value:  strconv.Itoa(q.Limit),
			Reason: fmt.Sprintf("must be between 1 and %d", MaxLimit),
		}
	}

	if q.Offset < 0 {
		return q, &ValidationError{Field: "offset", Value: strconv.Itoa(q.Offset), Reason: "must not be negative"}
	}

	if len(q.Search) > MaxSearchLength {
		return q, &ValidationError{
			Field:  "search",
			Value:  truncateUTF8(q.Search, MaxSearchLength) + "...",
			Reason: fmt.Sprintf("must be at most %d bytes", MaxSearchLength),
		}
	}

	switch strings.ToLower(strings.TrimSpace(q.OrderDir)) {
	case "", OrderAsc:
		q.OrderDir = OrderAsc
	case OrderDesc:
		q.OrderDir = OrderDesc
	default:
		return q, &ValidationError{Field: "order_dir", Value: q.OrderDir, Reason: "must be asc or desc"}
	}

	if q.OrderBy != "" {
		if _, ok := schema.Column(q.OrderBy); !ok {
			return q, &ValidationError{
				Field:  "order_by",
				Value:  q.OrderBy,
				Reason: "unknown column of table " + schema.Name,
			}
		}
	}
	return q, nil
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// validateOutputDirectory validates that the output directory can be created/accessed
func (v *validator) validateOutputDirectory(outputDir string) error {
	if strings.TrimSpace(outputDir) == "" {
		return errors.New("output directory cannot be empty")
	}

	// Check if directory already exists
	if info, err := os.Stat(outputDir); err == nil {
		if !info.IsDir() {
			return fmt.Errorf("output path exists but is not a directory: %s", outputDir)
		}
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to check output directory: %w", err)
	}

	// Directory doesn't exist, that's fine - it will be created later
	return nil
}

// validateDatasetName rejects names that carry no identifier characters at all
func (v *validator) validateDatasetName(dataset string) error {
	if strings.TrimSpace(dataset) == "" {
		return &ValidationError{Field: "dataset", Value: dataset, Reason: "must not be empty"}
	}
	return nil
}

// validateExportOptions rejects formats and compressions that cannot be written
func (v *validator) validateExportOptions(opts ExportOptions) error {
	switch opts.Format {
	case ExportFormatCSV, ExportFormatTSV, ExportFormatLTSV, ExportFormatXLSX, ExportFormatParquet:
	default:
		return &ValidationError{Field: "format", Value: strconv.Itoa(int(opts.Format)), Reason: "unknown export format"}
	}
	switch opts.Compression {
	case CompressionNone, CompressionGZ, CompressionXZ, CompressionZSTD:
	case CompressionBZ2:
		return &ValidationError{Field: "compression", Value: opts.Compression.String(), Reason: "bzip2 can only be read"}
	default:
		return &ValidationError{Field: "compression", Value: strconv.Itoa(int(opts.Compression)), Reason: "unknown compression type"}
	}
	return nil
}
