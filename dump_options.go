package sheetpreview

import "github.com/nao1215/sheetpreview/domain/model"

// ExportFormat represents the output file format of a table export
type ExportFormat = model.ExportFormat

const (
	// ExportFormatCSV represents CSV output format
	ExportFormatCSV = model.ExportFormatCSV
	// ExportFormatTSV represents TSV output format
	ExportFormatTSV = model.ExportFormatTSV
	// ExportFormatLTSV represents LTSV output format
	ExportFormatLTSV = model.ExportFormatLTSV
	// ExportFormatXLSX represents Excel workbook output format
	ExportFormatXLSX = model.ExportFormatXLSX
	// ExportFormatParquet represents Parquet output format
	ExportFormatParquet = model.ExportFormatParquet
)

// CompressionType represents the compression type
type CompressionType = model.CompressionType

const (
	// CompressionNone represents no compression
	CompressionNone = model.CompressionNone
	// CompressionGZ represents gzip compression
	CompressionGZ = model.CompressionGZ
	// CompressionBZ2 represents bzip2 compression. It can only be read.
	CompressionBZ2 = model.CompressionBZ2
	// CompressionXZ represents xz compression
	CompressionXZ = model.CompressionXZ
	// CompressionZSTD represents zstd compression
	CompressionZSTD = model.CompressionZSTD
)

var (
	// ParseExportFormat parses a format name such as "csv" or "parquet"
	ParseExportFormat = model.ParseExportFormat
	// ParseCompressionType parses a compression name such as "gz" or "zstd"
	ParseCompressionType = model.ParseCompressionType
)

// ExportOptions configures how tables are exported to files.
//
// Example:
//
//	options := NewExportOptions().
//		WithFormat(ExportFormatTSV).
//		WithCompression(CompressionGZ)
//
//	paths, err := store.DumpDataset(ctx, "jobs", "./output", options)
type ExportOptions struct {
	// Format specifies the output file format
	Format ExportFormat
	// Compression specifies the compression type
	Compression CompressionType
}

// NewExportOptions creates default export options (CSV, no compression).
func NewExportOptions() ExportOptions {
	return ExportOptions{
		Format:      ExportFormatCSV,
		Compression: CompressionNone,
	}
}

// WithFormat sets the output file format.
//
// Options:
//   - ExportFormatCSV: Comma-separated values
//   - ExportFormatTSV: Tab-separated values
//   - ExportFormatLTSV: Labeled tab-separated values
//   - ExportFormatXLSX: Excel workbook with one worksheet
//   - ExportFormatParquet: Apache Parquet columnar format
func (o ExportOptions) WithFormat(format ExportFormat) ExportOptions {
	o.Format = format
	return o
}

// WithCompression adds compression to output files.
//
// Options:
//   - CompressionNone: No compression (default)
//   - CompressionGZ: Gzip compression (.gz)
//   - CompressionXZ: XZ compression (.xz)
//   - CompressionZSTD: Zstandard compression (.zst)
func (o ExportOptions) WithCompression(compression CompressionType) ExportOptions {
	o.Compression = compression
	return o
}

// FileExtension returns the complete file extension including compression
func (o ExportOptions) FileExtension() string {
	return o.Format.Extension() + o.Compression.Extension()
}
