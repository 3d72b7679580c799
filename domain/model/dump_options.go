package model

import (
	"fmt"
	"strings"
)

// ExportFormat represents the output file format of a table export
type ExportFormat int

const (
	// ExportFormatCSV represents CSV output format
	ExportFormatCSV ExportFormat = iota
	// ExportFormatTSV represents TSV output format
	ExportFormatTSV
	// ExportFormatLTSV represents LTSV output format
	ExportFormatLTSV
	// ExportFormatXLSX represents Excel workbook output format
	ExportFormatXLSX
	// ExportFormatParquet represents Parquet output format
	ExportFormatParquet
)

// String returns the string representation of ExportFormat
func (f ExportFormat) String() string {
	switch f {
	case ExportFormatCSV:
		return "csv"
	case ExportFormatTSV:
		return "tsv"
	case ExportFormatLTSV:
		return "ltsv"
	case ExportFormatXLSX:
		return "xlsx"
	case ExportFormatParquet:
		return "parquet"
	default:
		return "csv"
	}
}

// Extension returns the file extension for the format
func (f ExportFormat) Extension() string {
	return "." + f.String()
}

// ContentType returns the MIME type served for the format
func (f ExportFormat) ContentType() string {
	switch f {
	case ExportFormatCSV:
		return "text/csv; charset=utf-8"
	case ExportFormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ExportFormatParquet:
		return "application/vnd.apache.parquet"
	default:
		return "text/tab-separated-values; charset=utf-8"
	}
}

// ParseExportFormat parses a format name such as "csv" or "parquet".
func ParseExportFormat(s string) (ExportFormat, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "", "csv":
		return ExportFormatCSV, nil
	case "tsv":
		return ExportFormatTSV, nil
	case "ltsv":
		return ExportFormatLTSV, nil
	case "xlsx":
		return ExportFormatXLSX, nil
	case "parquet":
		return ExportFormatParquet, nil
	default:
		return ExportFormatCSV, &ValidationError{Field: "format", Value: s, Reason: "must be one of csv, tsv, ltsv, xlsx, parquet"}
	}
}

// CompressionType represents the compression type
type CompressionType int

const (
	// CompressionNone represents no compression
	CompressionNone CompressionType = iota
	// CompressionGZ represents gzip compression
	CompressionGZ
	// CompressionBZ2 represents bzip2 compression (read only)
	CompressionBZ2
	// CompressionXZ represents xz compression
	CompressionXZ
	// CompressionZSTD represents zstd compression
	CompressionZSTD
)

// String returns the string representation of CompressionType
func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionGZ:
		return "gz"
	case CompressionBZ2:
		return "bz2"
	case CompressionXZ:
		return "xz"
	case CompressionZSTD:
		return "zstd"
	default:
		return "none"
	}
}

// Extension returns the file extension for the compression type
func (c CompressionType) Extension() string {
	switch c {
	case CompressionGZ:
		return ".gz"
	case CompressionBZ2:
		return ".bz2"
	case CompressionXZ:
		return ".xz"
	case CompressionZSTD:
		return ".zst"
	default:
		return ""
	}
}

// ParseCompressionType parses a compression name such as "gz" or "zstd".
func ParseCompressionType(s string) (CompressionType, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "", "none":
		return CompressionNone, nil
	case "gz", "gzip":
		return CompressionGZ, nil
	case "bz2", "bzip2":
		return CompressionBZ2, nil
	case "xz":
		return CompressionXZ, nil
	case "zst", "zstd":
		return CompressionZSTD, nil
	default:
		return CompressionNone, &ValidationError{Field: "compression", Value: s, Reason: fmt.Sprintf("unknown compression %q", s)}
	}
}
