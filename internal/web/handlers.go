package web

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nao1215/sheetpreview"
)

// handleHealth answers liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]string{"message": "Healthy"})
}

// datasetItem is one entry of GET /datasets.
type datasetItem struct {
	Dataset  string    `json:"dataset"`
	Tables   []string  `json:"tables"`
	Source   string    `json:"source,omitempty"`
	RunID    string    `json:"run_id"`
	LoadedAt time.Time `json:"loaded_at"`
}

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	datasets, err := s.store.ListDatasets(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	items := make([]datasetItem, len(datasets))
	for i, d := range datasets {
		items[i] = datasetItem{
			Dataset:  d.Name,
			Tables:   d.Tables(),
			Source:   d.Source,
			RunID:    d.RunID,
			LoadedAt: d.LoadedAt,
		}
	}
	s.writeJSON(w, r, http.StatusOK, items)
}

func (s *Server) handleListSheets(w http.ResponseWriter, r *http.Request) {
	sheets, err := s.store.ListSheets(r.Context(), chi.URLParam(r, "dataset"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, sheets)
}

func (s *Server) handleRows(w http.ResponseWriter, r *http.Request) {
	q, err := parseRowQuery(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	page, err := s.store.RowsForSheet(r.Context(), chi.URLParam(r, "dataset"), chi.URLParam(r, "sheet"), q)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, page)
}

// parseRowQuery reads limit, offset, search, order_by and order_dir.
// An absent limit means the default page size; an explicit one must be at least 1.
func parseRowQuery(r *http.Request) (sheetpreview.RowQuery, error) {
	query := r.URL.Query()
	q := sheetpreview.RowQuery{
		Search:   query.Get("search"),
		OrderBy:  query.Get("order_by"),
		OrderDir: query.Get("order_dir"),
	}

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return q, &sheetpreview.ValidationError{
				Field:  "limit",
				Value:  raw,
				Reason: fmt.Sprintf("must be an integer between 1 and %d", sheetpreview.MaxLimit),
			}
		}
		q.Limit = limit
	}

	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			return q, &sheetpreview.ValidationError{Field: "offset", Value: raw, Reason: "must be an integer"}
		}
		q.Offset = offset
	}
	return q, nil
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := s.store.GetSchema(r.Context(), chi.URLParam(r, "table"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, schema)
}

// handleExport streams a table as a download.
// Query parameters: format (csv, tsv, ltsv, xlsx, parquet) and compression (none, gz, xz, zstd).
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")

	opts, err := parseExportOptions(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	// Failures after the first byte can no longer change the status, so the
	// table is resolved up front.
	if _, err := s.store.GetSchema(r.Context(), table); err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", exportContentType(opts))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s%s"`, table, opts.FileExtension()))
	if err := s.store.ExportTable(r.Context(), table, w, opts); err != nil {
		s.requestLogger(r).Error("export failed", "table", table, "format", opts.Format.String(), "error", err.Error())
	}
}

func parseExportOptions(r *http.Request) (sheetpreview.ExportOptions, error) {
	query := r.URL.Query()
	format, err := sheetpreview.ParseExportFormat(query.Get("format"))
	if err != nil {
		return sheetpreview.ExportOptions{}, err
	}
	compression, err := sheetpreview.ParseCompressionType(query.Get("compression"))
	if err != nil {
		return sheetpreview.ExportOptions{}, err
	}
	if compression == sheetpreview.CompressionBZ2 {
		return sheetpreview.ExportOptions{}, &sheetpreview.ValidationError{
			Field:  "compression",
			Value:  query.Get("compression"),
			Reason: "bzip2 can only be read",
		}
	}
	return sheetpreview.NewExportOptions().WithFormat(format).WithCompression(compression), nil
}

func exportContentType(opts sheetpreview.ExportOptions) string {
	switch opts.Compression {
	case sheetpreview.CompressionGZ:
		return "application/gzip"
	case sheetpreview.CompressionXZ:
		return "application/x-xz"
	case sheetpreview.CompressionZSTD:
		return "application/zstd"
	default:
		return opts.Format.ContentType()
	}
}

// ingestFile is the summary of one dataset file in an ingestion response.
type ingestFile struct {
	File     string                      `json:"file"`
	Dataset  string                      `json:"dataset,omitempty"`
	RunID    string                      `json:"run_id,omitempty"`
	Sheets   []sheetpreview.SheetReport  `json:"sheets,omitempty"`
	Skipped  []sheetpreview.SkippedSheet `json:"skipped,omitempty"`
	Dropped  []string                    `json:"dropped,omitempty"`
	Errors   []string                    `json:"errors,omitempty"`
	Error    string                      `json:"error,omitempty"`
	Shadowed bool                        `json:"shadowed,omitempty"`
}

// ingestResult is the body of POST /admin/ingest-json.
type ingestResult struct {
	Root    string       `json:"root"`
	Files   []ingestFile `json:"files"`
	Message string       `json:"message,omitempty"`
}

// handleIngest scans the data root and refreshes every dataset found there.
// The run is detached from the client connection so a disconnect does not
// abort it halfway.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	root := s.opts.DataRoot
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.opts.IngestTimeout)
	defer cancel()

	logger := s.requestLogger(r).With("root", root)
	logger.Info("ingestion triggered")

	result := ingestResult{Root: root, Files: []ingestFile{}}
	report, err := s.store.Ingestor().IngestDir(ctx, root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			result.Message = "data root not found"
			s.writeJSON(w, r, http.StatusOK, result)
			return
		}
		s.respondError(w, r, err)
		return
	}

	for _, d := range report.Datasets {
		result.Files = append(result.Files, ingestFile{
			File:    d.Source,
			Dataset: d.Dataset,
			RunID:   d.RunID,
			Sheets:  d.Sheets,
			Skipped: d.Skipped,
			Dropped: d.Dropped,
			Errors:  d.ErrorMessages(),
		})
	}
	for _, f := range report.Failed {
		result.Files = append(result.Files, ingestFile{File: f.Path, Error: f.Err.Error()})
	}
	for _, path := range report.Shadowed {
		result.Files = append(result.Files, ingestFile{File: path, Shadowed: true})
	}
	if len(result.Files) == 0 {
		result.Message = "no JSON files found"
	}

	logger.Info("ingestion finished",
		"datasets", len(report.Datasets),
		"failed", len(report.Failed),
		"shadowed", len(report.Shadowed))
	s.writeJSON(w, r, http.StatusOK, result)
}
