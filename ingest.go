package sheetpreview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nao1215/sheetpreview/domain/model"
)

// Ingestor turns JSON documents into preview tables.
// Obtain one from Store.Ingestor.
type Ingestor struct {
	store  *Store
	loader *Loader
}

// SheetReport describes one sheet that was loaded.
type SheetReport struct {
	// Sheet is the normalized sheet name.
	Sheet string `json:"sheet"`
	// SourceKey is the top-level JSON key the sheet came from.
	SourceKey string `json:"source_key"`
	// Table is the materialized table name.
	Table   string         `json:"table"`
	Columns []model.Column `json:"columns"`
	LoadResult
}

// SkippedSheet describes a top-level key that was not loaded.
type SkippedSheet struct {
	SourceKey string `json:"source_key"`
	Sheet     string `json:"sheet"`
	Reason    string `json:"reason"`
}

// IngestReport summarizes one ingestion run of a dataset.
type IngestReport struct {
	RunID   string `json:"run_id"`
	Dataset string `json:"dataset"`
	// Source is the file the document was read from, if any.
	Source  string         `json:"source,omitempty"`
	Sheets  []SheetReport  `json:"sheets"`
	Skipped []SkippedSheet `json:"skipped"`
	// Errors holds per-sheet failures. A sheet with a SchemaError also appears in Skipped.
	Errors []error `json:"-"`
	// Dropped lists tables of earlier runs whose sheet is gone from the document.
	Dropped    []string  `json:"dropped"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// SheetsLoaded returns the number of sheets materialized by the run.
func (r *IngestReport) SheetsLoaded() int {
	return len(r.Sheets)
}

// SheetsSkipped returns the number of top-level keys that were not materialized.
func (r *IngestReport) SheetsSkipped() int {
	return len(r.Skipped)
}

// Failed reports whether any sheet failed with an error.
func (r *IngestReport) Failed() bool {
	return len(r.Errors) > 0
}

// Err joins every per-sheet error, or returns nil.
func (r *IngestReport) Err() error {
	return errors.Join(r.Errors...)
}

// ErrorMessages returns the per-sheet errors as strings.
func (r *IngestReport) ErrorMessages() []string {
	msgs := make([]string, len(r.Errors))
	for i, err := range r.Errors {
		msgs[i] = err.Error()
	}
	return msgs
}

// Ingest reads one JSON document and refreshes every table of the dataset.
//
// Each top-level key whose value is an array of objects becomes a table; other
// values are skipped. A document whose root is an array is a single sheet named
// "data". Sheet failures are collected in the report and never stop sibling
// sheets. Tables of the dataset whose sheet no longer loads are dropped, except
// those whose load failed with a storage error: they keep their previous rows.
//
// The returned error is non-nil only when the document itself cannot be read:
// malformed JSON, or a root that is neither an object nor an array.
func (i *Ingestor) Ingest(ctx context.Context, dataset string, r io.Reader) (*IngestReport, error) {
	return i.ingest(ctx, dataset, "", r)
}

func (i *Ingestor) ingest(ctx context.Context, rawDataset, source string, r io.Reader) (*IngestReport, error) {
	if err := newValidator().validateDatasetName(rawDataset); err != nil {
		return nil, err
	}
	dataset := model.NormalizeName(rawDataset)

	report := &IngestReport{
		RunID:     uuid.NewString(),
		Dataset:   dataset,
		Source:    source,
		Sheets:    []SheetReport{},
		Skipped:   []SkippedSheet{},
		Dropped:   []string{},
		StartedAt: time.Now().UTC(),
	}
	logger := i.store.logger.With(slog.String("dataset", dataset), slog.String("run_id", report.RunID))

	doc, err := model.DecodeDocument(r)
	if err != nil {
		var se *SchemaError
		if errors.As(err, &se) {
			se.Dataset = dataset
		}
		logger.WarnContext(ctx, "dataset rejected", slog.String("error", err.Error()))
		return nil, err
	}

	unlock := i.store.datasets.Lock(dataset)
	defer unlock()

	keep := make(map[string]struct{})
	sheetNames := model.NewNameAllocator()
	for _, entry := range doc.Entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sheet := sheetNames.Allocate(entry.Key)
		table := dataset + model.TableSeparator + sheet

		rows, ok := entry.Value.([]any)
		if !ok {
			report.Skipped = append(report.Skipped, SkippedSheet{
				SourceKey: entry.Key,
				Sheet:     sheet,
				Reason:    fmt.Sprintf("value is %s, not an array", model.JSONKind(entry.Value)),
			})
			continue
		}

		schema, err := model.BuildSchema(table, rows)
		if err != nil {
			var se *SchemaError
			if errors.As(err, &se) {
				se.Dataset, se.Sheet = dataset, sheet
			}
			report.Skipped = append(report.Skipped, SkippedSheet{SourceKey: entry.Key, Sheet: sheet, Reason: err.Error()})
			report.Errors = append(report.Errors, err)
			logger.WarnContext(ctx, "sheet skipped", slog.String("sheet", sheet), slog.String("error", err.Error()))
			continue
		}

		objects, _ := model.AsObjects(rows)
		result, err := i.loader.load(ctx, loadRequest{
			schema:   schema,
			objects:  objects,
			dataset:  dataset,
			sheet:    sheet,
			rawSheet: entry.Key,
		})
		if err != nil {
			report.Errors = append(report.Errors, err)
			if errors.Is(err, ErrStorage) {
				keep[table] = struct{}{}
			}
			logger.ErrorContext(ctx, "sheet load failed", slog.String("sheet", sheet), slog.String("error", err.Error()))
			continue
		}

		keep[table] = struct{}{}
		report.Sheets = append(report.Sheets, SheetReport{
			Sheet:      sheet,
			SourceKey:  entry.Key,
			Table:      table,
			Columns:    schema.Columns,
			LoadResult: *result,
		})
	}

	dropped, err := i.finishDataset(ctx, dataset, rawDataset, source, report.RunID, keep)
	if err != nil {
		report.Errors = append(report.Errors, err)
		logger.ErrorContext(ctx, "dataset registry update failed", slog.String("error", err.Error()))
	}
	report.Dropped = append(report.Dropped, dropped...)
	report.FinishedAt = time.Now().UTC()

	logger.InfoContext(ctx, "dataset ingested",
		slog.Int("sheets_loaded", report.SheetsLoaded()),
		slog.Int("sheets_skipped", report.SheetsSkipped()),
		slog.Int("errors", len(report.Errors)),
		slog.Int("dropped", len(report.Dropped)),
		slog.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

// finishDataset drops tables of the dataset that are not in keep and records the run.
func (i *Ingestor) finishDataset(ctx context.Context, dataset, rawDataset, source, runID string, keep map[string]struct{}) ([]string, error) {
	existing, err := i.store.datasetTables(ctx, dataset)
	if err != nil {
		return nil, model.NewStorageError("list dataset tables", "", err)
	}

	var stale []string
	for _, table := range existing {
		if _, ok := keep[table]; !ok {
			stale = append(stale, table)
		}
	}

	// Lock order is always dataset, then table.
	for _, table := range stale {
		unlock := i.store.tables.Lock(table)
		defer unlock()
	}

	tx, release, err := i.store.beginWrite(ctx, "")
	if err != nil {
		return nil, err
	}
	defer release()
	for _, table := range stale {
		if err := dropTable(ctx, tx, table); err != nil {
			return nil, rollback(tx, model.NewStorageError("drop stale table", table, err))
		}
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO `+datasetsTable+`
		(name, raw_name, source, run_id, loaded_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			raw_name = excluded.raw_name,
			source = excluded.source,
			run_id = excluded.run_id,
			loaded_at = excluded.loaded_at`,
		dataset, rawDataset, source, runID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return nil, rollback(tx, model.NewStorageError("record dataset", "", err))
	}
	if err := tx.Commit(); err != nil {
		return nil, rollback(tx, model.NewStorageError("commit", "", err))
	}
	return stale, nil
}
