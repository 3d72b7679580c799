// Package sheetpreview materializes JSON datasets as SQLite tables and serves
// paginated previews of them.
//
// A dataset is one JSON document. Each top-level key whose value is an array of
// objects is a sheet, and every sheet becomes one table named
// "<dataset>__<sheet>" after name normalization. Columns are the union of the
// keys seen across all rows of the sheet; their types (INTEGER, REAL, DATETIME or
// TEXT) are inferred from every observed value.
//
// # Features
//
//   - Column-global type inference with TEXT fallback
//   - Stable snake_case naming with "_2", "_3" collision suffixes
//   - Atomic table refresh (copy-and-swap by default, or truncate-and-load)
//   - Paginated, searchable and sortable row listing
//   - Compressed dataset input (gzip, bzip2, xz, zstandard)
//   - Table export to CSV, TSV, LTSV, XLSX and Parquet
//
// # Basic Usage
//
//	store, err := sheetpreview.NewBuilder().
//	    WithDatabase("preview.sqlite").
//	    Open(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	report, err := store.Ingestor().IngestFile(ctx, "data/jobs.json")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(report.SheetsLoaded(), "sheets loaded")
//
//	page, err := store.QueryRows(ctx, "jobs__roles", sheetpreview.RowQuery{
//	    Search:  "eng",
//	    OrderBy: "title",
//	    Limit:   20,
//	})
//
// # Errors
//
// Failures are reported with typed errors that match sentinel values through
// errors.Is: ErrSchema for sheets that cannot be ingested, ErrStorage for database
// failures, ErrNotFound for unknown datasets or tables and ErrValidation for bad
// query parameters.
//
// # Reserved Names
//
// Normalized names never start with an underscore. Internal tables
// (_preview_datasets, _preview_tables, _preview_columns) and the hidden
// _row_id column therefore never collide with dataset data.
package sheetpreview
