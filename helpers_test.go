package sheetpreview

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// jobsDocument is the reference dataset used across tests.
const jobsDocument = `{
	"Jobs": [
		{"Title": "Engineer", "Salary": 100},
		{"Title": "Designer", "Salary": 90.5},
		{"Title": "Manager", "Start Date": "2024-01-02"}
	],
	"Teams": [
		{"Name": "Platform", "Size": 4},
		{"Name": "Growth", "Size": 7}
	],
	"meta": {"version": 2}
}`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestStore opens a store on a fresh database file inside t.TempDir.
func newTestStore(t *testing.T, opts ...func(*Builder)) *Store {
	t.Helper()

	b := NewBuilder().
		WithDatabase(filepath.Join(t.TempDir(), "preview.sqlite")).
		WithLogger(discardLogger())
	for _, opt := range opts {
		opt(b)
	}

	store, err := b.Open(context.Background())
	require.NoError(t, err, "failed to open store")
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// newMemoryStore opens an in-memory store.
func newMemoryStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewBuilder().WithLogger(discardLogger()).Open(context.Background())
	require.NoError(t, err, "failed to open in-memory store")
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// ingestString ingests doc as dataset and fails the test on a document error.
func ingestString(t *testing.T, store *Store, dataset, doc string) *IngestReport {
	t.Helper()

	report, err := store.Ingestor().Ingest(context.Background(), dataset, strings.NewReader(doc))
	require.NoError(t, err, "Ingest() returned a document error")
	require.NotNil(t, report)
	return report
}

// allRows returns every row of table in sheet order.
func allRows(t *testing.T, store *Store, table string) []Row {
	t.Helper()

	var rows []Row
	for offset := 0; ; offset += MaxLimit {
		page, err := store.QueryRows(context.Background(), table, RowQuery{Limit: MaxLimit, Offset: offset})
		require.NoError(t, err)
		rows = append(rows, page.Rows...)
		if int64(offset+MaxLimit) >= page.Total {
			return rows
		}
	}
}

// value returns the value of key in row, failing when it is absent.
func value(t *testing.T, row Row, key string) any {
	t.Helper()

	v, ok := row.Get(key)
	require.Truef(t, ok, "row has no column %q: %v", key, row.Map())
	return v
}

// mustJSONRows decodes a JSON array into rows for Loader.Load.
func mustJSONRows(t *testing.T, array string) []any {
	t.Helper()

	doc, err := DecodeDocument(strings.NewReader(array))
	require.NoError(t, err)
	require.Len(t, doc.Entries, 1)
	rows, ok := doc.Entries[0].Value.([]any)
	require.True(t, ok, "document root is not an array")
	return rows
}
