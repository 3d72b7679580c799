package sheetpreview

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

// writeDatasetFile writes doc to dir/name, compressed according to the file extension.
func writeDatasetFile(t *testing.T, dir, name, doc string, modTime time.Time) string {
	t.Helper()

	var buf bytes.Buffer
	_, compression, _ := splitDatasetName(name)
	switch compression {
	case CompressionGZ:
		w := gzip.NewWriter(&buf)
		_, err := w.Write([]byte(doc))
		require.NoError(t, err)
		require.NoError(t, w.Close())
	case CompressionXZ:
		w, err := xz.NewWriter(&buf)
		require.NoError(t, err)
		_, err = w.Write([]byte(doc))
		require.NoError(t, err)
		require.NoError(t, w.Close())
	case CompressionZSTD:
		w, err := zstd.NewWriter(&buf)
		require.NoError(t, err)
		_, err = w.Write([]byte(doc))
		require.NoError(t, err)
		require.NoError(t, w.Close())
	default:
		buf.WriteString(doc)
	}

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	if !modTime.IsZero() {
		require.NoError(t, os.Chtimes(path, modTime, modTime))
	}
	return path
}

func TestIngestor_IngestFile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		fileName string
	}{
		{name: "plain json", fileName: "Jobs Board.json"},
		{name: "gzip", fileName: "Jobs Board.json.gz"},
		{name: "xz", fileName: "Jobs Board.json.xz"},
		{name: "zstd", fileName: "Jobs Board.json.zst"},
		{name: "upper case extension", fileName: "Jobs Board.JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			store := newTestStore(t)
			path := writeDatasetFile(t, t.TempDir(), tt.fileName, jobsDocument, time.Time{})

			report, err := store.Ingestor().IngestFile(ctx, path)
			require.NoError(t, err)
			assert.Equal(t, "jobs_board", report.Dataset)
			assert.Equal(t, path, report.Source)
			assert.Equal(t, 2, report.SheetsLoaded())

			datasets, err := store.ListDatasets(ctx)
			require.NoError(t, err)
			require.Len(t, datasets, 1)
			assert.Equal(t, "Jobs Board", datasets[0].RawName)
			assert.Equal(t, path, datasets[0].Source)
		})
	}
}

func TestIngestor_IngestFileErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	dir := t.TempDir()

	t.Run("not a json file", func(t *testing.T) {
		t.Parallel()

		path := writeDatasetFile(t, dir, "data.csv", "a,b\n1,2\n", time.Time{})
		_, err := store.Ingestor().IngestFile(ctx, path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		_, err := store.Ingestor().IngestFile(ctx, filepath.Join(dir, "missing.json"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, os.ErrNotExist), "got %v", err)
	})

	t.Run("corrupt gzip", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(dir, "broken.json.gz")
		require.NoError(t, os.WriteFile(path, []byte("not gzip"), 0o600))
		_, err := store.Ingestor().IngestFile(ctx, path)
		assert.Error(t, err)
	})
}

func TestIngestor_IngestDir(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour).Truncate(time.Second)

	older := writeDatasetFile(t, dir, "jobs.json", `{"Jobs": [{"Title": "Old"}]}`, base)
	newer := writeDatasetFile(t, dir, "Jobs.json.zst", jobsDocument, base.Add(2*time.Minute))
	teams := writeDatasetFile(t, dir, "teams.json.gz", `{"Teams": [{"Name": "Core"}]}`, base.Add(time.Minute))
	broken := writeDatasetFile(t, dir, "broken.json", `{"a": [`, base.Add(3*time.Minute))
	writeDatasetFile(t, dir, "notes.txt", "ignored", base)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.json"), 0o750))

	report, err := store.Ingestor().IngestDir(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, dir, report.Root)

	require.Len(t, report.Datasets, 2)
	assert.Equal(t, newer, report.Datasets[0].Source, "newest file first")
	assert.Equal(t, teams, report.Datasets[1].Source)
	assert.Equal(t, []string{older}, report.Shadowed)

	require.Len(t, report.Failed, 1)
	assert.Equal(t, broken, report.Failed[0].Path)
	assert.Error(t, report.Err())

	rows := allRows(t, store, "jobs__jobs")
	require.Len(t, rows, 3, "the shadowed older file is never loaded")
	assert.Equal(t, "Engineer", value(t, rows[0], "title"))

	datasets, err := store.ListDatasets(ctx)
	require.NoError(t, err)
	require.Len(t, datasets, 2)
	assert.Equal(t, "jobs", datasets[0].Name)
	assert.Equal(t, "teams", datasets[1].Name)
}

func TestIngestor_IngestDirErrors(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	_, err := store.Ingestor().IngestDir(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	report, err := store.Ingestor().IngestDir(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, report.Datasets)
	assert.NoError(t, report.Err())
}

func TestLatestDatasetFiles_TieBreak(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	at := time.Now().Add(-time.Hour).Truncate(time.Second)
	b := writeDatasetFile(t, dir, "b.json", `{}`, at)
	a := writeDatasetFile(t, dir, "a.json", `{}`, at)
	c := writeDatasetFile(t, dir, "c.json", `{}`, at.Add(time.Second))

	files, err := latestDatasetFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{c, a, b}, files)
}

func TestIsDatasetFile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want bool
	}{
		{path: "jobs.json", want: true},
		{path: "/data/jobs.JSON", want: true},
		{path: "jobs.json.gz", want: true},
		{path: "jobs.json.bz2", want: true},
		{path: "jobs.json.xz", want: true},
		{path: "jobs.json.zst", want: true},
		{path: ".json", want: false},
		{path: "jobs.csv", want: false},
		{path: "jobs.gz", want: false},
		{path: "jobs.json.zip", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsDatasetFile(tt.path))
		})
	}
}

func TestDatasetNameFromPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "jobs", DatasetNameFromPath("/data/jobs.json"))
	assert.Equal(t, "Jobs Board", DatasetNameFromPath("Jobs Board.json.gz"))
	assert.Equal(t, "report.v2", DatasetNameFromPath("report.v2.JSON.zst"))
}
