package sheetpreview

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nao1215/sheetpreview/domain/model"
)

var strategies = []LoadStrategy{LoadStrategySwap, LoadStrategyTruncate}

func withStrategy(s LoadStrategy) func(*Builder) {
	return func(b *Builder) { b.WithLoadStrategy(s) }
}

func withBatchSize(n int) func(*Builder) {
	return func(b *Builder) { b.WithBatchSize(n) }
}

func TestLoader_Load(t *testing.T) {
	t.Parallel()

	for _, strategy := range strategies {
		t.Run(strategy.String(), func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			store := newTestStore(t, withStrategy(strategy))
			rows := mustJSONRows(t, `[{"a": 1, "b": "x"}, {"a": 2}, {"a": 3, "b": "z"}]`)
			schema, err := BuildSchema("ds__sheet", rows)
			require.NoError(t, err)

			result, err := store.Loader().Load(ctx, schema, rows)
			require.NoError(t, err)
			assert.Equal(t, "ds__sheet", result.Table)
			assert.Equal(t, int64(3), result.RowsLoaded)
			assert.True(t, result.Created)
			assert.False(t, result.SchemaChanged)
			assert.Zero(t, result.CoercionFallbacks)

			got := allRows(t, store, "ds__sheet")
			require.Len(t, got, 3)
			assert.Equal(t, int64(1), value(t, got[0], "a"))
			assert.Equal(t, "x", value(t, got[0], "b"))
			assert.Nil(t, value(t, got[1], "b"), "missing key is stored as NULL")

			registered, err := store.GetSchema(ctx, "ds__sheet")
			require.NoError(t, err)
			assert.True(t, registered.Equal(schema))
		})
	}
}

func TestLoader_ReloadReplacesRows(t *testing.T) {
	t.Parallel()

	for _, strategy := range strategies {
		t.Run(strategy.String(), func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			store := newTestStore(t, withStrategy(strategy))
			loader := store.Loader()

			first := mustJSONRows(t, `[{"n": 1}, {"n": 2}, {"n": 3}, {"n": 4}]`)
			schema, err := BuildSchema("ds__nums", first)
			require.NoError(t, err)
			_, err = loader.Load(ctx, schema, first)
			require.NoError(t, err)

			second := mustJSONRows(t, `[{"n": 10}, {"n": 20}]`)
			result, err := loader.Load(ctx, schema, second)
			require.NoError(t, err)
			assert.False(t, result.Created)
			assert.False(t, result.SchemaChanged)
			assert.Equal(t, int64(2), result.RowsLoaded)

			got := allRows(t, store, "ds__nums")
			require.Len(t, got, 2, "no rows of the previous load may survive")
			assert.Equal(t, int64(10), value(t, got[0], "n"))
			assert.Equal(t, int64(20), value(t, got[1], "n"))

			sheets, err := store.ListSheets(ctx, "ds")
			require.NoError(t, err)
			require.Len(t, sheets, 1)
			assert.Equal(t, int64(2), sheets[0].RowCount)
		})
	}
}

func TestLoader_SchemaDrift(t *testing.T) {
	t.Parallel()

	for _, strategy := range strategies {
		t.Run(strategy.String(), func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			store := newTestStore(t, withStrategy(strategy))
			loader := store.Loader()

			before := mustJSONRows(t, `[{"a": 1, "b": 2}]`)
			schema, err := BuildSchema("ds__drift", before)
			require.NoError(t, err)
			_, err = loader.Load(ctx, schema, before)
			require.NoError(t, err)

			after := mustJSONRows(t, `[{"a": "one", "c": true}]`)
			drifted, err := BuildSchema("ds__drift", after)
			require.NoError(t, err)
			result, err := loader.Load(ctx, drifted, after)
			require.NoError(t, err)
			assert.False(t, result.Created)
			assert.True(t, result.SchemaChanged)

			registered, err := store.GetSchema(ctx, "ds__drift")
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "c"}, registered.ColumnNames())
			assert.Equal(t, model.ColumnTypeText, registered.Columns[0].Type)
			assert.Equal(t, model.ColumnTypeInteger, registered.Columns[1].Type)

			got := allRows(t, store, "ds__drift")
			require.Len(t, got, 1)
			assert.Equal(t, "one", value(t, got[0], "a"))
			assert.Equal(t, int64(1), value(t, got[0], "c"), "booleans are stored as 0/1")
		})
	}
}

func TestLoader_CoercionFallback(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	schema := &model.TableSchema{
		Name: "ds__fallback",
		Columns: []model.Column{
			{Name: "n", Source: "n", Type: model.ColumnTypeInteger},
			{Name: "at", Source: "at", Type: model.ColumnTypeDatetime},
		},
	}
	rows := mustJSONRows(t, `[{"n": 1, "at": "2024-05-01"}, {"n": "many", "at": "soon"}, {"n": null}]`)

	result, err := store.Loader().Load(ctx, schema, rows)
	require.NoError(t, err)
	assert.Equal(t, 2, result.CoercionFallbacks)

	got := allRows(t, store, "ds__fallback")
	require.Len(t, got, 3)
	assert.Equal(t, int64(1), value(t, got[0], "n"))
	assert.Equal(t, "2024-05-01", value(t, got[0], "at"))
	assert.Equal(t, "many", value(t, got[1], "n"), "raw text is kept when coercion fails")
	assert.Equal(t, "soon", value(t, got[1], "at"))
	assert.Nil(t, value(t, got[2], "n"))
}

func TestLoader_Batching(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		batchSize int
		rows      int
	}{
		{name: "exact multiple of the batch size", batchSize: 100, rows: 300},
		{name: "trailing partial batch", batchSize: 100, rows: 1234},
		{name: "single row batches", batchSize: 1, rows: 5},
		{name: "fewer rows than one batch", batchSize: DefaultBatchSize, rows: 7},
		{name: "empty sheet", batchSize: DefaultBatchSize, rows: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			store := newTestStore(t, withBatchSize(tt.batchSize))

			var sb strings.Builder
			sb.WriteString("[")
			for i := 0; i < tt.rows; i++ {
				if i > 0 {
					sb.WriteString(",")
				}
				fmt.Fprintf(&sb, `{"id": %d, "label": "row %d"}`, i+1, i+1)
			}
			sb.WriteString("]")
			rows := mustJSONRows(t, sb.String())

			schema, err := BuildSchema("ds__batch", rows)
			require.NoError(t, err)
			result, err := store.Loader().Load(ctx, schema, rows)
			require.NoError(t, err)
			assert.Equal(t, int64(tt.rows), result.RowsLoaded)

			if tt.rows == 0 {
				page, err := store.QueryRows(ctx, "ds__batch", RowQuery{})
				require.NoError(t, err)
				assert.Zero(t, page.Total)
				return
			}
			page, err := store.QueryRows(ctx, "ds__batch", RowQuery{OrderBy: "id", OrderDir: "desc", Limit: 1})
			require.NoError(t, err)
			assert.Equal(t, int64(tt.rows), page.Total)
			assert.Equal(t, int64(tt.rows), value(t, page.Rows[0], "id"))
		})
	}
}

func TestLoader_FailedLoadKeepsPreviousRows(t *testing.T) {
	t.Parallel()

	for _, strategy := range strategies {
		t.Run(strategy.String(), func(t *testing.T) {
			t.Parallel()

			store := newTestStore(t, withStrategy(strategy))
			loader := store.Loader()

			rows := mustJSONRows(t, `[{"v": "kept"}]`)
			schema, err := BuildSchema("ds__stable", rows)
			require.NoError(t, err)
			_, err = loader.Load(context.Background(), schema, rows)
			require.NoError(t, err)

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			replacement := mustJSONRows(t, `[{"v": "new"}, {"v": "newer"}]`)
			_, err = loader.Load(ctx, schema, replacement)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrStorage), "got %v", err)

			got := allRows(t, store, "ds__stable")
			require.Len(t, got, 1)
			assert.Equal(t, "kept", value(t, got[0], "v"))
		})
	}
}

func TestLoader_FailureAfterWritesRollsBack(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		strategy    LoadStrategy
		trigger     string
		replacement string
	}{
		{
			name:     "truncate fails on second insert",
			strategy: LoadStrategyTruncate,
			trigger: `CREATE TRIGGER reject_bad BEFORE INSERT ON "ds__stable"
				WHEN NEW.v = 'bad' BEGIN SELECT RAISE(ABORT, 'rejected'); END`,
			replacement: `[{"v": "new"}, {"v": "bad"}, {"v": "newer"}]`,
		},
		{
			name:     "truncate fails recording metadata",
			strategy: LoadStrategyTruncate,
			trigger: `CREATE TRIGGER reject_columns BEFORE INSERT ON _preview_columns
				BEGIN SELECT RAISE(ABORT, 'rejected'); END`,
			replacement: `[{"v": "new"}, {"v": "newer"}]`,
		},
		{
			name:     "swap fails after rename",
			strategy: LoadStrategySwap,
			trigger: `CREATE TRIGGER reject_columns BEFORE INSERT ON _preview_columns
				BEGIN SELECT RAISE(ABORT, 'rejected'); END`,
			replacement: `[{"v": "new"}, {"v": "newer"}]`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			store := newTestStore(t, withStrategy(tt.strategy), withBatchSize(1))
			loader := store.Loader()

			rows := mustJSONRows(t, `[{"v": "a"}, {"v": "b"}]`)
			schema, err := BuildSchema("ds__stable", rows)
			require.NoError(t, err)
			_, err = loader.Load(ctx, schema, rows)
			require.NoError(t, err)

			_, err = store.DB().ExecContext(ctx, tt.trigger)
			require.NoError(t, err)

			_, err = loader.Load(ctx, schema, mustJSONRows(t, tt.replacement))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrStorage), "got %v", err)

			got := allRows(t, store, "ds__stable")
			require.Len(t, got, 2)
			assert.Equal(t, "a", value(t, got[0], "v"))
			assert.Equal(t, "b", value(t, got[1], "v"))

			var count int64
			require.NoError(t, store.DB().QueryRowContext(ctx,
				`SELECT row_count FROM _preview_tables WHERE table_name = 'ds__stable'`).Scan(&count))
			assert.Equal(t, int64(2), count)
		})
	}
}

func TestStore_BeginWriteAdmitsOneWriter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	tx, release, err := store.beginWrite(ctx, "ds__a")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, _, err = store.beginWrite(waitCtx, "ds__b")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorage), "got %v", err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)

	require.NoError(t, tx.Rollback())
	release()

	tx, release, err = store.beginWrite(ctx, "ds__b")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	release()
}

func TestLoader_LoadRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	loader := store.Loader()
	textCol := model.Column{Name: "a", Source: "a", Type: model.ColumnTypeText}

	tests := []struct {
		name     string
		schema   *model.TableSchema
		rows     []any
		sentinel error
	}{
		{name: "nil schema", schema: nil, sentinel: ErrValidation},
		{name: "empty table name", schema: &model.TableSchema{Columns: []model.Column{textCol}}, sentinel: ErrValidation},
		{name: "reserved table name", schema: &model.TableSchema{Name: "_preview_tables", Columns: []model.Column{textCol}}, sentinel: ErrValidation},
		{name: "no columns", schema: &model.TableSchema{Name: "ds__t"}, sentinel: ErrValidation},
		{
			name:     "duplicate columns",
			schema:   &model.TableSchema{Name: "ds__t", Columns: []model.Column{textCol, textCol}},
			sentinel: ErrValidation,
		},
		{
			name:     "reserved column",
			schema:   &model.TableSchema{Name: "ds__t", Columns: []model.Column{{Name: "_row_id", Type: model.ColumnTypeInteger}}},
			sentinel: ErrValidation,
		},
		{
			name:     "row that is not an object",
			schema:   &model.TableSchema{Name: "ds__t", Columns: []model.Column{textCol}},
			rows:     []any{model.Object{{Key: "a", Value: "x"}}, "oops"},
			sentinel: ErrSchema,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := loader.Load(ctx, tt.schema, tt.rows)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.sentinel), "got %v", err)
		})
	}
}

func TestLoader_StandaloneTableName(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	rows := mustJSONRows(t, `[{"x": 1}]`)
	schema, err := BuildSchema("standalone", rows)
	require.NoError(t, err)

	_, err = store.Loader().Load(ctx, schema, rows)
	require.NoError(t, err)

	page, err := store.QueryRows(ctx, "standalone", RowQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)
}

func TestLoader_ConcurrentLoadsOfOneTable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	loader := store.Loader()

	const workers = 8
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		go func() {
			doc := fmt.Sprintf(`[{"worker": %d}, {"worker": %d}]`, w, w)
			rows, err := DecodeDocument(strings.NewReader(doc))
			if err != nil {
				errs <- err
				return
			}
			data := rows.Entries[0].Value.([]any)
			schema, err := BuildSchema("ds__race", data)
			if err != nil {
				errs <- err
				return
			}
			_, err = loader.Load(ctx, schema, data)
			errs <- err
		}()
	}
	for w := 0; w < workers; w++ {
		require.NoError(t, <-errs)
	}

	got := allRows(t, store, "ds__race")
	require.Len(t, got, 2, "the table holds exactly one complete load")
	assert.Equal(t, value(t, got[0], "worker"), value(t, got[1], "worker"))
}

func TestValuesPlaceholders(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "(?, ?)", valuesPlaceholders(1, 2))
	assert.Equal(t, "(?), (?), (?)", valuesPlaceholders(3, 1))
}

func TestCreateTableSQL(t *testing.T) {
	t.Parallel()

	schema := &model.TableSchema{
		Name: "ds__t",
		Columns: []model.Column{
			{Name: "title", Type: model.ColumnTypeText},
			{Name: "n", Type: model.ColumnTypeInteger},
			{Name: "at", Type: model.ColumnTypeDatetime},
		},
	}
	assert.Equal(t,
		`CREATE TABLE "ds__t" ("_row_id" INTEGER PRIMARY KEY, "title" TEXT, "n" INTEGER, "at" DATETIME)`,
		createTableSQL("ds__t", schema))
	assert.Equal(t, `"a""b"`, sqlIdent(`a"b`))
}
