package sheetpreview

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/semaphore"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/nao1215/sheetpreview/domain/model"
)

const (
	// DriverName is the database/sql driver used for the preview database
	DriverName = "sqlite"
	// MemoryDatabase is the path that opens a private in-memory database
	MemoryDatabase = ":memory:"
	// DefaultBatchSize is the default number of rows per INSERT statement
	DefaultBatchSize = 500
	// DefaultParallelism is the default number of datasets ingested concurrently by IngestDir
	DefaultParallelism = 4
	// busyTimeoutMillis is how long a writer waits for a lock held by another process
	busyTimeoutMillis = 30000
)

// Builder configures and opens a Store.
//
// The typical usage pattern is:
//
//	store, err := sheetpreview.NewBuilder().
//		WithDatabase("preview.sqlite").
//		WithLogger(logger).
//		WithLoadStrategy(sheetpreview.LoadStrategySwap).
//		Open(ctx)
//	if err != nil {
//		return err
//	}
//	defer store.Close()
type Builder struct {
	// path is the SQLite database file, or MemoryDatabase
	path string
	// logger receives ingestion logs
	logger *slog.Logger
	// batchSize is the number of rows per INSERT statement
	batchSize int
	// strategy selects how tables are refreshed
	strategy LoadStrategy
	// parallelism bounds concurrent dataset ingestion in IngestDir
	parallelism int
}

// NewBuilder creates a builder for an in-memory store with default settings.
func NewBuilder() *Builder {
	return &Builder{
		path:        MemoryDatabase,
		logger:      nil, // Default: slog.Default() at Open time
		batchSize:   DefaultBatchSize,
		strategy:    LoadStrategySwap,
		parallelism: DefaultParallelism,
	}
}

// WithDatabase sets the SQLite database file. Parent directories are created on Open.
// Use MemoryDatabase for a private in-memory database.
func (b *Builder) WithDatabase(path string) *Builder {
	b.path = path
	return b
}

// WithLogger sets the logger used for ingestion logs.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithBatchSize sets the number of rows per INSERT statement.
func (b *Builder) WithBatchSize(size int) *Builder {
	b.batchSize = size
	return b
}

// WithLoadStrategy sets how tables are refreshed.
func (b *Builder) WithLoadStrategy(strategy LoadStrategy) *Builder {
	b.strategy = strategy
	return b
}

// WithParallelism sets how many datasets IngestDir loads concurrently.
func (b *Builder) WithParallelism(n int) *Builder {
	b.parallelism = n
	return b
}

// Open validates the configuration, opens the database and creates the metadata tables.
func (b *Builder) Open(ctx context.Context) (*Store, error) {
	if err := newValidator().validateBuilder(b); err != nil {
		return nil, err
	}

	if b.path != MemoryDatabase {
		if dir := filepath.Dir(b.path); dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open(DriverName, dataSourceName(b.path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if b.path == MemoryDatabase {
		// Every connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, errors.Join(err, fmt.Errorf("failed to close database: %w", closeErr))
		}
		return nil, model.NewStorageError("open database", "", err)
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	store := &Store{
		db:          db,
		path:        b.path,
		logger:      logger,
		batchSize:   b.batchSize,
		strategy:    b.strategy,
		parallelism: b.parallelism,
		tables:      newKeyedMutex(),
		datasets:    newKeyedMutex(),
		writer:      semaphore.NewWeighted(1),
	}
	if err := store.ensureMetadata(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, errors.Join(err, fmt.Errorf("failed to close database: %w", closeErr))
		}
		return nil, err
	}
	return store, nil
}

// Open opens a store on the given database file with default settings.
func Open(ctx context.Context, path string) (*Store, error) {
	return NewBuilder().WithDatabase(path).Open(ctx)
}

// dataSourceName builds the modernc.org/sqlite DSN for path.
// File databases run in WAL mode so readers keep seeing the last committed
// snapshot while a load is in progress; writers take the lock at BEGIN.
// Writers of one Store are serialized by Store.writer, so the busy timeout only
// matters when another process writes the same file.
func dataSourceName(path string) string {
	if path == MemoryDatabase {
		return MemoryDatabase
	}
	return fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_txlock=immediate",
		path, busyTimeoutMillis)
}
