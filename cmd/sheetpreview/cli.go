package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nao1215/sheetpreview"
	"github.com/nao1215/sheetpreview/internal/config"
	"github.com/nao1215/sheetpreview/internal/logging"
	"github.com/nao1215/sheetpreview/internal/web"
)

// app carries state shared by the subcommands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	dbPath    string
	logLevel  string
	logFormat string
	pretty    bool
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "sheetpreview",
		Short: "Load JSON datasets into SQLite preview tables",
		Long: `sheetpreview turns JSON documents whose top-level keys hold arrays of
objects into SQLite tables, one per key, and serves them for paginated preview.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}
	rootCmd.PersistentFlags().StringVar(&a.dbPath, "db", "", "SQLite database file (default: $SQLITE_DB)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error (default: $LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "Log format: text, json (default: $LOG_FORMAT)")

	rootCmd.AddCommand(a.ingestCmd(), a.serveCmd(), a.exportCmd())
	return rootCmd
}

// setup loads the configuration, applies flag overrides and builds the logger.
// Logs go to stderr so command output on stdout stays machine-readable.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.dbPath != "" {
		cfg.Storage.Path = a.dbPath
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Logging.Format = a.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logging.New(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(a.logger)
	return nil
}

func (a *app) openStore(ctx context.Context) (*sheetpreview.Store, error) {
	strategy, err := a.cfg.Ingest.LoadStrategy()
	if err != nil {
		return nil, err
	}
	return sheetpreview.NewBuilder().
		WithDatabase(a.cfg.Storage.Path).
		WithLogger(a.logger).
		WithBatchSize(a.cfg.Ingest.BatchSize).
		WithParallelism(a.cfg.Ingest.Parallelism).
		WithLoadStrategy(strategy).
		Open(ctx)
}

func (a *app) ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest [path]",
		Short: "Ingest a dataset file or every dataset file of a directory",
		Long: `Ingest loads one JSON document (optionally .gz, .bz2, .xz or .zst compressed)
or, for a directory, the newest file of every dataset in it. Without a path the
data root ($DATA_PREVIEW_ROOT) is ingested. The report is printed as JSON.`,
		Args: cobra.MaximumNArgs(1),
		RunE: a.runIngest,
	}
	cmd.Flags().BoolVar(&a.pretty, "pretty", false, "Pretty-print the JSON report")
	return cmd
}

func (a *app) runIngest(cmd *cobra.Command, args []string) error {
	path := a.cfg.Ingest.Root
	if len(args) == 1 {
		path = args[0]
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("dataset path: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Ingest.Timeout)
	defer cancel()

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if !info.IsDir() {
		report, err := store.Ingestor().IngestFile(ctx, path)
		if err != nil {
			return err
		}
		if err := a.printJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
		if report.Failed() {
			return fmt.Errorf("%d sheet(s) failed: %w", len(report.Errors), report.Err())
		}
		return nil
	}

	report, err := store.Ingestor().IngestDir(ctx, path)
	if err != nil {
		return err
	}
	if err := a.printJSON(cmd.OutOrStdout(), report); err != nil {
		return err
	}

	var sheetErrs []error
	for _, d := range report.Datasets {
		sheetErrs = append(sheetErrs, d.Errors...)
	}
	if err := errors.Join(report.Err(), errors.Join(sheetErrs...)); err != nil {
		return fmt.Errorf("%d file(s) and %d sheet(s) failed: %w", len(report.Failed), len(sheetErrs), err)
	}
	return nil
}

func (a *app) printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	if a.pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the preview HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.logger = logging.Setup(a.cfg.Logging.Level, a.cfg.Logging.Format)
			a.logger.Info("configuration loaded", "config", a.cfg.String())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			srv := web.NewServer(store, web.OptionsFromConfig(a.cfg, a.logger))
			return srv.ListenAndServe(ctx, a.cfg.Server)
		},
	}
}

func (a *app) exportCmd() *cobra.Command {
	var (
		format      string
		compression string
		output      string
		dataset     string
		dir         string
	)

	cmd := &cobra.Command{
		Use:   "export [table]",
		Short: "Export a table, or every table of a dataset",
		Long: `Export writes one table to --output (default: stdout), or with --dataset
writes every table of the dataset into --dir as <table>.<format>[.<compression>].`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := sheetpreview.ParseExportFormat(format)
			if err != nil {
				return err
			}
			c, err := sheetpreview.ParseCompressionType(compression)
			if err != nil {
				return err
			}
			opts := sheetpreview.NewExportOptions().WithFormat(f).WithCompression(c)

			switch {
			case dataset != "" && len(args) == 0:
			case dataset == "" && len(args) == 1:
			default:
				return errors.New("give either a table argument or --dataset")
			}

			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if dataset != "" {
				paths, err := store.DumpDataset(ctx, dataset, dir, opts)
				if err != nil {
					return err
				}
				for _, p := range paths {
					fmt.Fprintln(cmd.OutOrStdout(), p)
				}
				return nil
			}
			return exportTable(ctx, store, args[0], output, cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "csv", "Output format: csv, tsv, ltsv, xlsx, parquet")
	cmd.Flags().StringVarP(&compression, "compression", "c", "none", "Output compression: none, gz, xz, zstd")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file for a single table (default: stdout)")
	cmd.Flags().StringVar(&dataset, "dataset", "", "Export every table of this dataset")
	cmd.Flags().StringVar(&dir, "dir", ".", "Output directory for --dataset")
	return cmd
}

// exportTable writes table to path, or to stdout when path is empty.
// A partially written file is removed on failure.
func exportTable(ctx context.Context, store *sheetpreview.Store, table, path string, stdout io.Writer, opts sheetpreview.ExportOptions) (err error) {
	if path == "" {
		return store.ExportTable(ctx, table, stdout, opts)
	}

	f, err := os.Create(path) //nolint:gosec // output path is chosen by the user
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()
	return store.ExportTable(ctx, table, f, opts)
}
