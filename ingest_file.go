package sheetpreview

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/sheetpreview/domain/model"
)

// extJSON is the extension of dataset documents, before any compression extension
const extJSON = ".json"

// IngestFile ingests one dataset file. The dataset name is the file name without
// its ".json" and compression extensions. Files compressed with gzip, bzip2, xz or
// zstandard are decompressed transparently.
func (i *Ingestor) IngestFile(ctx context.Context, path string) (*IngestReport, error) {
	f, err := openDataset(path)
	if err != nil {
		return nil, NewErrorContext("ingest", path).Error(err)
	}

	report, err := i.ingest(ctx, f.Dataset, path, f)
	if closeErr := f.Close(); closeErr != nil && err == nil {
		err = NewErrorContext("close", path).WithDataset(f.Dataset).Error(closeErr)
	}
	return report, err
}

// FileFailure is a dataset file that could not be ingested at all.
type FileFailure struct {
	Path string `json:"path"`
	Err  error  `json:"-"`
}

// DirReport summarizes an IngestDir run.
type DirReport struct {
	Root string `json:"root"`
	// Datasets holds one report per ingested file, newest file first.
	Datasets []*IngestReport `json:"datasets"`
	// Failed lists files whose document could not be read.
	Failed []FileFailure `json:"-"`
	// Shadowed lists older files whose dataset name is taken by a newer file.
	Shadowed []string `json:"shadowed"`
}

// Err joins the errors of every failed file, or returns nil.
func (r *DirReport) Err() error {
	errs := make([]error, len(r.Failed))
	for i, f := range r.Failed {
		errs[i] = f.Err
	}
	return errors.Join(errs...)
}

// IngestDir ingests every dataset file directly inside root.
//
// Files are ordered newest modification time first. When two files map to the same
// dataset name, only the newest is ingested and the others are reported as
// shadowed. Datasets are ingested concurrently, bounded by the store's parallelism;
// one file's failure never stops the others.
func (i *Ingestor) IngestDir(ctx context.Context, root string) (*DirReport, error) {
	files, err := latestDatasetFiles(root)
	if err != nil {
		return nil, NewErrorContext("scan", root).Error(err)
	}

	report := &DirReport{
		Root:     root,
		Datasets: []*IngestReport{},
		Shadowed: []string{},
	}

	var selected []string
	seen := make(map[string]struct{})
	for _, f := range files {
		name := model.NormalizeName(DatasetNameFromPath(f))
		if _, dup := seen[name]; dup {
			report.Shadowed = append(report.Shadowed, f)
			continue
		}
		seen[name] = struct{}{}
		selected = append(selected, f)
	}

	results := make([]*IngestReport, len(selected))
	failures := make([]error, len(selected))

	var g errgroup.Group
	g.SetLimit(i.store.parallelism)
	for idx, path := range selected {
		g.Go(func() error {
			r, err := i.IngestFile(ctx, path)
			results[idx] = r
			failures[idx] = err
			// Never cancel siblings.
			return nil
		})
	}
	_ = g.Wait()

	for idx, path := range selected {
		if failures[idx] != nil {
			report.Failed = append(report.Failed, FileFailure{Path: path, Err: failures[idx]})
			i.store.logger.WarnContext(ctx, "dataset file failed",
				slog.String("path", path),
				slog.String("error", failures[idx].Error()))
			continue
		}
		report.Datasets = append(report.Datasets, results[idx])
	}

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// IsDatasetFile reports whether path names a JSON document, optionally compressed.
func IsDatasetFile(path string) bool {
	_, _, isJSON := splitDatasetName(path)
	return isJSON
}

// DatasetNameFromPath returns the raw dataset name of a file: its base name
// without compression and ".json" extensions.
func DatasetNameFromPath(path string) string {
	dataset, _, _ := splitDatasetName(path)
	return dataset
}

// latestDatasetFiles lists dataset files directly inside root, newest first.
// Files with equal modification times are ordered by name.
func latestDatasetFiles(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		path    string
		modTime time.Time
	}
	var candidates []candidate
	for _, e := range entries {
		if e.IsDir() || !IsDatasetFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue // removed while scanning
			}
			return nil, err
		}
		if !info.Mode().IsRegular() {
			continue
		}
		candidates = append(candidates, candidate{path: filepath.Join(root, e.Name()), modTime: info.ModTime()})
	}

	slices.SortStableFunc(candidates, func(a, b candidate) int {
		if c := b.modTime.Compare(a.modTime); c != 0 {
			return c
		}
		return strings.Compare(a.path, b.path)
	})

	paths := make([]string, len(candidates))
	for i, c := range candidates {
		paths[i] = c.path
	}
	return paths, nil
}
