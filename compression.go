package sheetpreview

import (
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// readableCompressions are the compressions recognized from a file extension.
var readableCompressions = []CompressionType{CompressionGZ, CompressionBZ2, CompressionXZ, CompressionZSTD}

// errBzip2Write is returned for exports asking for bzip2 output.
var errBzip2Write = errors.New("bzip2 can only be read, not written")

func nopClose() error { return nil }

// splitDatasetName parses the base name of a dataset file such as "jobs.json.gz".
// It returns the raw dataset name ("jobs"), the compression given by the last
// extension, and whether the remaining name ends in ".json".
func splitDatasetName(path string) (dataset string, compression CompressionType, isJSON bool) {
	base := filepath.Base(path)
	lower := strings.ToLower(base)
	for _, c := range readableCompressions {
		if strings.HasSuffix(lower, c.Extension()) {
			compression = c
			base = base[:len(base)-len(c.Extension())]
			lower = lower[:len(lower)-len(c.Extension())]
			break
		}
	}
	if strings.HasSuffix(lower, extJSON) && len(lower) > len(extJSON) {
		return base[:len(base)-len(extJSON)], compression, true
	}
	return base, compression, false
}

// decompress wraps r with the decoder of compression. The returned function
// releases the decoder; it does not close r.
func decompress(r io.Reader, compression CompressionType) (io.Reader, func() error, error) {
	switch compression {
	case CompressionNone:
		return r, nopClose, nil
	case CompressionGZ:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("gzip: %w", err)
		}
		return zr, zr.Close, nil
	case CompressionBZ2:
		return bzip2.NewReader(r), nopClose, nil
	case CompressionXZ:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("xz: %w", err)
		}
		return xr, nopClose, nil
	case CompressionZSTD:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("zstd: %w", err)
		}
		return dec, func() error {
			dec.Close()
			return nil
		}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported compression: %v", compression)
	}
}

// compress wraps w with the encoder of compression. The returned function
// flushes and closes the encoder; it does not close w.
func compress(w io.Writer, compression CompressionType) (io.Writer, func() error, error) {
	switch compression {
	case CompressionNone:
		return w, nopClose, nil
	case CompressionGZ:
		zw := gzip.NewWriter(w)
		return zw, zw.Close, nil
	case CompressionBZ2:
		return nil, nil, errBzip2Write
	case CompressionXZ:
		xw, err := xz.NewWriter(w)
		if err != nil {
			return nil, nil, fmt.Errorf("xz: %w", err)
		}
		return xw, xw.Close, nil
	case CompressionZSTD:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, nil, fmt.Errorf("zstd: %w", err)
		}
		return zw, zw.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported compression: %v", compression)
	}
}

// datasetFile is an open dataset document. Reads return decompressed JSON.
type datasetFile struct {
	io.Reader
	// Dataset is the raw dataset name taken from the file name.
	Dataset     string
	Compression CompressionType

	file       *os.File
	closeCodec func() error
}

// openDataset opens a dataset file, choosing the decoder from its extension.
func openDataset(path string) (*datasetFile, error) {
	dataset, compression, isJSON := splitDatasetName(path)
	if !isJSON {
		return nil, errors.New("not a JSON dataset file")
	}

	f, err := os.Open(path) //nolint:gosec // dataset paths come from the operator
	if err != nil {
		return nil, err
	}
	r, closeCodec, err := decompress(f, compression)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &datasetFile{
		Reader:      r,
		Dataset:     dataset,
		Compression: compression,
		file:        f,
		closeCodec:  closeCodec,
	}, nil
}

// Close releases the decoder and the file.
func (d *datasetFile) Close() error {
	return errors.Join(d.closeCodec(), d.file.Close())
}

// exportFile is an export destination on disk, compressed on write.
type exportFile struct {
	io.Writer
	path       string
	file       *os.File
	closeCodec func() error
}

// createExportFile creates path and wraps it with the encoder of compression.
// Nothing is left on disk when the encoder cannot be created.
func createExportFile(path string, compression CompressionType) (*exportFile, error) {
	if compression == CompressionBZ2 {
		return nil, errBzip2Write
	}
	f, err := os.Create(path) //nolint:gosec // output directory is validated by the caller
	if err != nil {
		return nil, err
	}
	w, closeCodec, err := compress(f, compression)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, err
	}
	return &exportFile{Writer: w, path: path, file: f, closeCodec: closeCodec}, nil
}

// Close flushes the encoder and syncs the file. With failed set, or when closing
// fails, the partial file is removed.
func (e *exportFile) Close(failed bool) error {
	err := e.closeCodec()
	if err == nil {
		err = e.file.Sync()
	}
	if closeErr := e.file.Close(); err == nil {
		err = closeErr
	}
	if failed || err != nil {
		_ = os.Remove(e.path)
	}
	return err
}
