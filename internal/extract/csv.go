// Package extract streams rows out of delimited source files.
package extract

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// Row is a single CSV data row keyed by header column name.
type Row map[string]string

// Get returns the trimmed value of a column, or "" when absent.
func (r Row) Get(column string) string {
	return strings.TrimSpace(r[column])
}

// CSVOptions configures the streaming CSV reader.
type CSVOptions struct {
	Delimiter  rune   // default ','
	Encoding   string // "utf-8" (default) or "latin-1"
	LazyQuotes bool
}

// CSVReader streams header-keyed rows from a CSV file. It is single-pass and
// forward-only; reuse requires opening a new reader.
type CSVReader struct {
	path string
	opts CSVOptions
	file *os.File
	log  *zap.Logger
}

// OpenCSV opens the source file for streaming. It fails immediately when the
// file does not exist so the pipeline can abort before touching the database.
func OpenCSV(path string, opts CSVOptions) (*CSVReader, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrapf(err, "extract: source file not found: %s", path)
		}
		return nil, eris.Wrapf(err, "extract: open %s", path)
	}
	return &CSVReader{
		path: path,
		opts: opts,
		file: f,
		log:  zap.L().With(zap.String("component", "extract.csv")),
	}, nil
}

// Stream reads the header row, then sends one Row per data row. Both channels
// are closed and the file handle released when streaming ends, on success,
// exhaustion, or error. A missing header row is reported as a malformed
// source error.
func (c *CSVReader) Stream(ctx context.Context) (<-chan Row, <-chan error) {
	rowCh := make(chan Row, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)
		defer func() { _ = c.file.Close() }()

		var src io.Reader = c.file
		if decoded, err := decodeReader(src, c.opts.Encoding); err != nil {
			errCh <- err
			return
		} else {
			src = decoded
		}

		reader := csv.NewReader(src)
		if c.opts.Delimiter != 0 {
			reader.Comma = c.opts.Delimiter
		}
		reader.LazyQuotes = c.opts.LazyQuotes
		reader.FieldsPerRecord = -1

		header, err := reader.Read()
		if err == io.EOF {
			errCh <- eris.Errorf("extract: %s has no header row", c.path)
			return
		}
		if err != nil {
			errCh <- eris.Wrapf(err, "extract: read header of %s", c.path)
			return
		}
		for i := range header {
			header[i] = strings.TrimSpace(header[i])
		}
		c.log.Info("streaming csv source",
			zap.String("path", c.path),
			zap.Strings("columns", header),
		)

		rows := 0
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "extract: cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				c.log.Info("csv source exhausted", zap.Int("rows", rows))
				return
			}
			if err != nil {
				errCh <- eris.Wrapf(err, "extract: read row of %s", c.path)
				return
			}

			row := make(Row, len(header))
			for i, col := range header {
				if i < len(record) {
					row[col] = record[i]
				}
			}
			rows++

			select {
			case rowCh <- row:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "extract: cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// decodeReader wraps the source with a charset decoder when the file is not
// UTF-8. Historic commune exports are often Latin-1.
func decodeReader(r io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "utf-8", "utf8":
		return r, nil
	case "latin-1", "latin1", "iso-8859-1":
		return transform.NewReader(r, charmap.ISO8859_1.NewDecoder()), nil
	default:
		return nil, eris.Errorf("extract: unsupported encoding %q", encoding)
	}
}
