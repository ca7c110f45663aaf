package sink

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"DataHarvester/internal/domain"
	"DataHarvester/internal/metrics"
	"DataHarvester/internal/ports"
)

const (
	provenanceTimestamp = "_extracted_at"
	provenanceExtractor = "_extractor"

	defaultBatchSize = 500
)

// WriteError marks a flush failure that survived the bounded retries. It is
// fatal to the owning run only.
type WriteError struct {
	Endpoint string
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("endpoint %s: write segment: %v", e.Endpoint, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ParquetWriter buffers records in memory and lands full buffers as row
// groups of one output file per run. The file is written under a .partial
// name and renamed over the endpoint's prior output on Finalize, so a failed
// or cancelled run never clobbers the last good output while row groups
// already flushed stay on disk.
type ParquetWriter struct {
	desc         domain.EndpointDescriptor
	batchSize    int
	flushRetries int
	now          func() time.Time
	sleep        func(time.Duration)

	partialPath string
	finalPath   string
	file        *os.File
	out         io.Writer
	writer      *parquet.GenericWriter[any]
	columns     []string
	buf         []domain.Record
	written     int
}

var _ ports.RecordSink = (*ParquetWriter)(nil)

// NewParquetWriter opens a fresh segment file for one run of the endpoint
// under root/{category}/{output_name}.parquet.
func NewParquetWriter(root string, desc domain.EndpointDescriptor, batchSize, flushRetries int, now func() time.Time) (*ParquetWriter, error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if flushRetries < 0 {
		flushRetries = 0
	}
	if now == nil {
		now = time.Now
	}

	dir := filepath.Join(root, desc.Category)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	finalPath := filepath.Join(dir, desc.OutputName+".parquet")
	partialPath := finalPath + ".partial"
	file, err := os.Create(partialPath)
	if err != nil {
		return nil, fmt.Errorf("create segment file: %w", err)
	}

	return &ParquetWriter{
		desc:         desc,
		batchSize:    batchSize,
		flushRetries: flushRetries,
		now:          now,
		sleep:        time.Sleep,
		partialPath:  partialPath,
		finalPath:    finalPath,
		file:         file,
		out:          file,
		buf:          make([]domain.Record, 0, batchSize),
	}, nil
}

// retryWriter retries transient write failures against the segment file a
// bounded number of times before surfacing the error. Partial writes resume
// at the unwritten remainder, so a retry never duplicates bytes on disk.
type retryWriter struct {
	dst     io.Writer
	retries int
	sleep   func(time.Duration)
}

func (r *retryWriter) Write(p []byte) (int, error) {
	written := 0
	var err error
	for attempt := 0; attempt <= r.retries; attempt++ {
		if attempt > 0 {
			r.sleep(time.Duration(attempt) * time.Second)
		}
		var n int
		n, err = r.dst.Write(p[written:])
		written += n
		if err == nil {
			if written == len(p) {
				return written, nil
			}
			err = io.ErrShortWrite
		}
	}
	return written, err
}

// Append buffers one record; a full buffer is flushed as a new row group.
func (w *ParquetWriter) Append(rec domain.Record) error {
	w.buf = append(w.buf, rec)
	if len(w.buf) >= w.batchSize {
		return w.flush()
	}
	return nil
}

func (w *ParquetWriter) flush() error {
	if len(w.buf) == 0 {
		return nil
	}
	if w.writer == nil {
		w.bindSchema(w.buf[0])
	}

	// Provenance is stamped here, not at record creation, so one extraction
	// timestamp is consistent across the whole flush batch.
	stamp := w.now().UTC().Format(time.RFC3339)
	rows := make([]any, len(w.buf))
	for i, rec := range w.buf {
		rows[i] = w.toRow(rec, stamp)
	}

	// Write only buffers rows in memory; the file I/O happens in Flush,
	// where the retryWriter below the parquet writer absorbs transient
	// failures.
	if _, err := w.writer.Write(rows); err != nil {
		return &WriteError{Endpoint: w.desc.ID, Err: err}
	}
	if err := w.writer.Flush(); err != nil {
		return &WriteError{Endpoint: w.desc.ID, Err: err}
	}

	metrics.RecordsWritten.WithLabelValues(w.desc.ID).Add(float64(len(w.buf)))
	w.written += len(w.buf)
	w.buf = w.buf[:0]
	return nil
}

// bindSchema fixes the column set from the first buffered record plus the
// provenance columns. Later records contribute only fields already bound.
func (w *ParquetWriter) bindSchema(first domain.Record) {
	group := parquet.Group{}
	columns := make([]string, 0, len(first)+2)
	for _, f := range first {
		columns = append(columns, f.Name)
		group[f.Name] = parquet.String()
	}
	group[provenanceTimestamp] = parquet.String()
	group[provenanceExtractor] = parquet.String()
	columns = append(columns, provenanceTimestamp, provenanceExtractor)

	w.columns = columns
	schema := parquet.NewSchema(w.desc.OutputName, group)
	dst := &retryWriter{dst: w.out, retries: w.flushRetries, sleep: w.sleep}
	w.writer = parquet.NewGenericWriter[any](dst, schema)
}

func (w *ParquetWriter) toRow(rec domain.Record, stamp string) map[string]string {
	row := make(map[string]string, len(w.columns))
	for _, col := range w.columns {
		row[col] = ""
	}
	for _, f := range rec {
		if _, ok := row[f.Name]; ok {
			row[f.Name] = f.Value
		}
	}
	row[provenanceTimestamp] = stamp
	row[provenanceExtractor] = w.desc.ID
	return row
}

// Finalize flushes the tail buffer, closes the file, and atomically replaces
// the endpoint's prior output.
func (w *ParquetWriter) Finalize() error {
	if err := w.flush(); err != nil {
		return err
	}
	if w.writer == nil {
		// Zero records: land an empty file so downstream globs stay stable.
		w.bindSchema(domain.Record{})
	}
	if err := w.writer.Close(); err != nil {
		return &WriteError{Endpoint: w.desc.ID, Err: err}
	}
	if err := w.file.Close(); err != nil {
		return &WriteError{Endpoint: w.desc.ID, Err: err}
	}
	if err := os.Rename(w.partialPath, w.finalPath); err != nil {
		return &WriteError{Endpoint: w.desc.ID, Err: err}
	}
	return nil
}

// Abort closes the writer without touching the endpoint's prior output. Row
// groups already flushed remain on disk under the .partial name.
func (w *ParquetWriter) Abort() error {
	if w.writer != nil {
		_ = w.writer.Close()
	}
	return w.file.Close()
}

// Written reports how many records have been flushed so far.
func (w *ParquetWriter) Written() int { return w.written }

// Factory opens ParquetWriter sinks below a fixed output root.
type Factory struct {
	Root         string
	BatchSize    int
	FlushRetries int
	Now          func() time.Time
}

var _ ports.SinkFactory = (*Factory)(nil)

// NewSink opens a fresh segment writer for one run of the endpoint.
func (f *Factory) NewSink(desc domain.EndpointDescriptor) (ports.RecordSink, error) {
	return NewParquetWriter(f.Root, desc, f.BatchSize, f.FlushRetries, f.Now)
}
