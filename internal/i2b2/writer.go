package i2b2

import (
	"bufio"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/clinformatics/rxmeta/internal/observability/metrics"
)

// Writer emits rows to the output file. Opening in append mode suppresses
// the header so multiple builds can share one file.
type Writer struct {
	file    *os.File
	buf     *bufio.Writer
	rows    int64
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewWriter opens (or appends to) the output file at path. m may be nil.
func NewWriter(path string, appendMode bool, logger *zap.Logger, m *metrics.Metrics) (*Writer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	flags := os.O_WRONLY | os.O_CREATE
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}

	w := &Writer{
		file:    file,
		buf:     bufio.NewWriterSize(file, 1<<20),
		logger:  logger,
		metrics: m,
	}
	if !appendMode {
		if _, err := w.buf.WriteString(Header() + "\n"); err != nil {
			file.Close()
			return nil, fmt.Errorf("write header: %w", err)
		}
	}
	return w, nil
}

// WriteRow appends one encoded row.
func (w *Writer) WriteRow(r Row) error {
	if _, err := w.buf.WriteString(r.Encode() + "\n"); err != nil {
		return fmt.Errorf("write row %s: %w", r.FullName, err)
	}
	w.rows++
	if w.metrics != nil {
		w.metrics.RowsWritten.Inc()
	}
	return nil
}

// Rows returns the number of rows written so far.
func (w *Writer) Rows() int64 { return w.rows }

// Close flushes and closes the output file.
func (w *Writer) Close() error {
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("flush output file: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close output file: %w", err)
	}
	w.logger.Info("output file written", zap.Int64("rows", w.rows))
	return nil
}
