package writer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/quantfabric/market-ingest/internal/domain"
)

var (
	tickHeader = []string{"symbol", "timestamp", "bid", "ask", "last", "volume"}
	barHeader  = []string{"symbol", "interval", "start", "end", "open", "high", "low", "close", "volume"}
)

// CSVWriter appends ticks and bars to a pair of CSV files. It is the
// development and test stand-in for the TimescaleDB writer.
type CSVWriter struct {
	mu       sync.Mutex
	tickCSV  *csv.Writer
	barCSV   *csv.Writer
	tickFile *os.File // nil when outputs were injected
	barFile  *os.File
}

// CSVOption is a functional option for configuring a CSVWriter.
type CSVOption func(*CSVWriter)

// WithOutputs injects the tick and bar destinations directly, bypassing
// file creation (useful for testing).
func WithOutputs(ticks, bars io.Writer) CSVOption {
	return func(w *CSVWriter) {
		w.tickCSV = csv.NewWriter(ticks)
		w.barCSV = csv.NewWriter(bars)
	}
}

// NewCSVWriter creates a writer producing ticks.csv and bars.csv under dir,
// headers included.
func NewCSVWriter(dir string, opts ...CSVOption) (*CSVWriter, error) {
	w := &CSVWriter{}

	for _, opt := range opts {
		opt(w)
	}

	if w.tickCSV == nil {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}

		tickFile, err := os.Create(filepath.Join(dir, "ticks.csv"))
		if err != nil {
			return nil, fmt.Errorf("create ticks.csv: %w", err)
		}

		barFile, err := os.Create(filepath.Join(dir, "bars.csv"))
		if err != nil {
			tickFile.Close()
			return nil, fmt.Errorf("create bars.csv: %w", err)
		}

		w.tickFile = tickFile
		w.barFile = barFile
		w.tickCSV = csv.NewWriter(tickFile)
		w.barCSV = csv.NewWriter(barFile)
	}

	if err := w.tickCSV.Write(tickHeader); err != nil {
		return nil, fmt.Errorf("write tick header: %w", err)
	}
	if err := w.barCSV.Write(barHeader); err != nil {
		return nil, fmt.Errorf("write bar header: %w", err)
	}
	w.tickCSV.Flush()
	w.barCSV.Flush()

	return w, nil
}

// WriteTick appends a single tick row.
func (w *CSVWriter) WriteTick(ctx context.Context, t domain.Tick) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	record := []string{
		t.Symbol,
		strconv.FormatInt(t.Timestamp, 10),
		formatPrice(t.Bid),
		formatPrice(t.Ask),
		formatPrice(t.Last),
		formatPrice(t.Volume),
	}

	if err := w.tickCSV.Write(record); err != nil {
		return fmt.Errorf("write tick row: %w", err)
	}
	w.tickCSV.Flush()
	return w.tickCSV.Error()
}

// WriteBar appends a single bar row.
func (w *CSVWriter) WriteBar(ctx context.Context, b domain.Bar) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	record := []string{
		b.Symbol,
		b.Interval,
		strconv.FormatInt(b.Start, 10),
		strconv.FormatInt(b.End, 10),
		formatPrice(b.Open),
		formatPrice(b.High),
		formatPrice(b.Low),
		formatPrice(b.Close),
		formatPrice(b.Volume),
	}

	if err := w.barCSV.Write(record); err != nil {
		return fmt.Errorf("write bar row: %w", err)
	}
	w.barCSV.Flush()
	return w.barCSV.Error()
}

// Close flushes both writers and closes the underlying files.
func (w *CSVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.tickCSV.Flush()
	w.barCSV.Flush()

	var firstErr error
	for _, f := range []*os.File{w.tickFile, w.barFile} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
