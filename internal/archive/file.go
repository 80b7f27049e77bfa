// Package archive provides the cold-storage BatchArchiver sink. The current
// backend is a local NDJSON file; the batching contract is the part that
// matters, the destination is swappable.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/quantfabric/market-ingest/internal/domain"
)

// envelope is the archived line format: kind plus exactly one event.
type envelope struct {
	Kind string       `json:"kind"`
	Tick *domain.Tick `json:"tick,omitempty"`
	Bar  *domain.Bar  `json:"bar,omitempty"`
}

// FileArchiver buffers events as NDJSON lines and appends them to a local
// archive file once the batch-size threshold is reached, on explicit Flush,
// or on Close.
type FileArchiver struct {
	mu        sync.Mutex
	buffer    []json.RawMessage
	batchSize int
	path      string
	logger    *zap.Logger
}

// Option is a functional option for configuring a FileArchiver.
type Option func(*FileArchiver)

// WithBatchSize sets the number of buffered events that triggers a flush.
func WithBatchSize(n int) Option {
	return func(a *FileArchiver) {
		if n > 0 {
			a.batchSize = n
		}
	}
}

// WithLogger sets the logger for the archiver.
func WithLogger(logger *zap.Logger) Option {
	return func(a *FileArchiver) {
		a.logger = logger
	}
}

// NewFileArchiver creates an archiver appending to archive.ndjson under dir.
func NewFileArchiver(dir string, opts ...Option) (*FileArchiver, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}

	a := &FileArchiver{
		batchSize: 10_000,
		path:      filepath.Join(dir, "archive.ndjson"),
		logger:    zap.NewNop(),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a, nil
}

// AcceptTick buffers a tick for archival.
func (a *FileArchiver) AcceptTick(ctx context.Context, t domain.Tick) error {
	return a.accept(envelope{Kind: "tick", Tick: &t})
}

// AcceptBar buffers a bar for archival.
func (a *FileArchiver) AcceptBar(ctx context.Context, b domain.Bar) error {
	return a.accept(envelope{Kind: "bar", Bar: &b})
}

func (a *FileArchiver) accept(env envelope) error {
	line, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal archive line: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.buffer = append(a.buffer, line)
	if len(a.buffer) >= a.batchSize {
		return a.flushLocked()
	}
	return nil
}

// Flush writes all buffered events to the archive file.
func (a *FileArchiver) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flushLocked()
}

// Close flushes remaining events.
func (a *FileArchiver) Close() error {
	return a.Flush()
}

// Buffered returns the number of events currently awaiting flush.
func (a *FileArchiver) Buffered() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffer)
}

func (a *FileArchiver) flushLocked() error {
	if len(a.buffer) == 0 {
		return nil
	}

	var out bytes.Buffer
	for _, line := range a.buffer {
		out.Write(line)
		out.WriteByte('\n')
	}

	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open archive file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(out.Bytes()); err != nil {
		return fmt.Errorf("append archive batch: %w", err)
	}

	a.logger.Debug("Flushed archive batch",
		zap.Int("events", len(a.buffer)),
		zap.String("path", a.path),
	)
	a.buffer = a.buffer[:0]
	return nil
}
