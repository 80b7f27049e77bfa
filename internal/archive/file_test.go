package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/quantfabric/market-ingest/internal/domain"
)

func readArchiveLines(t *testing.T, dir string) []envelope {
	t.Helper()

	f, err := os.Open(filepath.Join(dir, "archive.ndjson"))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer f.Close()

	var lines []envelope
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var env envelope
		if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
			t.Fatalf("bad archive line %q: %v", scanner.Text(), err)
		}
		lines = append(lines, env)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan archive: %v", err)
	}
	return lines
}

func TestFileArchiverBuffersUntilThreshold(t *testing.T) {
	dir := t.TempDir()
	a, err := NewFileArchiver(dir, WithBatchSize(3))
	if err != nil {
		t.Fatalf("NewFileArchiver() error = %v", err)
	}

	ctx := context.Background()
	a.AcceptTick(ctx, domain.Tick{Symbol: "AAA", Timestamp: 1, Last: 10})
	a.AcceptTick(ctx, domain.Tick{Symbol: "AAA", Timestamp: 2, Last: 11})

	if got := a.Buffered(); got != 2 {
		t.Errorf("Buffered() = %d, want 2", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "archive.ndjson")); !os.IsNotExist(err) {
		t.Error("archive file written before the batch threshold")
	}

	// Third event reaches the threshold and flushes the batch.
	a.AcceptBar(ctx, domain.Bar{Symbol: "BBB", Interval: "1m", Start: 1000, End: 61000, Close: 12})

	if got := a.Buffered(); got != 0 {
		t.Errorf("Buffered() = %d after threshold flush, want 0", got)
	}

	lines := readArchiveLines(t, dir)
	if len(lines) != 3 {
		t.Fatalf("archive holds %d lines, want 3", len(lines))
	}
	if lines[0].Kind != "tick" || lines[0].Tick == nil || lines[0].Tick.Timestamp != 1 {
		t.Errorf("line[0] = %+v, want first tick", lines[0])
	}
	if lines[2].Kind != "bar" || lines[2].Bar == nil || lines[2].Bar.Symbol != "BBB" {
		t.Errorf("line[2] = %+v, want the bar", lines[2])
	}
}

func TestFileArchiverExplicitFlush(t *testing.T) {
	dir := t.TempDir()
	a, err := NewFileArchiver(dir)
	if err != nil {
		t.Fatalf("NewFileArchiver() error = %v", err)
	}

	a.AcceptTick(context.Background(), domain.Tick{Symbol: "AAA", Timestamp: 1})
	if err := a.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	if got := len(readArchiveLines(t, dir)); got != 1 {
		t.Errorf("archive holds %d lines after Flush, want 1", got)
	}

	// Flushing an empty buffer appends nothing.
	if err := a.Flush(); err != nil {
		t.Fatalf("second Flush() error = %v", err)
	}
	if got := len(readArchiveLines(t, dir)); got != 1 {
		t.Errorf("archive holds %d lines after empty Flush, want 1", got)
	}
}

func TestFileArchiverCloseFlushesRemainder(t *testing.T) {
	dir := t.TempDir()
	a, err := NewFileArchiver(dir, WithBatchSize(100))
	if err != nil {
		t.Fatalf("NewFileArchiver() error = %v", err)
	}

	ctx := context.Background()
	for i := int64(1); i <= 5; i++ {
		a.AcceptTick(ctx, domain.Tick{Symbol: "AAA", Timestamp: i})
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	lines := readArchiveLines(t, dir)
	if len(lines) != 5 {
		t.Fatalf("archive holds %d lines, want 5", len(lines))
	}
	for i, env := range lines {
		if env.Tick == nil || env.Tick.Timestamp != int64(i+1) {
			t.Errorf("line[%d] = %+v, want tick with timestamp %d", i, env, i+1)
		}
	}
}

func TestFileArchiverAppendsAcrossBatches(t *testing.T) {
	dir := t.TempDir()
	a, err := NewFileArchiver(dir, WithBatchSize(2))
	if err != nil {
		t.Fatalf("NewFileArchiver() error = %v", err)
	}

	ctx := context.Background()
	for i := int64(1); i <= 4; i++ {
		a.AcceptTick(ctx, domain.Tick{Symbol: "AAA", Timestamp: i})
	}

	// Two threshold flushes appended to the same file.
	if got := len(readArchiveLines(t, dir)); got != 4 {
		t.Errorf("archive holds %d lines, want 4", got)
	}
}
