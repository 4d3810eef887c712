package artifacts

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

var errIndexBoom = errors.New("index boom")

func TestWriteJSONProducesStableHash(t *testing.T) {
	dir := t.TempDir()
	w := New(dir)

	rec1, err := w.WriteJSON("run1", 0, "trendpack", "TrendPack.v0", map[string]any{"b": 1, "a": 2}, "ticks/0/trendpack.json", nil)
	if err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "ticks/0/trendpack.json"))
	if err != nil {
		t.Fatalf("reading written artifact: %v", err)
	}
	if string(data) != `{"a":2,"b":1}` {
		t.Fatalf("expected canonical key order, got %s", data)
	}
	if rec1.Bytes != len(data) {
		t.Fatalf("expected bytes=%d, got %d", len(data), rec1.Bytes)
	}
}

func TestWriteJSONAppendsManifestEntry(t *testing.T) {
	dir := t.TempDir()
	w := New(dir)

	if _, err := w.WriteJSON("run1", 0, "trendpack", "TrendPack.v0", map[string]any{"x": 1}, "ticks/0/trendpack.json", nil); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	if _, err := w.WriteJSON("run1", 1, "resultspack", "ResultsPack.v0", map[string]any{"x": 2}, "ticks/1/resultspack.json", nil); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	m, err := ReadManifest(dir, "run1")
	if err != nil {
		t.Fatalf("ReadManifest failed: %v", err)
	}
	if len(m.Records) != 2 {
		t.Fatalf("expected 2 manifest records, got %d", len(m.Records))
	}
	if m.Records[0].Tick != 0 || m.Records[1].Tick != 1 {
		t.Fatalf("expected records sorted by tick, got %+v", m.Records)
	}
}

func TestManifestRecordsSortedDeterministicallyRegardlessOfWriteOrder(t *testing.T) {
	dir := t.TempDir()
	w := New(dir)

	// Write tick 1 first, then tick 0: the ledger must still end up sorted.
	if _, err := w.WriteJSON("run1", 1, "kindB", "Schema.v0", map[string]any{}, "ticks/1/x.json", nil); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	if _, err := w.WriteJSON("run1", 0, "kindA", "Schema.v0", map[string]any{}, "ticks/0/x.json", nil); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	m, err := ReadManifest(dir, "run1")
	if err != nil {
		t.Fatalf("ReadManifest failed: %v", err)
	}
	if m.Records[0].Tick != 0 || m.Records[1].Tick != 1 {
		t.Fatalf("expected tick-ascending order regardless of write order, got %+v", m.Records)
	}
}

func TestWriteJSONWithExtraMetadata(t *testing.T) {
	dir := t.TempDir()
	w := New(dir)

	rec, err := w.WriteJSON("run1", 0, "trendpack", "TrendPack.v0", map[string]any{}, "ticks/0/trendpack.json", map[string]any{"note": "x"})
	if err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	if rec.SHA256 == "" {
		t.Fatal("expected a non-empty sha256")
	}

	m, err := ReadManifest(dir, "run1")
	if err != nil {
		t.Fatalf("ReadManifest failed: %v", err)
	}
	if m.Records[0].Extra["note"] != "x" {
		t.Fatalf("expected extra metadata to be preserved, got %+v", m.Records[0].Extra)
	}
}

func TestReadManifestMissingReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	m, err := ReadManifest(dir, "nonexistent-run")
	if err != nil {
		t.Fatalf("ReadManifest failed: %v", err)
	}
	if len(m.Records) != 0 {
		t.Fatalf("expected empty records, got %d", len(m.Records))
	}
}

type fakeIndexer struct {
	calls []Record
	err   error
}

func (f *fakeIndexer) IndexArtifact(runID string, tick int, kind, schemaName, path, sha256 string, bytes int64) error {
	f.calls = append(f.calls, Record{RunID: runID, Tick: tick, Kind: kind, Schema: schemaName, Path: path, SHA256: sha256, Bytes: int(bytes)})
	return f.err
}

func TestWriteJSONCallsIndexerWhenSet(t *testing.T) {
	dir := t.TempDir()
	w := New(dir)
	idx := &fakeIndexer{}
	w.Indexer = idx

	rec, err := w.WriteJSON("run1", 3, "trendpack", "TrendPack.v0", map[string]any{"a": 1}, "ticks/3/trendpack.json", nil)
	if err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	if len(idx.calls) != 1 {
		t.Fatalf("expected exactly one IndexArtifact call, got %d", len(idx.calls))
	}
	got := idx.calls[0]
	if got.RunID != "run1" || got.Tick != 3 || got.Kind != "trendpack" || got.Schema != "TrendPack.v0" || got.SHA256 != rec.SHA256 {
		t.Fatalf("unexpected indexed record: %+v", got)
	}
}

func TestWriteJSONWithNilIndexerSkipsIndexing(t *testing.T) {
	dir := t.TempDir()
	w := New(dir)

	if _, err := w.WriteJSON("run1", 0, "trendpack", "TrendPack.v0", map[string]any{}, "ticks/0/trendpack.json", nil); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
}

func TestWriteJSONPropagatesIndexerError(t *testing.T) {
	dir := t.TempDir()
	w := New(dir)
	w.Indexer = &fakeIndexer{err: errIndexBoom}

	_, err := w.WriteJSON("run1", 0, "trendpack", "TrendPack.v0", map[string]any{}, "ticks/0/trendpack.json", nil)
	if err == nil {
		t.Fatal("expected an error when the indexer fails")
	}
}
