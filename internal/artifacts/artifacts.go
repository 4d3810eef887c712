// Package artifacts implements the Abraxas artifact writer and per-run
// manifest ledger (§4.K): every artifact is written as canonical JSON,
// content-hashed, and appended to an append-only, deterministically
// re-sorted manifest file.
//
// Grounded on runtime/artifacts.py.
package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/antigravity-dev/abraxas/internal/canon"
)

// Record describes one written artifact.
type Record struct {
	Schema string `json:"schema"`
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Bytes  int    `json:"bytes"`
	RunID  string `json:"run_id"`
	Tick   int    `json:"tick"`
	Kind   string `json:"kind"`
}

// ManifestEntry is one row of a run's manifest ledger.
type ManifestEntry struct {
	Tick   int            `json:"tick"`
	Kind   string         `json:"kind"`
	Schema string         `json:"schema"`
	Path   string         `json:"path"`
	SHA256 string         `json:"sha256"`
	Bytes  int            `json:"bytes"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// Manifest is the per-run ledger of every artifact written during a run.
type Manifest struct {
	Schema  string          `json:"schema"`
	RunID   string          `json:"run_id"`
	Records []ManifestEntry `json:"records"`
}

// Indexer mirrors internal/store.Store's artifact-ingestion method.
// Defined here rather than imported so this package doesn't have to
// depend on database/sql or modernc.org/sqlite — a caller that wants
// artifacts mirrored into the derived SQLite index sets Writer.Indexer
// to a *store.Store; a nil Indexer (the default) writes manifests only.
type Indexer interface {
	IndexArtifact(runID string, tick int, kind, schemaName, path, sha256 string, bytes int64) error
}

// Writer is the Abraxas-owned artifact writer: deterministic JSON out,
// sha256 computed, manifest ledger kept in sync on every write.
type Writer struct {
	root string

	// Indexer, when set, receives every successfully written artifact
	// for ingestion into a derived query index. Indexing failures are
	// reported but never undo the write: the manifest ledger, not the
	// index, is the artifact record of truth.
	Indexer Indexer
}

// New constructs a Writer rooted at artifactsDir.
func New(artifactsDir string) *Writer {
	return &Writer{root: artifactsDir}
}

// WriteJSON writes obj as canonical JSON to root/relPath, appends a
// manifest entry for it, and returns the resulting Record.
func (w *Writer) WriteJSON(runID string, tick int, kind, schema string, obj any, relPath string, extra map[string]any) (Record, error) {
	outPath := filepath.Join(w.root, relPath)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return Record{}, fmt.Errorf("artifacts: creating directory for %s: %w", relPath, err)
	}

	b, err := canon.Bytes(obj)
	if err != nil {
		return Record{}, fmt.Errorf("artifacts: encoding %s: %w", relPath, err)
	}
	if err := os.WriteFile(outPath, b, 0o644); err != nil {
		return Record{}, fmt.Errorf("artifacts: writing %s: %w", relPath, err)
	}

	rec := Record{
		Schema: schema,
		Path:   outPath,
		SHA256: canon.SHA256Hex(b),
		Bytes:  len(b),
		RunID:  runID,
		Tick:   tick,
		Kind:   kind,
	}

	if err := w.appendManifest(rec, extra); err != nil {
		return Record{}, err
	}

	if w.Indexer != nil {
		if err := w.Indexer.IndexArtifact(rec.RunID, rec.Tick, rec.Kind, rec.Schema, rec.Path, rec.SHA256, int64(rec.Bytes)); err != nil {
			return Record{}, fmt.Errorf("artifacts: indexing %s: %w", relPath, err)
		}
	}

	return rec, nil
}

func (w *Writer) manifestPath(runID string) string {
	return filepath.Join(w.root, "manifests", runID+".manifest.json")
}

func (w *Writer) appendManifest(rec Record, extra map[string]any) error {
	path := w.manifestPath(rec.RunID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("artifacts: creating manifest directory: %w", err)
	}

	manifest, err := readManifest(path, rec.RunID)
	if err != nil {
		return err
	}

	entry := ManifestEntry{
		Tick:   rec.Tick,
		Kind:   rec.Kind,
		Schema: rec.Schema,
		Path:   rec.Path,
		SHA256: rec.SHA256,
		Bytes:  rec.Bytes,
	}
	if len(extra) > 0 {
		entry.Extra = extra
	}

	manifest.Records = append(manifest.Records, entry)
	sortRecords(manifest.Records)

	b, err := canon.Bytes(manifest)
	if err != nil {
		return fmt.Errorf("artifacts: encoding manifest: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("artifacts: writing manifest: %w", err)
	}
	return nil
}

// ReadManifest loads the manifest ledger for a run, or an empty one if
// it doesn't exist yet.
func ReadManifest(artifactsDir, runID string) (Manifest, error) {
	path := filepath.Join(artifactsDir, "manifests", runID+".manifest.json")
	return readManifest(path, runID)
}

func readManifest(path, runID string) (Manifest, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Manifest{Schema: "Manifest.v0", RunID: runID, Records: []ManifestEntry{}}, nil
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("artifacts: reading manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return Manifest{}, fmt.Errorf("artifacts: parsing manifest: %w", err)
	}
	return m, nil
}

// sortRecords re-sorts the manifest ledger by (tick, kind, schema, path)
// on every append, so the ledger's on-disk order is always deterministic
// regardless of write order.
func sortRecords(records []ManifestEntry) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Tick != b.Tick {
			return a.Tick < b.Tick
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Schema != b.Schema {
			return a.Schema < b.Schema
		}
		return a.Path < b.Path
	})
}
