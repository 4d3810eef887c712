// Package cas implements the Abraxas content-addressed store (§4.B):
// immutable byte/text/JSON storage keyed by SHA-256, plus an append-only
// URL index where the latest entry for a URL wins on read.
//
// Grounded on storage/cas.py's CASStore: write-once path layout
// base/<subdir>/<hash[:2]>/<hash><suffix>, JSONL index scanned for the last
// matching url.
package cas

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/antigravity-dev/abraxas/internal/canon"
)

// Ref identifies one stored blob.
type Ref struct {
	ContentHash string `json:"content_hash"`
	BytesLen    int    `json:"bytes_len"`
	Subdir      string `json:"subdir"`
	Suffix      string `json:"suffix"`
	Path        string `json:"path"`
}

// IndexEntry is one append-only URL-index record.
type IndexEntry struct {
	URL         string         `json:"url"`
	ContentHash string         `json:"content_hash"`
	Subdir      string         `json:"subdir"`
	Suffix      string         `json:"suffix"`
	RecordedAt  string         `json:"recorded_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Store is a content-addressed blob store rooted at a base directory.
//
// Per spec.md §5, cross-process correctness for the URL index is out of
// scope for the core (callers must serialize runs or use distinct run_ids);
// within a single process, writes are serialized by indexMu.
type Store struct {
	base      string
	indexPath string
	indexMu   sync.Mutex
}

// New constructs a Store rooted at baseDir, with the URL index at
// baseDir/index.jsonl unless indexPath overrides it.
func New(baseDir string, indexPath string) *Store {
	if indexPath == "" {
		indexPath = filepath.Join(baseDir, "index.jsonl")
	}
	return &Store{base: baseDir, indexPath: indexPath}
}

func pathForHash(base, subdir, hash, suffix string) string {
	if len(hash) < 2 {
		hash = hash + "00"
	}
	return filepath.Join(base, subdir, hash[:2], hash+suffix)
}

// PutBytes writes data content-addressed under subdir with suffix,
// write-once: a second call with identical bytes is a no-op. If url is
// non-empty, an index entry is appended.
func (s *Store) PutBytes(data []byte, subdir, suffix, url string, recordedAt time.Time, meta map[string]any) (Ref, error) {
	hash := canon.SHA256Hex(data)
	path := pathForHash(s.base, subdir, hash, suffix)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return Ref{}, fmt.Errorf("cas: mkdir: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return Ref{}, fmt.Errorf("cas: write %s: %w", path, err)
		}
	} else if err != nil {
		return Ref{}, fmt.Errorf("cas: stat %s: %w", path, err)
	}

	ref := Ref{ContentHash: hash, BytesLen: len(data), Subdir: subdir, Suffix: suffix, Path: path}

	if url != "" {
		if recordedAt.IsZero() {
			recordedAt = time.Now().UTC()
		}
		if err := s.appendIndex(IndexEntry{
			URL:         url,
			ContentHash: hash,
			Subdir:      subdir,
			Suffix:      suffix,
			RecordedAt:  recordedAt.UTC().Format(time.RFC3339Nano),
			Metadata:    meta,
		}); err != nil {
			return ref, err
		}
	}

	return ref, nil
}

// PutText is a thin wrapper over PutBytes for UTF-8 text.
func (s *Store) PutText(text, subdir, suffix, url string, recordedAt time.Time, meta map[string]any) (Ref, error) {
	return s.PutBytes([]byte(text), subdir, suffix, url, recordedAt, meta)
}

// PutJSON canonically encodes obj and stores it via PutBytes.
func (s *Store) PutJSON(obj any, subdir, suffix, url string, recordedAt time.Time, meta map[string]any) (Ref, error) {
	b, err := canon.Bytes(obj)
	if err != nil {
		return Ref{}, fmt.Errorf("cas: canonicalize: %w", err)
	}
	return s.PutBytes(b, subdir, suffix, url, recordedAt, meta)
}

// ReadBytes reads back a previously stored blob by its identity.
func (s *Store) ReadBytes(hash, subdir, suffix string) ([]byte, error) {
	path := pathForHash(s.base, subdir, hash, suffix)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cas: read %s: %w", path, err)
	}
	return data, nil
}

// LookupURL scans the index for the most recently appended entry for url.
// Returns (entry, true) if found, else (zero, false).
func (s *Store) LookupURL(url string) (IndexEntry, bool, error) {
	f, err := os.Open(s.indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return IndexEntry{}, false, nil
		}
		return IndexEntry{}, false, fmt.Errorf("cas: open index: %w", err)
	}
	defer f.Close()

	var latest IndexEntry
	found := false

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry IndexEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		if entry.URL == url {
			latest = entry
			found = true
		}
	}
	if err := scanner.Err(); err != nil {
		return IndexEntry{}, false, fmt.Errorf("cas: scan index: %w", err)
	}

	return latest, found, nil
}

func (s *Store) appendIndex(entry IndexEntry) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.indexPath), 0o755); err != nil {
		return fmt.Errorf("cas: mkdir index dir: %w", err)
	}

	line, err := canon.Bytes(entry)
	if err != nil {
		return fmt.Errorf("cas: canonicalize index entry: %w", err)
	}

	f, err := os.OpenFile(s.indexPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("cas: open index for append: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("cas: append index: %w", err)
	}
	return nil
}
