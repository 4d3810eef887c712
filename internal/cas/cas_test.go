package cas

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(t.TempDir(), "")
}

func TestPutBytesIsWriteOnce(t *testing.T) {
	s := newTestStore(t)

	ref1, err := s.PutBytes([]byte("hello"), "blobs", ".bin", "", time.Time{}, nil)
	if err != nil {
		t.Fatalf("PutBytes failed: %v", err)
	}
	ref2, err := s.PutBytes([]byte("hello"), "blobs", ".bin", "", time.Time{}, nil)
	if err != nil {
		t.Fatalf("PutBytes failed: %v", err)
	}
	if ref1.Path != ref2.Path || ref1.ContentHash != ref2.ContentHash {
		t.Fatalf("expected identical refs for identical content: %+v vs %+v", ref1, ref2)
	}

	data, err := s.ReadBytes(ref1.ContentHash, "blobs", ".bin")
	if err != nil {
		t.Fatalf("ReadBytes failed: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("got %q", data)
	}
}

func TestPathForHashLayout(t *testing.T) {
	s := newTestStore(t)
	ref, err := s.PutBytes([]byte("x"), "manifests", ".json", "", time.Time{}, nil)
	if err != nil {
		t.Fatalf("PutBytes failed: %v", err)
	}
	want := filepath.Join(s.base, "manifests", ref.ContentHash[:2], ref.ContentHash+".json")
	if ref.Path != want {
		t.Fatalf("got path %q, want %q", ref.Path, want)
	}
}

func TestLookupURLReturnsLatestEntry(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.PutBytes([]byte("v1"), "manifests", ".bin", "https://example.com/x", time.Now(), nil); err != nil {
		t.Fatalf("PutBytes failed: %v", err)
	}
	if _, err := s.PutBytes([]byte("v2"), "manifests", ".bin", "https://example.com/x", time.Now(), nil); err != nil {
		t.Fatalf("PutBytes failed: %v", err)
	}

	entry, found, err := s.LookupURL("https://example.com/x")
	if err != nil {
		t.Fatalf("LookupURL failed: %v", err)
	}
	if !found {
		t.Fatal("expected entry to be found")
	}

	data, err := s.ReadBytes(entry.ContentHash, "manifests", ".bin")
	if err != nil {
		t.Fatalf("ReadBytes failed: %v", err)
	}
	if string(data) != "v2" {
		t.Fatalf("expected latest entry to point at v2, got %q", data)
	}
}

func TestLookupURLMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, found, err := s.LookupURL("https://example.com/missing")
	if err != nil {
		t.Fatalf("LookupURL failed: %v", err)
	}
	if found {
		t.Fatal("expected not found for unseen url")
	}
}

func TestPutJSONUsesCanonicalEncoding(t *testing.T) {
	s := newTestStore(t)

	ref1, err := s.PutJSON(map[string]any{"b": 1, "a": 2}, "manifests", ".json", "", time.Time{}, nil)
	if err != nil {
		t.Fatalf("PutJSON failed: %v", err)
	}
	ref2, err := s.PutJSON(map[string]any{"a": 2, "b": 1}, "manifests", ".json", "", time.Time{}, nil)
	if err != nil {
		t.Fatalf("PutJSON failed: %v", err)
	}
	if ref1.ContentHash != ref2.ContentHash {
		t.Fatalf("expected key-order-independent hash: %s vs %s", ref1.ContentHash, ref2.ContentHash)
	}
}

func TestReadBytesMissingBlobErrors(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.ReadBytes("deadbeef", "manifests", ".json"); err == nil {
		t.Fatal("expected error for missing blob")
	}
}
