package store

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIndexArtifactAndTicksForRun(t *testing.T) {
	s := openTestStore(t)

	if err := s.IndexArtifact("run-1", 0, "trendpack", "TrendPack.v0", "viz/run-1/000000.trendpack.json", "deadbeef", 42); err != nil {
		t.Fatalf("IndexArtifact failed: %v", err)
	}
	if err := s.IndexArtifact("run-1", 1, "trendpack", "TrendPack.v0", "viz/run-1/000001.trendpack.json", "cafebabe", 50); err != nil {
		t.Fatalf("IndexArtifact failed: %v", err)
	}

	rows, err := s.TicksForRun("run-1")
	if err != nil {
		t.Fatalf("TicksForRun failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Tick != 0 || rows[1].Tick != 1 {
		t.Fatalf("expected ascending tick order, got %d then %d", rows[0].Tick, rows[1].Tick)
	}
}

func TestIndexArtifactIsIdempotent(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 3; i++ {
		if err := s.IndexArtifact("run-1", 0, "trendpack", "TrendPack.v0", "viz/run-1/000000.trendpack.json", "deadbeef", 42); err != nil {
			t.Fatalf("IndexArtifact failed on iteration %d: %v", i, err)
		}
	}

	rows, err := s.TicksForRun("run-1")
	if err != nil {
		t.Fatalf("TicksForRun failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected idempotent insert to leave 1 row, got %d", len(rows))
	}
}

func TestRunsTracksFirstAndLastTick(t *testing.T) {
	s := openTestStore(t)

	for tick := 0; tick < 5; tick++ {
		if err := s.IndexArtifact("run-1", tick, "trendpack", "TrendPack.v0", "p", "h", 1); err != nil {
			t.Fatalf("IndexArtifact failed: %v", err)
		}
	}

	runs, err := s.Runs()
	if err != nil {
		t.Fatalf("Runs failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].FirstTick != 0 || runs[0].LastTick != 4 {
		t.Fatalf("unexpected tick range: first=%d last=%d", runs[0].FirstTick, runs[0].LastTick)
	}
}

func TestRecordGateResult(t *testing.T) {
	s := openTestStore(t)

	if err := s.RecordGateResult("run-1", true, "trendsha", "headersha"); err != nil {
		t.Fatalf("RecordGateResult failed: %v", err)
	}
}

func TestRebuildClearsAllTables(t *testing.T) {
	s := openTestStore(t)

	if err := s.IndexArtifact("run-1", 0, "trendpack", "TrendPack.v0", "p", "h", 1); err != nil {
		t.Fatalf("IndexArtifact failed: %v", err)
	}
	if err := s.RecordGateResult("run-1", true, "a", "b"); err != nil {
		t.Fatalf("RecordGateResult failed: %v", err)
	}

	if err := s.Rebuild(); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}

	rows, err := s.TicksForRun("run-1")
	if err != nil {
		t.Fatalf("TicksForRun failed: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected empty store after rebuild, got %d rows", len(rows))
	}
}

func TestOpenOnNilStoreIsSafe(t *testing.T) {
	var s *Store
	if err := s.IndexArtifact("run", 0, "k", "s", "p", "h", 0); err == nil {
		t.Fatal("expected error from nil store")
	}
	if _, err := s.TicksForRun("run"); err == nil {
		t.Fatal("expected error from nil store")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close on nil store should be a no-op, got %v", err)
	}
}
