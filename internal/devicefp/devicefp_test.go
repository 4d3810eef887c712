package devicefp

import (
	"testing"

	"github.com/antigravity-dev/abraxas/internal/canon"
)

func TestGetReturnsStableFingerprintForSameMachine(t *testing.T) {
	a, err := Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	b, err := Get()
	if err != nil {
		t.Fatalf("second Get failed: %v", err)
	}
	if a.FingerprintHash != b.FingerprintHash {
		t.Fatalf("expected identical fingerprint hash across calls, got %s vs %s", a.FingerprintHash, b.FingerprintHash)
	}
	if a.GOOS == "" || a.GOARCH == "" || a.GoVersion == "" {
		t.Fatalf("expected populated platform fields, got %+v", a)
	}
}

func TestFingerprintHashExcludesItself(t *testing.T) {
	fp, err := Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fp.FingerprintHash == "" {
		t.Fatal("expected a non-empty fingerprint hash")
	}
	want, err := canon.HashJSON(map[string]any{
		"go_version":      fp.GoVersion,
		"goos":            fp.GOOS,
		"goarch":          fp.GOARCH,
		"num_cpu":         fp.NumCPU,
		"mem_total_bytes": fp.MemTotalBytes,
	})
	if err != nil {
		t.Fatalf("HashJSON failed: %v", err)
	}
	if fp.FingerprintHash != want {
		t.Fatalf("expected hash over every field but fingerprint_hash, got %s want %s", fp.FingerprintHash, want)
	}
}
