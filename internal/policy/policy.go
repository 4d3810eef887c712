// Package policy implements the Abraxas policy snapshot mechanism
// (§4.L): an immutable, content-addressed capture of policy state at
// tick time, so artifacts retain provenance to the exact policy that
// governed them even after the live policy file changes later.
//
// PolicyRef is snapshot-based only here: per DESIGN.md OQ6 the
// original's file-pointing PolicyRef variant is not ported.
//
// Grounded on runtime/policy_snapshot.py.
package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/antigravity-dev/abraxas/internal/canon"
)

// Snapshot is PolicySnapshot.v0: the immutable capture written to disk.
type Snapshot struct {
	Schema            string `json:"schema"`
	Policy            string `json:"policy"`
	Present           bool   `json:"present"`
	SourcePathPattern string `json:"source_path_pattern"`
	PolicyObj         any    `json:"policy_obj"`
}

// Ref is PolicyRef.v0: a pointer to an immutable snapshot.
type Ref struct {
	Schema         string `json:"schema"`
	Policy         string `json:"policy"`
	SnapshotPath   string `json:"snapshot_path"`
	SnapshotSHA256 string `json:"snapshot_sha256"`
}

// EnsureSnapshot writes (or reuses, if content-identical) an immutable
// PolicySnapshot.v0 for policyPath under
// artifactsDir/policy_snapshots/<runID>/. The snapshot is content
// addressed: unchanged policy content always yields the same hash, and
// within one runID the same path; each run's snapshot lives under that
// run's own directory. A missing policy file still
// produces a deterministic "absent" snapshot rather than an error.
func EnsureSnapshot(artifactsDir, runID, policyName, policyPath string) (relPath string, sha256Hex string, err error) {
	sourcePattern := fmt.Sprintf("policy/%s.json", policyName)

	snap := Snapshot{
		Schema:            "PolicySnapshot.v0",
		Policy:            policyName,
		SourcePathPattern: sourcePattern,
	}

	raw, readErr := os.ReadFile(policyPath)
	switch {
	case os.IsNotExist(readErr):
		snap.Present = false
		snap.PolicyObj = nil
	case readErr != nil:
		return "", "", fmt.Errorf("policy: reading %s: %w", policyPath, readErr)
	default:
		var obj any
		if err := json.Unmarshal(raw, &obj); err != nil {
			return "", "", fmt.Errorf("policy: parsing %s: %w", policyPath, err)
		}
		snap.Present = true
		snap.PolicyObj = obj
	}

	b, err := canon.Bytes(snap)
	if err != nil {
		return "", "", fmt.Errorf("policy: encoding snapshot: %w", err)
	}
	hash := canon.SHA256Hex(b)

	rel := filepath.Join("policy_snapshots", runID, fmt.Sprintf("%s.%s.policysnapshot.json", policyName, hash))
	abs := filepath.Join(artifactsDir, rel)

	if _, err := os.Stat(abs); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return "", "", fmt.Errorf("policy: creating snapshot directory: %w", err)
		}
		if err := os.WriteFile(abs, b, 0o644); err != nil {
			return "", "", fmt.Errorf("policy: writing snapshot: %w", err)
		}
	}

	return rel, hash, nil
}

// RefFromSnapshot builds a PolicyRef.v0 pointing at an already-written snapshot.
func RefFromSnapshot(policyName, snapshotPath, snapshotSHA256 string) Ref {
	return Ref{
		Schema:         "PolicyRef.v0",
		Policy:         policyName,
		SnapshotPath:   snapshotPath,
		SnapshotSHA256: snapshotSHA256,
	}
}

// ResolveSnapshotPath resolves a possibly-relative snapshot path against
// artifactsDir. An already-absolute path is returned unchanged.
func ResolveSnapshotPath(snapshotPath, artifactsDir string) string {
	if filepath.IsAbs(snapshotPath) {
		return snapshotPath
	}
	if artifactsDir == "" {
		return snapshotPath
	}
	return filepath.Join(artifactsDir, snapshotPath)
}

// LoadSnapshot reads and validates a PolicySnapshot.v0 from disk.
func LoadSnapshot(snapshotPath, artifactsDir string) (Snapshot, error) {
	p := ResolveSnapshotPath(snapshotPath, artifactsDir)
	raw, err := os.ReadFile(p)
	if err != nil {
		return Snapshot{}, fmt.Errorf("policy: snapshot not found: %s: %w", snapshotPath, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("policy: parsing snapshot %s: %w", snapshotPath, err)
	}
	if snap.Schema != "PolicySnapshot.v0" {
		return Snapshot{}, fmt.Errorf("policy: invalid snapshot schema: %q", snap.Schema)
	}
	return snap, nil
}

// VerifyResult is the outcome of VerifySnapshot.
type VerifyResult struct {
	Valid        bool   `json:"valid"`
	Reason       string `json:"reason"`
	ActualSHA256 string `json:"actual_sha256"`
}

// VerifySnapshot checks that the snapshot file on disk still matches
// expectedSHA256, detecting drift in a supposedly-immutable artifact.
func VerifySnapshot(snapshotPath, expectedSHA256, artifactsDir string) VerifyResult {
	p := ResolveSnapshotPath(snapshotPath, artifactsDir)
	raw, err := os.ReadFile(p)
	if err != nil {
		return VerifyResult{Valid: false, Reason: fmt.Sprintf("snapshot file missing: %s", snapshotPath)}
	}

	actual := canon.SHA256Hex(raw)
	if actual == expectedSHA256 {
		return VerifyResult{Valid: true, Reason: "snapshot hash matches", ActualSHA256: actual}
	}
	return VerifyResult{
		Valid:        false,
		Reason:       fmt.Sprintf("snapshot hash mismatch: expected %s, got %s", expectedSHA256, actual),
		ActualSHA256: actual,
	}
}
