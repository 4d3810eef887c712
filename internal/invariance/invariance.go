// Package invariance implements the Abraxas dozen-run invariance gate
// and its persisted RunStability/StabilityRef records (§4.N).
//
// Per DESIGN.md OQ5, the gate tracks both TrendpackSHA256s and
// RunHeaderSHA256s: spec.md P12 requires both arrays to each collapse
// to one unique value, not just the trendpack hash the original
// invariance_gate.py alone tracked.
//
// Grounded on runtime/invariance_gate.py and runtime/run_stability.py.
package invariance

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/antigravity-dev/abraxas/internal/canon"
)

// RunOnce executes one isolated tick run under runDir and returns its
// trendpack path/hash and run header hash.
type RunOnce func(runIndex int, runDir string) (RunOutcome, error)

// RunOutcome is what one dozen-run iteration must report.
type RunOutcome struct {
	TrendpackPath   string
	TrendpackSHA256 string
	RunHeaderSHA256 string
}

// DivergenceKind distinguishes the two ways a dozen-run gate can fail.
type DivergenceKind string

const (
	DivergenceTrendpackContent DivergenceKind = "trendpack_content_mismatch"
	DivergenceRunHeaderSHA256  DivergenceKind = "runheader_sha256_mismatch"
)

// Divergence describes the first point two runs disagreed.
type Divergence struct {
	Kind              DivergenceKind `json:"kind"`
	EventIndex        *int           `json:"event_index,omitempty"`
	Diff              map[string]any `json:"diff,omitempty"`
	BaselineTrendpack string         `json:"baseline_trendpack,omitempty"`
	MismatchTrendpack string         `json:"mismatch_trendpack,omitempty"`
}

// GateResult is the outcome of a dozen-run invariance check.
type GateResult struct {
	OK                      bool        `json:"ok"`
	ExpectedTrendpackSHA256 string      `json:"expected_trendpack_sha256"`
	TrendpackSHA256s        []string    `json:"trendpack_sha256s"`
	ExpectedRunHeaderSHA256 string      `json:"expected_runheader_sha256"`
	RunHeaderSHA256s        []string    `json:"runheader_sha256s"`
	FirstMismatchRun        *int        `json:"first_mismatch_run,omitempty"`
	Divergence              *Divergence `json:"divergence,omitempty"`
}

// RunTickInvarianceGate runs the same tick `runs` times in isolated
// artifact directories under base_artifacts_dir/dozen_gate/run_NN, and
// passes iff every trendpack sha256 AND every run header sha256
// collapse to a single value each.
func RunTickInvarianceGate(baseArtifactsDir string, runs int, runOnce RunOnce) (GateResult, error) {
	base := filepath.Join(baseArtifactsDir, "dozen_gate")
	if err := os.MkdirAll(base, 0o755); err != nil {
		return GateResult{}, fmt.Errorf("invariance: creating gate directory: %w", err)
	}

	trendpackSHAs := make([]string, 0, runs)
	runHeaderSHAs := make([]string, 0, runs)
	trendpackPaths := make([]string, 0, runs)

	for i := 0; i < runs; i++ {
		runDir := filepath.Join(base, fmt.Sprintf("run_%02d", i))
		out, err := runOnce(i, runDir)
		if err != nil {
			return GateResult{}, fmt.Errorf("invariance: run %d failed: %w", i, err)
		}
		if out.TrendpackPath == "" || out.TrendpackSHA256 == "" {
			return GateResult{}, fmt.Errorf("invariance: run %d returned no trendpack/trendpack_sha256", i)
		}
		trendpackPaths = append(trendpackPaths, out.TrendpackPath)
		trendpackSHAs = append(trendpackSHAs, out.TrendpackSHA256)
		runHeaderSHAs = append(runHeaderSHAs, out.RunHeaderSHA256)
	}

	expectedTrendpack := trendpackSHAs[0]
	expectedRunHeader := runHeaderSHAs[0]

	for i := range trendpackSHAs {
		if runHeaderSHAs[i] != expectedRunHeader {
			idx := i
			return GateResult{
				OK:                      false,
				ExpectedTrendpackSHA256: expectedTrendpack,
				TrendpackSHA256s:        trendpackSHAs,
				ExpectedRunHeaderSHA256: expectedRunHeader,
				RunHeaderSHA256s:        runHeaderSHAs,
				FirstMismatchRun:        &idx,
				Divergence: &Divergence{
					Kind: DivergenceRunHeaderSHA256,
					Diff: map[string]any{"a": expectedRunHeader, "b": runHeaderSHAs[i]},
				},
			}, nil
		}
		if trendpackSHAs[i] != expectedTrendpack {
			idx := i
			eventIdx, diff, err := firstDivergenceEvents(trendpackPaths[0], trendpackPaths[i])
			if err != nil {
				return GateResult{}, err
			}
			return GateResult{
				OK:                      false,
				ExpectedTrendpackSHA256: expectedTrendpack,
				TrendpackSHA256s:        trendpackSHAs,
				ExpectedRunHeaderSHA256: expectedRunHeader,
				RunHeaderSHA256s:        runHeaderSHAs,
				FirstMismatchRun:        &idx,
				Divergence: &Divergence{
					Kind:              DivergenceTrendpackContent,
					EventIndex:        eventIdx,
					Diff:              diff,
					BaselineTrendpack: trendpackPaths[0],
					MismatchTrendpack: trendpackPaths[i],
				},
			}, nil
		}
	}

	return GateResult{
		OK:                      true,
		ExpectedTrendpackSHA256: expectedTrendpack,
		TrendpackSHA256s:        trendpackSHAs,
		ExpectedRunHeaderSHA256: expectedRunHeader,
		RunHeaderSHA256s:        runHeaderSHAs,
	}, nil
}

func firstDivergenceEvents(baselinePath, mismatchPath string) (*int, map[string]any, error) {
	a, err := readTrendpackTimeline(baselinePath)
	if err != nil {
		return nil, nil, err
	}
	b, err := readTrendpackTimeline(mismatchPath)
	if err != nil {
		return nil, nil, err
	}

	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if !reflect.DeepEqual(a[i], b[i]) {
			idx := i
			return &idx, map[string]any{"a": a[i], "b": b[i]}, nil
		}
	}
	if len(a) != len(b) {
		idx := n
		return &idx, map[string]any{"a": map[string]any{"_len": len(a)}, "b": map[string]any{"_len": len(b)}}, nil
	}
	return nil, nil, nil
}

func readTrendpackTimeline(path string) ([]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("invariance: reading trendpack %s: %w", path, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invariance: parsing trendpack %s: %w", path, err)
	}
	timeline, _ := doc["timeline"].([]any)
	return timeline, nil
}

// RunStability is RunStability.v0: the persisted gate result for a run.
type RunStability struct {
	Schema                  string      `json:"schema"`
	RunID                   string      `json:"run_id"`
	OK                      bool        `json:"ok"`
	ExpectedTrendpackSHA256 string      `json:"expected_trendpack_sha256"`
	TrendpackSHA256s        []string    `json:"trendpack_sha256s"`
	ExpectedRunHeaderSHA256 string      `json:"expected_runheader_sha256"`
	RunHeaderSHA256s        []string    `json:"runheader_sha256s"`
	FirstMismatchRun        *int        `json:"first_mismatch_run,omitempty"`
	Divergence              *Divergence `json:"divergence,omitempty"`
	Note                    string      `json:"note,omitempty"`
}

// StabilityRef is StabilityRef.v0: a small pointer kept outside the
// write-once RunHeader so stability can be updated without rewriting it.
type StabilityRef struct {
	Schema              string `json:"schema"`
	RunID               string `json:"run_id"`
	RunStabilityPath    string `json:"runstability_path"`
	RunStabilitySHA256  string `json:"runstability_sha256"`
}

// WriteRunStability persists gate as RunStability.v0 under
// artifactsDir/runs/<runID>.runstability.json, returning its path and hash.
func WriteRunStability(artifactsDir, runID string, gate GateResult, note string) (path string, sha256Hex string, err error) {
	dir := filepath.Join(artifactsDir, "runs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("invariance: creating runs directory: %w", err)
	}

	rec := RunStability{
		Schema:                  "RunStability.v0",
		RunID:                   runID,
		OK:                      gate.OK,
		ExpectedTrendpackSHA256: gate.ExpectedTrendpackSHA256,
		TrendpackSHA256s:        gate.TrendpackSHA256s,
		ExpectedRunHeaderSHA256: gate.ExpectedRunHeaderSHA256,
		RunHeaderSHA256s:        gate.RunHeaderSHA256s,
		FirstMismatchRun:        gate.FirstMismatchRun,
		Divergence:              gate.Divergence,
		Note:                    note,
	}

	b, err := canon.Bytes(rec)
	if err != nil {
		return "", "", fmt.Errorf("invariance: encoding run stability: %w", err)
	}
	out := filepath.Join(dir, runID+".runstability.json")
	if err := os.WriteFile(out, b, 0o644); err != nil {
		return "", "", fmt.Errorf("invariance: writing run stability: %w", err)
	}
	return out, canon.SHA256Hex(b), nil
}

// WriteStabilityRef persists a StabilityRef.v0 pointer to the given
// RunStability.v0 file.
func WriteStabilityRef(artifactsDir, runID, runStabilityPath, runStabilitySHA256 string) (path string, sha256Hex string, err error) {
	dir := filepath.Join(artifactsDir, "runs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("invariance: creating runs directory: %w", err)
	}

	ref := StabilityRef{
		Schema:             "StabilityRef.v0",
		RunID:              runID,
		RunStabilityPath:   runStabilityPath,
		RunStabilitySHA256: runStabilitySHA256,
	}

	b, err := canon.Bytes(ref)
	if err != nil {
		return "", "", fmt.Errorf("invariance: encoding stability ref: %w", err)
	}
	out := filepath.Join(dir, runID+".stability_ref.json")
	if err := os.WriteFile(out, b, 0o644); err != nil {
		return "", "", fmt.Errorf("invariance: writing stability ref: %w", err)
	}
	return out, canon.SHA256Hex(b), nil
}

// LoadRunStability loads and schema-validates a RunStability.v0 file.
func LoadRunStability(path string) (RunStability, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return RunStability{}, fmt.Errorf("invariance: run stability not found: %s: %w", path, err)
	}
	var rs RunStability
	if err := json.Unmarshal(raw, &rs); err != nil {
		return RunStability{}, fmt.Errorf("invariance: parsing run stability %s: %w", path, err)
	}
	if rs.Schema != "RunStability.v0" {
		return RunStability{}, fmt.Errorf("invariance: invalid run stability schema: %q", rs.Schema)
	}
	return rs, nil
}

// LoadStabilityRef loads and schema-validates a StabilityRef.v0 file.
func LoadStabilityRef(path string) (StabilityRef, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return StabilityRef{}, fmt.Errorf("invariance: stability ref not found: %s: %w", path, err)
	}
	var ref StabilityRef
	if err := json.Unmarshal(raw, &ref); err != nil {
		return StabilityRef{}, fmt.Errorf("invariance: parsing stability ref %s: %w", path, err)
	}
	if ref.Schema != "StabilityRef.v0" {
		return StabilityRef{}, fmt.Errorf("invariance: invalid stability ref schema: %q", ref.Schema)
	}
	return ref, nil
}

// VerifyRunStability checks the on-disk RunStability.v0 file still
// matches expectedSHA256.
func VerifyRunStability(path, expectedSHA256 string) (valid bool, reason string, actualSHA256 string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Sprintf("RunStability file missing: %s", path), ""
	}
	actual := canon.SHA256Hex(raw)
	if actual == expectedSHA256 {
		return true, "RunStability hash matches", actual
	}
	return false, fmt.Sprintf("RunStability hash mismatch: expected %s, got %s", expectedSHA256, actual), actual
}

// StabilityRefPath is the convention path RunHeader.v0 references for
// discoverability, whether or not the file has been written yet.
func StabilityRefPath(artifactsDir, runID string) string {
	return filepath.Join(artifactsDir, "runs", runID+".stability_ref.json")
}
