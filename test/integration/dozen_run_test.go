package integration

import (
	"path/filepath"
	"testing"

	"github.com/antigravity-dev/abraxas/internal/bindings"
	"github.com/antigravity-dev/abraxas/internal/invariance"
	"github.com/antigravity-dev/abraxas/internal/tick"
)

func trivialPipeline() bindings.Bindings {
	return bindings.Bindings{
		RunSignal:   func(ctx map[string]any) (any, error) { return map[string]any{"signal": 1}, nil },
		RunCompress: func(ctx map[string]any) (any, error) { return map[string]any{"compress": 1}, nil },
		RunOverlay:  func(ctx map[string]any) (any, error) { return map[string]any{"overlay": 1}, nil },
		ShadowTasks: map[string]bindings.PipelineFn{
			"sei": func(ctx map[string]any) (any, error) { return map[string]any{"sei": 0}, nil },
		},
		Provenance: bindings.Provenance{Bindings: "PipelineBindings.v0"},
	}
}

// TestDozenRunProducesOneUniqueTrendpackAndRunHeader runs the same tick
// twelve times, each under its own artifacts directory but a fixed
// run_id, and asserts the TrendPack and RunHeader hashes collapse to a
// single value across all twelve runs.
func TestDozenRunProducesOneUniqueTrendpackAndRunHeader(t *testing.T) {
	base := t.TempDir()

	runOnce := func(runIndex int, runDir string) (invariance.RunOutcome, error) {
		out, err := tick.RunTick(tick.Input{
			Tick:         0,
			RunID:        "dozen_run",
			Mode:         "sandbox",
			Context:      map[string]any{"x": 1},
			ArtifactsDir: runDir,
			Bindings:     trivialPipeline(),
		})
		if err != nil {
			return invariance.RunOutcome{}, err
		}
		return invariance.RunOutcome{
			TrendpackPath:   out.Artifacts.Trendpack,
			TrendpackSHA256: out.Artifacts.TrendpackSHA256,
			RunHeaderSHA256: out.Artifacts.RunHeaderSHA256,
		}, nil
	}

	result, err := invariance.RunTickInvarianceGate(filepath.Join(base, "dozen_gate"), 12, runOnce)
	if err != nil {
		t.Fatalf("RunTickInvarianceGate failed: %v", err)
	}
	if !result.OK {
		t.Fatalf("expected dozen-run gate to pass, got %+v (divergence=%+v)", result, result.Divergence)
	}
	if result.ExpectedTrendpackSHA256 == "" {
		t.Fatal("expected a non-empty trendpack sha256")
	}
	if result.ExpectedRunHeaderSHA256 == "" {
		t.Fatal("expected a non-empty run header sha256")
	}
	if result.FirstMismatchRun != nil {
		t.Fatalf("expected no mismatching run, got first mismatch at run %d", *result.FirstMismatchRun)
	}
}
