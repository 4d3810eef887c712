// Command abraxas-gate runs the artifact-level dozen-run invariance
// gate standalone: N isolated ticks must all produce the same trendpack
// and run-header sha256, else the gate fails and the mismatch's
// divergence is printed for debugging.
//
// Grounded on scripts/dozen_run_gate_runtime.py's main().
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/antigravity-dev/abraxas/internal/bindings"
	"github.com/antigravity-dev/abraxas/internal/invariance"
	"github.com/antigravity-dev/abraxas/internal/tick"
)

func main() {
	var (
		artifactsDir = flag.String("artifacts_dir", "", "root artifacts directory (required)")
		runs         = flag.Int("runs", 12, "number of runs")
		runID        = flag.String("run_id", "dozen_gate", "run ID for the stability record")
	)
	flag.Parse()

	if *artifactsDir == "" {
		die("--artifacts_dir is required")
	}

	runOnce := func(i int, runDir string) (invariance.RunOutcome, error) {
		out, err := tick.RunTick(tick.Input{
			Tick:         0,
			RunID:        *runID,
			Mode:         "sandbox",
			Context:      map[string]any{"x": 1},
			ArtifactsDir: runDir,
			Bindings:     gatePipeline(),
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

	result, err := invariance.RunTickInvarianceGate(*artifactsDir, *runs, runOnce)
	if err != nil {
		die("gate: %v", err)
	}

	note := "dozen-run gate pass"
	if !result.OK {
		note = "dozen-run gate failure"
	}

	stabilityPath, stabilitySHA, err := invariance.WriteRunStability(*artifactsDir, *runID, result, note)
	if err != nil {
		die("gate: writing run stability: %v", err)
	}
	refPath, _, err := invariance.WriteStabilityRef(*artifactsDir, *runID, stabilityPath, stabilitySHA)
	if err != nil {
		die("gate: writing stability ref: %v", err)
	}

	if !result.OK {
		fmt.Println("DOZEN-RUN GATE: FAIL")
		fmt.Println("============================================================")
		fmt.Println("TrendPack:")
		fmt.Println("  expected_sha256:", result.ExpectedTrendpackSHA256)
		fmt.Println("  sha256s:", result.TrendpackSHA256s)
		fmt.Println()
		fmt.Println("RunHeader:")
		fmt.Println("  expected_runheader_sha256:", result.ExpectedRunHeaderSHA256)
		fmt.Println("  runheader_sha256s:", result.RunHeaderSHA256s)
		fmt.Println()
		fmt.Println("Divergence:")
		fmt.Println("  first_mismatch_run:", deref(result.FirstMismatchRun))
		if result.Divergence != nil {
			fmt.Println("  kind:", result.Divergence.Kind)
			switch result.Divergence.Kind {
			case invariance.DivergenceTrendpackContent:
				fmt.Println("  event_index:", deref(result.Divergence.EventIndex))
				fmt.Println("  baseline_trendpack:", result.Divergence.BaselineTrendpack)
				fmt.Println("  mismatch_trendpack:", result.Divergence.MismatchTrendpack)
				fmt.Println("  diff:", result.Divergence.Diff)
			case invariance.DivergenceRunHeaderSHA256:
				fmt.Println("  diff:", result.Divergence.Diff)
			}
		}
		fmt.Println()
		fmt.Println("Stability artifacts written:")
		fmt.Printf("  RunStability: %s\n", stabilityPath)
		fmt.Printf("  StabilityRef: %s\n", refPath)
		os.Exit(1)
	}

	fmt.Println("DOZEN-RUN GATE: PASS")
	fmt.Println("============================================================")
	fmt.Println("TrendPack sha256:", result.ExpectedTrendpackSHA256)
	fmt.Println("RunHeader sha256:", result.ExpectedRunHeaderSHA256)
	fmt.Printf("All %d runs produced identical artifacts.\n", len(result.TrendpackSHA256s))
	fmt.Println()
	fmt.Println("Stability artifacts written:")
	fmt.Printf("  RunStability: %s\n", stabilityPath)
	fmt.Printf("  StabilityRef: %s\n", refPath)
	os.Exit(0)
}

func gatePipeline() bindings.Bindings {
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

func deref(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
