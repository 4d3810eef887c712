// Command abraxas-seal drives the full release-seal sequence: one
// deterministic tick, schema validation of its artifacts, the
// twelve-run invariance gate, and a final SealReport.v0.
//
// Grounded on scripts/seal_release.py's main().
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/antigravity-dev/abraxas/internal/seal"
)

func main() {
	var (
		version  = flag.String("version", "", "version string (default: read from VERSION)")
		runID    = flag.String("run_id", "seal", "run ID")
		tick     = flag.Int("tick", 0, "tick number")
		runs     = flag.Int("runs", 12, "number of dozen-gate runs")
		repoRoot = flag.String("repo_root", ".", "repository root (for VERSION / abx_versions.json)")
	)
	flag.Parse()

	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("ABRAXAS SEAL RELEASE\n")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Println()

	fmt.Printf("[1/4] Running seal tick into ./artifacts_seal...\n")
	fmt.Printf("[2/4] Validating artifacts...\n")
	fmt.Printf("[3/4] Running dozen-run gate (%d runs) into ./artifacts_gate...\n", *runs)
	fmt.Printf("[4/4] Writing SealReport.v0...\n")
	fmt.Println()

	result, err := seal.Run(seal.Input{
		RepoRoot: *repoRoot,
		RunID:    *runID,
		Tick:     *tick,
		GateRuns: *runs,
		Version:  *version,
	})
	if err != nil {
		die("seal: %v", err)
	}

	report := result.Report
	artifacts := report.SealTickArtifacts
	fmt.Printf("  TrendPack: %s\n", artifacts.Trendpack)
	fmt.Printf("  ResultsPack: %s\n", artifacts.ResultsPack)
	fmt.Printf("  ViewPack: %s\n", artifacts.ViewPack)
	fmt.Printf("  RunIndex: %s\n", artifacts.RunIndex)
	fmt.Printf("  RunHeader: %s\n", artifacts.RunHeader)
	fmt.Println()

	if report.ValidationResult.OK {
		fmt.Println("  VALIDATION: PASS")
		fmt.Printf("  Validated ticks: %v\n", report.ValidationResult.ValidatedTicks)
	} else {
		fmt.Println("  VALIDATION: FAIL")
		for _, f := range report.ValidationResult.Failures {
			fmt.Printf("    - %s: %v\n", f.ArtifactKind, f.Errors)
		}
	}
	fmt.Println()

	if report.DozenGateResult.OK {
		fmt.Println("  GATE: PASS")
		fmt.Printf("  TrendPack SHA: %s...\n", shortHash(report.DozenGateResult.ExpectedTrendpackSHA256))
		fmt.Printf("  RunHeader SHA: %s...\n", shortHash(report.DozenGateResult.ExpectedRunHeaderSHA256))
	} else {
		fmt.Println("  GATE: FAIL")
		if report.DozenGateResult.FirstMismatchRun != nil {
			fmt.Printf("  First mismatch run: %d\n", *report.DozenGateResult.FirstMismatchRun)
		}
		fmt.Printf("  Divergence kind: %s\n", report.DozenGateResult.DivergenceKind)
	}
	fmt.Println()

	fmt.Printf("  Path: %s\n", result.ReportPath)
	fmt.Printf("  SHA256: %s...\n", shortHash(result.ReportSHA256))
	fmt.Println()

	fmt.Println(strings.Repeat("=", 60))
	if result.OK {
		fmt.Println("SEAL RELEASE: PASS")
	} else {
		fmt.Println("SEAL RELEASE: FAIL")
		if !report.ValidationResult.OK {
			fmt.Println("  - Validation failed")
		}
		if !report.DozenGateResult.OK {
			fmt.Println("  - Dozen-run gate failed")
		}
	}

	if !result.OK {
		os.Exit(1)
	}
	os.Exit(0)
}

func shortHash(s string) string {
	if len(s) > 16 {
		return s[:16]
	}
	return s
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
