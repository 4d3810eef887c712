// Command abraxas-validate checks a run's emitted artifacts against
// their schemas: RunIndex.v0, TrendPack.v0, ResultsPack.v0, ViewPack.v0,
// RunHeader.v0, and (when present) PolicySnapshot.v0/RunStability.v0.
//
// Grounded on scripts/validate_artifacts.py's main().
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/antigravity-dev/abraxas/internal/canon"
	"github.com/antigravity-dev/abraxas/internal/store"
	"github.com/antigravity-dev/abraxas/internal/validate"
)

func main() {
	var (
		artifactsDir = flag.String("artifacts_dir", "", "root artifacts directory (required)")
		runID        = flag.String("run_id", "", "run ID to validate (required)")
		tick         = flag.Int("tick", -1, "specific tick to validate (default: all discoverable ticks)")
		asJSON       = flag.Bool("json", false, "output as JSON")
		dbPath       = flag.String("db", "", "path to a derived SQLite query index populated by cmd/abraxas --db; when set, print its indexed ticks for --run_id instead of walking the artifacts tree")
	)
	flag.Parse()

	if *dbPath != "" {
		runDBSummary(*dbPath, *runID, *asJSON)
		return
	}

	if *artifactsDir == "" || *runID == "" {
		die("--artifacts_dir and --run_id are required")
	}

	var tickPtr *int
	if *tick >= 0 {
		tickPtr = tick
	}

	result, err := validate.ValidateRun(*artifactsDir, *runID, tickPtr)
	if err != nil {
		die("validate: %v", err)
	}

	if *asJSON {
		b, err := canon.Bytes(result)
		if err != nil {
			die("validate: encoding result: %v", err)
		}
		fmt.Println(string(b))
	} else if result.OK {
		fmt.Println("VALIDATION: PASS")
		fmt.Printf("Validated ticks: %v\n", result.ValidatedTicks)
	} else {
		fmt.Println("VALIDATION: FAIL")
		fmt.Printf("Validated ticks: %v\n", result.ValidatedTicks)
		fmt.Println("Failures:")
		for _, f := range result.Failures {
			fmt.Printf("  - tick=%d, kind=%s, path=%s\n", f.Tick, f.ArtifactKind, f.Path)
			for _, e := range f.Errors {
				fmt.Printf("      %s\n", e)
			}
		}
	}

	if !result.OK {
		os.Exit(1)
	}
	os.Exit(0)
}

// runDBSummary queries the derived SQLite index directly instead of
// re-walking the artifacts tree. With --run_id set it lists that run's
// indexed artifact rows; otherwise it lists every known run.
func runDBSummary(dbPath, runID string, asJSON bool) {
	idx, err := store.Open(dbPath)
	if err != nil {
		die("validate: opening store %s: %v", dbPath, err)
	}
	defer idx.Close()

	if runID == "" {
		runs, err := idx.Runs()
		if err != nil {
			die("validate: querying runs: %v", err)
		}
		if asJSON {
			b, err := canon.Bytes(runs)
			if err != nil {
				die("validate: encoding runs: %v", err)
			}
			fmt.Println(string(b))
			return
		}
		fmt.Printf("Indexed runs: %d\n", len(runs))
		for _, r := range runs {
			fmt.Printf("  - %s: ticks %d-%d (%d indexed), last_seen=%s\n", r.RunID, r.FirstTick, r.LastTick, r.TickCount, r.LastSeenAt)
		}
		return
	}

	rows, err := idx.TicksForRun(runID)
	if err != nil {
		die("validate: querying ticks for %s: %v", runID, err)
	}
	if asJSON {
		b, err := canon.Bytes(rows)
		if err != nil {
			die("validate: encoding rows: %v", err)
		}
		fmt.Println(string(b))
		return
	}
	fmt.Printf("Indexed artifacts for run %s: %d\n", runID, len(rows))
	for _, r := range rows {
		fmt.Printf("  - tick=%d kind=%s schema=%s sha256=%s bytes=%d path=%s\n", r.Tick, r.Kind, r.Schema, r.SHA256, r.Bytes, r.Path)
	}
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
