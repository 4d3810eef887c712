// Package seal implements the Abraxas release seal (§4.Q): run one
// deterministic tick, validate its artifacts against schema, run the
// twelve-run invariance gate, and write a single SealReport.v0 that
// pass/fails a release.
//
// Grounded on scripts/seal_release.py.
package seal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/antigravity-dev/abraxas/internal/bindings"
	"github.com/antigravity-dev/abraxas/internal/canon"
	"github.com/antigravity-dev/abraxas/internal/invariance"
	"github.com/antigravity-dev/abraxas/internal/tick"
	"github.com/antigravity-dev/abraxas/internal/validate"
)

// Input configures one seal run.
type Input struct {
	RepoRoot   string
	RunID      string // default "seal"
	Tick       int    // default 0
	GateRuns   int    // default 12
	SealDir    string // default "./artifacts_seal"
	GateDir    string // default "./artifacts_gate"
	Version    string // default: read from RepoRoot/VERSION, else "0.0.0"
	VersionPack map[string]any // default: read from RepoRoot/abx_versions.json
}

// Report is SealReport.v0.
type Report struct {
	Schema             string         `json:"schema"`
	Version            string         `json:"version"`
	VersionPack        map[string]any `json:"version_pack"`
	SealTickArtifacts  tick.ArtifactRefs `json:"seal_tick_artifacts"`
	ValidationResult   ValidationSummary `json:"validation_result"`
	DozenGateResult    GateSummary       `json:"dozen_gate_result"`
	OK                 bool              `json:"ok"`
}

// ValidationSummary mirrors what SealReport.v0 keeps of a RunResult.
type ValidationSummary struct {
	OK             bool               `json:"ok"`
	ValidatedTicks []int              `json:"validated_ticks"`
	Failures       []validate.Failure `json:"failures"`
}

// GateSummary mirrors what SealReport.v0 keeps of a GateResult.
type GateSummary struct {
	OK                      bool                    `json:"ok"`
	ExpectedTrendpackSHA256 string                  `json:"expected_trendpack_sha256"`
	ExpectedRunHeaderSHA256 string                  `json:"expected_runheader_sha256"`
	FirstMismatchRun        *int                    `json:"first_mismatch_run,omitempty"`
	DivergenceKind          invariance.DivergenceKind `json:"divergence_kind,omitempty"`
}

// Result is the structured return of Run, for programmatic callers
// (cmd/abraxas-seal prints it and sets the process exit code).
type Result struct {
	ReportPath   string
	ReportSHA256 string
	OK           bool
	Report       Report
}

func sealPipeline() bindings.Bindings {
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

func runSealTick(artifactsDir, runID string, tickNum int) (tick.Output, error) {
	return tick.RunTick(tick.Input{
		Tick:         tickNum,
		RunID:        runID,
		Mode:         "sandbox",
		Context:      map[string]any{"x": 1},
		ArtifactsDir: artifactsDir,
		Bindings:     sealPipeline(),
	})
}

// Run drives the full seal sequence and writes SealReport.v0.
func Run(in Input) (Result, error) {
	if in.RunID == "" {
		in.RunID = "seal"
	}
	if in.GateRuns == 0 {
		in.GateRuns = 12
	}
	if in.SealDir == "" {
		in.SealDir = "./artifacts_seal"
	}
	if in.GateDir == "" {
		in.GateDir = "./artifacts_gate"
	}
	version := in.Version
	if version == "" {
		version = readVersion(in.RepoRoot)
	}
	versionPack := in.VersionPack
	if versionPack == nil {
		versionPack = readVersionPack(in.RepoRoot)
	}

	if err := safeClearDir(in.SealDir); err != nil {
		return Result{}, fmt.Errorf("seal: clearing seal dir: %w", err)
	}

	tickOut, err := runSealTick(in.SealDir, in.RunID, in.Tick)
	if err != nil {
		return Result{}, fmt.Errorf("seal: running seal tick: %w", err)
	}

	validationResult, err := validate.ValidateRun(in.SealDir, in.RunID, &in.Tick)
	if err != nil {
		return Result{}, fmt.Errorf("seal: validating artifacts: %w", err)
	}

	if err := safeClearDir(in.GateDir); err != nil {
		return Result{}, fmt.Errorf("seal: clearing gate dir: %w", err)
	}

	gateResult, err := invariance.RunTickInvarianceGate(in.GateDir, in.GateRuns, func(runIndex int, runDir string) (invariance.RunOutcome, error) {
		out, err := runSealTick(runDir, in.RunID, in.Tick)
		if err != nil {
			return invariance.RunOutcome{}, err
		}
		return invariance.RunOutcome{
			TrendpackPath:   out.Artifacts.Trendpack,
			TrendpackSHA256: out.Artifacts.TrendpackSHA256,
			RunHeaderSHA256: out.Artifacts.RunHeaderSHA256,
		}, nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("seal: running dozen gate: %w", err)
	}

	ok := validationResult.OK && gateResult.OK

	report := Report{
		Schema:            "SealReport.v0",
		Version:           version,
		VersionPack:       versionPack,
		SealTickArtifacts: tickOut.Artifacts,
		ValidationResult: ValidationSummary{
			OK:             validationResult.OK,
			ValidatedTicks: validationResult.ValidatedTicks,
			Failures:       validationResult.Failures,
		},
		DozenGateResult: GateSummary{
			OK:                      gateResult.OK,
			ExpectedTrendpackSHA256: gateResult.ExpectedTrendpackSHA256,
			ExpectedRunHeaderSHA256: gateResult.ExpectedRunHeaderSHA256,
			FirstMismatchRun:        gateResult.FirstMismatchRun,
		},
		OK: ok,
	}
	if gateResult.Divergence != nil {
		report.DozenGateResult.DivergenceKind = gateResult.Divergence.Kind
	}

	reportPath, reportSHA, err := writeSealReport(in.SealDir, in.RunID, report)
	if err != nil {
		return Result{}, fmt.Errorf("seal: writing seal report: %w", err)
	}

	return Result{ReportPath: reportPath, ReportSHA256: reportSHA, OK: ok, Report: report}, nil
}

func writeSealReport(artifactsDir, runID string, report Report) (path, sha256Hex string, err error) {
	dir := filepath.Join(artifactsDir, "runs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("creating runs directory: %w", err)
	}
	b, err := canon.Bytes(report)
	if err != nil {
		return "", "", fmt.Errorf("encoding seal report: %w", err)
	}
	out := filepath.Join(dir, runID+".sealreport.json")
	if err := os.WriteFile(out, b, 0o644); err != nil {
		return "", "", fmt.Errorf("writing seal report: %w", err)
	}
	return out, canon.SHA256Hex(b), nil
}

func safeClearDir(path string) error {
	if _, err := os.Stat(path); err == nil {
		if err := os.RemoveAll(path); err != nil {
			return err
		}
	}
	return os.MkdirAll(path, 0o755)
}

func readVersion(repoRoot string) string {
	raw, err := os.ReadFile(filepath.Join(repoRoot, "VERSION"))
	if err != nil {
		return "0.0.0"
	}
	return trimVersion(string(raw))
}

func trimVersion(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r' || s[len(s)-1] == ' ' || s[len(s)-1] == '\t') {
		s = s[:len(s)-1]
	}
	return s
}

func readVersionPack(repoRoot string) map[string]any {
	raw, err := os.ReadFile(filepath.Join(repoRoot, "abx_versions.json"))
	if err != nil {
		return map[string]any{"schema": "AbraxasVersionPack.v0", "abraxas": "0.0.0"}
	}
	var vp map[string]any
	if err := json.Unmarshal(raw, &vp); err != nil {
		return map[string]any{"schema": "AbraxasVersionPack.v0", "abraxas": "0.0.0"}
	}
	return vp
}
