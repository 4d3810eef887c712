// Package tick implements the Abraxas canonical tick orchestrator
// (§4.M): the single stitch-point between the scheduler, the pipeline
// bindings, and artifact emission. One call to RunTick drives the
// scheduler, transforms its trace into TrendPack.v0, builds
// ResultsPack.v0, attaches ResultRef.v0 pointers, writes the
// write-once RunHeader.v0, and assembles RunIndex.v0 and ViewPack.v0.
//
// Grounded on runtime/tick.py, runtime/results_pack.py,
// runtime/run_header.py, runtime/view_pack.py, and runtime/viz_resolve.py.
package tick

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/antigravity-dev/abraxas/internal/artifacts"
	"github.com/antigravity-dev/abraxas/internal/bindings"
	"github.com/antigravity-dev/abraxas/internal/canon"
	"github.com/antigravity-dev/abraxas/internal/devicefp"
	"github.com/antigravity-dev/abraxas/internal/ers"
	"github.com/antigravity-dev/abraxas/internal/policy"
)

var forecastBudget = ers.Budget{Ops: 50, Entropy: 0}
var shadowBudget = ers.Budget{Ops: 20, Entropy: 0}

const forecastTaskCostOps = 10
const shadowTaskCostOps = 2

// Input is everything one orchestrated tick needs.
type Input struct {
	Tick         int
	RunID        string
	Mode         string
	Context      map[string]any
	ArtifactsDir string
	Bindings     bindings.Bindings

	// PolicyDir is the directory live policy files are read from
	// (default "policy"). PolicyNames lists which policies get a
	// snapshot+ref this tick (default {"retention"}).
	PolicyDir   string
	PolicyNames []string

	// RepoRoot is where a best-effort `git rev-parse HEAD` is run from.
	// Empty means the process's own working directory.
	RepoRoot string

	// Indexer, when set, mirrors every artifact this tick writes into a
	// derived query index (e.g. *store.Store). Nil disables indexing.
	Indexer artifacts.Indexer
}

// ArtifactRefs is the artifacts part of RunTick's (results, remaining,
// artifacts) return: the paths and hashes of the tick's written artifacts.
type ArtifactRefs struct {
	Trendpack         string `json:"trendpack"`
	TrendpackSHA256   string `json:"trendpack_sha256"`
	ResultsPack       string `json:"results_pack"`
	ResultsPackSHA256 string `json:"results_pack_sha256"`
	ViewPack          string `json:"viewpack"`
	ViewPackSHA256    string `json:"viewpack_sha256"`
	RunIndex          string `json:"runindex"`
	RunIndexSHA256    string `json:"runindex_sha256"`
	RunHeader         string `json:"run_header"`
	RunHeaderSHA256   string `json:"run_header_sha256"`
}

// Output is the structured return of RunTick.
type Output struct {
	Tick      int
	RunID     string
	Mode      string
	Results   map[string]ers.TaskResult
	Remaining struct {
		Forecast ers.Budget
		Shadow   ers.Budget
	}
	Artifacts ArtifactRefs
}

// RunTick drives one canonical Abraxas tick end to end (§4.M).
func RunTick(in Input) (Output, error) {
	if in.PolicyDir == "" {
		in.PolicyDir = "policy"
	}
	if in.PolicyNames == nil {
		in.PolicyNames = []string{"retention"}
	}

	policyRefs, err := ensurePolicyRefs(in)
	if err != nil {
		return Output{}, fmt.Errorf("tick: policy snapshots: %w", err)
	}

	sched := ers.New()
	if err := sched.Add(ers.TaskSpec{Name: "oracle:signal", Lane: ers.LaneForecast, Priority: 0, CostOps: forecastTaskCostOps, Fn: ers.TaskFunc(in.Bindings.RunSignal)}); err != nil {
		return Output{}, fmt.Errorf("tick: %w", err)
	}
	if err := sched.Add(ers.TaskSpec{Name: "oracle:compress", Lane: ers.LaneForecast, Priority: 1, CostOps: forecastTaskCostOps, Fn: ers.TaskFunc(in.Bindings.RunCompress)}); err != nil {
		return Output{}, fmt.Errorf("tick: %w", err)
	}
	if err := sched.Add(ers.TaskSpec{Name: "oracle:overlay", Lane: ers.LaneForecast, Priority: 2, CostOps: forecastTaskCostOps, Fn: ers.TaskFunc(in.Bindings.RunOverlay)}); err != nil {
		return Output{}, fmt.Errorf("tick: %w", err)
	}

	shadowNames := make([]string, 0, len(in.Bindings.ShadowTasks))
	for name := range in.Bindings.ShadowTasks {
		shadowNames = append(shadowNames, name)
	}
	sort.Strings(shadowNames)
	for _, name := range shadowNames {
		fn := in.Bindings.ShadowTasks[name]
		if err := sched.Add(ers.TaskSpec{Name: "shadow:" + name, Lane: ers.LaneShadow, Priority: 0, CostOps: shadowTaskCostOps, Fn: ers.TaskFunc(fn)}); err != nil {
			return Output{}, fmt.Errorf("tick: %w", err)
		}
	}

	out := sched.RunTick(in.Tick, forecastBudget, shadowBudget, in.Context)

	aw := artifacts.New(in.ArtifactsDir)
	aw.Indexer = in.Indexer

	resultsProvenance := map[string]any{"engine": "abraxas", "mode": in.Mode, "policy_ref": policyRefs}
	resultsPackObj := buildResultsPack(in.RunID, in.Tick, out.Results, resultsProvenance)
	resultsPackRelPath := fmt.Sprintf("results/%s/%06d.resultspack.json", in.RunID, in.Tick)
	resultsRec, err := aw.WriteJSON(in.RunID, in.Tick, "resultspack", "ResultsPack.v0", resultsPackObj,
		resultsPackRelPath, map[string]any{"mode": in.Mode})
	if err != nil {
		return Output{}, fmt.Errorf("tick: writing results pack: %w", err)
	}

	// result_ref.results_pack feeds straight into the hashed TrendPack
	// timeline, so it must be the artifacts-dir-relative path, never
	// resultsRec.Path (absolute) — an absolute path differs per dozen-run
	// gate iteration (each runs under its own run_NN directory) and would
	// make every TrendPack byte-for-byte different across otherwise
	// identical runs.
	attachResultRefs(out.Trace, resultsPackRelPath)

	trendProvenance := map[string]any{"engine": "abraxas", "mode": in.Mode, "ers": "v0.2", "policy_ref": policyRefs}
	trendpackObj := ersTraceToTrendpack(out.Trace, in.RunID, in.Tick, trendProvenance)
	trendRec, err := aw.WriteJSON(in.RunID, in.Tick, "trendpack", "TrendPack.v0", trendpackObj,
		fmt.Sprintf("viz/%s/%06d.trendpack.json", in.RunID, in.Tick), map[string]any{"mode": in.Mode, "ers": "v0.2"})
	if err != nil {
		return Output{}, fmt.Errorf("tick: writing trendpack: %w", err)
	}

	headerPath, headerSHA, err := ensureRunHeader(in, policyRefs)
	if err != nil {
		return Output{}, fmt.Errorf("tick: run header: %w", err)
	}

	runIndexObj := map[string]any{
		"schema": "RunIndex.v0",
		"run_id": in.RunID,
		"tick":   in.Tick,
		"refs": map[string]any{
			"trendpack":    trendRec.Path,
			"results_pack": resultsRec.Path,
			"run_header":   headerPath,
		},
		"hashes": map[string]any{
			"trendpack_sha256":     trendRec.SHA256,
			"results_pack_sha256":  resultsRec.SHA256,
			"run_header_sha256":    headerSHA,
		},
		"tags":       []string{},
		"provenance": map[string]any{"engine": "abraxas", "mode": in.Mode},
	}
	runIndexRec, err := aw.WriteJSON(in.RunID, in.Tick, "runindex", "RunIndex.v0", runIndexObj,
		fmt.Sprintf("run_index/%s/%06d.runindex.json", in.RunID, in.Tick), map[string]any{"mode": in.Mode})
	if err != nil {
		return Output{}, fmt.Errorf("tick: writing run index: %w", err)
	}

	viewPackObj := buildViewPack(trendpackObj, in.RunID, in.Tick, in.Mode, 50, nil, nil)
	viewRec, err := aw.WriteJSON(in.RunID, in.Tick, "viewpack", "ViewPack.v0", viewPackObj,
		fmt.Sprintf("view/%s/%06d.viewpack.json", in.RunID, in.Tick), map[string]any{"mode": in.Mode})
	if err != nil {
		return Output{}, fmt.Errorf("tick: writing view pack: %w", err)
	}

	result := Output{
		Tick:    out.Tick,
		RunID:   in.RunID,
		Mode:    in.Mode,
		Results: out.Results,
	}
	result.Remaining.Forecast = out.Remaining.Forecast
	result.Remaining.Shadow = out.Remaining.Shadow
	result.Artifacts = ArtifactRefs{
		Trendpack:         trendRec.Path,
		TrendpackSHA256:   trendRec.SHA256,
		ResultsPack:       resultsRec.Path,
		ResultsPackSHA256: resultsRec.SHA256,
		ViewPack:          viewRec.Path,
		ViewPackSHA256:    viewRec.SHA256,
		RunIndex:          runIndexRec.Path,
		RunIndexSHA256:    runIndexRec.SHA256,
		RunHeader:         headerPath,
		RunHeaderSHA256:   headerSHA,
	}
	return result, nil
}

func ensurePolicyRefs(in Input) (map[string]policy.Ref, error) {
	refs := make(map[string]policy.Ref, len(in.PolicyNames))
	for _, name := range in.PolicyNames {
		policyPath := filepath.Join(in.PolicyDir, name+".json")
		relSnap, hash, err := policy.EnsureSnapshot(in.ArtifactsDir, in.RunID, name, policyPath)
		if err != nil {
			return nil, err
		}
		refs[name] = policy.RefFromSnapshot(name, relSnap, hash)
	}
	return refs, nil
}

// resultRef is ResultRef.v0.
type resultRef struct {
	Schema      string `json:"schema"`
	ResultsPack string `json:"results_pack"`
	Task        string `json:"task"`
}

func attachResultRefs(trace []ers.TraceEvent, resultsPackPath string) {
	for i := range trace {
		if trace[i].Meta == nil {
			trace[i].Meta = map[string]any{}
		}
		trace[i].Meta["result_ref"] = resultRef{Schema: "ResultRef.v0", ResultsPack: resultsPackPath, Task: trace[i].Task}
	}
}

func buildResultsPack(runID string, tick int, results map[string]ers.TaskResult, provenance map[string]any) map[string]any {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	items := make([]map[string]any, 0, len(names))
	for _, name := range names {
		tr := results[name]
		items = append(items, map[string]any{
			"task": name,
			"result": map[string]any{
				"status": string(tr.Status),
				"value":  tr.Value,
				"error":  tr.Error,
			},
		})
	}

	return map[string]any{
		"schema":     "ResultsPack.v0",
		"run_id":     runID,
		"tick":       tick,
		"items":      items,
		"provenance": provenance,
	}
}

func ersTraceToTrendpack(trace []ers.TraceEvent, runID string, tick int, provenance map[string]any) map[string]any {
	timeline := make([]map[string]any, 0, len(trace))
	for _, e := range trace {
		timeline = append(timeline, map[string]any{
			"tick":         e.Tick,
			"task":         e.Task,
			"lane":         e.Lane,
			"status":       e.Status,
			"cost_ops":     e.CostOps,
			"cost_entropy": e.CostEntropy,
			"meta":         e.Meta,
		})
	}

	var forecastOps, forecastEntropy, shadowOps, shadowEntropy int
	var errors, skipped []map[string]any
	var okCount, forecastCount, shadowCount int

	for _, e := range trace {
		if e.Lane == ers.LaneForecast {
			forecastCount++
			if e.Status != ers.StatusSkippedBudget {
				forecastOps += e.CostOps
				forecastEntropy += e.CostEntropy
			}
		} else {
			shadowCount++
			if e.Status != ers.StatusSkippedBudget {
				shadowOps += e.CostOps
				shadowEntropy += e.CostEntropy
			}
		}
		switch e.Status {
		case ers.StatusOK:
			okCount++
		case ers.StatusError:
			errors = append(errors, map[string]any{"task": e.Task, "lane": e.Lane, "cost_ops": e.CostOps, "meta": e.Meta})
		case ers.StatusSkippedBudget:
			skipped = append(skipped, map[string]any{"task": e.Task, "lane": e.Lane, "cost_ops": e.CostOps, "cost_entropy": e.CostEntropy})
		}
	}
	if errors == nil {
		errors = []map[string]any{}
	}
	if skipped == nil {
		skipped = []map[string]any{}
	}

	return map[string]any{
		"schema":  "TrendPack.v0",
		"version": "0.1",
		"run_id":  runID,
		"tick":    tick,
		"provenance": provenance,
		"timeline":   timeline,
		"budget": map[string]any{
			"forecast": map[string]any{"spent_ops": forecastOps, "spent_entropy": forecastEntropy},
			"shadow":   map[string]any{"spent_ops": shadowOps, "spent_entropy": shadowEntropy},
		},
		"errors":  errors,
		"skipped": skipped,
		"stats": map[string]any{
			"total_events":    len(trace),
			"forecast_events": forecastCount,
			"shadow_events":   shadowCount,
			"errors":          len(errors),
			"skipped":         len(skipped),
			"ok_events":       okCount,
		},
	}
}

// buildViewPack assembles ViewPack.v0 directly from the in-memory
// TrendPack and tick results, avoiding a second read-from-disk
// resolver pass since the orchestrator already holds both in memory.
func buildViewPack(trendpack map[string]any, runID string, tick int, mode string, resolveLimit int, resolveOnlyStatus []string, extraProvenance map[string]any) map[string]any {
	timeline, _ := trendpack["timeline"].([]map[string]any)

	eventsClean := make([]map[string]any, 0, len(timeline))
	resolved := make([]map[string]any, 0, len(timeline))

	allow := map[string]bool{}
	for _, s := range resolveOnlyStatus {
		allow[s] = true
	}

	for i, ev := range timeline {
		cleanEv := map[string]any{}
		for k, v := range ev {
			cleanEv[k] = v
		}
		var refForResolve any
		if meta, ok := ev["meta"].(map[string]any); ok {
			metaClean := map[string]any{}
			for k, v := range meta {
				if k == "result_ref" {
					refForResolve = v
					continue
				}
				metaClean[k] = v
			}
			cleanEv["meta"] = metaClean
		}

		if len(resolved) < resolveLimit || resolveLimit <= 0 {
			status := fmt.Sprintf("%v", ev["status"])
			if resolveOnlyStatus == nil || allow[status] {
				ref := map[string]any{}
				if rr, ok := refForResolve.(resultRef); ok {
					ref["schema"] = rr.Schema
					ref["task"] = rr.Task
				}
				resolved = append(resolved, map[string]any{
					"event":  cleanEv,
					"ref":    ref,
					"_index": i,
				})
			}
		}
		eventsClean = append(eventsClean, cleanEv)
	}

	stats, _ := trendpack["stats"].(map[string]any)
	budget, _ := trendpack["budget"].(map[string]any)
	errorsList, _ := trendpack["errors"].([]map[string]any)
	skippedList, _ := trendpack["skipped"].([]map[string]any)

	aggregates := map[string]any{
		"stats":         stats,
		"budget":        budget,
		"error_count":   len(errorsList),
		"skipped_count": len(skippedList),
	}

	provenance := map[string]any{}
	for k, v := range extraProvenance {
		provenance[k] = v
	}

	return map[string]any{
		"schema": "ViewPack.v0",
		"run_id": runID,
		"tick":   tick,
		"mode":   mode,
		"trendpack_ref": map[string]any{
			"pattern": "viz/{run_id}/{tick:06d}.trendpack.json",
			"run_id":  runID,
			"tick":    tick,
		},
		"aggregates": aggregates,
		"events":     eventsClean,
		"resolved":   resolved,
		"resolved_filter": map[string]any{
			"limit":         resolveLimit,
			"status_filter": resolveOnlyStatus,
			"actual_count":  len(resolved),
		},
		"provenance": provenance,
	}
}

// ensureRunHeader writes (or reuses, write-once) RunHeader.v0 for
// run_id. Grounded on runtime/run_header.py's ensure_run_header.
func ensureRunHeader(in Input, policyRefs map[string]policy.Ref) (path, sha256Hex string, err error) {
	out := filepath.Join(in.ArtifactsDir, "runs", in.RunID+".runheader.json")
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", "", fmt.Errorf("creating runs directory: %w", err)
	}

	if raw, readErr := os.ReadFile(out); readErr == nil {
		return out, canon.SHA256Hex(raw), nil
	}

	fp, err := devicefp.Get()
	if err != nil {
		return "", "", fmt.Errorf("computing device fingerprint: %w", err)
	}

	header := map[string]any{
		"schema": "RunHeader.v0",
		"run_id": in.RunID,
		"mode":   in.Mode,
		"code": map[string]any{
			"git_sha": tryGitSHA(in.RepoRoot),
		},
		"pipeline_bindings":     in.Bindings.Provenance,
		"policy_refs":           policyRefs,
		"stability_ref_pattern": fmt.Sprintf("runs/%s.stability_ref.json", in.RunID),
		"env":                   fp,
	}

	b, err := canon.Bytes(header)
	if err != nil {
		return "", "", fmt.Errorf("encoding run header: %w", err)
	}
	if err := os.WriteFile(out, b, 0o644); err != nil {
		return "", "", fmt.Errorf("writing run header: %w", err)
	}
	return out, canon.SHA256Hex(b), nil
}

// tryGitSHA is a best-effort `git rev-parse HEAD`; it never fails the
// caller, matching the original's swallow-all-errors contract.
func tryGitSHA(repoRoot string) any {
	cmd := exec.Command("git", "rev-parse", "HEAD")
	if repoRoot != "" {
		cmd.Dir = repoRoot
	}
	out, err := cmd.Output()
	if err != nil {
		return nil
	}
	sha := strings.TrimSpace(string(out))
	if sha == "" {
		return nil
	}
	return sha
}
