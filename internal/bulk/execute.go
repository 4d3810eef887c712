package bulk

import (
	"context"
	"time"

	"github.com/antigravity-dev/abraxas/internal/cas"
	"github.com/antigravity-dev/abraxas/internal/exec"
	"github.com/antigravity-dev/abraxas/internal/telemetry"
	"github.com/antigravity-dev/abraxas/internal/transport"
	"github.com/antigravity-dev/abraxas/internal/tuning"
	"github.com/antigravity-dev/abraxas/internal/workunit"
)

// Packet is SourcePacket.v0: one committed fetch result, ready for
// downstream normalization.
type Packet struct {
	SourceID       string           `json:"source_id"`
	ObservedAtUTC  string           `json:"observed_at_utc"`
	WindowStartUTC string           `json:"window_start_utc,omitempty"`
	WindowEndUTC   string           `json:"window_end_utc,omitempty"`
	Payload        PacketPayload    `json:"payload"`
	Provenance     PacketProvenance `json:"provenance"`
}

// PacketPayload carries the fetched content's location and type.
type PacketPayload struct {
	URL         string  `json:"url"`
	CacheRef    cas.Ref `json:"cache_ref"`
	ContentType string  `json:"content_type"`
}

// PacketProvenance records which plan step produced a packet and how.
type PacketProvenance struct {
	PlanID            string `json:"plan_id"`
	StepID            string `json:"step_id"`
	AcquisitionMethod string `json:"acquisition_method"`
}

// ExecutionResult is execute_plan's output.
type ExecutionResult struct {
	Packets   []Packet
	CacheRefs []cas.Ref
}

// ExecuteInput parameterizes one plan execution.
type ExecuteInput struct {
	Plan    Plan
	RunID   string
	NowUTC  string
	Budgets tuning.PortfolioTuningIR
	Store   *cas.Store
	Ledger  *telemetry.Ledger
	Client  *transport.Client
	Offline bool
}

// ExecutePlan builds work units from plan.Steps (skipping SKIP
// actions), fetches each concurrently under the portfolio's pipeline
// knobs, and synthesizes one Packet per successfully fetched step in
// commit (sort-by-key) order — never completion order.
//
// In offline mode, a cache miss skips that unit rather than erroring:
// this is a deliberate, recorded gap, not a silent truncation.
func ExecutePlan(ctx context.Context, in ExecuteInput) (ExecutionResult, error) {
	nowUTC := in.NowUTC
	if nowUTC == "" {
		nowUTC = "1970-01-01T00:00:00Z"
	}

	units, stepByUnit, err := buildWorkUnits(in.Plan)
	if err != nil {
		return ExecutionResult{}, err
	}

	cfg := exec.Config{
		Workers:          workerCount(in.Budgets),
		MaxInflightBytes: in.Budgets.Pipeline.MaxInflightBytes,
	}

	client := in.Client
	if client == nil {
		client = transport.NewClient()
	}

	handler := func(hctx context.Context, unit workunit.Unit) (exec.WorkResult, error) {
		step := stepByUnit[unit.UnitID]
		return executeStep(hctx, in, client, unit, step, nowUTC)
	}

	result, err := exec.ExecuteParallel(ctx, units, cfg, string(workunit.StageFetch), handler)
	if err != nil {
		return ExecutionResult{}, err
	}

	committed := exec.CommitResults(result.Results)

	var packets []Packet
	var cacheRefs []cas.Ref
	for _, r := range committed {
		if r.OutputRefs == nil {
			continue
		}
		if skipped, _ := r.OutputRefs["skipped"].(bool); skipped {
			continue
		}
		cacheRef, _ := r.OutputRefs["cache_ref"].(cas.Ref)
		url, _ := r.OutputRefs["url"].(string)
		method, _ := r.OutputRefs["method"].(string)
		contentType, _ := r.OutputRefs["content_type"].(string)
		stepID, _ := r.OutputRefs["step_id"].(string)

		cacheRefs = append(cacheRefs, cacheRef)
		packets = append(packets, Packet{
			SourceID:       in.Plan.SourceID,
			ObservedAtUTC:  nowUTC,
			WindowStartUTC: in.Plan.WindowUTC["start"],
			WindowEndUTC:   in.Plan.WindowUTC["end"],
			Payload: PacketPayload{
				URL:         url,
				CacheRef:    cacheRef,
				ContentType: contentType,
			},
			Provenance: PacketProvenance{
				PlanID:            in.Plan.PlanID,
				StepID:            stepID,
				AcquisitionMethod: method,
			},
		})

		if in.Ledger != nil {
			_ = in.Ledger.Record(map[string]any{
				"ts":        nowUTC,
				"event":     "plan_step",
				"source_id": in.Plan.SourceID,
				"plan_id":   in.Plan.PlanID,
				"step_id":   stepID,
				"url":       url,
				"bytes":     cacheRef.BytesLen,
				"method":    method,
			})
		}
	}

	if in.Ledger != nil {
		_ = in.Ledger.Record(map[string]any{
			"ts":                 nowUTC,
			"event":              "parallel_stage",
			"stage":              string(workunit.StageFetch),
			"workers_used":       result.WorkersUsed,
			"max_inflight_bytes": result.MaxInflightBytes,
			"wall_ms":            result.Wall.Milliseconds(),
		})
	}

	return ExecutionResult{Packets: packets, CacheRefs: cacheRefs}, nil
}

func executeStep(ctx context.Context, in ExecuteInput, client *transport.Client, unit workunit.Unit, step PlanStep, nowUTC string) (exec.WorkResult, error) {
	if in.Offline {
		cached, found, err := transport.AcquireCacheOnly(in.Store, step.URLOrKey)
		if err != nil {
			return exec.WorkResult{}, err
		}
		if !found {
			return exec.WorkResult{
				UnitID: unit.UnitID,
				Key:    unit.Key,
				Stage:  string(workunit.StageFetch),
				OutputRefs: map[string]any{
					"skipped": true,
					"step_id": step.StepID,
					"url":     step.URLOrKey,
				},
			}, nil
		}
		return exec.WorkResult{
			UnitID:         unit.UnitID,
			Key:            unit.Key,
			Stage:          string(workunit.StageFetch),
			BytesProcessed: cached.RawRef.BytesLen,
			OutputRefs: map[string]any{
				"cache_ref":    cached.RawRef,
				"method":       "cache_only",
				"content_type": cached.ContentType,
				"step_id":      step.StepID,
				"url":          step.URLOrKey,
			},
		}, nil
	}

	recordedAt := time.Time{}
	result, err := client.AcquireBulk(ctx, in.Store, in.Plan.SourceID, step.URLOrKey, recordedAt)
	if err != nil {
		return exec.WorkResult{}, err
	}
	return exec.WorkResult{
		UnitID:         unit.UnitID,
		Key:            unit.Key,
		Stage:          string(workunit.StageFetch),
		BytesProcessed: result.RawRef.BytesLen,
		OutputRefs: map[string]any{
			"cache_ref":    result.RawRef,
			"method":       "bulk",
			"content_type": result.ContentType,
			"step_id":      step.StepID,
			"url":          step.URLOrKey,
		},
	}, nil
}

func buildWorkUnits(plan Plan) ([]workunit.Unit, map[string]PlanStep, error) {
	units := make([]workunit.Unit, 0, len(plan.Steps))
	stepByUnit := make(map[string]PlanStep, len(plan.Steps))

	for _, step := range plan.Steps {
		if step.Action == "SKIP" {
			continue
		}
		key := workunit.OrderingKey{
			SourceID:       plan.SourceID,
			WindowStartUTC: plan.WindowUTC["start"],
			URL:            step.URLOrKey,
		}
		unit, err := workunit.Build(workunit.StageFetch, plan.SourceID, windowUTCString(plan.WindowUTC), key, []string{step.StepID, step.URLOrKey}, 0)
		if err != nil {
			return nil, nil, err
		}
		units = append(units, unit)
		stepByUnit[unit.UnitID] = step
	}

	return workunit.SortUnits(units), stepByUnit, nil
}

func windowUTCString(w map[string]string) string {
	return w["start"] + "|" + w["end"]
}

// workerCount is min(portfolio.max_requests, workers_fetch), per §4.E —
// the fetch stage never runs with more workers than the run's whole
// request budget allows, even if workers_fetch is configured higher.
func workerCount(budgets tuning.PortfolioTuningIR) int {
	if !budgets.Pipeline.ConcurrencyEnabled {
		return 1
	}
	workers := budgets.Pipeline.MaxWorkersFetch
	if workers <= 0 {
		workers = 1
	}
	if maxRequests := budgets.UBV.MaxRequestsPerRun; maxRequests > 0 && maxRequests < workers {
		workers = maxRequests
	}
	return workers
}
