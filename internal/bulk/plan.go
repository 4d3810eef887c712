// Package bulk implements the Abraxas bulk planner and executor (§4.H):
// turning a manifest's URLs into a finite, budget-capped set of plan
// steps, then fetching each step either online (bulk HTTP, never
// surgical) or, in offline mode, cache-only.
//
// Grounded on acquisition/bulk_planner.py, acquisition/plan_schema.py,
// and acquisition/execute_plan.py.
package bulk

import (
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/antigravity-dev/abraxas/internal/canon"
	"github.com/antigravity-dev/abraxas/internal/manifest"
	"github.com/antigravity-dev/abraxas/internal/tuning"
)

// PlanStep is one finite unit of planned work.
type PlanStep struct {
	StepID                  string  `json:"step_id"`
	Action                  string  `json:"action"`
	URLOrKey                string  `json:"url_or_key"`
	ExpectedBytes           *int    `json:"expected_bytes"`
	CachePolicy             string  `json:"cache_policy"`
	CodecHint               *string `json:"codec_hint"`
	Notes                   *string `json:"notes"`
	DeterministicOrderIndex int     `json:"deterministic_order_index"`
}

func (s PlanStep) canonicalPayload() map[string]any {
	return map[string]any{
		"step_id":                   s.StepID,
		"action":                    s.Action,
		"url_or_key":                s.URLOrKey,
		"expected_bytes":            s.ExpectedBytes,
		"cache_policy":              s.CachePolicy,
		"codec_hint":                s.CodecHint,
		"notes":                     s.Notes,
		"deterministic_order_index": s.DeterministicOrderIndex,
	}
}

// Plan is BulkPullPlan.v0: a content-addressed, finite fetch plan.
type Plan struct {
	PlanID       string            `json:"plan_id"`
	SourceID     string            `json:"source_id"`
	CreatedAtUTC string            `json:"created_at_utc"`
	WindowUTC    map[string]string `json:"window_utc"`
	ManifestID   string            `json:"manifest_id"`
	Steps        []PlanStep        `json:"steps"`
}

func (p Plan) canonicalPayload() map[string]any {
	steps := make([]map[string]any, len(p.Steps))
	for i, s := range p.Steps {
		steps[i] = s.canonicalPayload()
	}
	return map[string]any{
		"plan_id":        p.PlanID,
		"source_id":      p.SourceID,
		"created_at_utc": p.CreatedAtUTC,
		"window_utc":     windowOrEmpty(p.WindowUTC),
		"manifest_id":    p.ManifestID,
		"steps":          steps,
	}
}

// PlanHash recomputes the plan's content-identity hash.
func (p Plan) PlanHash() (string, error) {
	return canon.HashJSON(p.canonicalPayload())
}

func windowOrEmpty(w map[string]string) map[string]string {
	if w == nil {
		return map[string]string{}
	}
	return w
}

func buildPlan(sourceID, createdAtUTC string, windowUTC map[string]string, manifestID string, steps []PlanStep) (Plan, error) {
	payload := map[string]any{
		"source_id":      sourceID,
		"created_at_utc": createdAtUTC,
		"window_utc":     windowOrEmpty(windowUTC),
		"manifest_id":    manifestID,
		"steps":          stepsPayload(steps),
	}
	id, err := canon.HashJSON(payload)
	if err != nil {
		return Plan{}, fmt.Errorf("bulk: computing plan_id: %w", err)
	}
	return Plan{
		PlanID:       id,
		SourceID:     sourceID,
		CreatedAtUTC: createdAtUTC,
		WindowUTC:    windowUTC,
		ManifestID:   manifestID,
		Steps:        steps,
	}, nil
}

func stepsPayload(steps []PlanStep) []map[string]any {
	out := make([]map[string]any, len(steps))
	for i, s := range steps {
		out[i] = s.canonicalPayload()
	}
	return out
}

// PlanResult is the planner's output: the finite plan plus any URLs
// dropped by the per-run request cap. URLs excluded by the window filter
// are not listed in OverflowURLs.
type PlanResult struct {
	Plan         Plan
	OverflowURLs []string
}

// BuildPlan filters manifest.URLs by window, caps the selection to
// budgets.UBV.MaxRequestsPerRun, and assigns strictly increasing
// order indices to the resulting steps.
func BuildPlan(sourceID string, windowUTC map[string]string, m manifest.Artifact, budgets tuning.PortfolioTuningIR, createdAtUTC string) (PlanResult, error) {
	selected, overflow := FilterByWindow(m.URLs, windowUTC)

	maxRequests := budgets.UBV.MaxRequestsPerRun
	if maxRequests > 0 && len(selected) > maxRequests {
		overflow = append(overflow, selected[maxRequests:]...)
		selected = selected[:maxRequests]
	}

	steps := make([]PlanStep, 0, len(selected))
	for idx, url := range selected {
		stepID, err := canon.HashJSON(map[string]any{"url": url, "idx": idx, "source_id": sourceID})
		if err != nil {
			return PlanResult{}, fmt.Errorf("bulk: computing step_id: %w", err)
		}
		steps = append(steps, PlanStep{
			StepID:                  stepID,
			Action:                  "DOWNLOAD",
			URLOrKey:                url,
			CachePolicy:             "REQUIRED",
			DeterministicOrderIndex: idx,
		})
	}

	plan, err := buildPlan(sourceID, createdAtUTC, windowUTC, m.ManifestID, steps)
	if err != nil {
		return PlanResult{}, err
	}

	return PlanResult{Plan: plan, OverflowURLs: overflow}, nil
}

var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`),
	regexp.MustCompile(`(\d{4})(\d{2})(\d{2})`),
}

// FilterByWindow splits urls into dated and undated groups and orders
// them per §4.H step 1.
//
// When a window is set, dated URLs within [start, end] sort ascending
// by URL, followed by undated URLs sorted ascending; dated URLs outside
// the window are left out and are not reported in overflow, which this
// function always returns empty. With no window, dated URLs sort descending
// (most-recent-first) and undated URLs are appended sorted ascending
// (DESIGN.md OQ3: the original drops undated URLs whenever any dated
// URL exists in this branch; that silent drop is not reproduced here).
func FilterByWindow(urls []string, windowUTC map[string]string) (selected, overflow []string) {
	windowStart := parseDate(windowUTC["start"])
	windowEnd := parseDate(windowUTC["end"])

	type dated struct {
		url  string
		when time.Time
	}
	var datedURLs []dated
	var undated []string

	for _, u := range urls {
		if d, ok := extractDate(u); ok {
			datedURLs = append(datedURLs, dated{url: u, when: d})
		} else {
			undated = append(undated, u)
		}
	}

	if !windowStart.IsZero() || !windowEnd.IsZero() {
		var filtered []string
		for _, d := range datedURLs {
			if dateInWindow(d.when, windowStart, windowEnd) {
				filtered = append(filtered, d.url)
			}
		}
		sort.Strings(filtered)
		sortedUndated := append([]string(nil), undated...)
		sort.Strings(sortedUndated)
		return append(filtered, sortedUndated...), nil
	}

	sort.SliceStable(datedURLs, func(i, j int) bool { return datedURLs[i].url > datedURLs[j].url })
	sortedUndated := append([]string(nil), undated...)
	sort.Strings(sortedUndated)

	out := make([]string, 0, len(datedURLs)+len(sortedUndated))
	for _, d := range datedURLs {
		out = append(out, d.url)
	}
	out = append(out, sortedUndated...)
	return out, nil
}

func extractDate(url string) (time.Time, bool) {
	for _, pattern := range datePatterns {
		m := pattern.FindStringSubmatch(url)
		if m == nil {
			continue
		}
		t, err := time.Parse("2006-01-02", fmt.Sprintf("%s-%s-%s", m[1], m[2], m[3]))
		if err != nil {
			continue
		}
		return t, true
	}
	return time.Time{}, false
}

func dateInWindow(date, start, end time.Time) bool {
	if !start.IsZero() && date.Before(start) {
		return false
	}
	if !end.IsZero() && date.After(end) {
		return false
	}
	return true
}

func parseDate(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t2, err2 := time.Parse("2006-01-02", value)
		if err2 != nil {
			return time.Time{}
		}
		return t2
	}
	return t
}
