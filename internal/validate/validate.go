package validate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ValidateObject walks obj against schema, returning every violation found.
func ValidateObject(obj any, schema *Schema, path string) []string {
	var errs []string

	m, ok := obj.(map[string]any)
	if !ok {
		return []string{fmt.Sprintf("%s: expected object, got %T", path, obj)}
	}

	for _, field := range schema.Required {
		if _, present := m[field]; !present {
			errs = append(errs, fmt.Sprintf("%s.%s: required field missing", path, field))
		}
	}

	for name, propSchema := range schema.Properties {
		value, present := m[name]
		if !present {
			continue
		}
		propPath := name
		if path != "" {
			propPath = path + "." + name
		}

		if len(propSchema.Type) > 0 && !matchesType(value, propSchema.Type) {
			errs = append(errs, fmt.Sprintf("%s: type mismatch, expected %v", propPath, propSchema.Type))
			continue
		}

		if propSchema.Const != nil && value != propSchema.Const {
			errs = append(errs, fmt.Sprintf("%s: const mismatch, expected %v, got %v", propPath, propSchema.Const, value))
		}

		if propSchema.Pattern != nil {
			if s, ok := value.(string); ok && !propSchema.Pattern.MatchString(s) {
				errs = append(errs, fmt.Sprintf("%s: pattern mismatch, expected %s", propPath, propSchema.Pattern.String()))
			}
		}

		if hasType(propSchema.Type, "object") {
			if nested, ok := value.(map[string]any); ok {
				errs = append(errs, ValidateObject(nested, propSchema, propPath)...)
			}
		}

		if hasType(propSchema.Type, "array") && propSchema.Items != nil {
			if items, ok := value.([]any); ok {
				for i, item := range items {
					itemPath := fmt.Sprintf("%s[%d]", propPath, i)
					if hasType(propSchema.Items.Type, "object") {
						errs = append(errs, ValidateObject(item, propSchema.Items, itemPath)...)
					}
				}
			}
		}
	}

	return errs
}

func matchesType(value any, types Type) bool {
	for _, t := range types {
		if matchesOneType(value, t) {
			return true
		}
	}
	return false
}

func hasType(types Type, name string) bool {
	for _, t := range types {
		if t == name {
			return true
		}
	}
	return false
}

func matchesOneType(value any, t string) bool {
	switch t {
	case "string":
		_, ok := value.(string)
		return ok
	case "integer":
		switch n := value.(type) {
		case json.Number:
			_, err := n.Int64()
			return err == nil
		case float64:
			return n == float64(int64(n))
		}
		return false
	case "number":
		switch value.(type) {
		case json.Number, float64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "null":
		return value == nil
	default:
		return true
	}
}

// ValidateArtifact loads the JSON file at path and validates it against schema.
func ValidateArtifact(path string, schema *Schema) (bool, []string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false, []string{fmt.Sprintf("file not found: %s", path)}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj any
	if err := dec.Decode(&obj); err != nil {
		return false, []string{fmt.Sprintf("JSON parse error: %v", err)}
	}

	errs := ValidateObject(obj, schema, "")
	return len(errs) == 0, errs
}

// Failure records one artifact's validation failures.
type Failure struct {
	ArtifactKind string   `json:"artifact_kind"`
	Path         string   `json:"path"`
	Errors       []string `json:"errors"`
	Tick         int      `json:"tick,omitempty"`
}

// TickResult is the outcome of validating one tick's artifacts.
type TickResult struct {
	OK       bool      `json:"ok"`
	Tick     int       `json:"tick"`
	Failures []Failure `json:"failures"`
}

// ValidateTick validates RunIndex, TrendPack, ResultsPack, RunHeader and
// ViewPack for one tick, cross-checking TrendPack event result refs
// against the ResultsPack path (§4.P).
func ValidateTick(artifactsDir, runID string, tick int) (TickResult, error) {
	var failures []Failure

	runIndexPath := filepath.Join(artifactsDir, "run_index", runID, fmt.Sprintf("%06d.runindex.json", tick))
	ok, errs := ValidateArtifact(runIndexPath, RunIndexV0)
	if !ok {
		failures = append(failures, Failure{ArtifactKind: "RunIndex.v0", Path: runIndexPath, Errors: errs})
		return TickResult{OK: false, Tick: tick, Failures: failures}, nil
	}

	raw, err := os.ReadFile(runIndexPath)
	if err != nil {
		return TickResult{}, fmt.Errorf("validate: reading run index: %w", err)
	}
	var runIndex struct {
		Refs map[string]string `json:"refs"`
	}
	if err := json.Unmarshal(raw, &runIndex); err != nil {
		return TickResult{}, fmt.Errorf("validate: parsing run index: %w", err)
	}

	trendpackPath := runIndex.Refs["trendpack"]
	if trendpackPath != "" {
		if ok, errs := ValidateArtifact(trendpackPath, TrendPackV0); !ok {
			failures = append(failures, Failure{ArtifactKind: "TrendPack.v0", Path: trendpackPath, Errors: errs})
		}
	}

	resultsPackPath := runIndex.Refs["results_pack"]
	if resultsPackPath != "" {
		if ok, errs := ValidateArtifact(resultsPackPath, ResultsPackV0); !ok {
			failures = append(failures, Failure{ArtifactKind: "ResultsPack.v0", Path: resultsPackPath, Errors: errs})
		}
	}

	runHeaderPath := runIndex.Refs["run_header"]
	if runHeaderPath != "" {
		if ok, errs := ValidateArtifact(runHeaderPath, RunHeaderV0); !ok {
			failures = append(failures, Failure{ArtifactKind: "RunHeader.v0", Path: runHeaderPath, Errors: errs})
		}
	}

	viewPackPath := filepath.Join(artifactsDir, "view", runID, fmt.Sprintf("%06d.viewpack.json", tick))
	if _, err := os.Stat(viewPackPath); err == nil {
		if ok, errs := ValidateArtifact(viewPackPath, ViewPackV0); !ok {
			failures = append(failures, Failure{ArtifactKind: "ViewPack.v0", Path: viewPackPath, Errors: errs})
		}
	}

	if trendpackPath != "" && resultsPackPath != "" {
		if crossErrs := crossCheckResultRefs(trendpackPath, resultsPackPath); len(crossErrs) > 0 {
			failures = append(failures, Failure{ArtifactKind: "TrendPack.v0", Path: trendpackPath, Errors: crossErrs})
		}
	}

	return TickResult{OK: len(failures) == 0, Tick: tick, Failures: failures}, nil
}

func crossCheckResultRefs(trendpackPath, resultsPackPath string) []string {
	raw, err := os.ReadFile(trendpackPath)
	if err != nil {
		return nil
	}
	var tp struct {
		Timeline []struct {
			Meta struct {
				ResultRef struct {
					ResultsPack string `json:"results_pack"`
				} `json:"result_ref"`
			} `json:"meta"`
		} `json:"timeline"`
	}
	if err := json.Unmarshal(raw, &tp); err != nil {
		return nil
	}

	expectedName := filepath.Base(resultsPackPath)
	var errs []string
	for i, event := range tp.Timeline {
		rpPath := event.Meta.ResultRef.ResultsPack
		if rpPath == "" {
			continue
		}
		if filepath.Base(rpPath) != expectedName {
			errs = append(errs, fmt.Sprintf("timeline[%d].meta.result_ref.results_pack filename mismatch: %s != %s", i, filepath.Base(rpPath), expectedName))
		}
	}
	return errs
}

// RunResult aggregates TickResults across some or all of a run's ticks.
type RunResult struct {
	OK             bool      `json:"ok"`
	ValidatedTicks []int     `json:"validated_ticks"`
	Failures       []Failure `json:"failures"`
}

// ValidateRun validates a single tick if tick is non-nil, else every
// tick discoverable from run_index/<run_id>/*.runindex.json.
func ValidateRun(artifactsDir, runID string, tick *int) (RunResult, error) {
	var ticks []int
	if tick != nil {
		ticks = []int{*tick}
	} else {
		discovered, err := discoverTicks(artifactsDir, runID)
		if err != nil {
			return RunResult{}, err
		}
		ticks = discovered
	}

	var allFailures []Failure
	validated := make([]int, 0, len(ticks))
	for _, t := range ticks {
		result, err := ValidateTick(artifactsDir, runID, t)
		if err != nil {
			return RunResult{}, err
		}
		validated = append(validated, t)
		for _, f := range result.Failures {
			f.Tick = t
			allFailures = append(allFailures, f)
		}
	}

	return RunResult{OK: len(allFailures) == 0, ValidatedTicks: validated, Failures: allFailures}, nil
}

func discoverTicks(artifactsDir, runID string) ([]int, error) {
	dir := filepath.Join(artifactsDir, "run_index", runID)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("validate: discovering ticks: %w", err)
	}

	var ticks []int
	for _, e := range entries {
		var tick int
		if _, err := fmt.Sscanf(e.Name(), "%06d.runindex.json", &tick); err == nil {
			ticks = append(ticks, tick)
		}
	}
	sort.Ints(ticks)
	return ticks, nil
}
