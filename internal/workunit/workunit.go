// Package workunit implements the Abraxas work-unit model (§4.D):
// deterministic unit identity derived from stage/source/window/key, and
// the ordering key that strictly totally orders units within a stage.
//
// Grounded on runtime/work_units.py's WorkUnit.build().
package workunit

import (
	"fmt"
	"sort"

	"github.com/antigravity-dev/abraxas/internal/canon"
)

// Stage names a work-unit processing phase.
type Stage string

const (
	StageFetch Stage = "FETCH"
	StageParse Stage = "PARSE"
)

// OrderingKey is the default ordering key shape from spec.md §3:
// (source_id, window_start_utc, cache_key, url). CacheKey is left empty
// when a caller has no natural cache key (OQ4): the tuple still sorts
// deterministically.
type OrderingKey struct {
	SourceID       string `json:"source_id"`
	WindowStartUTC string `json:"window_start_utc"`
	CacheKey       string `json:"cache_key"`
	URL            string `json:"url"`
}

// Less implements the strict total order over OrderingKey tuples.
func (k OrderingKey) Less(other OrderingKey) bool {
	if k.SourceID != other.SourceID {
		return k.SourceID < other.SourceID
	}
	if k.WindowStartUTC != other.WindowStartUTC {
		return k.WindowStartUTC < other.WindowStartUTC
	}
	if k.CacheKey != other.CacheKey {
		return k.CacheKey < other.CacheKey
	}
	return k.URL < other.URL
}

// String renders the key as a stable string for use as a map key / log field.
func (k OrderingKey) String() string {
	return fmt.Sprintf("%s|%s|%s|%s", k.SourceID, k.WindowStartUTC, k.CacheKey, k.URL)
}

// Unit is one deterministically-identified work item.
type Unit struct {
	UnitID     string      `json:"unit_id"`
	Stage      Stage       `json:"stage"`
	SourceID   string      `json:"source_id"`
	WindowUTC  string      `json:"window_utc"`
	Key        OrderingKey `json:"key"`
	InputRefs  []string    `json:"input_refs"`
	InputBytes int         `json:"input_bytes"`
}

// Build constructs a Unit, computing unit_id as the SHA-256 of the
// canonical JSON of (stage, source_id, window_utc, key, input_refs).
// input_bytes is deliberately excluded from identity (§3 Work Unit).
func Build(stage Stage, sourceID, windowUTC string, key OrderingKey, inputRefs []string, inputBytes int) (Unit, error) {
	identity := map[string]any{
		"stage":      string(stage),
		"source_id":  sourceID,
		"window_utc": windowUTC,
		"key": map[string]any{
			"source_id":        key.SourceID,
			"window_start_utc": key.WindowStartUTC,
			"cache_key":        key.CacheKey,
			"url":              key.URL,
		},
		"input_refs": refsOrEmpty(inputRefs),
	}

	unitID, err := canon.HashJSON(identity)
	if err != nil {
		return Unit{}, fmt.Errorf("workunit: computing unit_id: %w", err)
	}

	return Unit{
		UnitID:     unitID,
		Stage:      stage,
		SourceID:   sourceID,
		WindowUTC:  windowUTC,
		Key:        key,
		InputRefs:  inputRefs,
		InputBytes: inputBytes,
	}, nil
}

func refsOrEmpty(refs []string) []string {
	if refs == nil {
		return []string{}
	}
	return refs
}

// SortUnits returns a new slice sorted by Key, ascending (the sole basis
// for commit ordering downstream — see internal/exec).
func SortUnits(units []Unit) []Unit {
	out := make([]Unit, len(units))
	copy(out, units)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out
}
