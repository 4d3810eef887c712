// Package tuning implements the Abraxas Unified Tuning Protocol (§4.C):
// portfolio budget/knob state loaded from an ACTIVE-pointer file, with
// content-hash identity and atomic pointer swaps.
//
// Grounded on policy/utp.py.
package tuning

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/antigravity-dev/abraxas/internal/canon"
)

// DecodoPolicy bounds use of the decodo surgical-fetch path.
type DecodoPolicy struct {
	MaxRequests  int  `json:"max_requests"`
	ManifestOnly bool `json:"manifest_only"`
}

// UBVBudgets are the per-run acquisition budgets.
type UBVBudgets struct {
	MaxRequestsPerRun int          `json:"max_requests_per_run"`
	MaxBytesPerRun    int64        `json:"max_bytes_per_run"`
	BatchWindow       string       `json:"batch_window"`
	DecodoPolicy      DecodoPolicy `json:"decodo_policy"`
}

// PipelineKnobs configure the parallel executor (internal/exec).
type PipelineKnobs struct {
	ConcurrencyEnabled bool  `json:"concurrency_enabled"`
	MaxWorkersFetch    int   `json:"max_workers_fetch"`
	MaxWorkersParse    int   `json:"max_workers_parse"`
	MaxInflightBytes   int64 `json:"max_inflight_bytes"`
}

// PortfolioTuningIR is one portfolio's full tuning state.
type PortfolioTuningIR struct {
	PortfolioID string        `json:"portfolio_id"`
	UBV         UBVBudgets    `json:"ubv"`
	Pipeline    PipelineKnobs `json:"pipeline"`
}

// Default returns the zero-value-equivalent defaults.
func Default() PortfolioTuningIR {
	return PortfolioTuningIR{
		PortfolioID: "acquisition_default",
		UBV: UBVBudgets{
			MaxRequestsPerRun: 50,
			MaxBytesPerRun:    10_000_000,
			BatchWindow:       "daily",
			DecodoPolicy:      DecodoPolicy{MaxRequests: 1, ManifestOnly: true},
		},
		Pipeline: PipelineKnobs{
			ConcurrencyEnabled: false,
			MaxWorkersFetch:    4,
			MaxWorkersParse:    4,
			MaxInflightBytes:   50_000_000,
		},
	}
}

// Hash returns the content-identity hash of the tuning state, computed
// over every field explicitly (never struct tag order, for stability
// independent of future field additions).
func (t PortfolioTuningIR) Hash() (string, error) {
	payload := map[string]any{
		"portfolio_id": t.PortfolioID,
		"ubv": map[string]any{
			"max_requests_per_run": t.UBV.MaxRequestsPerRun,
			"max_bytes_per_run":    t.UBV.MaxBytesPerRun,
			"batch_window":         t.UBV.BatchWindow,
			"decodo_policy": map[string]any{
				"max_requests":  t.UBV.DecodoPolicy.MaxRequests,
				"manifest_only": t.UBV.DecodoPolicy.ManifestOnly,
			},
		},
		"pipeline": map[string]any{
			"concurrency_enabled": t.Pipeline.ConcurrencyEnabled,
			"max_workers_fetch":   t.Pipeline.MaxWorkersFetch,
			"max_workers_parse":   t.Pipeline.MaxWorkersParse,
			"max_inflight_bytes":  t.Pipeline.MaxInflightBytes,
		},
	}
	return canon.HashJSON(payload)
}

// LoadActive reads the ACTIVE pointer file under baseDir and loads the
// portfolio it names. A missing pointer, or a pointer naming a missing
// file, yields the built-in Default rather than an error.
func LoadActive(baseDir string) (PortfolioTuningIR, error) {
	pointerPath := filepath.Join(baseDir, "ACTIVE")
	raw, err := os.ReadFile(pointerPath)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return PortfolioTuningIR{}, fmt.Errorf("tuning: reading ACTIVE pointer: %w", err)
	}

	target := strings.TrimSpace(string(raw))
	if target == "" {
		return Default(), nil
	}

	activePath := filepath.Join(baseDir, target)
	if _, err := os.Stat(activePath); os.IsNotExist(err) {
		return Default(), nil
	}
	return LoadPortfolio(activePath)
}

// LoadPortfolio loads a PortfolioTuningIR from a specific JSON file,
// filling any absent field with its default.
func LoadPortfolio(path string) (PortfolioTuningIR, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return PortfolioTuningIR{}, fmt.Errorf("tuning: reading portfolio %s: %w", path, err)
	}
	var payload struct {
		PortfolioID string `json:"portfolio_id"`
		UBV         *struct {
			MaxRequestsPerRun *int    `json:"max_requests_per_run"`
			MaxBytesPerRun    *int64  `json:"max_bytes_per_run"`
			BatchWindow       *string `json:"batch_window"`
			DecodoPolicy      *struct {
				MaxRequests  *int  `json:"max_requests"`
				ManifestOnly *bool `json:"manifest_only"`
			} `json:"decodo_policy"`
		} `json:"ubv"`
		Pipeline *struct {
			ConcurrencyEnabled *bool  `json:"concurrency_enabled"`
			MaxWorkersFetch    *int   `json:"max_workers_fetch"`
			MaxWorkersParse    *int   `json:"max_workers_parse"`
			MaxInflightBytes   *int64 `json:"max_inflight_bytes"`
		} `json:"pipeline"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return PortfolioTuningIR{}, fmt.Errorf("tuning: parsing portfolio %s: %w", path, err)
	}

	out := Default()
	if payload.PortfolioID != "" {
		out.PortfolioID = payload.PortfolioID
	}
	if payload.UBV != nil {
		if payload.UBV.MaxRequestsPerRun != nil {
			out.UBV.MaxRequestsPerRun = *payload.UBV.MaxRequestsPerRun
		}
		if payload.UBV.MaxBytesPerRun != nil {
			out.UBV.MaxBytesPerRun = *payload.UBV.MaxBytesPerRun
		}
		if payload.UBV.BatchWindow != nil {
			out.UBV.BatchWindow = *payload.UBV.BatchWindow
		}
		if payload.UBV.DecodoPolicy != nil {
			if payload.UBV.DecodoPolicy.MaxRequests != nil {
				out.UBV.DecodoPolicy.MaxRequests = *payload.UBV.DecodoPolicy.MaxRequests
			}
			if payload.UBV.DecodoPolicy.ManifestOnly != nil {
				out.UBV.DecodoPolicy.ManifestOnly = *payload.UBV.DecodoPolicy.ManifestOnly
			}
		}
	}
	if payload.Pipeline != nil {
		if payload.Pipeline.ConcurrencyEnabled != nil {
			out.Pipeline.ConcurrencyEnabled = *payload.Pipeline.ConcurrencyEnabled
		}
		if payload.Pipeline.MaxWorkersFetch != nil {
			out.Pipeline.MaxWorkersFetch = *payload.Pipeline.MaxWorkersFetch
		}
		if payload.Pipeline.MaxWorkersParse != nil {
			out.Pipeline.MaxWorkersParse = *payload.Pipeline.MaxWorkersParse
		}
		if payload.Pipeline.MaxInflightBytes != nil {
			out.Pipeline.MaxInflightBytes = *payload.Pipeline.MaxInflightBytes
		}
	}
	return out, nil
}

// FindByHash scans every *.json file directly under baseDir (sorted by
// name for determinism) and returns the path of the first portfolio
// whose Hash matches. Files that fail to parse are skipped.
func FindByHash(baseDir, portfolioHash string) (string, bool, error) {
	entries, err := os.ReadDir(baseDir)
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("tuning: reading %s: %w", baseDir, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(baseDir, name)
		portfolio, err := LoadPortfolio(path)
		if err != nil {
			continue
		}
		h, err := portfolio.Hash()
		if err != nil {
			continue
		}
		if h == portfolioHash {
			return path, true, nil
		}
	}
	return "", false, nil
}

// SetActive atomically repoints the ACTIVE pointer to relTarget (a path
// relative to baseDir) via write-to-temp-then-rename, so readers never
// observe a partially written pointer.
func SetActive(baseDir, relTarget string) error {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return fmt.Errorf("tuning: creating %s: %w", baseDir, err)
	}
	pointerPath := filepath.Join(baseDir, "ACTIVE")
	tmpPath := pointerPath + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(relTarget), 0o644); err != nil {
		return fmt.Errorf("tuning: writing ACTIVE pointer: %w", err)
	}
	if err := os.Rename(tmpPath, pointerPath); err != nil {
		return fmt.Errorf("tuning: swapping ACTIVE pointer: %w", err)
	}
	return nil
}
