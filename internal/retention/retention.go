// Package retention implements the Abraxas artifact pruner (§4.O):
// keep-last-N-tick pruning, an optional byte budget, protected roots
// that are never touched, and deterministic manifest compaction.
//
// Grounded on runtime/retention.py.
package retention

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/antigravity-dev/abraxas/internal/artifacts"
)

// artifactRoots are the known roots a tick orchestrator writes under.
var artifactRoots = []string{"viz", "results", "run_index", "view"}

// Policy is RetentionPolicy.v0.
type Policy struct {
	Schema          string   `json:"schema"`
	Enabled         bool     `json:"enabled"`
	KeepLastTicks   int      `json:"keep_last_ticks"`
	MaxBytesPerRun  *int64   `json:"max_bytes_per_run"`
	ProtectedRoots  []string `json:"protected_roots"`
	CompactManifest bool     `json:"compact_manifest"`
}

// DefaultPolicy mirrors the original's opt-in-required defaults.
func DefaultPolicy() Policy {
	return Policy{
		Schema:          "RetentionPolicy.v0",
		Enabled:         false,
		KeepLastTicks:   200,
		MaxBytesPerRun:  nil,
		ProtectedRoots:  []string{"manifests", "policy"},
		CompactManifest: true,
	}
}

// PruneReport describes what one prune_run call kept and deleted.
type PruneReport struct {
	RunID        string   `json:"run_id"`
	KeptTicks    []int    `json:"kept_ticks"`
	DeletedFiles []string `json:"deleted_files"`
	DeletedBytes int64    `json:"deleted_bytes"`
	Policy       Policy   `json:"policy"`
}

// Pruner prunes an artifacts directory according to a RetentionPolicy.v0
// stored under artifactsDir/policy/retention.json.
type Pruner struct {
	root       string
	policyPath string
}

// New constructs a Pruner rooted at artifactsDir.
func New(artifactsDir string) *Pruner {
	return &Pruner{root: artifactsDir, policyPath: filepath.Join(artifactsDir, "policy", "retention.json")}
}

// EnsurePolicy creates the default policy file if absent, then loads it.
func (pr *Pruner) EnsurePolicy() (Policy, error) {
	if _, err := os.Stat(pr.policyPath); os.IsNotExist(err) {
		if err := pr.SavePolicy(DefaultPolicy()); err != nil {
			return Policy{}, err
		}
	}
	return pr.LoadPolicy()
}

// LoadPolicy reads the retention policy, failing if its schema tag is wrong.
func (pr *Pruner) LoadPolicy() (Policy, error) {
	raw, err := os.ReadFile(pr.policyPath)
	if os.IsNotExist(err) {
		return pr.EnsurePolicy()
	}
	if err != nil {
		return Policy{}, fmt.Errorf("retention: reading policy: %w", err)
	}
	var pol Policy
	if err := json.Unmarshal(raw, &pol); err != nil {
		return Policy{}, fmt.Errorf("retention: parsing policy: %w", err)
	}
	if pol.Schema != "RetentionPolicy.v0" {
		return Policy{}, fmt.Errorf("retention: expected RetentionPolicy.v0, got %q", pol.Schema)
	}
	return pol, nil
}

// SavePolicy writes the policy deterministically, rejecting a mistagged schema.
func (pr *Pruner) SavePolicy(pol Policy) error {
	if pol.Schema != "RetentionPolicy.v0" {
		return fmt.Errorf("retention: policy must have schema RetentionPolicy.v0")
	}
	if err := os.MkdirAll(filepath.Dir(pr.policyPath), 0o755); err != nil {
		return fmt.Errorf("retention: creating policy directory: %w", err)
	}
	b, err := json.Marshal(pol)
	if err != nil {
		return fmt.Errorf("retention: encoding policy: %w", err)
	}
	return os.WriteFile(pr.policyPath, b, 0o644)
}

// DiscoverRunIDs returns every run_id with artifacts under any known root,
// sorted for determinism.
func (pr *Pruner) DiscoverRunIDs() ([]string, error) {
	seen := map[string]bool{}
	for _, root := range artifactRoots {
		entries, err := os.ReadDir(filepath.Join(pr.root, root))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("retention: discovering run ids under %s: %w", root, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				seen[e.Name()] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

type tickFile struct {
	tick int
	path string
	size int64
}

// PruneRun prunes a single run_id's artifacts per pol (the Pruner's own
// loaded policy if pol is nil).
func (pr *Pruner) PruneRun(runID string, pol *Policy) (PruneReport, error) {
	var policy Policy
	if pol != nil {
		policy = *pol
	} else {
		loaded, err := pr.LoadPolicy()
		if err != nil {
			return PruneReport{}, err
		}
		policy = loaded
	}

	if !policy.Enabled {
		return PruneReport{RunID: runID, KeptTicks: []int{}, DeletedFiles: []string{}, Policy: policy}, nil
	}

	keepLast := policy.KeepLastTicks
	protected := map[string]bool{}
	for _, r := range policy.ProtectedRoots {
		protected[r] = true
	}

	files, err := pr.scanRunFiles(runID)
	if err != nil {
		return PruneReport{}, err
	}
	if len(files) == 0 {
		return PruneReport{RunID: runID, KeptTicks: []int{}, DeletedFiles: []string{}, Policy: policy}, nil
	}

	tickSet := map[int]bool{}
	for _, f := range files {
		tickSet[f.tick] = true
	}
	ticks := make([]int, 0, len(tickSet))
	for t := range tickSet {
		ticks = append(ticks, t)
	}
	sort.Ints(ticks)

	keepSet := map[int]bool{}
	if keepLast > 0 {
		start := len(ticks) - keepLast
		if start < 0 {
			start = 0
		}
		for _, t := range ticks[start:] {
			keepSet[t] = true
		}
	}

	toDelete := map[string]tickFile{}
	for _, f := range files {
		if !keepSet[f.tick] {
			toDelete[f.path] = f
		}
	}

	if policy.MaxBytesPerRun != nil {
		var kept []tickFile
		for _, f := range files {
			if keepSet[f.tick] {
				kept = append(kept, f)
			}
		}
		sort.SliceStable(kept, func(i, j int) bool {
			if kept[i].tick != kept[j].tick {
				return kept[i].tick < kept[j].tick
			}
			return kept[i].path < kept[j].path
		})

		var total int64
		for _, f := range kept {
			total += f.size
		}

		budget := *policy.MaxBytesPerRun
		for _, f := range kept {
			if total <= budget {
				break
			}
			if isUnderProtectedRoot(f.path, protected) {
				continue
			}
			toDelete[f.path] = f
			total -= f.size
		}
	}

	deletePaths := make([]string, 0, len(toDelete))
	for p := range toDelete {
		deletePaths = append(deletePaths, p)
	}
	sort.Strings(deletePaths)

	var deletedFiles []string
	var deletedBytes int64
	for _, p := range deletePaths {
		if isUnderProtectedRoot(p, protected) {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if info.IsDir() {
			continue
		}
		deletedBytes += info.Size()
		deletedFiles = append(deletedFiles, p)
		if err := os.Remove(p); err != nil {
			return PruneReport{}, fmt.Errorf("retention: deleting %s: %w", p, err)
		}
	}

	if policy.CompactManifest {
		if err := pr.compactManifest(runID); err != nil {
			return PruneReport{}, err
		}
	}

	remaining, err := pr.scanRunFiles(runID)
	if err != nil {
		return PruneReport{}, err
	}
	remainingTicks := map[int]bool{}
	for _, f := range remaining {
		remainingTicks[f.tick] = true
	}
	keptTicks := make([]int, 0, len(remainingTicks))
	for t := range remainingTicks {
		keptTicks = append(keptTicks, t)
	}
	sort.Ints(keptTicks)

	return PruneReport{
		RunID:        runID,
		KeptTicks:    keptTicks,
		DeletedFiles: orEmpty(deletedFiles),
		DeletedBytes: deletedBytes,
		Policy:       policy,
	}, nil
}

// PruneAll prunes every discovered run_id.
func (pr *Pruner) PruneAll(pol *Policy) ([]PruneReport, error) {
	var policy Policy
	if pol != nil {
		policy = *pol
	} else {
		loaded, err := pr.LoadPolicy()
		if err != nil {
			return nil, err
		}
		policy = loaded
	}

	runIDs, err := pr.DiscoverRunIDs()
	if err != nil {
		return nil, err
	}
	reports := make([]PruneReport, 0, len(runIDs))
	for _, id := range runIDs {
		rep, err := pr.PruneRun(id, &policy)
		if err != nil {
			return nil, err
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

func (pr *Pruner) scanRunFiles(runID string) ([]tickFile, error) {
	var out []tickFile
	for _, root := range artifactRoots {
		base := filepath.Join(pr.root, root, runID)
		entries, err := os.ReadDir(base)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("retention: scanning %s: %w", base, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			tick, ok := parseTickFromName(e.Name())
			if !ok {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			out = append(out, tickFile{tick: tick, path: filepath.Join(base, e.Name()), size: info.Size()})
		}
	}
	return out, nil
}

func (pr *Pruner) compactManifest(runID string) error {
	path := filepath.Join(pr.root, "manifests", runID+".manifest.json")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	m, err := artifacts.ReadManifest(pr.root, runID)
	if err != nil {
		return err
	}
	kept := m.Records[:0]
	for _, r := range m.Records {
		if _, err := os.Stat(r.Path); err == nil {
			kept = append(kept, r)
		}
	}
	m.Records = kept

	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("retention: encoding compacted manifest: %w", err)
	}
	return os.WriteFile(path, b, 0o644)
}

// RunStats summarizes a run's current artifact footprint.
type RunStats struct {
	RunID      string `json:"run_id"`
	TickCount  int    `json:"tick_count"`
	FileCount  int    `json:"file_count"`
	TotalBytes int64  `json:"total_bytes"`
	OldestTick *int   `json:"oldest_tick"`
	NewestTick *int   `json:"newest_tick"`
}

// GetRunStats reports the current tick/file/byte footprint for a run.
func (pr *Pruner) GetRunStats(runID string) (RunStats, error) {
	files, err := pr.scanRunFiles(runID)
	if err != nil {
		return RunStats{}, err
	}

	tickSet := map[int]bool{}
	var total int64
	for _, f := range files {
		tickSet[f.tick] = true
		total += f.size
	}
	ticks := make([]int, 0, len(tickSet))
	for t := range tickSet {
		ticks = append(ticks, t)
	}
	sort.Ints(ticks)

	stats := RunStats{RunID: runID, TickCount: len(ticks), FileCount: len(files), TotalBytes: total}
	if len(ticks) > 0 {
		oldest, newest := ticks[0], ticks[len(ticks)-1]
		stats.OldestTick = &oldest
		stats.NewestTick = &newest
	}
	return stats, nil
}

func parseTickFromName(name string) (int, bool) {
	idx := strings.Index(name, ".")
	if idx < 0 {
		return 0, false
	}
	head := name[:idx]
	n, err := strconv.Atoi(head)
	if err != nil {
		return 0, false
	}
	return n, true
}

func isUnderProtectedRoot(path string, protected map[string]bool) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if protected[part] {
			return true
		}
	}
	return false
}

func orEmpty(files []string) []string {
	if files == nil {
		return []string{}
	}
	return files
}
