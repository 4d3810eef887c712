package tick

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/abraxas/internal/bindings"
	"github.com/antigravity-dev/abraxas/internal/store"
)

var errOracleFailed = errors.New("oracle failure")

func testBindings() bindings.Bindings {
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

func readJSON(t *testing.T, path string) map[string]any {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var v map[string]any
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestRunTickWritesAllArtifacts(t *testing.T) {
	dir := t.TempDir()
	in := Input{
		Tick:         0,
		RunID:        "run1",
		Mode:         "dev",
		Context:      map[string]any{},
		ArtifactsDir: dir,
		Bindings:     testBindings(),
	}

	out, err := RunTick(in)
	require.NoError(t, err)

	for _, p := range []string{out.Artifacts.Trendpack, out.Artifacts.ResultsPack, out.Artifacts.ViewPack, out.Artifacts.RunIndex, out.Artifacts.RunHeader} {
		_, statErr := os.Stat(p)
		assert.NoErrorf(t, statErr, "expected artifact to exist at %s", p)
	}

	require.Len(t, out.Results, 4, "expected 3 oracle + 1 shadow task result")
	assert.Equal(t, "ok", string(out.Results["oracle:signal"].Status))
}

func TestRunTickResultsPackSortedByTaskName(t *testing.T) {
	dir := t.TempDir()
	in := Input{
		Tick:         0,
		RunID:        "run1",
		Mode:         "dev",
		ArtifactsDir: dir,
		Bindings:     testBindings(),
	}

	out, err := RunTick(in)
	require.NoError(t, err)

	pack := readJSON(t, out.Artifacts.ResultsPack)
	items, ok := pack["items"].([]any)
	require.True(t, ok)
	require.Len(t, items, 4)
	first := items[0].(map[string]any)
	assert.Equal(t, "oracle:compress", first["task"])
}

func TestRunTickTrendpackEventsCarryResultRef(t *testing.T) {
	dir := t.TempDir()
	in := Input{
		Tick:         0,
		RunID:        "run1",
		Mode:         "dev",
		ArtifactsDir: dir,
		Bindings:     testBindings(),
	}

	out, err := RunTick(in)
	require.NoError(t, err)

	trend := readJSON(t, out.Artifacts.Trendpack)
	assert.Equal(t, "TrendPack.v0", trend["schema"])
	timeline, ok := trend["timeline"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, timeline)
	ev := timeline[0].(map[string]any)
	meta, ok := ev["meta"].(map[string]any)
	require.True(t, ok)
	ref, ok := meta["result_ref"].(map[string]any)
	require.True(t, ok)
	wantRelPath := fmt.Sprintf("results/%s/%06d.resultspack.json", in.RunID, in.Tick)
	assert.Equal(t, wantRelPath, ref["results_pack"])
	assert.False(t, filepath.IsAbs(ref["results_pack"].(string)), "result_ref.results_pack must stay relative so TrendPack bytes don't vary across dozen-run gate directories")
}

func TestRunTickRunHeaderWriteOnce(t *testing.T) {
	dir := t.TempDir()
	in := Input{
		Tick:         0,
		RunID:        "run1",
		Mode:         "dev",
		ArtifactsDir: dir,
		Bindings:     testBindings(),
	}

	out1, err := RunTick(in)
	require.NoError(t, err)

	in.Tick = 1
	out2, err := RunTick(in)
	require.NoError(t, err)

	assert.Equal(t, out1.Artifacts.RunHeaderSHA256, out2.Artifacts.RunHeaderSHA256)
}

func TestRunTickViewPackHasRelativeTrendpackRef(t *testing.T) {
	dir := t.TempDir()
	in := Input{
		Tick:         3,
		RunID:        "run1",
		Mode:         "dev",
		ArtifactsDir: dir,
		Bindings:     testBindings(),
	}

	out, err := RunTick(in)
	require.NoError(t, err)

	view := readJSON(t, out.Artifacts.ViewPack)
	ref, ok := view["trendpack_ref"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "viz/{run_id}/{tick:06d}.trendpack.json", ref["pattern"])
	assert.Equal(t, "run1", ref["run_id"])

	events, ok := view["events"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, events)
	ev := events[0].(map[string]any)
	if meta, ok := ev["meta"].(map[string]any); ok {
		_, hasRef := meta["result_ref"]
		assert.False(t, hasRef, "expected result_ref stripped from view pack events")
	}
}

func TestRunTickSurvivesATaskError(t *testing.T) {
	dir := t.TempDir()
	b := testBindings()
	b.RunCompress = func(ctx map[string]any) (any, error) { return nil, errOracleFailed }

	in := Input{
		Tick:         0,
		RunID:        "run1",
		Mode:         "dev",
		ArtifactsDir: dir,
		Bindings:     b,
	}

	out, err := RunTick(in)
	require.NoError(t, err)
	assert.Equal(t, "error", string(out.Results["oracle:compress"].Status))
	assert.Equal(t, "ok", string(out.Results["oracle:signal"].Status))
}

func TestRunTickUsesManifestDir(t *testing.T) {
	dir := t.TempDir()
	in := Input{
		Tick:         0,
		RunID:        "run1",
		Mode:         "dev",
		ArtifactsDir: dir,
		Bindings:     testBindings(),
	}

	_, err := RunTick(in)
	require.NoError(t, err)

	manifestPath := filepath.Join(dir, "manifests", "run1.manifest.json")
	_, statErr := os.Stat(manifestPath)
	assert.NoError(t, statErr)
}

func TestRunTickIndexesArtifactsWhenIndexerSet(t *testing.T) {
	dir := t.TempDir()
	idx, err := store.Open(filepath.Join(dir, "index.db"))
	require.NoError(t, err)
	defer idx.Close()

	in := Input{
		Tick:         0,
		RunID:        "run1",
		Mode:         "dev",
		ArtifactsDir: dir,
		Bindings:     testBindings(),
		Indexer:      idx,
	}

	out, err := RunTick(in)
	require.NoError(t, err)

	rows, err := idx.TicksForRun("run1")
	require.NoError(t, err)
	require.NotEmpty(t, rows)

	var sawTrendpack bool
	for _, r := range rows {
		if r.Kind == "trendpack" {
			sawTrendpack = true
			assert.Equal(t, out.Artifacts.TrendpackSHA256, r.SHA256)
		}
	}
	assert.True(t, sawTrendpack, "expected the trendpack write to be indexed")
}
