package temporal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunTickActivityProducesArtifacts(t *testing.T) {
	dir := t.TempDir()
	acts := &Activities{}

	out, err := acts.RunTickActivity(context.Background(), TickActivityInput{
		Tick:         0,
		RunID:        "temporal-test",
		Mode:         "sandbox",
		ArtifactsDir: dir,
		RepoRoot:     dir,
		Context:      map[string]any{"x": 1},
	})

	require.NoError(t, err)
	assert.Equal(t, "temporal-test", out.RunID)
	assert.NotEmpty(t, out.Artifacts.TrendpackSHA256)
}

func TestDefaultPipelineRunsEachStage(t *testing.T) {
	p := defaultPipeline()

	signal, err := p.RunSignal(map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"signal": 1}, signal)

	compress, err := p.RunCompress(map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"compress": 1}, compress)

	overlay, err := p.RunOverlay(map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"overlay": 1}, overlay)

	require.Contains(t, p.ShadowTasks, "sei")
}
