package temporal

import (
	"context"

	"github.com/antigravity-dev/abraxas/internal/bindings"
	"github.com/antigravity-dev/abraxas/internal/tick"
)

// Activities holds the dependencies a tick activity needs. It carries
// none today — defaultPipeline builds a fresh bindings.Bindings per
// call — but the struct receiver keeps the door open for wiring a
// shared store/client without changing the registered activity's
// method signature.
type Activities struct{}

// RunTickActivity runs exactly one tick and returns its full output.
// Registered on a worker via w.RegisterActivity(new(Activities)) or
// w.RegisterActivity(acts.RunTickActivity); invoked from TickWorkflow.
func (a *Activities) RunTickActivity(ctx context.Context, in TickActivityInput) (tick.Output, error) {
	return tick.RunTick(tick.Input{
		Tick:         in.Tick,
		RunID:        in.RunID,
		Mode:         in.Mode,
		Context:      in.Context,
		ArtifactsDir: in.ArtifactsDir,
		Bindings:     defaultPipeline(),
		PolicyDir:    in.PolicyDir,
		PolicyNames:  in.PolicyNames,
		RepoRoot:     in.RepoRoot,
	})
}

// defaultPipeline is the same minimal signal/compress/overlay wiring
// used by cmd/abraxas-gate and internal/seal — a Temporal-hosted tick
// exercises the same pipeline a direct tick.RunTick call would.
func defaultPipeline() bindings.Bindings {
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
