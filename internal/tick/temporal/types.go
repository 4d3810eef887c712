// Package temporal wraps the tick orchestrator (internal/tick) as an
// optional Temporal workflow/activity pair: one tick is one TickWorkflow
// invocation backed by one RunTickActivity call. The plain tick.RunTick
// path is what the invariance gate and seal CLI call directly — a
// workflow-replay engine must not be the thing certifying Abraxas-level
// determinism, so this package is an operator convenience, never on the
// critical path for correctness.
//
// Grounded on the teacher's internal/temporal package (worker/workflow
// registration pattern, ActivityOptions + RetryPolicy shape).
package temporal

// TickActivityInput is the plain, JSON-serializable payload a workflow
// passes to RunTickActivity. Pipeline bindings are function values and
// cannot cross the activity boundary, so the activity builds its own
// default pipeline rather than receiving one.
type TickActivityInput struct {
	Tick         int
	RunID        string
	Mode         string
	ArtifactsDir string
	PolicyDir    string
	PolicyNames  []string
	RepoRoot     string
	Context      map[string]any
}
