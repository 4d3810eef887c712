package temporal

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/antigravity-dev/abraxas/internal/tick"
)

// TickWorkflow runs one tick as a single retried Temporal activity. It
// does not loop — whoever submits the workflow (for example a Temporal
// cron schedule) owns cadence. cmd/abraxas's own ticking loop calls
// tick.RunTick directly; with --temporal-worker it only serves this
// workflow.
//
// Grounded on the teacher's internal/temporal/workflow.go: one
// workflow.ExecuteActivity call under ActivityOptions carrying a
// StartToCloseTimeout and a bounded RetryPolicy.
func TickWorkflow(ctx workflow.Context, in TickActivityInput) (tick.Output, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 2,
		},
	})

	logger := workflow.GetLogger(ctx)
	logger.Info("starting tick activity", "tick", in.Tick, "run_id", in.RunID)

	var acts *Activities
	var out tick.Output
	err := workflow.ExecuteActivity(ctx, acts.RunTickActivity, in).Get(ctx, &out)
	if err != nil {
		logger.Error("tick activity failed", "tick", in.Tick, "error", err)
		return tick.Output{}, err
	}
	return out, nil
}
