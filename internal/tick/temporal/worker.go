package temporal

import (
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// DefaultTaskQueue is the queue name cmd/abraxas registers its worker
// on and the one a workflow-submitting caller must target.
const DefaultTaskQueue = "abraxas-tick"

// RunWorker dials a local Temporal server, registers TickWorkflow and
// RunTickActivity on taskQueue, and blocks serving work until the
// process receives an interrupt.
//
// Grounded on the teacher's internal/temporal/worker.go: client.Dial
// against a fixed host:port, worker.New, Register*, w.Run(InterruptCh()).
func RunWorker(hostPort, taskQueue string) error {
	if hostPort == "" {
		hostPort = "127.0.0.1:7233"
	}
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}

	c, err := client.Dial(client.Options{HostPort: hostPort})
	if err != nil {
		return fmt.Errorf("temporal: dial %s: %w", hostPort, err)
	}
	defer c.Close()

	w := worker.New(c, taskQueue, worker.Options{})
	acts := &Activities{}
	w.RegisterWorkflow(TickWorkflow)
	w.RegisterActivity(acts.RunTickActivity)

	return w.Run(worker.InterruptCh())
}
