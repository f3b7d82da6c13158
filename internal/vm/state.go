package vm

import (
	"context"
	"fmt"

	"github.com/jbweber/gridvm/internal/status"
)

// State returns the machine state of env by polling its job. A machine
// without a job, or whose job the scheduler no longer knows, is NotCreated.
func (o *Orchestrator) State(ctx context.Context, env *Env) (status.MachineState, error) {
	m := env.Machine
	if m.ID == "" {
		return status.NotCreated, nil
	}

	job, err := o.jobs.Poll(ctx, m.ID)
	if err != nil {
		return "", fmt.Errorf("failed to poll VM job %s: %w", m.ID, err)
	}

	s := status.FromJobState(job.State)
	if s == status.Running && m.Address == "" {
		m.Address = job.PrimaryAddress()
	}
	return s, nil
}
