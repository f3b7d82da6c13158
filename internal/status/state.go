// Package status maps scheduler job states onto the lifecycle of a machine.
package status

import (
	"time"

	"github.com/jbweber/gridvm/internal/oar"
)

// MachineState is the lifecycle state of a machine as seen by the host.
type MachineState string

const (
	// NotCreated means the machine has no job, or the scheduler forgot it.
	NotCreated MachineState = "NotCreated"
	Waiting    MachineState = "Waiting"
	Running    MachineState = "Running"
	Error      MachineState = "Error"
	Terminated MachineState = "Terminated"
)

// FromJobState maps a normalized job state onto a machine state.
func FromJobState(s oar.State) MachineState {
	switch s {
	case oar.Waiting:
		return Waiting
	case oar.Running:
		return Running
	case oar.Error:
		return Error
	case oar.Terminated:
		return Terminated
	default:
		return NotCreated
	}
}

// IsCreated reports whether the machine exists: its job is queued or running.
func IsCreated(s MachineState) bool {
	return s == Waiting || s == Running
}

// IsRunning returns true if the machine is up.
func IsRunning(s MachineState) bool {
	return s == Running
}

// IsTerminal returns true if the machine stopped and won't come back on its own.
func IsTerminal(s MachineState) bool {
	return s == Error || s == Terminated
}

// Report is the observable state of one machine.
type Report struct {
	Name    string       `json:"name" yaml:"name"`
	Ordinal int          `json:"ordinal" yaml:"ordinal"`
	JobID   string       `json:"jobId,omitempty" yaml:"jobId,omitempty"`
	State   MachineState `json:"state" yaml:"state"`
	Address string       `json:"address,omitempty" yaml:"address,omitempty"`
	Site    string       `json:"site,omitempty" yaml:"site,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitzero" yaml:"createdAt,omitempty"`
}
