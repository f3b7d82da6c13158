package vm

import (
	"context"
	"errors"
	"testing"

	"github.com/jbweber/gridvm/internal/oar"
	"github.com/jbweber/gridvm/internal/status"
)

func TestState(t *testing.T) {
	tests := []struct {
		name        string
		machine     Machine
		job         oar.Job
		want        status.MachineState
		wantPolls   int
		wantAddress string
	}{
		{
			name:    "no job",
			machine: Machine{Name: "vm0"},
			want:    status.NotCreated,
		},
		{
			name:      "forgotten job",
			machine:   Machine{Name: "vm0", ID: "42"},
			job:       oar.Job{ID: "42", State: oar.Unknown},
			want:      status.NotCreated,
			wantPolls: 1,
		},
		{
			name:      "waiting",
			machine:   Machine{Name: "vm0", ID: "42"},
			job:       oar.Job{ID: "42", State: oar.Waiting},
			want:      status.Waiting,
			wantPolls: 1,
		},
		{
			name:        "running fills the address",
			machine:     Machine{Name: "vm0", ID: "42"},
			job:         oar.Job{ID: "42", State: oar.Running, Addresses: []string{"10.0.0.5"}},
			want:        status.Running,
			wantPolls:   1,
			wantAddress: "10.0.0.5",
		},
		{
			name:        "running keeps the subnet address",
			machine:     Machine{Name: "vm0", ID: "42", Address: "10.158.0.2"},
			job:         oar.Job{ID: "42", State: oar.Running, Addresses: []string{"10.0.0.5"}},
			want:        status.Running,
			wantPolls:   1,
			wantAddress: "10.158.0.2",
		},
		{
			name:      "terminated",
			machine:   Machine{Name: "vm0", ID: "42"},
			job:       oar.Job{ID: "42", State: oar.Terminated},
			want:      status.Terminated,
			wantPolls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.jobs.pollFunc = func(string) (oar.Job, error) { return tt.job, nil }
			m := tt.machine

			got, err := h.orch.State(context.Background(), h.env(testProviderConfig(), &m))
			if err != nil {
				t.Fatalf("State failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("State = %s, want %s", got, tt.want)
			}
			if len(h.jobs.pollCalls) != tt.wantPolls {
				t.Errorf("polls = %d, want %d", len(h.jobs.pollCalls), tt.wantPolls)
			}
			if m.Address != tt.wantAddress {
				t.Errorf("Address = %q, want %q", m.Address, tt.wantAddress)
			}
		})
	}
}

func TestState_Cancelled(t *testing.T) {
	h := newHarness(t)
	h.jobs.pollFunc = func(string) (oar.Job, error) { return oar.Job{}, context.Canceled }

	_, err := h.orch.State(context.Background(), h.env(testProviderConfig(), &Machine{Name: "vm0", ID: "42"}))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
