package vm

import (
	"context"

	"github.com/jbweber/gridvm/internal/config"
	"github.com/jbweber/gridvm/internal/disk"
	"github.com/jbweber/gridvm/internal/oar"
	"github.com/jbweber/gridvm/internal/retry"
	"github.com/jbweber/gridvm/internal/subnet"
)

// jobClient defines the scheduler operations needed for VM management.
//
// In production, this is satisfied by *oar.Client.
type jobClient interface {
	Submit(ctx context.Context, spec oar.JobSpec) (string, error)
	Poll(ctx context.Context, id string) (oar.Job, error)
	WaitRunning(ctx context.Context, id string, p retry.Policy) (oar.Job, error)
	Delete(ctx context.Context, id string) error
}

// diskProvisioner defines the boot disk operations needed for VM management.
//
// In production, this is satisfied by *disk.Provisioner.
type diskProvisioner interface {
	ResolveBootDisk(ctx context.Context, spec disk.ImageSpec, machine string) (disk.BootDisk, error)
	RemoveBootDisk(ctx context.Context, spec disk.ImageSpec, machine string) error
}

// subnetManager defines the network operations needed for VM management.
//
// In production, this is satisfied by *subnet.Manager.
type subnetManager interface {
	Acquire(ctx context.Context, cfg config.NetworkConfig, ordinal int) (subnet.Lease, error)
	Join(ctx context.Context, cfg config.NetworkConfig) error
	Release(ctx context.Context, cfg config.NetworkConfig) error
}
