package vm

import (
	"go.uber.org/zap"

	"github.com/jbweber/gridvm/internal/cloudinit"
	"github.com/jbweber/gridvm/internal/config"
	"github.com/jbweber/gridvm/internal/disk"
	"github.com/jbweber/gridvm/internal/lock"
	"github.com/jbweber/gridvm/internal/naming"
	"github.com/jbweber/gridvm/internal/oar"
	"github.com/jbweber/gridvm/internal/remote"
	"github.com/jbweber/gridvm/internal/retry"
	"github.com/jbweber/gridvm/internal/subnet"
)

const (
	// checkpoint is how long before the walltime OAR signals the launcher.
	checkpoint = 60

	// shutdownSignal is SIGUSR2, trapped by the launchers.
	shutdownSignal = 12

	// jobType lets users ssh into the node running the VM.
	jobType = "allow_classic_ssh"
)

// Machine is the identity of one VM. Create and Destroy update it in place;
// the caller persists it between runs.
type Machine struct {
	Name    string
	Ordinal int

	// ID is the VM job id, set as soon as the job is submitted.
	ID string

	// Address is the contact address of the running VM.
	Address string

	// SubnetJoined records that the machine counts as a user of the project
	// subnet and must release it on destroy.
	SubnetJoined bool
}

// UI receives user-facing progress messages.
type UI interface {
	Info(msg string)
	Warn(msg string)
}

// Env bundles what one operation works on.
type Env struct {
	Machine *Machine
	Config  *config.ProviderConfig
	UI      UI
}

// Orchestrator drives the lifecycle of the machines of one project.
type Orchestrator struct {
	ch        remote.Channel
	jobs      jobClient
	disks     diskProvisioner
	subnets   subnetManager
	writeSeed func(cloudinit.Seed) (string, error)
	project   string
	wait      retry.Policy
	log       *zap.Logger
}

// New returns an Orchestrator for the project of cfg working over ch.
// locker guards the project subnet.
func New(ch remote.Channel, cfg *config.ProviderConfig, locker lock.Locker, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	jobs := oar.NewClient(ch, cfg.Username, log)
	disks := disk.NewProvisioner(ch, naming.WorkDir(cfg.ProjectID), cfg.Retry.CleanupPolicy(), log)
	subnets := subnet.NewManager(jobs, ch, locker, cfg.ProjectID, cfg.Walltime, cfg.Retry.JobPolicy(), log)
	return withDeps(ch, jobs, disks, subnets, cfg.ProjectID, cfg.Retry.JobPolicy(), log)
}

// withDeps returns an Orchestrator with injected dependencies.
func withDeps(ch remote.Channel, jobs jobClient, disks diskProvisioner, subnets subnetManager, project string, wait retry.Policy, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		ch:        ch,
		jobs:      jobs,
		disks:     disks,
		subnets:   subnets,
		writeSeed: cloudinit.WriteISO,
		project:   project,
		wait:      wait,
		log:       log.Named("vm"),
	}
}
