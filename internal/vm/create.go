package vm

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/jbweber/gridvm/internal/cloudinit"
	"github.com/jbweber/gridvm/internal/config"
	"github.com/jbweber/gridvm/internal/disk"
	"github.com/jbweber/gridvm/internal/naming"
	"github.com/jbweber/gridvm/internal/oar"
	"github.com/jbweber/gridvm/internal/remote"
)

// Create launches the machine of env and waits until it runs.
//
// The workflow:
//  1. Create the project working directory
//  2. Resolve the boot disk (cloning or copying it when needed)
//  3. Upload a cloud-init seed, if configured
//  4. Acquire the network identity and join the subnet (bridged networks)
//  5. Upload the launcher for the network mode
//  6. Submit the VM job and record its id
//  7. Wait for the job to run and record the contact address
//
// The machine counts as a subnet user from step 4 on, so a failed Create
// still leaves SubnetJoined set for Destroy to release. A membership left
// over from a previous job of the machine is released first.
func (o *Orchestrator) Create(ctx context.Context, env *Env) error {
	m, cfg := env.Machine, env.Config
	log := o.log.With(zap.String("machine", m.Name))

	if m.ID != "" {
		return fmt.Errorf("machine %s already has job %s", m.Name, m.ID)
	}

	// Step 1: Working directory
	workdir := naming.WorkDir(o.project)
	if _, err := o.ch.Execute(ctx, "mkdir -p "+remote.Quote(workdir)); err != nil {
		return fmt.Errorf("failed to create working directory: %w", err)
	}

	// Step 2: Boot disk
	spec, err := disk.SpecFromConfig(cfg.Image)
	if err != nil {
		return err
	}
	env.UI.Info(fmt.Sprintf("Preparing boot disk (%s)...", spec.Backing))
	if spec.Backing == disk.FullCopy {
		env.UI.Warn("Copying the full image, this can take a while")
	}
	boot, err := o.disks.ResolveBootDisk(ctx, spec, m.Name)
	if err != nil {
		return fmt.Errorf("failed to prepare boot disk: %w", err)
	}
	drive := boot.Args()

	// Step 3: Cloud-init seed
	if cfg.CloudInit != nil {
		env.UI.Info("Uploading cloud-init seed...")
		seed, err := o.uploadSeed(ctx, m, cfg.CloudInit)
		if err != nil {
			return err
		}
		drive += " -drive file=" + seed + ",media=cdrom"
	}

	// Step 4: Network
	if m.SubnetJoined {
		log.Info("releasing subnet membership of the previous job")
		if err := o.subnets.Release(ctx, cfg.Net); err != nil {
			return fmt.Errorf("failed to release previous subnet membership: %w", err)
		}
		m.SubnetJoined = false
	}
	if cfg.Net.IsBridged() {
		env.UI.Info("Reserving subnet...")
	}
	lease, err := o.subnets.Acquire(ctx, cfg.Net, m.Ordinal)
	if err != nil {
		return fmt.Errorf("failed to acquire network: %w", err)
	}
	if cfg.Net.IsBridged() {
		if err := o.subnets.Join(ctx, cfg.Net); err != nil {
			return fmt.Errorf("failed to join subnet: %w", err)
		}
		m.SubnetJoined = true
	}

	// Step 5: Launcher
	script, args := launcher(cfg.Net, drive, lease.Args)
	launcherPath, err := o.uploadLauncher(ctx, script)
	if err != nil {
		return err
	}
	if sizing := sizingArgs(cfg.VCPUs, cfg.MemoryMiB); sizing != "" {
		args = sizing + " " + args
	}

	// Step 6: Submit
	env.UI.Info("Submitting VM job...")
	id, err := o.jobs.Submit(ctx, oar.JobSpec{
		Name:       m.Name,
		Resources:  "nodes=1",
		Walltime:   cfg.Walltime,
		Properties: cfg.Properties,
		Checkpoint: checkpoint,
		Signal:     shutdownSignal,
		Types:      []string{jobType},
		Command:    launcherPath + " " + args,
	})
	if err != nil {
		return fmt.Errorf("failed to submit VM job: %w", err)
	}
	m.ID = id
	log.Info("submitted VM job", zap.String("job", id))
	env.UI.Info(fmt.Sprintf("VM job %s submitted, waiting for it to start...", id))

	// Step 7: Wait
	job, err := o.jobs.WaitRunning(ctx, id, o.wait)
	if err != nil {
		return fmt.Errorf("VM job %s did not start: %w", id, err)
	}

	m.Address = lease.Address
	if m.Address == "" {
		m.Address = job.PrimaryAddress()
	}
	log.Info("VM running", zap.String("job", id), zap.String("address", m.Address))
	env.UI.Info(fmt.Sprintf("VM %s is running at %s", m.Name, m.Address))
	return nil
}

// uploadSeed builds the seed image of m locally, uploads it and returns its
// remote path.
func (o *Orchestrator) uploadSeed(ctx context.Context, m *Machine, cfg *config.CloudInitConfig) (string, error) {
	local, err := o.writeSeed(cloudinit.Seed{Name: m.Name, Config: cfg})
	if err != nil {
		return "", fmt.Errorf("failed to generate cloud-init seed: %w", err)
	}
	defer os.Remove(local) //nolint:errcheck

	dst := naming.SeedISOPath(o.project, m.Name)
	if err := o.ch.Upload(ctx, local, dst); err != nil {
		return "", err
	}
	return dst, nil
}

// sizingArgs renders the qemu cpu and memory flags. Zero values keep the
// launcher defaults.
func sizingArgs(vcpus, memoryMiB int) string {
	var args []string
	if vcpus > 0 {
		args = append(args, "-smp "+strconv.Itoa(vcpus))
	}
	if memoryMiB > 0 {
		args = append(args, "-m "+strconv.Itoa(memoryMiB))
	}
	return strings.Join(args, " ")
}
