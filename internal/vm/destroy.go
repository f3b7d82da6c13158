package vm

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jbweber/gridvm/internal/disk"
	"github.com/jbweber/gridvm/internal/naming"
	"github.com/jbweber/gridvm/internal/remote"
)

// Destroy tears down the machine of env.
//
// The workflow:
//  1. Delete the VM job, releasing the subnet afterwards whatever the outcome
//  2. Remove the boot disk (per-machine strategies only)
//  3. Remove the cloud-init seed
//
// Every step is attempted; the returned error joins the failures.
func (o *Orchestrator) Destroy(ctx context.Context, env *Env) error {
	m, cfg := env.Machine, env.Config
	log := o.log.With(zap.String("machine", m.Name))

	var errs []error

	// Step 1: Job and subnet
	if err := o.deleteJob(ctx, env); err != nil {
		errs = append(errs, err)
	}

	// Step 2: Boot disk
	spec, err := disk.SpecFromConfig(cfg.Image)
	if err != nil {
		errs = append(errs, err)
	} else {
		err := o.disks.RemoveBootDisk(ctx, spec, m.Name)
		switch {
		case errors.Is(err, disk.ErrSharedImage):
			env.UI.Info(fmt.Sprintf("Boot disk uses the shared image (%s), leaving it in place", spec.Backing))
		case err != nil:
			log.Error("failed to remove boot disk", zap.Error(err))
			errs = append(errs, fmt.Errorf("failed to remove boot disk: %w", err))
		default:
			env.UI.Info("Boot disk removed")
		}
	}

	// Step 3: Seed
	seed := naming.SeedISOPath(o.project, m.Name)
	if _, err := o.ch.Execute(ctx, "rm -f "+remote.Quote(seed)); err != nil {
		errs = append(errs, fmt.Errorf("failed to remove cloud-init seed: %w", err))
	}

	return errors.Join(errs...)
}

// deleteJob deletes the VM job and then releases the subnet, even when the
// delete failed.
func (o *Orchestrator) deleteJob(ctx context.Context, env *Env) (err error) {
	m, cfg := env.Machine, env.Config

	if m.SubnetJoined {
		defer func() {
			if relErr := o.subnets.Release(ctx, cfg.Net); relErr != nil {
				o.log.Error("failed to release subnet", zap.String("machine", m.Name), zap.Error(relErr))
				err = errors.Join(err, fmt.Errorf("failed to release subnet: %w", relErr))
				return
			}
			m.SubnetJoined = false
		}()
	}

	if m.ID == "" {
		o.log.Debug("machine has no job", zap.String("machine", m.Name))
		return nil
	}

	env.UI.Info(fmt.Sprintf("Deleting VM job %s...", m.ID))
	if err := o.jobs.Delete(ctx, m.ID); err != nil {
		return fmt.Errorf("failed to delete VM job %s: %w", m.ID, err)
	}
	m.ID = ""
	m.Address = ""
	return nil
}
