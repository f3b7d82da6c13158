package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/jbweber/gridvm/internal/config"
)

var destroyCmd = &cobra.Command{
	Use:   "destroy [machine...]",
	Short: "Destroy machines",
	Long: `Destroy the named machines, or every machine of the configuration.

This will:
- Delete the VM job (checkpoint signal first, then a hard delete)
- Release the project subnet, deleting it with its last user
- Remove per-machine boot disks (shared images are left untouched)
- Remove the cloud-init seed`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if err := s.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close session: %v\n", err)
			}
		}()

		machines, err := s.machines(args)
		if err != nil {
			return err
		}

		var errs []error
		for _, mc := range machines {
			if err := s.destroy(ctx, mc); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", mc.Name, err))
			}
		}
		return errors.Join(errs...)
	},
}

func (s *session) destroy(ctx context.Context, mc config.MachineConfig) error {
	m, rec, err := s.load(mc)
	if err != nil {
		return err
	}
	ui := &consoleUI{machine: m.Name, out: os.Stdout, errOut: os.Stderr}
	if rec == nil {
		ui.Info("Not created")
		return nil
	}

	if err := s.orch.Destroy(ctx, s.env(m, ui)); err != nil {
		// Keep what is left so a later destroy can retry.
		return errors.Join(err, s.save(m, rec))
	}
	ui.Info("Destroyed")
	return s.store.Delete(s.cfg.Provider.ProjectID, m.Name)
}
