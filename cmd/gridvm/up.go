package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jbweber/gridvm/internal/config"
	"github.com/jbweber/gridvm/internal/state"
	"github.com/jbweber/gridvm/internal/status"
	"github.com/jbweber/gridvm/internal/vm"
)

var upCmd = &cobra.Command{
	Use:   "up [machine...]",
	Short: "Create machines",
	Long: `Create the named machines, or every machine of the configuration.

Each machine gets its boot disk, its network identity and its own OAR job.
The command returns once every VM job runs. Machines whose job is already
queued or running are left alone.`,
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
			if err := s.up(ctx, mc); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", mc.Name, err))
			}
		}
		return errors.Join(errs...)
	},
}

func (s *session) up(ctx context.Context, mc config.MachineConfig) error {
	m, rec, err := s.load(mc)
	if err != nil {
		return err
	}
	ui := &consoleUI{machine: m.Name, out: os.Stdout, errOut: os.Stderr}
	env := s.env(m, ui)

	if m.ID != "" {
		st, err := s.orch.State(ctx, env)
		if err != nil {
			return err
		}
		if status.IsCreated(st) {
			ui.Info(fmt.Sprintf("Already created (job %s, %s)", m.ID, st))
			return nil
		}
		// The previous job is gone. Create releases its subnet membership.
		s.log.Info("previous job is not alive, recreating",
			zap.String("machine", m.Name), zap.String("job", m.ID), zap.String("state", string(st)))
		m.ID = ""
		m.Address = ""
	}

	createErr := s.orch.Create(ctx, env)
	return errors.Join(createErr, s.record(m, rec))
}

// record saves what a create attempt left behind, even on failure, so that
// destroy can clean it up. A machine holding nothing loses its record.
func (s *session) record(m *vm.Machine, rec *state.Record) error {
	if m.ID != "" || m.SubnetJoined {
		return s.save(m, rec)
	}
	if rec != nil {
		return s.store.Delete(s.cfg.Provider.ProjectID, m.Name)
	}
	return nil
}
